package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/biotracer/agent/internal/control/messages"
	"github.com/biotracer/agent/internal/control/responses"
	"github.com/pkg/errors"
)

const defaultTimeout = time.Second * 10

// SocketClient sends commands to a running daemon over its unix socket.
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{socketPath: socketPath, timeout: defaultTimeout}
}

// Send delivers one request and waits for its response. A response that reports a failure is
// returned together with an error.
func (sc *SocketClient) Send(ctx context.Context, request *messages.Request) (*responses.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", sc.socketPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "connect to daemon at '%s'", sc.socketPath)
	}
	defer conn.Close()

	if deadline, found := ctx.Deadline(); found {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return nil, errors.WithMessage(err, "send request")
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, errors.WithMessage(err, "read response")
	}

	var response responses.Response
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, errors.WithMessage(err, "decode response")
	}
	if !response.Ok {
		return &response, errors.Errorf("daemon: %s", response.Error)
	}
	return &response, nil
}
