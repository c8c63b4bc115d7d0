package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/biotracer/agent/internal/control/messages"
	"github.com/biotracer/agent/internal/control/responses"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const connectionTimeout = time.Second * 10

var errShuttingDown = errors.New("daemon is shutting down")

type command struct {
	request *messages.Request
	reply   chan *responses.Response
}

// Server accepts one JSON request per connection on a unix socket and hands it to the poll
// goroutine.
type Server struct {
	logger     *zap.Logger
	socketPath string
	listener   net.Listener
	commands   chan command
	running    *atomic.Bool
	waitGroup  sync.WaitGroup
}

func NewServer(rootLogger *zap.Logger, socketPath string) *Server {
	return &Server{
		logger:     rootLogger.Named("command-server"),
		socketPath: socketPath,
		commands:   make(chan command),
		running:    atomic.NewBool(false),
	}
}

// Listen binds the socket, replacing a stale one left by a previous daemon.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return errors.WithMessage(err, "create socket directory")
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "remove stale socket")
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.WithMessagef(err, "listen on '%s'", s.socketPath)
	}

	s.listener = listener
	s.running.Store(true)
	return nil
}

// Serve accepts connections until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) {
	s.logger.Debug("Start accepting commands", zap.String("SocketPath", s.socketPath))
	defer s.logger.Debug("Done accepting commands")

	go func() {
		<-ctx.Done()
		_ = s.closeListener()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("Failed to accept connection", zap.Error(err))
			continue
		}

		s.waitGroup.Add(1)
		go func() {
			defer s.waitGroup.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connectionTimeout))

	response := s.dispatch(ctx, conn)
	if err := json.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn) *responses.Response {
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return responses.Failure(errors.WithMessage(err, "read request"))
	}

	var request messages.Request
	if err := json.Unmarshal(line, &request); err != nil {
		return responses.Failure(errors.WithMessage(err, "decode request"))
	}

	pending := command{request: &request, reply: make(chan *responses.Response, 1)}
	select {
	case s.commands <- pending:
	case <-ctx.Done():
		return responses.Failure(errShuttingDown)
	}

	select {
	case response := <-pending.reply:
		return response
	case <-ctx.Done():
		// The reply to a stop command is queued right before shutdown starts.
		select {
		case response := <-pending.reply:
			return response
		default:
			return responses.Failure(errShuttingDown)
		}
	}
}

func (s *Server) pendingCommands() <-chan command {
	return s.commands
}

func (s *Server) closeListener() error {
	if !s.running.CAS(true, false) {
		return nil
	}
	return s.listener.Close()
}

// Close stops accepting, waits for open connections and removes the socket file.
func (s *Server) Close() error {
	wasListening := s.listener != nil
	err := s.closeListener()
	s.waitGroup.Wait()

	if wasListening {
		if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
			err = removeErr
		}
	}
	return err
}
