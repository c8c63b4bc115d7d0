package communication

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	agentErrors "github.com/biotracer/agent/internal/errors"
	"github.com/biotracer/agent/internal/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mdlayher/netlink"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	recentExecsSize = 4096
	execsBufferSize = 1024
	procRoot        = "/proc"
	closeTimeout    = time.Second * 2
)

// Exec is a process that just called exec, named as the kernel reports it.
type Exec struct {
	Pid  types.Pid
	Name string
}

// NameResolver returns the command name of a running process.
type NameResolver func(pid types.Pid) (string, error)

func procCommName(pid types.Pid) (string, error) {
	content, err := ioutil.ReadFile(filepath.Join(procRoot, pid.String(), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}

// Communicator listens to the kernel's process connector and publishes exec notifications.
// Listening requires CAP_NET_ADMIN.
type Communicator struct {
	logger      *zap.Logger
	done        chan struct{}
	conn        *netlink.Conn
	running     *atomic.Bool
	resolveName NameResolver
	recent      *lru.Cache[types.Pid, string]
	execsChan   chan Exec
}

func newCommunicator(rootLogger *zap.Logger, conn *netlink.Conn, resolveName NameResolver) (*Communicator, error) {
	recent, err := lru.New[types.Pid, string](recentExecsSize)
	if err != nil {
		return nil, errors.WithMessage(err, "new recent execs cache")
	}

	return &Communicator{
		logger:      rootLogger.Named("kernel-communicator"),
		conn:        conn,
		running:     atomic.NewBool(false),
		resolveName: resolveName,
		recent:      recent,
		execsChan:   make(chan Exec, execsBufferSize),
		done:        make(chan struct{}),
	}, nil
}

// NewCommunicator connects to the process connector and subscribes to its events.
func NewCommunicator(rootLogger *zap.Logger) (*Communicator, error) {
	conn, err := netlink.Dial(unix.NETLINK_CONNECTOR, &netlink.Config{Groups: connectorIdxProc})
	if err != nil {
		return nil, errors.WithMessage(err, "dial netlink connection")
	}

	if err := sendMulticastOp(conn, multicastListen); err != nil {
		conn.Close()
		return nil, errors.WithMessage(err, "subscribe to process events")
	}

	communicator, err := newCommunicator(rootLogger, conn, procCommName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return communicator, nil
}

func sendMulticastOp(conn *netlink.Conn, op uint32) error {
	message := netlink.Message{
		Header: netlink.Header{Type: netlink.Done},
		Data:   EncodeMulticastOp(op),
	}
	if _, err := conn.Send(message); err != nil {
		return agentErrors.WrappedErrSendMessage(err)
	}
	return nil
}

func (c *Communicator) ListenForExecs() {
	c.running.Store(true)

	go func() {
		defer close(c.done)

		c.logger.Debug("Listen for process events")
		defer c.logger.Debug("Done listen for process events")

		for c.running.Load() {
			messages, err := c.conn.Receive()
			if err != nil {
				// Close() interrupts a blocked receive, the error is expected then.
				if !c.running.Load() {
					return
				}
				c.logger.Error("Failed to receive messages", zap.Error(err))
				continue
			}

			c.handleMessages(messages)
		}
	}()
}

func (c *Communicator) handleMessages(messages []netlink.Message) {
	for _, message := range messages {
		if len(message.Data) == 0 {
			continue
		}

		connectorMessage, err := DecodeConnectorMessage(message.Data)
		if err != nil {
			c.logger.Debug("Failed to decode connector message", zap.Error(err))
			continue
		}
		if connectorMessage.Idx != connectorIdxProc || connectorMessage.Val != connectorValProc {
			continue
		}

		payload, err := DecodePayloadExec(connectorMessage.Data)
		if err != nil {
			c.logger.Debug("Failed to decode process event", zap.Error(err))
			continue
		}
		if payload == nil || payload.Pid != payload.Tgid {
			continue
		}

		c.publish(types.Pid(payload.Tgid))
	}
}

func (c *Communicator) publish(pid types.Pid) {
	name, err := c.resolveName(pid)
	if err != nil || name == "" {
		c.logger.Debug("Exec'd process already gone", zap.Int32("Pid", int32(pid)), zap.Error(err))
		return
	}

	if previous, found := c.recent.Get(pid); found && previous == name {
		return
	}
	c.recent.Add(pid, name)

	select {
	case c.execsChan <- Exec{Pid: pid, Name: name}:
	default:
		c.logger.Debug("Execs channel is full, dropping", zap.Int32("Pid", int32(pid)), zap.String("Name", name))
	}
}

func (c *Communicator) ExecsChan() <-chan Exec {
	return c.execsChan
}

func (c *Communicator) Close() error {
	wasRunning := c.running.Swap(false)

	if c.conn != nil {
		_ = sendMulticastOp(c.conn, multicastIgnore)
		if err := c.conn.Close(); err != nil {
			return errors.WithMessage(err, "close netlink connection")
		}
	}

	if !wasRunning {
		return nil
	}

	// The execs channel stays open: a receive blocked in the kernel may outlive the timeout.
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		c.logger.Warn("Listener did not stop in time")
	}
	return nil
}
