package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/domain"
)

// DefaultSocket is the abstract socket the agent listens on.
const DefaultSocket = "roborec-agent"

// DefaultPort is the local TCP port forwarded to the agent socket.
const DefaultPort = 27183

// Forwarder sets up a host port forward to a device socket.
type Forwarder interface {
	Forward(ctx context.Context, serial, local, remote string) error
}

// Connector dials the agent of a target app through a port forward.
type Connector struct {
	Forwarder Forwarder
	Socket    string
	Port      int
	RunID     string
	Logger    *zap.Logger

	// Dial defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Connect forwards the agent socket of target and performs the handshake.
func (c *Connector) Connect(ctx context.Context, target domain.Target) (*Process, error) {
	socket := c.Socket
	if socket == "" {
		socket = DefaultSocket
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if c.Forwarder != nil {
		if err := c.Forwarder.Forward(ctx, target.Serial, "tcp:"+strconv.Itoa(port), "localabstract:"+socket); err != nil {
			return nil, fmt.Errorf("failed to forward agent socket: %w", err)
		}
	}

	dial := c.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent at %s: %w", addr, err)
	}

	proc, err := Handshake(ctx, conn, Hello{RunID: c.RunID, Package: target.Package}, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debug("agent attached",
		zap.String("serial", target.Serial),
		zap.String("package", target.Package),
		zap.Int("pid", proc.PID()))
	return proc, nil
}
