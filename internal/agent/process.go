package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/trigger"
)

// ErrDetached is returned for requests issued after the connection closed.
var ErrDetached = errors.New("agent connection closed")

// HandshakeTimeout bounds the hello exchange.
const HandshakeTimeout = 10 * time.Second

// Hello identifies the recording run to the agent.
type Hello struct {
	RunID   string
	Package string
}

// Process is a live connection to the agent inside one app process.
// Breakpoint commands are executed one at a time on a dedicated goroutine,
// and events are delivered in arrival order on Events.
type Process struct {
	conn   net.Conn
	logger *zap.Logger

	runID string
	pid   int

	writeMu sync.Mutex
	enc     *json.Encoder

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan error

	events chan domain.RawEvent
	cmds   chan *trigger.Command
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	errMu    sync.Mutex
	err      error
	wg       sync.WaitGroup
}

// Handshake performs the hello exchange on conn and starts the reader and
// command goroutines.
func Handshake(ctx context.Context, conn net.Conn, hello Hello, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	deadline := time.Now().Add(HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	if err := enc.Encode(Message{Type: TypeHello, Version: ProtocolVersion, RunID: hello.RunID, Package: hello.Package}); err != nil {
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}
	var reply Message
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}
	switch reply.Type {
	case TypeHello:
	case TypeError:
		return nil, fmt.Errorf("agent rejected hello: %s", reply.Message)
	default:
		return nil, fmt.Errorf("unexpected %q message during handshake", reply.Type)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	p := &Process{
		conn:    conn,
		logger:  logger.With(zap.String("run_id", reply.RunID), zap.Int("pid", reply.PID)),
		runID:   reply.RunID,
		pid:     reply.PID,
		enc:     enc,
		pending: make(map[int64]chan error),
		events:  make(chan domain.RawEvent, 64),
		cmds:    make(chan *trigger.Command, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.wg.Add(2)
	go p.read(dec)
	go p.execute()
	return p, nil
}

// RunID returns the run ID reported by the agent.
func (p *Process) RunID() string { return p.runID }

// PID returns the app process ID.
func (p *Process) PID() int { return p.pid }

// Events delivers trigger hits. It is closed when the connection ends.
func (p *Process) Events() <-chan domain.RawEvent { return p.events }

// Done is closed once the connection has ended and Events is drained by
// the reader.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns why the connection ended; nil for a local Detach.
func (p *Process) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Schedule implements trigger.Executor.
func (p *Process) Schedule(cmd *trigger.Command) {
	select {
	case p.cmds <- cmd:
	case <-p.done:
		cmd.Run(detachedTarget{})
	}
}

// SetBreakpoint implements trigger.Target. It is called from the command
// goroutine only and gives up when the process is detached.
func (p *Process) SetBreakpoint(d trigger.Descriptor) (trigger.Breakpoint, error) {
	id := p.nextID.Add(1)
	if err := p.request(context.Background(), Message{Type: TypeSetBreakpoint, ID: id, Breakpoint: &d}); err != nil {
		return nil, err
	}
	return &breakpoint{p: p, id: id}, nil
}

// MuteBreakpoints disables every breakpoint left in the app by an earlier
// client.
func (p *Process) MuteBreakpoints(ctx context.Context) error {
	return p.request(ctx, Message{Type: TypeMuteAll, ID: p.nextID.Add(1)})
}

// Terminate asks the agent to kill the app process.
func (p *Process) Terminate(ctx context.Context) error {
	return p.request(ctx, Message{Type: TypeTerminate, ID: p.nextID.Add(1)})
}

// Detach closes the connection and waits for the goroutines to exit.
func (p *Process) Detach() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		err = p.conn.Close()
	})
	p.wg.Wait()
	return err
}

func (p *Process) send(m Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	select {
	case <-p.done:
		return ErrDetached
	default:
	}
	return p.enc.Encode(m)
}

func (p *Process) request(ctx context.Context, m Message) error {
	reply := make(chan error, 1)
	p.mu.Lock()
	p.pending[m.ID] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, m.ID)
		p.mu.Unlock()
	}()

	if err := p.send(m); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	select {
	case err := <-reply:
		if err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
		return nil
	case <-p.done:
		return fmt.Errorf("%s: %w", m.Type, ErrDetached)
	case <-p.stop:
		return fmt.Errorf("%s: %w", m.Type, ErrDetached)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) read(dec *json.Decoder) {
	defer p.wg.Done()
	defer close(p.done)
	defer close(p.events)

	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			select {
			case <-p.stop:
			default:
				p.setErr(err)
				p.logger.Debug("agent connection ended", zap.Error(err))
			}
			return
		}

		switch m.Type {
		case TypeEvent:
			if m.Event == nil {
				continue
			}
			select {
			case p.events <- *m.Event:
			case <-p.stop:
				return
			}
		case TypeOK, TypeError:
			p.resolve(m)
		default:
			p.logger.Debug("ignoring agent message", zap.String("type", m.Type))
		}
	}
}

func (p *Process) resolve(m Message) {
	p.mu.Lock()
	reply, ok := p.pending[m.ID]
	p.mu.Unlock()
	if !ok {
		if m.Type == TypeError {
			p.logger.Warn("agent error", zap.Int64("id", m.ID), zap.String("message", m.Message))
		}
		return
	}
	if m.Type == TypeError {
		reply <- errors.New(m.Message)
		return
	}
	reply <- nil
}

func (p *Process) execute() {
	defer p.wg.Done()
	for {
		select {
		case cmd := <-p.cmds:
			cmd.Run(p)
			if err := cmd.Err(); err != nil {
				p.logger.Warn("trigger install failed", zap.Error(err))
			}
		case <-p.done:
			for {
				select {
				case cmd := <-p.cmds:
					cmd.Run(detachedTarget{})
				default:
					return
				}
			}
		}
	}
}

func (p *Process) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

type breakpoint struct {
	p  *Process
	id int64
}

func (b *breakpoint) Disable() error {
	return b.p.send(Message{Type: TypeDisableBreakpoint, ID: b.id})
}

type detachedTarget struct{}

func (detachedTarget) SetBreakpoint(trigger.Descriptor) (trigger.Breakpoint, error) {
	return nil, ErrDetached
}
