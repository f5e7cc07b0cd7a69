// Package session supervises the connection to the recorded app and runs a
// recording from setup to the written bundle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/trigger"
)

// State is the supervisor connection state.
type State int

const (
	StateDisconnected State = iota
	StateAttaching
	StateAttached
	StateDetachedPendingReconnect
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDetachedPendingReconnect:
		return "detached_pending_reconnect"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMinAPILevel is the oldest supported platform.
const DefaultMinAPILevel = 19

// DefaultCleanupTimeout bounds pm clear after a recording.
const DefaultCleanupTimeout = 5 * time.Second

// DefaultAttachRetry is the pause before connecting again after an attach
// from another run.
const DefaultAttachRetry = 250 * time.Millisecond

// ErrStopped is returned by HandleAttach once the supervisor has stopped.
var ErrStopped = errors.New("session stopped")

// Options configures a Supervisor.
type Options struct {
	Serial                string
	Activity              string
	RunID                 string
	MinAPILevel           int
	StopAppAfterRecording bool
	CleanAfterFinish      bool
	CleanupTimeout        time.Duration
	AttachRetry           time.Duration
	Catalog               *trigger.Catalog
	Logger                *zap.Logger
}

// Deps are the collaborators of a Supervisor.
type Deps struct {
	Devices    TargetProvider
	Packages   PackageResolver
	Activities ActivityResolver
	Apps       AppController
	Connector  Connector
	Prompter   Prompter
}

// Hooks connect the supervisor to the session controller. Hooks must not
// call Stop.
type Hooks struct {
	// OnFirstAttach runs before events of the first process are delivered.
	OnFirstAttach func(ctx context.Context, target domain.Target) error
	// OnEvent receives raw events, one at a time.
	OnEvent func(raw domain.RawEvent)
	// OnFinish asks the controller to end the session.
	OnFinish func(reason error)
	// SurfaceOpen reports whether the recording surface is still shown.
	SurfaceOpen func() bool
}

// Supervisor owns the connection to the app process: setup, trigger
// installation, detach handling and the user-mediated reconnect loop.
type Supervisor struct {
	opts     Options
	deps     Deps
	hooks    Hooks
	logger   *zap.Logger
	registry *trigger.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	target        domain.Target
	proc          Process
	attachedOnce  bool
	failedToStart bool
	stopping      bool
	reconnects    int

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(deps Deps, opts Options, hooks Hooks) *Supervisor {
	if opts.MinAPILevel <= 0 {
		opts.MinAPILevel = DefaultMinAPILevel
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	if opts.AttachRetry <= 0 {
		opts.AttachRetry = DefaultAttachRetry
	}
	if opts.Catalog == nil {
		opts.Catalog = trigger.DefaultCatalog()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		opts:     opts,
		deps:     deps,
		hooks:    hooks,
		logger:   logger,
		registry: trigger.NewRegistry(opts.Catalog, logger),
		done:     make(chan struct{}),
	}
}

// Start resolves the target, attaches and installs the triggers. Setup
// failures are returned as *domain.SetupError before anything is installed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started (%s)", s.state)
	}
	s.state = StateAttaching
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	target, err := s.setup(ctx)
	if err != nil {
		s.abort()
		return err
	}

	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	if err := s.attach(ctx, target); err != nil {
		s.abort()
		if domain.IsSetupError(err) {
			return err
		}
		return &domain.SetupError{Reason: "could not attach to " + target.Package, Err: err}
	}
	return nil
}

func (s *Supervisor) setup(ctx context.Context) (domain.Target, error) {
	d, err := s.deps.Devices.FindDevice(ctx, s.opts.Serial)
	if err != nil {
		return domain.Target{}, &domain.SetupError{Reason: "no target device", Err: err}
	}
	if d.APILevel < s.opts.MinAPILevel {
		return domain.Target{}, &domain.SetupError{
			Reason: fmt.Sprintf("device %s runs API %d; API %d or newer is required", d.Serial, d.APILevel, s.opts.MinAPILevel),
		}
	}

	pkg, err := s.deps.Packages.ResolvePackage(ctx)
	if err != nil {
		return domain.Target{}, &domain.SetupError{Reason: "could not determine the app package", Err: err}
	}

	activity := s.opts.Activity
	if activity == "" && s.deps.Activities != nil {
		activity, err = s.deps.Activities.ResolveActivity(ctx, d.Serial, pkg)
		if err != nil {
			return domain.Target{}, &domain.SetupError{Reason: "could not determine the launch activity of " + pkg, Err: err}
		}
	}

	target := domain.Target{
		Serial:   d.Serial,
		APILevel: d.APILevel,
		Emulator: d.Emulator,
		Package:  pkg,
		Activity: activity,
	}
	s.logger.Info("target resolved",
		zap.String("serial", target.Serial),
		zap.Int("api_level", target.APILevel),
		zap.Bool("emulator", target.Emulator),
		zap.String("package", target.Package),
		zap.String("activity", target.Activity))
	return target, nil
}

// abort marks the session as failed to start. Later attach notifications
// are answered by detaching.
func (s *Supervisor) abort() {
	s.mu.Lock()
	s.failedToStart = true
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}

// attach connects to target until a process of this run takes over. Processes
// of other runs are detached quietly.
func (s *Supervisor) attach(ctx context.Context, target domain.Target) error {
	for {
		proc, err := s.deps.Connector.Connect(ctx, target)
		if err != nil {
			return err
		}
		err = s.HandleAttach(ctx, proc)
		var mismatch *domain.AttachMismatchError
		if !errors.As(err, &mismatch) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.opts.AttachRetry):
		}
	}
}

// HandleAttach takes over a freshly attached process: checks the run ID,
// mutes stale breakpoints, installs the catalog and starts event delivery.
func (s *Supervisor) HandleAttach(ctx context.Context, proc Process) error {
	s.mu.Lock()
	if s.failedToStart || s.stopping || s.state == StateStopped {
		s.mu.Unlock()
		s.detach(proc)
		return ErrStopped
	}
	if s.opts.RunID != "" && proc.RunID() != s.opts.RunID {
		s.mu.Unlock()
		s.logger.Debug("ignoring attach from another run",
			zap.String("expected", s.opts.RunID),
			zap.String("got", proc.RunID()))
		s.detach(proc)
		return &domain.AttachMismatchError{Expected: s.opts.RunID, Got: proc.RunID()}
	}
	target := s.target
	first := !s.attachedOnce
	s.mu.Unlock()

	if err := proc.MuteBreakpoints(ctx); err != nil {
		s.logger.Warn("failed to mute existing breakpoints", zap.Error(err))
	}
	s.registry.Install(proc, trigger.CapabilityOf(target))

	if first && s.hooks.OnFirstAttach != nil {
		if err := s.hooks.OnFirstAttach(ctx, target); err != nil {
			s.registry.Disable()
			s.detach(proc)
			return err
		}
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		s.detach(proc)
		return ErrStopped
	}
	s.proc = proc
	s.attachedOnce = true
	s.state = StateAttached
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("attached",
		zap.String("serial", target.Serial),
		zap.String("package", target.Package),
		zap.Bool("reattach", !first),
		zap.Int("installs", s.registry.Installs()))

	go s.pump(proc)
	return nil
}

func (s *Supervisor) detach(proc Process) {
	if err := proc.Detach(); err != nil {
		s.logger.Debug("detach failed", zap.Error(err))
	}
}

// pump delivers the events of proc in order and handles its detach.
func (s *Supervisor) pump(proc Process) {
	defer s.wg.Done()
	for ev := range proc.Events() {
		if s.hooks.OnEvent != nil {
			s.hooks.OnEvent(ev)
		}
	}
	<-proc.Done()
	s.onDetach(proc)
}

func (s *Supervisor) onDetach(proc Process) {
	s.mu.Lock()
	if s.proc != proc || s.stopping || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	if s.hooks.SurfaceOpen != nil && !s.hooks.SurfaceOpen() {
		s.mu.Unlock()
		return
	}
	target := s.target
	s.state = StateDetachedPendingReconnect
	ctx := s.ctx
	s.mu.Unlock()

	lost := &domain.ConnectionLostError{Serial: target.Serial, Err: proc.Err()}
	s.logger.Warn("target detached", zap.Error(lost))

	if s.deps.Devices.Reachable(ctx, target.Serial) {
		s.deps.Prompter.Notify(fmt.Sprintf("%s has stopped. The recording is finished.", target.Package))
		s.finish(lost)
		return
	}
	s.reconnectLoop(ctx, lost)
}

func (s *Supervisor) reconnectLoop(ctx context.Context, lost *domain.ConnectionLostError) {
	message := "The connection to the device was lost. Reconnect the device and resume, or stop the recording."
	for {
		resume, err := s.deps.Prompter.Confirm(ctx, Prompt{
			Title:   "Connection lost",
			Message: message,
			Yes:     "Resume",
			No:      "Stop",
		})
		if err != nil || !resume {
			s.finish(lost)
			return
		}

		err = s.reconnect(ctx)
		if err == nil {
			return
		}
		s.logger.Warn("reattach failed", zap.Error(err))
		message = "Could not reattach the debugger: " + err.Error()
	}
}

func (s *Supervisor) reconnect(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	s.reconnects++
	s.mu.Unlock()

	if _, err := s.deps.Devices.FindDevice(ctx, target.Serial); err != nil {
		return err
	}
	return s.attach(ctx, target)
}

func (s *Supervisor) finish(reason error) {
	if s.hooks.OnFinish != nil {
		s.hooks.OnFinish(reason)
	}
}

// Stop ends the session. With StopAppAfterRecording the app is terminated,
// otherwise the triggers are disabled and the process is detached. With
// CleanAfterFinish the app data is cleared. Cleanup failures are logged.
// Stop is idempotent and must not be called from a hook.
func (s *Supervisor) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		proc := s.proc
		target := s.target
		attached := s.attachedOnce
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}

		if proc != nil {
			if s.opts.StopAppAfterRecording {
				if err := proc.Terminate(ctx); err != nil {
					s.logger.Warn("agent could not stop app, forcing", zap.String("package", target.Package), zap.Error(err))
					s.forceStop(ctx, target)
				}
			} else {
				s.registry.Disable()
			}
			s.detach(proc)
		}

		if attached && s.opts.CleanAfterFinish && s.deps.Apps != nil {
			cctx, cancel := context.WithTimeout(ctx, s.opts.CleanupTimeout)
			if err := s.deps.Apps.ClearAppData(cctx, target.Serial, target.Package); err != nil {
				s.logger.Warn("failed to clear app data", zap.String("package", target.Package), zap.Error(err))
			}
			cancel()
		}

		s.wg.Wait()

		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.done)
		s.logger.Info("session stopped", zap.Int("reconnects", s.Reconnects()))
	})
}

func (s *Supervisor) forceStop(ctx context.Context, target domain.Target) {
	if s.deps.Apps == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.CleanupTimeout)
	defer cancel()
	if err := s.deps.Apps.ForceStop(cctx, target.Serial, target.Package); err != nil {
		s.logger.Warn("failed to stop app", zap.String("package", target.Package), zap.Error(err))
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the resolved target.
func (s *Supervisor) Target() domain.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Installs returns how many times the trigger set has been installed.
func (s *Supervisor) Installs() int { return s.registry.Installs() }

// Reconnects returns the number of reattach attempts.
func (s *Supervisor) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Done is closed once the supervisor has stopped.
func (s *Supervisor) Done() <-chan struct{} { return s.done }
