package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/bundle"
	"github.com/vburojevic/roborec/internal/capture"
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/filter"
)

// ErrDiscarded is returned when the user declines to save the recording.
var ErrDiscarded = errors.New("recording discarded")

// ControllerConfig configures a recording.
type ControllerConfig struct {
	Supervisor Options
	Mode       domain.Mode
	Format     bundle.Format
	Resolver   bundle.ClassNameResolver
	QueueSize  int
	ScratchDir string
	Clock      clock.Clock
	Logger     *zap.Logger
}

// ControllerDeps are the collaborators of a recording.
type ControllerDeps struct {
	Deps
	Capture     CaptureSource
	Surface     Surface
	Destination DestinationChooser
	Sink        EventSink
}

// Result describes a finished recording.
type Result struct {
	SessionID string
	Target    domain.Target
	Bundle    *bundle.Result
	Summary   domain.SessionSummary
}

// Controller runs one recording. It is the Listener handed to the surface
// and wires the supervisor, event processor, capture pipeline and bundle
// writer together.
type Controller struct {
	cfg    ControllerConfig
	deps   ControllerDeps
	logger *zap.Logger

	id         string
	supervisor *Supervisor

	mu        sync.Mutex
	processor *filter.Processor
	pipeline  *capture.Pipeline
	store     *capture.Store
	started   time.Time

	closed    chan struct{}
	closeOnce sync.Once
	finished  chan error
}

// NewController creates a controller with a fresh session ID.
func NewController(deps ControllerDeps, cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Format == "" {
		cfg.Format = bundle.FormatJSON
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeScript
	}

	id := uuid.NewString()
	if cfg.Supervisor.RunID == "" {
		cfg.Supervisor.RunID = id
	}
	logger := cfg.Logger.With(zap.String("session_id", id))
	cfg.Supervisor.Logger = logger

	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		id:       id,
		closed:   make(chan struct{}),
		finished: make(chan error, 1),
	}
	c.supervisor = NewSupervisor(deps.Deps, cfg.Supervisor, Hooks{
		OnFirstAttach: c.begin,
		OnEvent:       c.OnEvent,
		OnFinish:      c.finish,
		SurfaceOpen:   c.surfaceOpen,
	})
	return c
}

// ID returns the session ID.
func (c *Controller) ID() string { return c.id }

// Supervisor returns the connection supervisor.
func (c *Controller) Supervisor() *Supervisor { return c.supervisor }

// Run records until the surface is closed, the app stops, or ctx is
// cancelled, then writes the bundle.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if err := c.supervisor.Start(ctx); err != nil {
		c.deps.Prompter.ShowError("Could not start recording", err)
		c.teardown()
		return nil, err
	}

	var reason error
	select {
	case <-c.closed:
	case reason = <-c.finished:
	case <-ctx.Done():
		reason = ctx.Err()
	}
	if reason != nil {
		c.logger.Info("recording finished", zap.Error(reason))
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	c.supervisor.Stop(stopCtx)

	log := c.processor.Finish()
	if ctx.Err() != nil {
		c.pipeline.Abort()
	} else {
		c.pipeline.Close()
	}
	if c.deps.Surface.IsOpen() {
		c.deps.Surface.Close()
	}

	res := &Result{SessionID: c.id, Target: c.supervisor.Target(), Summary: c.summary(log)}
	written, err := c.save(context.WithoutCancel(ctx), log)
	if err != nil {
		if c.deps.Sink != nil {
			c.deps.Sink.SessionEnded(domain.NewSessionEnd(c.id, "", res.Summary))
		}
		if errors.Is(err, ErrDiscarded) {
			c.removeScratch()
		}
		return res, err
	}
	res.Bundle = written
	c.removeScratch()
	if c.deps.Sink != nil {
		c.deps.Sink.SessionEnded(domain.NewSessionEnd(c.id, written.Dir, res.Summary))
	}
	return res, nil
}

// begin runs on the first attach: it opens the artifact store, starts the
// capture worker and the processor, and shows the surface.
func (c *Controller) begin(ctx context.Context, target domain.Target) error {
	store, err := capture.OpenTempStore(c.cfg.ScratchDir)
	if err != nil {
		return &domain.SetupError{Reason: "could not create artifact directory", Err: err}
	}

	var hierarchy capture.HierarchyFetcher
	var screen capture.ScreenshotFetcher
	if c.deps.Capture != nil {
		hierarchy, screen = c.deps.Capture(target)
	}
	pipeline := capture.NewPipeline(hierarchy, screen, store, capture.Config{
		QueueSize:  c.cfg.QueueSize,
		Clock:      c.cfg.Clock,
		Logger:     c.logger,
		OnArtifact: c.artifactCaptured,
	})
	processor := filter.NewProcessor(pipeline,
		filter.WithClock(c.cfg.Clock),
		filter.WithLogger(c.logger))

	c.mu.Lock()
	c.store = store
	c.pipeline = pipeline
	c.processor = processor
	c.started = c.cfg.Clock.Now()
	c.mu.Unlock()

	sess := domain.Session{ID: c.id, Target: target, Mode: c.cfg.Mode, StartedAt: c.started}
	if err := c.deps.Surface.Open(SurfaceInfo{SessionID: c.id, Target: target, Mode: c.cfg.Mode}, c); err != nil {
		pipeline.Close()
		store.Remove()
		return &domain.SetupError{Reason: "could not open the recording surface", Err: err}
	}
	if c.deps.Sink != nil {
		c.deps.Sink.SessionStarted(sess)
	}
	return nil
}

// OnEvent implements Listener.
func (c *Controller) OnEvent(raw domain.RawEvent) {
	c.mu.Lock()
	processor := c.processor
	c.mu.Unlock()
	if processor == nil {
		return
	}

	ev, ok := processor.Handle(raw)
	if !ok {
		return
	}
	c.deps.Surface.Show(ev)
	if c.deps.Sink != nil {
		c.deps.Sink.EventRecorded(ev)
	}
}

// OnClose implements Listener.
func (c *Controller) OnClose() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Controller) finish(reason error) {
	select {
	case c.finished <- reason:
	default:
	}
}

func (c *Controller) surfaceOpen() bool {
	return c.deps.Surface.IsOpen()
}

func (c *Controller) artifactCaptured(a domain.Artifact) {
	if c.deps.Sink != nil {
		c.deps.Sink.ArtifactCaptured(a)
	}
}

// save writes the bundle, offering a retry on write failures. The log and
// store are left intact between attempts.
func (c *Controller) save(ctx context.Context, log []*domain.InteractionEvent) (*bundle.Result, error) {
	suggested := bundle.SuggestName(c.supervisor.Target().Package, c.cfg.Mode, c.cfg.Clock)
	for {
		dir, err := c.deps.Destination.Choose(ctx, suggested)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDiscarded, err)
		}
		if dir == "" {
			return nil, ErrDiscarded
		}

		res, err := bundle.Write(ctx, dir, log, c.store, bundle.Options{
			Format:   c.cfg.Format,
			Resolver: c.cfg.Resolver,
			Logger:   c.logger,
		})
		if err == nil {
			return res, nil
		}

		c.deps.Prompter.ShowError("Could not save the recording", err)
		if c.deps.Sink != nil {
			c.deps.Sink.Warning(err.Error())
		}
		retry, perr := c.deps.Prompter.Confirm(ctx, Prompt{
			Title:   "Save failed",
			Message: err.Error(),
			Yes:     "Retry",
			No:      "Discard",
		})
		if perr != nil {
			c.logger.Warn("recording not saved, artifacts kept", zap.String("dir", c.store.Dir()), zap.Error(err))
			return nil, err
		}
		if !retry {
			return nil, fmt.Errorf("%w: %w", ErrDiscarded, err)
		}
	}
}

func (c *Controller) summary(log []*domain.InteractionEvent) domain.SessionSummary {
	return domain.SessionSummary{
		Events:          len(log),
		Artifacts:       c.store.Len(),
		Reconnects:      c.supervisor.Reconnects(),
		DurationSeconds: int(c.cfg.Clock.Since(c.started).Seconds()),
	}
}

func (c *Controller) teardown() {
	c.mu.Lock()
	pipeline := c.pipeline
	c.mu.Unlock()
	if pipeline != nil {
		pipeline.Abort()
	}
	if c.deps.Surface.IsOpen() {
		c.deps.Surface.Close()
	}
	c.removeScratch()
}

func (c *Controller) removeScratch() {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return
	}
	if err := store.Remove(); err != nil {
		c.logger.Warn("failed to remove artifact directory", zap.String("dir", store.Dir()), zap.Error(err))
	}
}
