// Package capture fetches a UI hierarchy dump and a screenshot after each
// finalized interaction and registers them in a per-session artifact store.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/domain"
)

// DefaultQueueSize bounds the number of pending capture requests.
const DefaultQueueSize = 16

// DefaultTimeout bounds a single artifact fetch.
const DefaultTimeout = 20 * time.Second

// HierarchyFetcher writes the current UI hierarchy of the target to dst.
type HierarchyFetcher interface {
	DumpHierarchy(ctx context.Context, dst string) error
}

// ScreenshotFetcher returns the current screen as PNG plus the display
// rotation in quarter turns.
type ScreenshotFetcher interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Rotation(ctx context.Context) (int, error)
}

// Config configures a Pipeline.
type Config struct {
	QueueSize int
	Timeout   time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger

	// OnArtifact is called from the worker after each registration.
	OnArtifact func(domain.Artifact)
}

type job struct {
	ev        *domain.InteractionEvent
	hierarchy string
	screen    string
}

// Pipeline runs capture requests on a single worker in arrival order.
// Artifact refs on requested events must only be read after Close returns.
type Pipeline struct {
	hierarchy HierarchyFetcher
	screen    ScreenshotFetcher
	store     *Store
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	seq      atomic.Int64
	captured atomic.Int64
	failed   atomic.Int64
}

// NewPipeline starts the capture worker.
func NewPipeline(h HierarchyFetcher, s ScreenshotFetcher, store *Store, cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		hierarchy: h,
		screen:    s,
		store:     store,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		queue:     make(chan job, cfg.QueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Request queues a capture for ev, blocking while the queue is full. Keys are
// assigned here so they follow request order.
func (p *Pipeline) Request(ev *domain.InteractionEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.cfg.Logger.Warn("capture requested after close", zap.String("event_type", string(ev.EventType)))
		return
	}

	millis := p.cfg.Clock.Now().UnixMilli()
	seq := p.seq.Add(1)
	p.queue <- job{
		ev:        ev,
		hierarchy: artifactKey(domain.ArtifactHierarchy, millis, seq),
		screen:    artifactKey(domain.ArtifactScreenshot, millis, seq),
	}
}

func artifactKey(kind domain.ArtifactKind, millis, seq int64) string {
	return fmt.Sprintf("%s_%d_%d%s", kind, millis, seq, kind.Extension())
}

// Close waits for queued requests to finish and stops the worker.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Abort cancels in-flight fetches and stops the worker without waiting for
// the fetchers to succeed.
func (p *Pipeline) Abort() {
	p.cancel()
	p.Close()
}

// Stats returns the number of registered and failed artifacts.
func (p *Pipeline) Stats() (captured, failed int) {
	return int(p.captured.Load()), int(p.failed.Load())
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for j := range p.queue {
		p.captureHierarchy(j)
		p.captureScreenshot(j)
	}
}

func (p *Pipeline) captureHierarchy(j job) {
	if p.hierarchy == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	path := filepath.Join(p.store.Dir(), j.hierarchy)
	if err := p.hierarchy.DumpHierarchy(ctx, path); err != nil {
		p.fail(j, &domain.CaptureError{Kind: domain.ArtifactHierarchy, Err: err})
		return
	}
	if p.register(j, domain.ArtifactHierarchy, j.hierarchy, path) {
		j.ev.HierarchyRef = j.hierarchy
	}
}

func (p *Pipeline) captureScreenshot(j job) {
	if p.screen == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	data, err := p.screen.Screenshot(ctx)
	if err != nil {
		p.fail(j, &domain.CaptureError{Kind: domain.ArtifactScreenshot, Err: err})
		return
	}

	turns, err := p.screen.Rotation(ctx)
	if err != nil {
		p.cfg.Logger.Warn("display rotation unavailable, keeping raw screenshot",
			zap.String("key", j.screen), zap.Error(err))
		turns = 0
	}
	data, err = NormalizeRotation(data, turns)
	if err != nil {
		p.fail(j, &domain.CaptureError{Kind: domain.ArtifactScreenshot, Err: err})
		return
	}

	path := filepath.Join(p.store.Dir(), j.screen)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.fail(j, &domain.CaptureError{Kind: domain.ArtifactScreenshot, Err: err})
		return
	}
	if p.register(j, domain.ArtifactScreenshot, j.screen, path) {
		j.ev.ScreenshotRef = j.screen
	}
}

func (p *Pipeline) register(j job, kind domain.ArtifactKind, key, path string) bool {
	a := domain.Artifact{Kind: kind, Key: key, Path: path, CapturedAt: p.cfg.Clock.Now()}
	if err := p.store.Register(a); err != nil {
		p.fail(j, &domain.CaptureError{Kind: kind, Err: err})
		return false
	}
	p.captured.Add(1)
	p.cfg.Logger.Debug("artifact captured",
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.String("event_type", string(j.ev.EventType)))
	if p.cfg.OnArtifact != nil {
		p.cfg.OnArtifact(a)
	}
	return true
}

func (p *Pipeline) fail(j job, err *domain.CaptureError) {
	p.failed.Add(1)
	p.cfg.Logger.Warn("capture failed",
		zap.String("kind", string(err.Kind)),
		zap.String("event_type", string(j.ev.EventType)),
		zap.Int64("timestamp", j.ev.Timestamp),
		zap.Error(err))
}
