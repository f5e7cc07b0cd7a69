package filter

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/domain"
)

// CaptureRequester queues an artifact capture for a finalized event.
type CaptureRequester interface {
	Request(ev *domain.InteractionEvent)
}

// Processor turns raw trigger reports into the finalized event log.
//
// The newest event is held back as "previous" until the next distinct event
// arrives, so the capture requested at that moment shows the state the
// previous event produced. Consecutive text changes are merged into the held
// event and never captured separately.
type Processor struct {
	mu       sync.Mutex
	capture  CaptureRequester
	allow    *Pipeline
	logger   *zap.Logger
	previous *domain.InteractionEvent
	log      []*domain.InteractionEvent
	merged   int
	dropped  int
	finished bool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*processorOptions)

type processorOptions struct {
	clock  clock.Clock
	logger *zap.Logger
	allow  []domain.EventType
}

// WithClock sets the clock used to stamp the start marker.
func WithClock(c clock.Clock) ProcessorOption {
	return func(o *processorOptions) { o.clock = c }
}

// WithLogger sets the processor logger.
func WithLogger(l *zap.Logger) ProcessorOption {
	return func(o *processorOptions) { o.logger = l }
}

// WithAllowlist replaces domain.SupportedEvents.
func WithAllowlist(types ...domain.EventType) ProcessorOption {
	return func(o *processorOptions) { o.allow = types }
}

// NewProcessor creates a processor whose previous event is the start marker.
func NewProcessor(capture CaptureRequester, opts ...ProcessorOption) *Processor {
	o := processorOptions{
		clock:  clock.New(),
		logger: zap.NewNop(),
		allow:  domain.SupportedEvents,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Processor{
		capture:  capture,
		allow:    NewPipeline(o.allow, nil),
		logger:   o.logger,
		previous: domain.NewStartMarker(o.clock.Now().UnixMilli()),
	}
}

// Handle processes one raw event. It returns a copy of the converted event
// for display, and false when the event was filtered out or arrived after
// Finish.
func (p *Processor) Handle(raw domain.RawEvent) (domain.InteractionEvent, bool) {
	if !p.allow.Allows(raw.EventType) {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return domain.InteractionEvent{}, false
	}
	ev := domain.FromRaw(raw)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		p.logger.Warn("event after finish dropped", zap.String("event_type", string(ev.EventType)))
		return domain.InteractionEvent{}, false
	}

	if p.previous.EventType.IsIncrementalText() && ev.EventType.IsIncrementalText() {
		p.previous.Merge(ev)
		p.merged++
		p.logger.Debug("text change coalesced", zap.Int64("timestamp", ev.Timestamp))
		return ev.Clone(), true
	}

	p.finalizeLocked()
	p.previous = ev
	return ev.Clone(), true
}

// finalizeLocked requests the capture of the state produced by previous and
// appends it to the log.
func (p *Processor) finalizeLocked() {
	if p.capture != nil {
		p.capture.Request(p.previous)
	}
	p.log = append(p.log, p.previous)
	p.logger.Debug("event finalized",
		zap.String("event_type", string(p.previous.EventType)),
		zap.Int("position", len(p.log)-1))
}

// Finish flushes the held event. Later calls are no-ops.
func (p *Processor) Finish() []*domain.InteractionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.finished {
		p.finalizeLocked()
		p.finished = true
	}
	return append([]*domain.InteractionEvent(nil), p.log...)
}

// Log returns the finalized events so far.
func (p *Processor) Log() []*domain.InteractionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.InteractionEvent(nil), p.log...)
}

// Stats returns counters for the session summary.
func (p *Processor) Stats() (finalized, merged, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.log), p.merged, p.dropped
}
