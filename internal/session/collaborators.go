package session

import (
	"context"

	"github.com/vburojevic/roborec/internal/capture"
	"github.com/vburojevic/roborec/internal/device"
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/trigger"
)

// TargetProvider finds the device to record on.
type TargetProvider interface {
	// FindDevice returns the ready device with serial, or the only ready
	// device when serial is empty.
	FindDevice(ctx context.Context, serial string) (*device.Device, error)
	// Reachable reports whether serial is still connected.
	Reachable(ctx context.Context, serial string) bool
}

// PackageResolver names the app under test.
type PackageResolver interface {
	ResolvePackage(ctx context.Context) (string, error)
}

// ActivityResolver finds the launch activity of pkg.
type ActivityResolver interface {
	ResolveActivity(ctx context.Context, serial, pkg string) (string, error)
}

// AppController stops the app and clears its state after a recording.
type AppController interface {
	ForceStop(ctx context.Context, serial, pkg string) error
	ClearAppData(ctx context.Context, serial, pkg string) error
}

// Process is an attached app process.
type Process interface {
	trigger.Executor

	RunID() string
	MuteBreakpoints(ctx context.Context) error
	Events() <-chan domain.RawEvent
	Done() <-chan struct{}
	Err() error
	Terminate(ctx context.Context) error
	Detach() error
}

// Connector attaches to the app process of target.
type Connector interface {
	Connect(ctx context.Context, target domain.Target) (Process, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, target domain.Target) (Process, error)

func (f ConnectorFunc) Connect(ctx context.Context, target domain.Target) (Process, error) {
	return f(ctx, target)
}

// Prompt is a yes/no question with custom button captions.
type Prompt struct {
	Title   string
	Message string
	Yes     string
	No      string
}

// Prompter asks the user questions and reports problems.
type Prompter interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
	ShowError(title string, err error)
	Notify(message string)
}

// Listener receives events while the recording surface is open.
type Listener interface {
	OnEvent(raw domain.RawEvent)
	// OnClose is called once when the user closes the surface.
	OnClose()
}

// SurfaceInfo describes the session shown on the recording surface.
type SurfaceInfo struct {
	SessionID string
	Target    domain.Target
	Mode      domain.Mode
}

// Surface is the recording window.
type Surface interface {
	Open(info SurfaceInfo, l Listener) error
	Show(ev domain.InteractionEvent)
	IsOpen() bool
	Close()
}

// DestinationChooser picks the bundle directory. suggested is the default
// bundle name.
type DestinationChooser interface {
	Choose(ctx context.Context, suggested string) (string, error)
}

// CaptureSource returns the artifact fetchers for target.
type CaptureSource func(target domain.Target) (capture.HierarchyFetcher, capture.ScreenshotFetcher)

// EventSink mirrors session progress to a machine-readable stream.
type EventSink interface {
	SessionStarted(s domain.Session)
	EventRecorded(ev domain.InteractionEvent)
	ArtifactCaptured(a domain.Artifact)
	Warning(message string)
	SessionEnded(end *domain.SessionEnd)
}
