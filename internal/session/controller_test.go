package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/roborec/internal/bundle"
	"github.com/vburojevic/roborec/internal/capture"
	"github.com/vburojevic/roborec/internal/device"
	"github.com/vburojevic/roborec/internal/domain"
)

type controllerFixture struct {
	*supervisorFixture
	proc        *fakeProcess
	surface     *fakeSurface
	destination *fakeDestination
	sink        *recordingSink
	capture     CaptureSource
	scratch     string
}

func newControllerFixture(t *testing.T, dirs ...string) *controllerFixture {
	proc := newFakeProcess("run-1")
	return &controllerFixture{
		supervisorFixture: newFixture(proc),
		proc:              proc,
		surface:           &fakeSurface{},
		destination:       &fakeDestination{dirs: dirs},
		sink:              &recordingSink{},
		capture:           fakeCapture,
		scratch:           t.TempDir(),
	}
}

func (f *controllerFixture) controller(format bundle.Format) *Controller {
	return NewController(ControllerDeps{
		Deps:        f.deps(),
		Capture:     f.capture,
		Surface:     f.surface,
		Destination: f.destination,
		Sink:        f.sink,
	}, ControllerConfig{
		Supervisor: Options{RunID: "run-1"},
		Format:     format,
		ScratchDir: f.scratch,
		Clock:      clock.NewMock(),
	})
}

type runResult struct {
	res *Result
	err error
}

func runAsync(c *Controller) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		res, err := c.Run(context.Background())
		out <- runResult{res: res, err: err}
	}()
	return out
}

func (f *controllerFixture) recordTyping(t *testing.T) {
	t.Helper()
	require.Eventually(t, f.surface.IsOpen, 2*time.Second, 10*time.Millisecond)

	button := domain.NewElementDescriptor("android.widget.Button")
	field := domain.NewElementDescriptor("android.widget.EditText")
	f.proc.events <- domain.RawEvent{EventType: domain.EventViewClick, Timestamp: 100, Elements: []domain.ElementDescriptor{button}}
	f.proc.events <- domain.RawEvent{EventType: domain.EventTextChange, Timestamp: 200, ReplacementText: "h", Elements: []domain.ElementDescriptor{field}}
	f.proc.events <- domain.RawEvent{EventType: domain.EventTextChange, Timestamp: 300, ReplacementText: "hello", Elements: []domain.ElementDescriptor{field}}

	require.Eventually(t, func() bool { return f.surface.shownCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	f.surface.userClose()
}

func waitRun(t *testing.T, out <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("recording did not finish")
		return runResult{}
	}
}

func TestControllerRecordsAndWritesBundle(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "com.example.app_robo_script")
	f := newControllerFixture(t, dest)
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	f.recordTyping(t)
	r := waitRun(t, out)
	require.NoError(t, r.err)
	require.NotNil(t, r.res.Bundle)

	assert.Equal(t, c.ID(), r.res.SessionID)
	assert.Equal(t, dest, r.res.Bundle.Dir)
	assert.Equal(t, 3, r.res.Summary.Events)

	m, err := bundle.Read(dest)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)
	assert.Equal(t, domain.EventRecordStart, m.Entries[0].EventType)
	assert.Equal(t, domain.EventViewClick, m.Entries[1].EventType)
	assert.Equal(t, domain.EventTextChange, m.Entries[2].EventType)
	assert.Equal(t, "hello", m.Entries[2].ReplacementText)
	assert.Equal(t, int64(300), m.Entries[2].Timestamp)
	for _, e := range m.Entries {
		assert.NotEmpty(t, e.Hierarchy, string(e.EventType))
		assert.NotEmpty(t, e.Screenshot, string(e.EventType))
	}
	assert.Empty(t, m.MissingArtifacts())

	scratch, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, scratch, "artifact directory removed after save")

	_, disabled, _, detached := f.proc.state()
	assert.Positive(t, disabled)
	assert.True(t, detached)
	assert.Equal(t, StateStopped, c.Supervisor().State())
}

func TestControllerCapturesStateAfterEachEvent(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle")
	f := newControllerFixture(t, dest)
	screen := &liveScreen{}
	f.capture = func(domain.Target) (capture.HierarchyFetcher, capture.ScreenshotFetcher) { return screen, screen }
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	require.Eventually(t, f.surface.IsOpen, 2*time.Second, 10*time.Millisecond)
	waitArtifacts := func(n int) {
		t.Helper()
		require.Eventually(t, func() bool { return f.sink.artifactCount() == n }, 2*time.Second, 5*time.Millisecond)
	}
	field := domain.NewElementDescriptor("android.widget.EditText")

	// Each event leaves the app on a new screen before it is reported.
	screen.show(1)
	f.proc.events <- domain.RawEvent{EventType: domain.EventViewClick, Timestamp: 100}
	waitArtifacts(2)

	screen.show(2)
	f.proc.events <- domain.RawEvent{EventType: domain.EventTextChange, Timestamp: 200, ReplacementText: "h", Elements: []domain.ElementDescriptor{field}}
	waitArtifacts(4)

	screen.show(3)
	f.proc.events <- domain.RawEvent{EventType: domain.EventTextChange, Timestamp: 300, ReplacementText: "hi", Elements: []domain.ElementDescriptor{field}}
	require.Eventually(t, func() bool { return f.surface.shownCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, f.sink.artifactCount(), "no capture between text edits")

	f.surface.userClose()
	r := waitRun(t, out)
	require.NoError(t, r.err)

	m, err := bundle.Read(dest)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)
	want := []struct {
		eventType domain.EventType
		screen    string
	}{
		{domain.EventRecordStart, "screen-1"},
		{domain.EventViewClick, "screen-2"},
		{domain.EventTextChange, "screen-3"},
	}
	for i, w := range want {
		e := m.Entries[i]
		assert.Equal(t, w.eventType, e.EventType)
		hierarchy, err := os.ReadFile(filepath.Join(dest, e.Hierarchy))
		require.NoError(t, err)
		assert.Equal(t, w.screen, string(hierarchy), "hierarchy of %s", e.EventType)
		shot, err := os.ReadFile(filepath.Join(dest, e.Screenshot))
		require.NoError(t, err)
		assert.Equal(t, w.screen, string(shot), "screenshot of %s", e.EventType)
	}
	assert.Equal(t, "hi", m.Entries[2].ReplacementText)
}

func TestControllerMirrorsProgressToSink(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle")
	f := newControllerFixture(t, dest)
	c := f.controller(bundle.FormatPlist)

	out := runAsync(c)
	f.recordTyping(t)
	r := waitRun(t, out)
	require.NoError(t, r.err)
	assert.FileExists(t, filepath.Join(dest, "robo_script.plist"))

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.started, 1)
	assert.Equal(t, c.ID(), f.sink.started[0].ID)
	assert.Equal(t, "com.example.app", f.sink.started[0].Target.Package)
	require.Len(t, f.sink.events, 3)
	assert.Equal(t, "h", f.sink.events[1].ReplacementText)
	assert.Equal(t, "hello", f.sink.events[2].ReplacementText)
	assert.Len(t, f.sink.artifacts, 6)
	require.Len(t, f.sink.ended, 1)
	assert.Equal(t, dest, f.sink.ended[0].Bundle)
	assert.Equal(t, 6, f.sink.ended[0].Summary.Artifacts)
	assert.Empty(t, f.sink.warnings)
}

func TestControllerRetriesFailedSave(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	good := filepath.Join(t.TempDir(), "bundle")

	f := newControllerFixture(t, filepath.Join(blocker, "bundle"), good)
	f.prompter.answer = func(p Prompt) (bool, error) { return p.Yes == "Retry", nil }
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	f.recordTyping(t)
	r := waitRun(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, good, r.res.Bundle.Dir)

	prompts, errs, _ := f.prompter.snapshot()
	require.Len(t, prompts, 1)
	assert.Equal(t, "Save failed", prompts[0].Title)
	require.Len(t, errs, 1)
	var serr *domain.SerializationError
	assert.ErrorAs(t, errs[0], &serr)

	m, err := bundle.Read(good)
	require.NoError(t, err)
	assert.Len(t, m.Entries, 3)
	assert.Empty(t, m.MissingArtifacts())
}

func TestControllerDiscardAfterFailedSave(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	f := newControllerFixture(t, filepath.Join(blocker, "bundle"))
	f.prompter.answer = func(Prompt) (bool, error) { return false, nil }
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	f.recordTyping(t)
	r := waitRun(t, out)
	require.ErrorIs(t, r.err, ErrDiscarded)
	var serr *domain.SerializationError
	assert.ErrorAs(t, r.err, &serr)
	require.NotNil(t, r.res)
	assert.Nil(t, r.res.Bundle)

	scratch, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, scratch)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	assert.Len(t, f.sink.warnings, 1)
	require.Len(t, f.sink.ended, 1)
	assert.Empty(t, f.sink.ended[0].Bundle)
}

func TestControllerSetupFailure(t *testing.T) {
	f := newControllerFixture(t, t.TempDir())
	f.devices.err = device.ErrNoDevice
	c := f.controller(bundle.FormatJSON)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, domain.IsSetupError(err))
	assert.ErrorIs(t, err, device.ErrNoDevice)

	_, errs, _ := f.prompter.snapshot()
	require.Len(t, errs, 1)
	assert.False(t, f.surface.IsOpen())
	assert.Zero(t, f.surface.shownCount())
	assert.Empty(t, f.sink.started)
}

func TestControllerFinishesWhenAppStops(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle")
	f := newControllerFixture(t, dest)
	f.devices.reachable = true
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	require.Eventually(t, f.surface.IsOpen, 2*time.Second, 10*time.Millisecond)
	f.proc.events <- domain.RawEvent{EventType: domain.EventPressBack, Timestamp: 5}
	f.proc.drop(errors.New("process died"))

	r := waitRun(t, out)
	require.NoError(t, r.err)
	assert.False(t, f.surface.IsOpen())

	_, _, notified := f.prompter.snapshot()
	assert.Len(t, notified, 1)

	m, err := bundle.Read(dest)
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, domain.EventPressBack, m.Entries[1].EventType)
}

func TestControllerCancelledContext(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bundle")
	f := newControllerFixture(t, dest)
	c := f.controller(bundle.FormatJSON)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan runResult, 1)
	go func() {
		res, err := c.Run(ctx)
		out <- runResult{res: res, err: err}
	}()
	require.Eventually(t, f.surface.IsOpen, 2*time.Second, 10*time.Millisecond)
	cancel()

	r := waitRun(t, out)
	require.NoError(t, r.err)
	m, err := bundle.Read(dest)
	require.NoError(t, err)
	assert.Len(t, m.Entries, 1, "only the start marker")
}

func TestControllerDestinationCancelled(t *testing.T) {
	f := newControllerFixture(t)
	c := f.controller(bundle.FormatJSON)

	out := runAsync(c)
	f.recordTyping(t)
	r := waitRun(t, out)
	assert.ErrorIs(t, r.err, ErrDiscarded)
}
