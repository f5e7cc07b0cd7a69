package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vburojevic/roborec/internal/domain"
)

func decodeLine(t *testing.T, dec *json.Decoder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestWriteError(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteError("SETUP_FAILED", "no target device", "connect a device"))

	m := decodeLine(t, json.NewDecoder(buf))
	require.Equal(t, "error", m["type"])
	require.EqualValues(t, 1, m["schemaVersion"])
	require.Equal(t, "SETUP_FAILED", m["code"])
	require.Equal(t, "no target device", m["message"])
	require.Equal(t, "connect a device", m["hint"])
}

func TestWriteErrorWithoutHintOmitsField(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	require.NoError(t, w.WriteError("SAVE_FAILED", "disk full"))

	m := decodeLine(t, json.NewDecoder(buf))
	_, ok := m["hint"]
	require.False(t, ok)
}

func TestSessionLifecycleLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	sess := domain.Session{
		ID:        "sess-1",
		Mode:      domain.ModeScript,
		Target:    domain.Target{Serial: "emulator-5554", APILevel: 30, Package: "com.example.app"},
		StartedAt: time.Date(2025, 12, 11, 10, 0, 0, 0, time.UTC),
	}
	w.SessionStarted(sess)

	el := domain.NewElementDescriptor("android.widget.EditText")
	el.ResourceID = "com.example.app:id/name"
	w.EventRecorded(domain.InteractionEvent{EventType: domain.EventTextChange, Timestamp: 42, ReplacementText: "hi", ElementDescriptors: []domain.ElementDescriptor{el}})
	w.ArtifactCaptured(domain.Artifact{Kind: domain.ArtifactScreenshot, Key: "screenshot_1_1.png", CapturedAt: sess.StartedAt})
	w.Warning("capture failed")
	w.SessionEnded(domain.NewSessionEnd("sess-1", "/tmp/bundle", domain.SessionSummary{Events: 2, Artifacts: 1}))
	require.NoError(t, w.Err())

	dec := json.NewDecoder(buf)

	start := decodeLine(t, dec)
	require.Equal(t, "session_start", start["type"])
	require.Equal(t, "2025-12-11T10:00:00Z", start["timestamp"])

	ready := decodeLine(t, dec)
	require.Equal(t, "ready", ready["type"])
	require.Equal(t, "sess-1", ready["session_id"])
	require.Equal(t, "emulator-5554", ready["serial"])

	ev := decodeLine(t, dec)
	require.Equal(t, "event", ev["type"])
	require.Equal(t, "TEXT_CHANGE", ev["event_type"])
	require.Equal(t, "hi", ev["replacement_text"])
	require.Equal(t, "android.widget.EditText", ev["element"])
	require.Equal(t, "com.example.app:id/name", ev["resource_id"])
	require.Equal(t, "sess-1", ev["session_id"])

	art := decodeLine(t, dec)
	require.Equal(t, "artifact", art["type"])
	require.Equal(t, "screenshot", art["kind"])
	require.Equal(t, "screenshot_1_1.png", art["key"])

	warn := decodeLine(t, dec)
	require.Equal(t, "warning", warn["type"])
	require.Equal(t, "capture failed", warn["message"])

	end := decodeLine(t, dec)
	require.Equal(t, "session_end", end["type"])
	require.Equal(t, "/tmp/bundle", end["bundle"])
	summary, ok := end["summary"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 2, summary["events"])

	require.False(t, dec.More())
}

func TestConcurrentWritesKeepLinesIntact(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewNDJSONWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				w.EventRecorded(domain.InteractionEvent{EventType: domain.EventViewClick, Timestamp: int64(i*100 + j)})
			}
		}(i)
	}
	wg.Wait()

	dec := json.NewDecoder(buf)
	count := 0
	for dec.More() {
		m := decodeLine(t, dec)
		require.Equal(t, "event", m["type"])
		count++
	}
	require.Equal(t, 200, count)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSinkRecordsFirstWriteError(t *testing.T) {
	w := NewNDJSONWriter(failingWriter{})
	w.Warning("first")
	w.Warning("second")
	require.EqualError(t, w.Err(), "broken pipe")
}
