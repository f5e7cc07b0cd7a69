package cli

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/roborec/internal/agent"
	"github.com/vburojevic/roborec/internal/bundle"
	"github.com/vburojevic/roborec/internal/domain"
)

// stubADB puts a fake adb on PATH. `adb devices` prints $ROBOREC_TEST_DEVICES;
// device commands answer the calls Bridge makes during setup and cleanup.
// Hierarchy dumps and screenshots fail, so captures are logged and skipped.
func stubADB(t *testing.T, devices string) {
	t.Helper()
	stubDir := t.TempDir()
	script := `#!/bin/sh
set -eu

if [ "$1" = "devices" ]; then
  printf 'List of devices attached\n'
  printf '%s\n' "${ROBOREC_TEST_DEVICES:-}"
  exit 0
fi

if [ "$1" = "-s" ]; then
  serial="$2"
  shift 2
  case "$*" in
    "shell getprop ro.build.version.sdk")
      case "$serial" in
        emulator-*) echo 30 ;;
        *) echo 18 ;;
      esac
      exit 0 ;;
    "shell getprop ro.kernel.qemu")
      echo 0
      exit 0 ;;
    "shell cmd package resolve-activity --brief "*)
      echo "$6/.MainActivity"
      exit 0 ;;
    "forward "*)
      exit 0 ;;
    "shell pm clear "*)
      echo Success
      exit 0 ;;
  esac
fi

echo "stub: unsupported adb args: $*" >&2
exit 1
`
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "adb"), []byte(script), 0o755))
	t.Setenv("PATH", stubDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("ROBOREC_TEST_DEVICES", devices)
}

func TestDevicesCmd_WithStubADB(t *testing.T) {
	stubADB(t, "emulator-5554 device product:sdk_gphone64 model:sdk_gphone64\n0123456789ABCDEF device model:Nexus_4\nZX1G22 unauthorized")

	t.Run("ndjson", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&DevicesCmd{}).Run(globals))

		lines := ndjsonLines(t, stdout.String())
		require.Len(t, lines, 3)
		assert.Equal(t, "device", lines[0]["type"])
		assert.Equal(t, "emulator-5554", lines[0]["serial"])
		assert.Equal(t, float64(30), lines[0]["api_level"])
		assert.Equal(t, true, lines[0]["emulator"])
		assert.Equal(t, true, lines[0]["recordable"])
		assert.Equal(t, float64(18), lines[1]["api_level"])
		assert.Equal(t, false, lines[1]["recordable"], "below the minimum API level")
		assert.Equal(t, "unauthorized", lines[2]["state"])
		assert.Equal(t, false, lines[2]["recordable"])
	})

	t.Run("ready only", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&DevicesCmd{Ready: true}).Run(globals))
		assert.Len(t, ndjsonLines(t, stdout.String()), 2)
	})

	t.Run("text", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&DevicesCmd{}).Run(globals))

		output := stdout.String()
		assert.Contains(t, output, "emulator-5554")
		assert.Contains(t, output, "Nexus_4")
		assert.Contains(t, output, "18 (unsupported)")
		assert.Contains(t, output, "unauthorized")
	})
}

func TestDevicesCmd_NoDevices(t *testing.T) {
	stubADB(t, "")
	globals, stdout, _ := testGlobals("text")

	require.NoError(t, (&DevicesCmd{}).Run(globals))
	assert.Contains(t, stdout.String(), "No devices connected.")
}

func TestRecordCmd_SetupFailures(t *testing.T) {
	tests := []struct {
		name    string
		devices string
		cmd     RecordCmd
		code    string
	}{
		{"no device", "", RecordCmd{Package: "com.example.app"}, "DEVICE_NOT_FOUND"},
		{"two devices", "emulator-5554 device\nemulator-5556 device", RecordCmd{Package: "com.example.app"}, "DEVICE_AMBIGUOUS"},
		{"api too old", "0123456789ABCDEF device", RecordCmd{Package: "com.example.app"}, "SETUP_FAILED"},
		{"no package", "emulator-5554 device", RecordCmd{}, "PACKAGE_REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubADB(t, tt.devices)
			globals, stdout, _ := testGlobals("ndjson")
			stderr := &syncBuffer{}
			globals.Stderr = stderr
			cmd := tt.cmd
			cmd.ManifestFormat = "json"
			cmd.OutputDir = t.TempDir()

			require.Error(t, cmd.Run(globals))

			lines := ndjsonLines(t, stdout.String())
			require.Len(t, lines, 1, "only the error line is written")
			assert.Equal(t, "error", lines[0]["type"])
			assert.Equal(t, tt.code, lines[0]["code"])
			assert.Contains(t, stderr.String(), "Could not start recording")

			entries, err := os.ReadDir(cmd.OutputDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing is saved")
		})
	}
}

func TestRecordCmd_RejectsQuietText(t *testing.T) {
	globals, _, stderr := testGlobals("text")
	globals.Quiet = true

	require.Error(t, (&RecordCmd{ManifestFormat: "json"}).Run(globals))
	assert.Contains(t, stderr.String(), "INVALID_FLAGS")
}

// fakeDeviceAgent accepts one connection, echoes the run ID, sends events,
// and hangs up once every trigger has been requested, as if the app exited.
type fakeDeviceAgent struct {
	ln          net.Listener
	events      []domain.RawEvent
	breakpoints int

	mu       sync.Mutex
	received []string
}

func (a *fakeDeviceAgent) serve() {
	conn, err := a.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	var hello agent.Message
	if err := dec.Decode(&hello); err != nil {
		return
	}
	a.record(hello)
	enc.Encode(agent.Message{Type: agent.TypeHello, RunID: hello.RunID, PID: 4242})
	for i := range a.events {
		enc.Encode(agent.Message{Type: agent.TypeEvent, Event: &a.events[i]})
	}

	set := 0
	for set < a.breakpoints {
		var m agent.Message
		if err := dec.Decode(&m); err != nil {
			return
		}
		a.record(m)
		if m.Type == agent.TypeSetBreakpoint {
			set++
		}
		enc.Encode(agent.Message{Type: agent.TypeOK, ID: m.ID})
	}
}

func (a *fakeDeviceAgent) record(m agent.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, m.Type)
}

func (a *fakeDeviceAgent) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.received...)
}

func TestRecordCmd_WritesBundle(t *testing.T) {
	stubADB(t, "emulator-5554 device product:sdk_gphone64 model:sdk_gphone64")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	field := domain.NewElementDescriptor("android.widget.EditText")
	fake := &fakeDeviceAgent{
		ln:          ln,
		breakpoints: 1,
		events: []domain.RawEvent{
			{EventType: domain.EventViewClick, Timestamp: 1000, Elements: []domain.ElementDescriptor{domain.NewElementDescriptor("android.widget.Button")}},
			{EventType: domain.EventTextChange, Timestamp: 2000, ReplacementText: "h", Elements: []domain.ElementDescriptor{field}},
			{EventType: domain.EventTextChange, Timestamp: 3000, ReplacementText: "hello", Elements: []domain.ElementDescriptor{field}},
		},
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		fake.serve()
	}()

	globals, stdout, _ := testGlobals("ndjson")
	stderr := &syncBuffer{}
	globals.Stderr = stderr
	globals.Config.Recording.AgentPort = ln.Addr().(*net.TCPAddr).Port
	out := filepath.Join(t.TempDir(), "login")
	cmd := &RecordCmd{Package: "com.example.app", Output: out, ManifestFormat: "json", Mode: "script"}

	require.NoError(t, cmd.Run(globals))
	<-served

	m, err := bundle.Read(out)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)
	assert.Equal(t, domain.EventRecordStart, m.Entries[0].EventType)
	assert.Equal(t, domain.EventViewClick, m.Entries[1].EventType)
	assert.Equal(t, "hello", m.Entries[2].ReplacementText)
	assert.Equal(t, int64(3000), m.Entries[2].Timestamp)

	types := fake.types()
	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, []string{agent.TypeHello, agent.TypeMuteAll, agent.TypeSetBreakpoint}, types[:3])

	lines := ndjsonLines(t, stdout.String())
	require.NotEmpty(t, lines)
	assert.Equal(t, "session_start", lines[0]["type"])
	assert.Equal(t, "com.example.app/.MainActivity", lines[0]["activity"])
	end := lines[len(lines)-1]
	assert.Equal(t, "session_end", end["type"])
	assert.Equal(t, out, end["bundle"])
	events := 0
	for _, l := range lines {
		if l["type"] == "event" {
			events++
		}
	}
	assert.Equal(t, 3, events)
	assert.True(t, strings.Contains(stderr.String(), "has stopped"), stderr.String())
}
