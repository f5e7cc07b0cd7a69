package domain

import "time"

// Mode selects what the recording is for.
type Mode string

const (
	ModeScript Mode = "script" // standalone robo script
	ModeTest   Mode = "test"   // instrumentation test
)

// ParseMode returns ModeScript for anything it does not recognize.
func ParseMode(s string) Mode {
	if Mode(s) == ModeTest {
		return ModeTest
	}
	return ModeScript
}

// Target identifies the device, app and launch activity being recorded.
type Target struct {
	Serial   string `json:"serial"`
	APILevel int    `json:"api_level"`
	Emulator bool   `json:"emulator"`
	Package  string `json:"package"`
	Activity string `json:"activity"`
}

// Session describes one recording run.
type Session struct {
	ID        string
	Target    Target
	Mode      Mode
	StartedAt time.Time
}

// SessionStart is emitted when recording begins on a freshly attached target.
type SessionStart struct {
	Type          string `json:"type"`          // "session_start"
	SchemaVersion int    `json:"schemaVersion"` // 1
	SessionID     string `json:"session_id"`
	Mode          Mode   `json:"mode"`
	Serial        string `json:"serial"`
	APILevel      int    `json:"api_level"`
	Package       string `json:"package"`
	Activity      string `json:"activity"`
	Timestamp     string `json:"timestamp"` // ISO8601 timestamp
}

// SessionEnd is emitted once the bundle has been written (or abandoned).
type SessionEnd struct {
	Type          string         `json:"type"`          // "session_end"
	SchemaVersion int            `json:"schemaVersion"` // 1
	SessionID     string         `json:"session_id"`
	Bundle        string         `json:"bundle,omitempty"`
	Summary       SessionSummary `json:"summary"`
}

// SessionSummary contains statistics about a completed recording.
type SessionSummary struct {
	Events          int `json:"events"`
	Artifacts       int `json:"artifacts"`
	Reconnects      int `json:"reconnects"`
	DurationSeconds int `json:"duration_seconds"`
}

// NewSessionStart creates a new SessionStart event
func NewSessionStart(s Session) *SessionStart {
	return &SessionStart{
		Type:          "session_start",
		SchemaVersion: 1,
		SessionID:     s.ID,
		Mode:          s.Mode,
		Serial:        s.Target.Serial,
		APILevel:      s.Target.APILevel,
		Package:       s.Target.Package,
		Activity:      s.Target.Activity,
		Timestamp:     s.StartedAt.UTC().Format(time.RFC3339),
	}
}

// NewSessionEnd creates a new SessionEnd event
func NewSessionEnd(sessionID, bundle string, summary SessionSummary) *SessionEnd {
	return &SessionEnd{
		Type:          "session_end",
		SchemaVersion: 1,
		SessionID:     sessionID,
		Bundle:        bundle,
		Summary:       summary,
	}
}
