// Package agent speaks the line-delimited JSON protocol of the on-device
// recording agent. The agent owns the breakpoints inside the app process and
// reports every hit as an event.
package agent

import (
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/trigger"
)

// ProtocolVersion is sent in the client hello.
const ProtocolVersion = 1

// Message types.
const (
	TypeHello             = "hello"
	TypeMuteAll           = "mute_all"
	TypeSetBreakpoint     = "set_breakpoint"
	TypeDisableBreakpoint = "disable_breakpoint"
	TypeTerminate         = "terminate"
	TypeEvent             = "event"
	TypeOK                = "ok"
	TypeError             = "error"
)

// Message is one line on the wire in either direction.
type Message struct {
	Type       string              `json:"type"`
	ID         int64               `json:"id,omitempty"`
	Version    int                 `json:"version,omitempty"`
	RunID      string              `json:"run_id,omitempty"`
	Package    string              `json:"package,omitempty"`
	PID        int                 `json:"pid,omitempty"`
	Breakpoint *trigger.Descriptor `json:"breakpoint,omitempty"`
	Event      *domain.RawEvent    `json:"event,omitempty"`
	Message    string              `json:"message,omitempty"`
}
