package domain

import (
	"slices"
	"strings"
)

// EventType names an interaction category reported by a trigger.
type EventType string

const (
	EventRecordStart          EventType = "RECORD_START"
	EventViewClick            EventType = "VIEW_CLICK"
	EventViewLongClick        EventType = "VIEW_LONG_CLICK"
	EventListItemClick        EventType = "LIST_ITEM_CLICK"
	EventTextChange           EventType = "TEXT_CHANGE"
	EventPressBack            EventType = "PRESS_BACK"
	EventPressBackEmulator28  EventType = "PRESS_BACK_EMULATOR_28"
	EventPressEditorAction    EventType = "PRESS_EDITOR_ACTION"
	EventViewSwipe            EventType = "VIEW_SWIPE"
	EventDelayedMessagePost   EventType = "DELAYED_MESSAGE_POST"
	EventWindowContentChanged EventType = "WINDOW_CONTENT_CHANGED"
	EventLazyClassesLoader    EventType = "LAZY_CLASSES_LOADER"
	EventPermissionsRequest   EventType = "PERMISSIONS_REQUEST"
)

// SupportedEvents is the allowlist of categories that reach the event log.
// WINDOW_CONTENT_CHANGED and LAZY_CLASSES_LOADER only drive the agent.
var SupportedEvents = []EventType{
	EventViewClick,
	EventViewLongClick,
	EventListItemClick,
	EventTextChange,
	EventPressBack,
	EventPressBackEmulator28,
	EventPressEditorAction,
	EventViewSwipe,
	EventDelayedMessagePost,
	EventPermissionsRequest,
}

// IsSupported reports whether t belongs to the allowlist.
func (t EventType) IsSupported() bool {
	return slices.Contains(SupportedEvents, t)
}

// Canonical folds trigger-specific aliases into the category users see.
func (t EventType) Canonical() EventType {
	if t == EventPressBackEmulator28 {
		return EventPressBack
	}
	return t
}

// IsIncrementalText reports whether consecutive events of this type describe
// one in-progress edit.
func (t EventType) IsIncrementalText() bool {
	return t == EventTextChange
}

// ParseEventType normalizes user input such as "view_click".
func ParseEventType(s string) EventType {
	return EventType(strings.ToUpper(strings.TrimSpace(s)))
}

// ElementDescriptor identifies the UI element an action was performed on.
// Positions are -1 when the element is not inside that kind of container.
type ElementDescriptor struct {
	ClassName                 string `json:"className"`
	RecyclerViewChildPosition int    `json:"recyclerViewChildPosition"`
	AdapterViewChildPosition  int    `json:"adapterViewChildPosition"`
	GroupViewChildPosition    int    `json:"groupViewChildPosition"`
	ResourceID                string `json:"resourceId"`
	ContentDescription        string `json:"contentDescription"`
	Text                      string `json:"text"`
}

// NewElementDescriptor returns a descriptor with every position unset.
func NewElementDescriptor(className string) ElementDescriptor {
	return ElementDescriptor{
		ClassName:                 className,
		RecyclerViewChildPosition: -1,
		AdapterViewChildPosition:  -1,
		GroupViewChildPosition:    -1,
	}
}

// RawEvent is a trigger report as delivered by the on-device agent.
type RawEvent struct {
	EventType            EventType           `json:"event_type"`
	Timestamp            int64               `json:"timestamp"`
	ActionCode           int                 `json:"action_code"`
	ReplacementText      string              `json:"replacement_text,omitempty"`
	DelayTime            int64               `json:"delay_time,omitempty"`
	RequestedPermissions []string            `json:"requested_permissions,omitempty"`
	SwipeDirection       string              `json:"swipe_direction,omitempty"`
	CanScrollTo          bool                `json:"can_scroll_to,omitempty"`
	Elements             []ElementDescriptor `json:"elements,omitempty"`
}

// InteractionEvent is one recorded user action plus the keys of the
// artifacts captured after it ran.
type InteractionEvent struct {
	EventType            EventType
	Timestamp            int64
	ActionCode           int
	ReplacementText      string
	DelayTime            int64
	RequestedPermissions []string
	SwipeDirection       string
	CanScrollTo          bool
	ElementDescriptors   []ElementDescriptor

	HierarchyRef  string
	ScreenshotRef string
}

// NewStartMarker returns the synthetic predecessor of the first real event.
func NewStartMarker(timestamp int64) *InteractionEvent {
	return &InteractionEvent{
		EventType:          EventRecordStart,
		Timestamp:          timestamp,
		ElementDescriptors: []ElementDescriptor{},
	}
}

// FromRaw converts an agent report into an InteractionEvent.
func FromRaw(raw RawEvent) *InteractionEvent {
	ev := &InteractionEvent{
		EventType:          raw.EventType.Canonical(),
		Timestamp:          raw.Timestamp,
		ActionCode:         raw.ActionCode,
		ReplacementText:    raw.ReplacementText,
		DelayTime:          raw.DelayTime,
		SwipeDirection:     raw.SwipeDirection,
		CanScrollTo:        raw.CanScrollTo,
		ElementDescriptors: append([]ElementDescriptor{}, raw.Elements...),
	}
	if len(raw.RequestedPermissions) > 0 {
		ev.RequestedPermissions = append([]string(nil), raw.RequestedPermissions...)
	}
	return ev
}

// Merge folds a later event of the same in-progress action into e.
// Artifact refs are left alone; they belong to the capture pipeline.
func (e *InteractionEvent) Merge(later *InteractionEvent) {
	if later == nil {
		return
	}
	e.Timestamp = later.Timestamp
	e.ActionCode = later.ActionCode
	e.ReplacementText = later.ReplacementText
	e.DelayTime = later.DelayTime
	e.SwipeDirection = later.SwipeDirection
	e.CanScrollTo = later.CanScrollTo
	if len(later.RequestedPermissions) > 0 {
		e.RequestedPermissions = append([]string(nil), later.RequestedPermissions...)
	}
	if len(later.ElementDescriptors) > 0 {
		e.ElementDescriptors = append([]ElementDescriptor{}, later.ElementDescriptors...)
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *InteractionEvent) Clone() InteractionEvent {
	c := *e
	c.ElementDescriptors = append([]ElementDescriptor{}, e.ElementDescriptors...)
	if e.RequestedPermissions != nil {
		c.RequestedPermissions = append([]string(nil), e.RequestedPermissions...)
	}
	return c
}
