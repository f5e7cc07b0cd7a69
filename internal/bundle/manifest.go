// Package bundle writes and reads robo-script bundles: a manifest of the
// recorded events plus the artifact files it references.
package bundle

import (
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/domain"
)

// Format selects the manifest encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatPlist Format = "plist"
)

// ParseFormat defaults to FormatJSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "plist":
		return FormatPlist, nil
	default:
		return "", fmt.Errorf("unknown manifest format %q (use json or plist)", s)
	}
}

// ManifestName returns the manifest file name for f.
func (f Format) ManifestName() string {
	if f == FormatPlist {
		return "robo_script.plist"
	}
	return "robo_script.json"
}

// Entry is one manifest record.
type Entry struct {
	EventType            domain.EventType `json:"eventType" plist:"eventType"`
	Timestamp            int64            `json:"timestamp" plist:"timestamp"`
	ActionCode           int              `json:"actionCode" plist:"actionCode"`
	DelayTime            int64            `json:"delayTime,omitempty" plist:"delayTime,omitempty"`
	ReplacementText      string           `json:"replacementText,omitempty" plist:"replacementText,omitempty"`
	RequestedPermissions []string         `json:"requestedPermissions,omitempty" plist:"requestedPermissions,omitempty"`
	SwipeDirection       string           `json:"swipeDirection,omitempty" plist:"swipeDirection,omitempty"`
	CanScrollTo          bool             `json:"canScrollTo" plist:"canScrollTo"`
	ElementDescriptors   []Element        `json:"elementDescriptors" plist:"elementDescriptors"`
	Hierarchy            string           `json:"hierarchy,omitempty" plist:"hierarchy,omitempty"`
	Screenshot           string           `json:"screenshot,omitempty" plist:"screenshot,omitempty"`
}

// Element is the manifest form of domain.ElementDescriptor.
type Element struct {
	ClassName                 string `json:"className" plist:"className"`
	RecyclerViewChildPosition int    `json:"recyclerViewChildPosition" plist:"recyclerViewChildPosition"`
	AdapterViewChildPosition  int    `json:"adapterViewChildPosition" plist:"adapterViewChildPosition"`
	GroupViewChildPosition    int    `json:"groupViewChildPosition" plist:"groupViewChildPosition"`
	ResourceID                string `json:"resourceId" plist:"resourceId"`
	ContentDescription        string `json:"contentDescription" plist:"contentDescription"`
	Text                      string `json:"text" plist:"text"`
}

// ClassNameResolver maps a runtime class name to the name written to the
// manifest.
type ClassNameResolver interface {
	Resolve(className string) string
}

// IdentityResolver leaves class names unchanged.
type IdentityResolver struct{}

func (IdentityResolver) Resolve(className string) string { return className }

// AliasResolver rewrites class names found in its table and leaves the rest
// unchanged.
type AliasResolver map[string]string

func (r AliasResolver) Resolve(className string) string {
	if alias, ok := r[className]; ok && alias != "" {
		return alias
	}
	return className
}

// ArtifactLookup resolves artifact keys to backing files.
type ArtifactLookup interface {
	Lookup(key string) (domain.Artifact, bool)
}

// Compose converts the finalized log to manifest entries. Refs that do not
// resolve in store are dropped. The inputs are not modified.
func Compose(log []*domain.InteractionEvent, store ArtifactLookup, resolver ClassNameResolver) []Entry {
	if resolver == nil {
		resolver = IdentityResolver{}
	}
	return lo.Map(log, func(ev *domain.InteractionEvent, _ int) Entry {
		e := Entry{
			EventType:       ev.EventType,
			Timestamp:       ev.Timestamp,
			ActionCode:      ev.ActionCode,
			DelayTime:       ev.DelayTime,
			ReplacementText: ev.ReplacementText,
			SwipeDirection:  ev.SwipeDirection,
			CanScrollTo:     ev.CanScrollTo,
			ElementDescriptors: lo.Map(ev.ElementDescriptors, func(d domain.ElementDescriptor, _ int) Element {
				return Element{
					ClassName:                 resolver.Resolve(d.ClassName),
					RecyclerViewChildPosition: d.RecyclerViewChildPosition,
					AdapterViewChildPosition:  d.AdapterViewChildPosition,
					GroupViewChildPosition:    d.GroupViewChildPosition,
					ResourceID:                d.ResourceID,
					ContentDescription:        d.ContentDescription,
					Text:                      d.Text,
				}
			}),
			Hierarchy:  resolveRef(store, ev.HierarchyRef),
			Screenshot: resolveRef(store, ev.ScreenshotRef),
		}
		if len(ev.RequestedPermissions) > 0 {
			e.RequestedPermissions = append([]string(nil), ev.RequestedPermissions...)
		}
		return e
	})
}

func resolveRef(store ArtifactLookup, key string) string {
	if key == "" || store == nil {
		return ""
	}
	if _, ok := store.Lookup(key); !ok {
		return ""
	}
	return key
}

// SuggestName returns the default bundle directory name for a recording of
// pkg, e.g. com.example.app_robo_script_1700000000000.
func SuggestName(pkg string, mode domain.Mode, clk clock.Clock) string {
	if clk == nil {
		clk = clock.New()
	}
	kind := "robo_script"
	if mode == domain.ModeTest {
		kind = "test_script"
	}
	return fmt.Sprintf("%s_%s_%d", pkg, kind, clk.Now().UnixMilli())
}
