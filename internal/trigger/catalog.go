// Package trigger holds the table of instrumentation breakpoints that report
// user interactions and installs them onto an attached process.
package trigger

import (
	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/domain"
)

// DefaultThreshold is the API level from which some breakpoints misbehave.
const DefaultThreshold = 28

// Descriptor names a method breakpoint and the category it reports.
type Descriptor struct {
	EventType domain.EventType `json:"event_type"`
	Class     string           `json:"class"`
	Method    string           `json:"method"`
	Signature string           `json:"signature"`
	Oneshot   bool             `json:"oneshot"`
}

// Entry is a catalog row. SkipAtOrAbove drops the row on targets at or above
// that API level; Substitute replaces it on emulators at or above
// SubstituteAtOrAbove. Zero thresholds disable the rule.
type Entry struct {
	Descriptor          Descriptor
	SkipAtOrAbove       int
	Substitute          *Descriptor
	SubstituteAtOrAbove int
}

// Capability describes the target features the catalog is gated on.
type Capability struct {
	APILevel int
	Emulator bool
}

// CapabilityOf extracts the gating capability of a target.
func CapabilityOf(t domain.Target) Capability {
	return Capability{APILevel: t.APILevel, Emulator: t.Emulator}
}

// Catalog is an immutable table of entries.
type Catalog struct {
	entries []Entry
}

// NewCatalog copies entries into a new catalog.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{entries: make([]Entry, len(entries))}
	for i, e := range entries {
		if e.Substitute != nil {
			sub := *e.Substitute
			e.Substitute = &sub
		}
		c.entries[i] = e
	}
	return c
}

// Entries returns a copy of the table.
func (c *Catalog) Entries() []Entry {
	return NewCatalog(c.entries...).entries
}

// Len returns the number of rows.
func (c *Catalog) Len() int { return len(c.entries) }

// Plan resolves the descriptors to install for the given capability.
func (c *Catalog) Plan(target Capability) []Descriptor {
	return lo.FilterMap(c.entries, func(e Entry, _ int) (Descriptor, bool) {
		if e.SkipAtOrAbove > 0 && target.APILevel >= e.SkipAtOrAbove {
			return Descriptor{}, false
		}
		if e.Substitute != nil && target.Emulator && e.SubstituteAtOrAbove > 0 && target.APILevel >= e.SubstituteAtOrAbove {
			return *e.Substitute, true
		}
		return e.Descriptor, true
	})
}

// pressBackEmulator28 replaces the regular PRESS_BACK breakpoint on emulators
// running API 28+, which freeze occasionally on the input-method callback.
var pressBackEmulator28 = Descriptor{
	EventType: domain.EventPressBackEmulator28,
	Class:     "android.app.Activity",
	Method:    "onBackPressed",
	Signature: "()V",
}

var defaultCatalog = NewCatalog(
	Entry{Descriptor: Descriptor{domain.EventViewClick, "android.view.View$PerformClick", "run", "()V", false}},
	Entry{Descriptor: Descriptor{domain.EventViewLongClick, "android.view.View", "performLongClick", "()Z", false}},
	Entry{Descriptor: Descriptor{domain.EventListItemClick, "android.widget.AbsListView", "performItemClick", "(Landroid/view/View;IJ)Z", false}},
	Entry{Descriptor: Descriptor{domain.EventTextChange, "android.widget.TextView$ChangeWatcher", "beforeTextChanged", "(Ljava/lang/CharSequence;III)V", true}},
	Entry{Descriptor: Descriptor{domain.EventTextChange, "android.widget.TextView$ChangeWatcher", "onTextChanged", "(Ljava/lang/CharSequence;III)V", false}},
	Entry{
		Descriptor:          Descriptor{domain.EventPressBack, "android.view.inputmethod.InputMethodManager", "invokeFinishedInputEventCallback", "(Landroid/view/inputmethod/InputMethodManager$PendingEvent;Z)V", false},
		Substitute:          &pressBackEmulator28,
		SubstituteAtOrAbove: DefaultThreshold,
	},
	Entry{Descriptor: Descriptor{domain.EventPressEditorAction, "android.widget.TextView", "onEditorAction", "(I)V", false}},
	Entry{Descriptor: Descriptor{domain.EventViewSwipe, "android.support.v4.view.ViewPager", "smoothScrollTo", "(III)V", false}},
	Entry{
		Descriptor:    Descriptor{domain.EventDelayedMessagePost, "android.os.Handler", "postDelayed", "(Ljava/lang/Runnable;J)Z", false},
		SkipAtOrAbove: DefaultThreshold,
	},
	Entry{Descriptor: Descriptor{domain.EventWindowContentChanged, "android.view.ViewRootImpl$SendWindowContentChangedAccessibilityEvent", "run", "()V", false}},
	Entry{Descriptor: Descriptor{domain.EventLazyClassesLoader, "android.os.Handler", "dispatchMessage", "(Landroid/os/Message;)V", false}},
	Entry{Descriptor: Descriptor{domain.EventPermissionsRequest, "android.app.Activity", "requestPermissions", "([Ljava/lang/String;I)V", false}},
)

// DefaultCatalog returns the production catalog.
func DefaultCatalog() *Catalog { return defaultCatalog }

// WithThreshold returns a copy of c whose non-zero gating thresholds are
// replaced by threshold.
func (c *Catalog) WithThreshold(threshold int) *Catalog {
	entries := c.Entries()
	for i := range entries {
		if entries[i].SkipAtOrAbove > 0 {
			entries[i].SkipAtOrAbove = threshold
		}
		if entries[i].SubstituteAtOrAbove > 0 {
			entries[i].SubstituteAtOrAbove = threshold
		}
	}
	return &Catalog{entries: entries}
}
