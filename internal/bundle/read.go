package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"howett.net/plist"

	"github.com/vburojevic/roborec/internal/domain"
)

// Manifest is a parsed bundle manifest.
type Manifest struct {
	Path    string
	Format  Format
	Entries []Entry
}

// Read parses a manifest. path may be the manifest file or the bundle
// directory.
func Read(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path, err = findManifest(path)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Path: path, Format: FormatJSON}
	if strings.EqualFold(filepath.Ext(path), ".plist") {
		m.Format = FormatPlist
		if _, err := plist.Unmarshal(data, &m.Entries); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := json.Unmarshal(data, &m.Entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

func findManifest(dir string) (string, error) {
	for _, f := range []Format{FormatJSON, FormatPlist} {
		p := filepath.Join(dir, f.ManifestName())
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s", dir)
}

// MissingArtifacts returns the keys referenced by m that have no file next
// to the manifest.
func (m *Manifest) MissingArtifacts() []string {
	dir := filepath.Dir(m.Path)
	var missing []string
	for _, e := range m.Entries {
		for _, key := range []string{e.Hierarchy, e.Screenshot} {
			if key == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, key)); err != nil {
				missing = append(missing, key)
			}
		}
	}
	return missing
}

// Event converts a manifest entry back to an event, with the artifact keys
// as refs.
func (e Entry) Event() *domain.InteractionEvent {
	return &domain.InteractionEvent{
		EventType:            e.EventType,
		Timestamp:            e.Timestamp,
		ActionCode:           e.ActionCode,
		ReplacementText:      e.ReplacementText,
		DelayTime:            e.DelayTime,
		RequestedPermissions: e.RequestedPermissions,
		SwipeDirection:       e.SwipeDirection,
		CanScrollTo:          e.CanScrollTo,
		ElementDescriptors: lo.Map(e.ElementDescriptors, func(el Element, _ int) domain.ElementDescriptor {
			return domain.ElementDescriptor{
				ClassName:                 el.ClassName,
				RecyclerViewChildPosition: el.RecyclerViewChildPosition,
				AdapterViewChildPosition:  el.AdapterViewChildPosition,
				GroupViewChildPosition:    el.GroupViewChildPosition,
				ResourceID:                el.ResourceID,
				ContentDescription:        el.ContentDescription,
				Text:                      el.Text,
			}
		}),
		HierarchyRef:  e.Hierarchy,
		ScreenshotRef: e.Screenshot,
	}
}
