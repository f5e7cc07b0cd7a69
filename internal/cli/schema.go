package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/domain"
)

// SchemaCmd outputs JSON Schema for roborec output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (session_start,ready,event,artifact,warning,session_end,error,device,step). Default: all"`
}

// schemas returns every NDJSON line type keyed by its "type" value.
func schemas() map[string]map[string]any {
	return map[string]map[string]any{
		"session_start": sessionStartSchema(),
		"ready":         readySchema(),
		"event":         eventSchema(),
		"artifact":      artifactSchema(),
		"warning":       warningSchema(),
		"session_end":   sessionEndSchema(),
		"error":         errorSchema(),
		"device":        deviceSchema(),
		"step":          stepSchema(),
	}
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	all := schemas()

	typesToOutput := lo.FlatMap(c.Type, func(t string, _ int) []string { return strings.Split(t, ",") })
	if len(typesToOutput) == 0 {
		typesToOutput = lo.Keys(all)
		sort.Strings(typesToOutput)
	}

	defs := map[string]any{}
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		schema, ok := all[t]
		if !ok {
			return outputErrorCommon(globals, "INVALID_TYPE", fmt.Sprintf("unknown output type %q", t))
		}
		defs[t] = schema
	}

	out := map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "roborec Output Schemas",
		"description": "JSON Schema definitions for all roborec NDJSON output types",
		"definitions": defs,
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func typed(name, title, description string, props map[string]any, required ...string) map[string]any {
	props["type"] = map[string]any{"type": "string", "const": name}
	props["schemaVersion"] = map[string]any{"type": "integer", "description": "Output schema version"}
	return map[string]any{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  props,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integer(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func eventTypes() []string {
	types := lo.Map(domain.SupportedEvents, func(t domain.EventType, _ int) string { return string(t) })
	return append([]string{string(domain.EventRecordStart)}, types...)
}

func sessionStartSchema() map[string]any {
	return typed("session_start", "Session Start", "Recording began on a freshly attached target", map[string]any{
		"session_id": str("Session identifier"),
		"mode":       map[string]any{"type": "string", "enum": []string{"script", "test"}},
		"serial":     str("Device serial"),
		"api_level":  integer("Device API level"),
		"package":    str("App package"),
		"activity":   str("Launch activity"),
		"timestamp":  map[string]any{"type": "string", "format": "date-time"},
	}, "session_id", "serial", "package", "timestamp")
}

func readySchema() map[string]any {
	return typed("ready", "Ready", "Triggers are installed and interactions are being recorded", map[string]any{
		"timestamp":  map[string]any{"type": "string", "format": "date-time"},
		"session_id": str("Session identifier"),
		"serial":     str("Device serial"),
		"package":    str("App package"),
	}, "timestamp", "session_id")
}

func eventSchema() map[string]any {
	return typed("event", "Recorded Event", "One interaction as it reached the event log", map[string]any{
		"session_id":       str("Session identifier"),
		"event_type":       map[string]any{"type": "string", "enum": eventTypes()},
		"timestamp":        integer("Milliseconds since the epoch"),
		"action_code":      integer("Editor action code"),
		"replacement_text": str("Text after a TEXT_CHANGE"),
		"swipe_direction":  str("Swipe direction"),
		"element":          str("Class name of the innermost element"),
		"resource_id":      str("Resource id of the innermost element"),
	}, "event_type", "timestamp")
}

func artifactSchema() map[string]any {
	return typed("artifact", "Artifact", "A hierarchy dump or screenshot was stored", map[string]any{
		"session_id":  str("Session identifier"),
		"kind":        map[string]any{"type": "string", "enum": []string{string(domain.ArtifactHierarchy), string(domain.ArtifactScreenshot)}},
		"key":         str("File name inside the bundle"),
		"captured_at": map[string]any{"type": "string", "format": "date-time"},
	}, "kind", "key")
}

func warningSchema() map[string]any {
	return typed("warning", "Warning", "A recoverable problem", map[string]any{
		"session_id": str("Session identifier"),
		"message":    str("Human-readable description"),
	}, "message")
}

func sessionEndSchema() map[string]any {
	return typed("session_end", "Session End", "The bundle was written or the recording abandoned", map[string]any{
		"session_id": str("Session identifier"),
		"bundle":     str("Bundle directory; absent when nothing was saved"),
		"summary": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"events":           integer("Entries in the event log, including the start marker"),
				"artifacts":        integer("Artifacts captured"),
				"reconnects":       integer("Reconnect attempts"),
				"duration_seconds": integer("Recording duration"),
			},
		},
	}, "session_id", "summary")
}

func errorSchema() map[string]any {
	return typed("error", "Error", "Error message from roborec", map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "Error code",
			"enum": []string{
				"INVALID_FLAGS",
				"INVALID_CONFIG",
				"INVALID_TYPE",
				"INVALID_WHERE",
				"ADB_FAILED",
				"DEVICE_NOT_FOUND",
				"DEVICE_AMBIGUOUS",
				"PACKAGE_REQUIRED",
				"SETUP_FAILED",
				"SAVE_FAILED",
				"RECORD_FAILED",
				"BUNDLE_UNREADABLE",
			},
		},
		"message": str("Human-readable error description"),
		"hint":    str("Suggested fix"),
	}, "code", "message")
}

func deviceSchema() map[string]any {
	return typed("device", "Device", "A device known to adb", map[string]any{
		"serial":     str("Device serial"),
		"state":      str("adb state"),
		"model":      str("Device model"),
		"product":    str("Product name"),
		"api_level":  integer("API level; absent when not ready"),
		"emulator":   map[string]any{"type": "boolean"},
		"recordable": map[string]any{"type": "boolean", "description": "Ready and at or above the minimum API level"},
	}, "serial", "state", "recordable")
}

func stepSchema() map[string]any {
	return typed("step", "Bundle Step", "One manifest entry of an inspected bundle", map[string]any{
		"index":              integer("Position in the manifest"),
		"eventType":          map[string]any{"type": "string", "enum": eventTypes()},
		"timestamp":          integer("Milliseconds since the epoch"),
		"actionCode":         integer("Editor action code"),
		"canScrollTo":        map[string]any{"type": "boolean"},
		"elementDescriptors": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		"hierarchy":          str("Hierarchy dump file"),
		"screenshot":         str("Screenshot file"),
	}, "index", "eventType", "timestamp", "elementDescriptors")
}
