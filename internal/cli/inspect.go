package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/bundle"
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/filter"
	"github.com/vburojevic/roborec/internal/output"
	"github.com/vburojevic/roborec/internal/tui"
)

// InspectCmd prints the steps of a recorded bundle
type InspectCmd struct {
	Bundle string   `arg:"" help:"Bundle directory or manifest file"`
	Type   []string `short:"t" help:"Only show these event types (can be repeated)"`
	Where  []string `short:"w" help:"Filter steps by field (e.g. type=VIEW_CLICK, text~hello, class^android.widget); repeatable, AND logic"`
}

// StepOutput is one NDJSON line of `roborec inspect`.
type StepOutput struct {
	Type          string `json:"type"` // "step"
	SchemaVersion int    `json:"schemaVersion"`
	Index         int    `json:"index"`
	bundle.Entry
}

// InspectSummary closes the NDJSON output of `roborec inspect`.
type InspectSummary struct {
	Type             string        `json:"type"` // "inspect_summary"
	SchemaVersion    int           `json:"schemaVersion"`
	Manifest         string        `json:"manifest"`
	Format           bundle.Format `json:"format"`
	Steps            int           `json:"steps"`
	Shown            int           `json:"shown"`
	MissingArtifacts []string      `json:"missing_artifacts,omitempty"`
}

// Run executes the inspect command
func (c *InspectCmd) Run(globals *Globals) error {
	where, err := filter.NewWhereFilter(c.Where)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_WHERE", err.Error(), "use field=value, field~regex, field>=n")
	}
	var allow []domain.EventType
	for _, t := range c.Type {
		for _, part := range strings.Split(t, ",") {
			et := domain.ParseEventType(part)
			if !et.IsSupported() && et != domain.EventRecordStart {
				return outputErrorCommon(globals, "INVALID_TYPE", fmt.Sprintf("unknown event type %q", part))
			}
			allow = append(allow, et)
		}
	}
	pipeline := filter.NewPipeline(allow, where)

	m, err := bundle.Read(c.Bundle)
	if err != nil {
		return outputErrorCommon(globals, "BUNDLE_UNREADABLE", err.Error(), "pass a bundle directory or its robo_script manifest")
	}

	type step struct {
		index int
		entry bundle.Entry
	}
	steps := lo.FilterMap(m.Entries, func(e bundle.Entry, i int) (step, bool) {
		return step{index: i, entry: e}, pipeline.Match(e.Event())
	})
	missing := m.MissingArtifacts()

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, s := range steps {
			w.WriteRaw(StepOutput{Type: "step", SchemaVersion: output.SchemaVersion, Index: s.index, Entry: s.entry})
		}
		w.WriteRaw(InspectSummary{
			Type:             "inspect_summary",
			SchemaVersion:    output.SchemaVersion,
			Manifest:         m.Path,
			Format:           m.Format,
			Steps:            len(m.Entries),
			Shown:            len(steps),
			MissingArtifacts: missing,
		})
		return w.Err()
	}

	fmt.Fprintf(globals.Stdout, "%s (%s, %d steps)\n", m.Path, m.Format, len(m.Entries))
	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("#", "Event", "Timestamp", "Target", "Artifacts")
	for _, s := range steps {
		artifacts := lo.Compact([]string{s.entry.Hierarchy, s.entry.Screenshot})
		if err := table.Append([]string{
			strconv.Itoa(s.index),
			string(s.entry.EventType),
			strconv.FormatInt(s.entry.Timestamp, 10),
			tui.Describe(*s.entry.Event()),
			strings.Join(artifacts, " "),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	if len(missing) > 0 {
		fmt.Fprintf(globals.Stderr, "Warning: %d referenced artifacts are missing: %s\n", len(missing), strings.Join(missing, ", "))
	}
	return nil
}
