package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/roborec/internal/output"
)

// VersionCmd shows version information
type VersionCmd struct{}

// VersionOutput represents the NDJSON output for version info
type VersionOutput struct {
	Type          string `json:"type"` // "version"
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	GoInstall     string `json:"go_install"`
}

const goInstallCmd = "go install github.com/vburojevic/roborec/cmd/roborec@latest"

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(VersionOutput{
			Type:          "version",
			SchemaVersion: output.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoInstall:     goInstallCmd,
		})
	}
	fmt.Fprintf(globals.Stdout, "roborec version %s (%s)\n", Version, Commit)
	fmt.Fprintf(globals.Stdout, "Upgrade with: %s\n", goInstallCmd)
	return nil
}
