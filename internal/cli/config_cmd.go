package cli

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vburojevic/roborec/internal/config"
	"github.com/vburojevic/roborec/internal/output"
)

// ConfigCmd groups the configuration subcommands
type ConfigCmd struct {
	Show     ConfigShowCmd     `cmd:"" default:"1" help:"Show the effective configuration"`
	Path     ConfigPathCmd     `cmd:"" help:"Show the config file in use"`
	Generate ConfigGenerateCmd `cmd:"" help:"Print a sample config file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// ConfigOutput is the NDJSON form of the effective configuration.
type ConfigOutput struct {
	Type          string `json:"type"` // "config"
	SchemaVersion int    `json:"schemaVersion"`
	File          string `json:"file,omitempty"`
	*config.Config
}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	file := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(ConfigOutput{
			Type:          "config",
			SchemaVersion: output.SchemaVersion,
			File:          file,
			Config:        cfg,
		})
	}

	w := globals.Stdout
	fmt.Fprintln(w, "Current Configuration:")
	if file != "" {
		fmt.Fprintf(w, "  (from %s)\n", file)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  format:  %s\n", cfg.Format)
	fmt.Fprintf(w, "  quiet:   %t\n", cfg.Quiet)
	fmt.Fprintf(w, "  verbose: %t\n", cfg.Verbose)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Defaults:")
	fmt.Fprintf(w, "  device:          %s\n", orNone(cfg.Defaults.Device))
	fmt.Fprintf(w, "  package:         %s\n", orNone(cfg.Defaults.Package))
	fmt.Fprintf(w, "  activity:        %s\n", orNone(cfg.Defaults.Activity))
	fmt.Fprintf(w, "  output_dir:      %s\n", cfg.Defaults.OutputDir)
	fmt.Fprintf(w, "  manifest_format: %s\n", cfg.Defaults.ManifestFormat)
	fmt.Fprintf(w, "  mode:            %s\n", cfg.Defaults.Mode)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recording:")
	fmt.Fprintf(w, "  min_api_level:            %d\n", cfg.Recording.MinAPILevel)
	fmt.Fprintf(w, "  capability_threshold:     %d\n", cfg.Recording.CapabilityThreshold)
	fmt.Fprintf(w, "  clean_after_finish:       %t\n", cfg.Recording.CleanAfterFinish)
	fmt.Fprintf(w, "  stop_app_after_recording: %t\n", cfg.Recording.StopAppAfterRecording)
	fmt.Fprintf(w, "  capture_queue:            %d\n", cfg.Recording.CaptureQueue)
	fmt.Fprintf(w, "  agent_socket:             %s\n", cfg.Recording.AgentSocket)
	fmt.Fprintf(w, "  agent_port:               %d\n", cfg.Recording.AgentPort)
	fmt.Fprintf(w, "  adb_path:                 %s\n", cfg.Recording.ADBPath)
	if len(cfg.ClassAliases) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Class aliases:")
		for _, a := range cfg.ClassAliases {
			fmt.Fprintf(w, "  %s -> %s\n", a.From, a.To)
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ConfigPathCmd prints the path of the config file in use
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := config.ConfigFile()

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]any{
			"type":          "config_path",
			"schemaVersion": output.SchemaVersion,
			"path":          path,
		})
	}

	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found.")
		fmt.Fprintln(globals.Stdout, "Searched: ./.roborec.yaml, ./.roborec.yml, ./roborec.yaml, ./.roborecrc, ~/.roborec.yaml, ~/.roborec.yml, ~/.roborecrc, <user config dir>/roborec/roborec.yaml, /etc/roborec/roborec.yaml")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

// ConfigGenerateCmd prints a sample config file
type ConfigGenerateCmd struct{}

const configHeader = `# roborec configuration file
# Place at ./.roborec.yaml, ~/.roborec.yaml or <user config dir>/roborec/roborec.yaml
# Every key can also be set as ROBOREC_<SECTION>_<KEY>, e.g. ROBOREC_DEFAULTS_PACKAGE

`

// Run executes the config generate command
func (c *ConfigGenerateCmd) Run(globals *Globals) error {
	sample := config.Default()
	sample.Format = "ndjson"
	sample.Defaults.Package = "com.example.app"
	sample.ClassAliases = []config.ClassAlias{
		{From: "com.example.app.widget.RoundedButton", To: "android.widget.Button"},
	}

	data, err := yaml.Marshal(sample)
	if err != nil {
		return err
	}
	fmt.Fprint(globals.Stdout, configHeader)
	_, err = globals.Stdout.Write(data)
	return err
}
