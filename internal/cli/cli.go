package cli

import (
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/vburojevic/roborec/internal/config"
)

// Version and Commit are set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command.
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"ndjson,text" help:"Output format (ndjson or text)"`
	Quiet   bool   `short:"q" help:"Suppress progress output and logs (ndjson only)"`
	Verbose bool   `short:"v" help:"Write debug logs to stderr"`

	Record  RecordCmd  `cmd:"" help:"Record interactions with an app into a robo script bundle"`
	Devices DevicesCmd `cmd:"" help:"List connected devices"`
	Inspect InspectCmd `cmd:"" help:"Show the steps of a recorded bundle"`
	Schema  SchemaCmd  `cmd:"" help:"Output JSON Schema for NDJSON output types"`
	Config  ConfigCmd  `cmd:"" help:"Show or generate configuration"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals holds the resolved global flags and output streams shared by all
// commands.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
}

// NewGlobalsWithConfig merges parsed flags with the loaded configuration.
// Flags win; booleans set in either place are on.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	format := c.Format
	if format == "" {
		format = cfg.Format
	}
	return &Globals{
		Format:  format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
}

// Vars exposes config defaults to flag declarations. Flags given on the
// command line override them.
func Vars(cfg *config.Config) kong.Vars {
	return kong.Vars{
		"config_format":          cfg.Format,
		"config_device":          cfg.Defaults.Device,
		"config_package":         cfg.Defaults.Package,
		"config_activity":        cfg.Defaults.Activity,
		"config_output_dir":      cfg.Defaults.OutputDir,
		"config_manifest_format": cfg.Defaults.ManifestFormat,
		"config_mode":            cfg.Defaults.Mode,
	}
}
