package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" yaml:"format" json:"format"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet" json:"quiet"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults" yaml:"defaults" json:"defaults"`

	// Recording behaviour
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording" json:"recording"`

	// ClassAliases rewrite element class names in written manifests.
	ClassAliases []ClassAlias `mapstructure:"class_aliases" yaml:"class_aliases" json:"class_aliases"`
}

// DefaultsConfig holds default values for the record command
type DefaultsConfig struct {
	Device         string `mapstructure:"device" yaml:"device" json:"device"`
	Package        string `mapstructure:"package" yaml:"package" json:"package"`
	Activity       string `mapstructure:"activity" yaml:"activity" json:"activity"`
	OutputDir      string `mapstructure:"output_dir" yaml:"output_dir" json:"output_dir"`
	ManifestFormat string `mapstructure:"manifest_format" yaml:"manifest_format" json:"manifest_format"`
	Mode           string `mapstructure:"mode" yaml:"mode" json:"mode"`
}

// RecordingConfig holds device and agent settings
type RecordingConfig struct {
	MinAPILevel           int    `mapstructure:"min_api_level" yaml:"min_api_level" json:"min_api_level"`
	CapabilityThreshold   int    `mapstructure:"capability_threshold" yaml:"capability_threshold" json:"capability_threshold"`
	CleanAfterFinish      bool   `mapstructure:"clean_after_finish" yaml:"clean_after_finish" json:"clean_after_finish"`
	StopAppAfterRecording bool   `mapstructure:"stop_app_after_recording" yaml:"stop_app_after_recording" json:"stop_app_after_recording"`
	CaptureQueue          int    `mapstructure:"capture_queue" yaml:"capture_queue" json:"capture_queue"`
	AgentSocket           string `mapstructure:"agent_socket" yaml:"agent_socket" json:"agent_socket"`
	AgentPort             int    `mapstructure:"agent_port" yaml:"agent_port" json:"agent_port"`
	ADBPath               string `mapstructure:"adb_path" yaml:"adb_path" json:"adb_path"`
}

// ClassAlias maps an app class to the framework class written to manifests.
// Aliases are a list because class names contain dots, which viper treats
// as key separators.
type ClassAlias struct {
	From string `mapstructure:"from" yaml:"from" json:"from"`
	To   string `mapstructure:"to" yaml:"to" json:"to"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "text",
		Quiet:   false,
		Verbose: false,
		Defaults: DefaultsConfig{
			OutputDir:      ".",
			ManifestFormat: "json",
			Mode:           "script",
		},
		Recording: RecordingConfig{
			MinAPILevel:         19,
			CapabilityThreshold: 28,
			CaptureQueue:        16,
			AgentSocket:         "roborec-agent",
			AgentPort:           27183,
			ADBPath:             "adb",
		},
	}
}

// Aliases returns the class aliases as a lookup table.
func (c *Config) Aliases() map[string]string {
	out := make(map[string]string, len(c.ClassAliases))
	for _, a := range c.ClassAliases {
		if a.From != "" && a.To != "" {
			out[a.From] = a.To
		}
	}
	return out
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Format {
	case "ndjson", "text":
	default:
		errs = append(errs, fmt.Errorf("format must be ndjson or text, got %q", c.Format))
	}
	switch c.Defaults.ManifestFormat {
	case "json", "plist":
	default:
		errs = append(errs, fmt.Errorf("defaults.manifest_format must be json or plist, got %q", c.Defaults.ManifestFormat))
	}
	switch c.Defaults.Mode {
	case "script", "test":
	default:
		errs = append(errs, fmt.Errorf("defaults.mode must be script or test, got %q", c.Defaults.Mode))
	}
	if c.Recording.MinAPILevel <= 0 {
		errs = append(errs, errors.New("recording.min_api_level must be positive"))
	}
	if c.Recording.CaptureQueue <= 0 {
		errs = append(errs, errors.New("recording.capture_queue must be positive"))
	}
	if c.Recording.AgentPort <= 0 || c.Recording.AgentPort > 65535 {
		errs = append(errs, fmt.Errorf("recording.agent_port out of range: %d", c.Recording.AgentPort))
	}
	return errors.Join(errs...)
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := newViper()

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newViper returns a viper instance with defaults and ROBOREC_ environment
// bindings for every key.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ROBOREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.device", cfg.Defaults.Device)
	v.SetDefault("defaults.package", cfg.Defaults.Package)
	v.SetDefault("defaults.activity", cfg.Defaults.Activity)
	v.SetDefault("defaults.output_dir", cfg.Defaults.OutputDir)
	v.SetDefault("defaults.manifest_format", cfg.Defaults.ManifestFormat)
	v.SetDefault("defaults.mode", cfg.Defaults.Mode)
	v.SetDefault("recording.min_api_level", cfg.Recording.MinAPILevel)
	v.SetDefault("recording.capability_threshold", cfg.Recording.CapabilityThreshold)
	v.SetDefault("recording.clean_after_finish", cfg.Recording.CleanAfterFinish)
	v.SetDefault("recording.stop_app_after_recording", cfg.Recording.StopAppAfterRecording)
	v.SetDefault("recording.capture_queue", cfg.Recording.CaptureQueue)
	v.SetDefault("recording.agent_socket", cfg.Recording.AgentSocket)
	v.SetDefault("recording.agent_port", cfg.Recording.AgentPort)
	v.SetDefault("recording.adb_path", cfg.Recording.ADBPath)
	return v
}

// applyEnvOverrides handles the short variables that do not follow the
// ROBOREC_<SECTION>_<KEY> pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROBOREC_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("ROBOREC_QUIET"); v == "true" || v == "1" {
		cfg.Quiet = true
	}
	if v := os.Getenv("ROBOREC_PACKAGE"); v != "" {
		cfg.Defaults.Package = v
	}
	if v := os.Getenv("ANDROID_SERIAL"); v != "" && cfg.Defaults.Device == "" {
		cfg.Defaults.Device = v
	}
	if v := os.Getenv("ROBOREC_DEVICE"); v != "" {
		cfg.Defaults.Device = v
	}
}

// findConfigFile returns the first config file found, in order: the current
// directory, the home directory, the user config directory, /etc/roborec.
func findConfigFile() string {
	candidates := []string{".roborec.yaml", ".roborec.yml", "roborec.yaml", ".roborecrc"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".roborec.yaml"),
			filepath.Join(home, ".roborec.yml"),
			filepath.Join(home, ".roborecrc"))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "roborec", "roborec.yaml"))
	}
	candidates = append(candidates, "/etc/roborec/roborec.yaml")

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		if abs, err := filepath.Abs(c); err == nil {
			return abs
		}
		return c
	}
	return ""
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	return findConfigFile()
}
