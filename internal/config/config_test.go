package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points cwd, HOME and the user config dir at empty temp dirs.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"ROBOREC_FORMAT", "ROBOREC_QUIET", "ROBOREC_PACKAGE", "ROBOREC_DEVICE", "ANDROID_SERIAL"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NotNil(t, cfg)
	assert.Equal(t, "text", cfg.Format)
	assert.False(t, cfg.Quiet)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.Defaults.ManifestFormat)
	assert.Equal(t, "script", cfg.Defaults.Mode)
	assert.Equal(t, 19, cfg.Recording.MinAPILevel)
	assert.Equal(t, 28, cfg.Recording.CapabilityThreshold)
	assert.Equal(t, 16, cfg.Recording.CaptureQueue)
	assert.Equal(t, 27183, cfg.Recording.AgentPort)
	assert.Equal(t, "adb", cfg.Recording.ADBPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Run("returns defaults when no config file exists", func(t *testing.T) {
		isolate(t)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("loads config from the current directory", func(t *testing.T) {
		dir := isolate(t)
		configContent := `
format: ndjson
defaults:
  package: com.example.app
recording:
  clean_after_finish: true
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".roborec.yaml"), []byte(configContent), 0o644))

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "ndjson", cfg.Format)
		assert.Equal(t, "com.example.app", cfg.Defaults.Package)
		assert.True(t, cfg.Recording.CleanAfterFinish)
		assert.Equal(t, 16, cfg.Recording.CaptureQueue, "unset keys keep defaults")
	})

	t.Run("fails on a broken config file", func(t *testing.T) {
		dir := isolate(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".roborec.yaml"), []byte("format: [ndjson"), 0o644))

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadFromFile(t *testing.T) {
	t.Run("returns error for non-existent file", func(t *testing.T) {
		cfg, err := LoadFromFile("/nonexistent/path/config.yaml")
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0o644))

		cfg, err := LoadFromFile(configPath)
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("parses all config fields", func(t *testing.T) {
		configContent := `
format: ndjson
quiet: true
verbose: true
defaults:
  device: emulator-5554
  package: com.test.app
  activity: com.test.app/.MainActivity
  output_dir: recordings
  manifest_format: plist
  mode: test
recording:
  min_api_level: 21
  capability_threshold: 29
  clean_after_finish: true
  stop_app_after_recording: true
  capture_queue: 4
  agent_socket: custom-agent
  agent_port: 28000
  adb_path: /opt/android/platform-tools/adb
class_aliases:
  - from: com.test.app.widget.FancyButton
    to: android.widget.Button
`
		configPath := filepath.Join(t.TempDir(), "roborec.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

		cfg, err := LoadFromFile(configPath)
		require.NoError(t, err)

		assert.Equal(t, "ndjson", cfg.Format)
		assert.True(t, cfg.Quiet)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, DefaultsConfig{
			Device:         "emulator-5554",
			Package:        "com.test.app",
			Activity:       "com.test.app/.MainActivity",
			OutputDir:      "recordings",
			ManifestFormat: "plist",
			Mode:           "test",
		}, cfg.Defaults)
		assert.Equal(t, RecordingConfig{
			MinAPILevel:           21,
			CapabilityThreshold:   29,
			CleanAfterFinish:      true,
			StopAppAfterRecording: true,
			CaptureQueue:          4,
			AgentSocket:           "custom-agent",
			AgentPort:             28000,
			ADBPath:               "/opt/android/platform-tools/adb",
		}, cfg.Recording)
		assert.Equal(t, map[string]string{"com.test.app.widget.FancyButton": "android.widget.Button"}, cfg.Aliases())
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigEnvironmentVariables(t *testing.T) {
	isolate(t)
	t.Setenv("ROBOREC_FORMAT", "ndjson")
	t.Setenv("ROBOREC_DEFAULTS_MANIFEST_FORMAT", "plist")
	t.Setenv("ROBOREC_RECORDING_AGENT_PORT", "28001")
	t.Setenv("ROBOREC_PACKAGE", "com.env.app")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ndjson", cfg.Format)
	assert.Equal(t, "plist", cfg.Defaults.ManifestFormat)
	assert.Equal(t, 28001, cfg.Recording.AgentPort)
	assert.Equal(t, "com.env.app", cfg.Defaults.Package)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Format = "xml"
	cfg.Defaults.ManifestFormat = "yaml"
	cfg.Recording.AgentPort = 70000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be ndjson or text")
	assert.Contains(t, err.Error(), "manifest_format")
	assert.Contains(t, err.Error(), "agent_port")
}

func TestFindConfigFile(t *testing.T) {
	t.Run("finds .roborec.yaml in current directory", func(t *testing.T) {
		dir := isolate(t)
		configPath := filepath.Join(dir, ".roborec.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("format: text"), 0o644))

		found := findConfigFile()
		// Resolve symlinks for comparison (macOS /var -> /private/var)
		expectedPath, _ := filepath.EvalSymlinks(configPath)
		foundPath, _ := filepath.EvalSymlinks(found)
		assert.Equal(t, expectedPath, foundPath)
	})

	t.Run("prefers .roborec.yaml over .roborec.yml", func(t *testing.T) {
		dir := isolate(t)
		yamlPath := filepath.Join(dir, ".roborec.yaml")
		require.NoError(t, os.WriteFile(yamlPath, []byte("format: yaml"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".roborec.yml"), []byte("format: yml"), 0o644))

		expectedPath, _ := filepath.EvalSymlinks(yamlPath)
		foundPath, _ := filepath.EvalSymlinks(findConfigFile())
		assert.Equal(t, expectedPath, foundPath)
	})

	t.Run("falls back to the home directory", func(t *testing.T) {
		isolate(t)
		home := os.Getenv("HOME")
		rcPath := filepath.Join(home, ".roborecrc")
		require.NoError(t, os.WriteFile(rcPath, []byte("format: ndjson"), 0o644))

		assert.Equal(t, rcPath, findConfigFile())
		assert.Equal(t, rcPath, ConfigFile())
	})

	t.Run("returns empty string when no config found", func(t *testing.T) {
		isolate(t)
		assert.Empty(t, findConfigFile())
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("overrides format from env", func(t *testing.T) {
		cfg := Default()
		t.Setenv("ROBOREC_FORMAT", "ndjson")

		applyEnvOverrides(cfg)
		assert.Equal(t, "ndjson", cfg.Format)
	})

	t.Run("overrides quiet from env with 1", func(t *testing.T) {
		cfg := Default()
		t.Setenv("ROBOREC_QUIET", "1")

		applyEnvOverrides(cfg)
		assert.True(t, cfg.Quiet)
	})

	t.Run("does not override quiet with other values", func(t *testing.T) {
		cfg := Default()
		t.Setenv("ROBOREC_QUIET", "yes")

		applyEnvOverrides(cfg)
		assert.False(t, cfg.Quiet)
	})

	t.Run("uses ANDROID_SERIAL when no device is configured", func(t *testing.T) {
		cfg := Default()
		t.Setenv("ANDROID_SERIAL", "emulator-5556")
		t.Setenv("ROBOREC_DEVICE", "")

		applyEnvOverrides(cfg)
		assert.Equal(t, "emulator-5556", cfg.Defaults.Device)
	})

	t.Run("ROBOREC_DEVICE wins over ANDROID_SERIAL", func(t *testing.T) {
		cfg := Default()
		t.Setenv("ANDROID_SERIAL", "emulator-5556")
		t.Setenv("ROBOREC_DEVICE", "0123456789ABCDEF")

		applyEnvOverrides(cfg)
		assert.Equal(t, "0123456789ABCDEF", cfg.Defaults.Device)
	})
}
