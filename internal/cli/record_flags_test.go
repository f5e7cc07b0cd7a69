package cli

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/roborec/internal/config"
)

// Ensure flag names/aliases keep working for scripts.
func TestRecordFlagsParse(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, Vars(config.Default()))
	require.NoError(t, err)

	_, err = parser.Parse([]string{
		"--format", "ndjson",
		"record",
		"-s", "emulator-5554",
		"-a", "com.example.app",
		"--activity", "com.example.app/.MainActivity",
		"-o", "out/login",
		"--manifest-format", "plist",
		"--mode", "test",
		"--clean",
		"--stop-app",
		"--no-ui",
	})
	require.NoError(t, err)

	require.Equal(t, "ndjson", c.Format)
	require.Equal(t, "emulator-5554", c.Record.Device)
	require.Equal(t, "com.example.app", c.Record.Package)
	require.Equal(t, "com.example.app/.MainActivity", c.Record.Activity)
	require.Equal(t, "out/login", c.Record.Output)
	require.Equal(t, "plist", c.Record.ManifestFormat)
	require.Equal(t, "test", c.Record.Mode)
	require.True(t, c.Record.Clean)
	require.True(t, c.Record.StopApp)
	require.True(t, c.Record.NoUI)
}

func TestRecordFlagsDefaultFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Defaults.Device = "0123456789ABCDEF"
	cfg.Defaults.Package = "com.config.app"
	cfg.Defaults.ManifestFormat = "plist"

	var c CLI
	parser, err := kong.New(&c, Vars(cfg))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"record"})
	require.NoError(t, err)

	require.Equal(t, "text", c.Format)
	require.Equal(t, "0123456789ABCDEF", c.Record.Device)
	require.Equal(t, "com.config.app", c.Record.Package)
	require.Equal(t, "plist", c.Record.ManifestFormat)
	require.Equal(t, "script", c.Record.Mode)
	require.Equal(t, ".", c.Record.OutputDir)
}

func TestRecordFlagsRejectUnknownFormat(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, Vars(config.Default()))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"record", "--manifest-format", "xml"})
	require.Error(t, err)
}

func TestInspectFlagsParse(t *testing.T) {
	var c CLI
	parser, err := kong.New(&c, Vars(config.Default()))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"inspect", "bundle", "-t", "VIEW_CLICK", "-w", "text~hello", "-w", "class^android"})
	require.NoError(t, err)

	require.Equal(t, "bundle", c.Inspect.Bundle)
	require.Equal(t, []string{"VIEW_CLICK"}, c.Inspect.Type)
	require.Equal(t, []string{"text~hello", "class^android"}, c.Inspect.Where)
}
