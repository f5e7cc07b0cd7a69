package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/vburojevic/roborec/internal/agent"
	"github.com/vburojevic/roborec/internal/bundle"
	"github.com/vburojevic/roborec/internal/capture"
	"github.com/vburojevic/roborec/internal/device"
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/output"
	"github.com/vburojevic/roborec/internal/session"
	"github.com/vburojevic/roborec/internal/trigger"
	"github.com/vburojevic/roborec/internal/tui"
)

var errNoPackage = errors.New("no app package given")

// RecordCmd attaches to an app, records interactions until the user stops,
// and writes a robo script bundle.
type RecordCmd struct {
	Device         string `short:"s" default:"${config_device}" help:"Device serial (default: the only connected device)"`
	Package        string `short:"a" default:"${config_package}" help:"Package of the app to record"`
	Activity       string `default:"${config_activity}" help:"Launch activity (default: resolved from the package)"`
	Output         string `short:"o" help:"Bundle directory (default: <output-dir>/<package>_robo_script_<millis>)"`
	OutputDir      string `default:"${config_output_dir}" help:"Parent directory for bundles"`
	ManifestFormat string `default:"${config_manifest_format}" enum:"json,plist" help:"Manifest format (json or plist)"`
	Mode           string `default:"${config_mode}" enum:"script,test" help:"What the recording is for (script or test)"`
	Clean          bool   `help:"Clear app data after recording"`
	StopApp        bool   `help:"Terminate the app when recording stops instead of only disabling triggers"`
	NoUI           bool   `name:"no-ui" help:"Use the line console even on a terminal"`
}

// Run executes the record command
func (c *RecordCmd) Run(globals *Globals) error {
	if err := validateFlags(globals); err != nil {
		return err
	}
	format, err := bundle.ParseFormat(c.ManifestFormat)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_FLAGS", err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown; the bundle is still written
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	runID := uuid.NewString()
	logger := newLogger(globals).With(zap.String("run_id", runID))
	defer func() { _ = logger.Sync() }()

	cfg := globals.Config
	bridge := device.NewBridge(cfg.Recording.ADBPath, logger)
	connector := &agent.Connector{
		Forwarder: bridge,
		Socket:    cfg.Recording.AgentSocket,
		Port:      cfg.Recording.AgentPort,
		RunID:     runID,
		Logger:    logger,
	}

	surface, prompter, console := c.surface(globals)
	var sink session.EventSink
	if globals.Format == "ndjson" {
		sink = output.NewNDJSONWriter(globals.Stdout)
	}
	var resolver bundle.ClassNameResolver
	if aliases := cfg.Aliases(); len(aliases) > 0 {
		resolver = bundle.AliasResolver(aliases)
	}

	controller := session.NewController(session.ControllerDeps{
		Deps: session.Deps{
			Devices:    bridge,
			Packages:   packageFlag(c.Package),
			Activities: bridge,
			Apps:       bridge,
			Connector:  connectWith(connector),
			Prompter:   prompter,
		},
		Capture: func(target domain.Target) (capture.HierarchyFetcher, capture.ScreenshotFetcher) {
			screen := bridge.Screen(target.Serial)
			return screen, screen
		},
		Surface:     surface,
		Destination: &destination{output: c.Output, dir: c.OutputDir, asker: console},
		Sink:        sink,
	}, session.ControllerConfig{
		Supervisor: session.Options{
			Serial:                c.Device,
			Activity:              c.Activity,
			RunID:                 runID,
			MinAPILevel:           cfg.Recording.MinAPILevel,
			StopAppAfterRecording: c.StopApp || cfg.Recording.StopAppAfterRecording,
			CleanAfterFinish:      c.Clean || cfg.Recording.CleanAfterFinish,
			Catalog:               trigger.DefaultCatalog().WithThreshold(cfg.Recording.CapabilityThreshold),
		},
		Mode:      domain.ParseMode(c.Mode),
		Format:    format,
		Resolver:  resolver,
		QueueSize: cfg.Recording.CaptureQueue,
		Logger:    logger,
	})

	res, err := controller.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrDiscarded):
		if globals.Format != "ndjson" && !globals.Quiet {
			fmt.Fprintln(globals.Stderr, "Recording discarded.")
		}
		return nil
	default:
		code, hint := errorCode(err)
		return outputErrorCommon(globals, code, err.Error(), hint)
	}

	if globals.Format != "ndjson" {
		fmt.Fprintf(globals.Stdout, "Saved %d steps and %d artifacts to %s\n",
			res.Bundle.Entries, res.Bundle.Artifacts, res.Bundle.Dir)
	}
	return nil
}

// surface picks the bubbletea surface on a terminal and the line console
// otherwise. The console also serves prompts once the surface has closed.
func (c *RecordCmd) surface(globals *Globals) (session.Surface, session.Prompter, *tui.Console) {
	out := globals.Stdout
	if globals.Format == "ndjson" {
		out = globals.Stderr
	}
	console := tui.NewConsole(globals.Stdin, out)
	if c.NoUI || globals.Format == "ndjson" || !isTerminal(globals.Stdout) {
		return console, console, console
	}
	s := tui.NewSurface(console)
	return s, s, console
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// connectWith adapts the agent connector to the session. A failed connect
// must not leak a typed nil into the Process interface.
func connectWith(c *agent.Connector) session.Connector {
	return session.ConnectorFunc(func(ctx context.Context, target domain.Target) (session.Process, error) {
		proc, err := c.Connect(ctx, target)
		if err != nil {
			return nil, err
		}
		return proc, nil
	})
}

// packageFlag resolves the app package from the flag or config default.
type packageFlag string

func (p packageFlag) ResolvePackage(context.Context) (string, error) {
	if p == "" {
		return "", errNoPackage
	}
	return string(p), nil
}

type asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// destination returns --output, or the suggested name under the output
// directory. After a failed save it asks for another path; an empty answer
// retries the same one.
type destination struct {
	output   string
	dir      string
	asker    asker
	attempts int
}

func (d *destination) Choose(ctx context.Context, suggested string) (string, error) {
	path := d.output
	if path == "" {
		path = filepath.Join(d.dir, suggested)
	}
	d.attempts++
	if d.attempts == 1 || d.asker == nil {
		return path, nil
	}
	answer, err := d.asker.Ask(ctx, fmt.Sprintf("Save to [%s]: ", path))
	if err != nil {
		return "", err
	}
	if answer == "" {
		return path, nil
	}
	d.output = answer
	return answer, nil
}
