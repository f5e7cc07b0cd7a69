// Package device wraps the adb command line for device discovery, app
// control and artifact capture.
package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// StateDevice is the adb state of a device that accepts commands.
const StateDevice = "device"

// remoteDumpPath is where uiautomator writes its dump on the device.
const remoteDumpPath = "/sdcard/window_dump.xml"

var (
	// ErrNoDevice is returned when no ready device is connected.
	ErrNoDevice = errors.New("no connected device")
	// ErrMultipleDevices is returned when a serial is required to pick one.
	ErrMultipleDevices = errors.New("more than one device connected")
)

// Device is one entry of `adb devices -l`.
type Device struct {
	Serial   string `json:"serial"`
	State    string `json:"state"`
	Model    string `json:"model,omitempty"`
	Product  string `json:"product,omitempty"`
	APILevel int    `json:"api_level,omitempty"`
	Emulator bool   `json:"emulator"`
}

// Ready reports whether adb can talk to the device.
func (d Device) Ready() bool { return d.State == StateDevice }

// Bridge runs adb commands.
type Bridge struct {
	adb    string
	logger *zap.Logger
}

// NewBridge creates a bridge using adbPath, or adb from PATH when empty.
func NewBridge(adbPath string, logger *zap.Logger) *Bridge {
	if adbPath == "" {
		adbPath = "adb"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{adb: adbPath, logger: logger}
}

func (b *Bridge) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, b.adb, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		if msg != "" {
			return out, fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	b.logger.Debug("adb", zap.Strings("args", args), zap.Int("bytes", len(out)))
	return out, nil
}

func (b *Bridge) shell(ctx context.Context, serial string, args ...string) (string, error) {
	out, err := b.run(ctx, append([]string{"-s", serial, "shell"}, args...)...)
	return strings.TrimSpace(string(out)), err
}

// Devices lists connected devices. Ready devices carry API level and
// emulator flag.
func (b *Bridge) Devices(ctx context.Context) ([]Device, error) {
	out, err := b.run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	devices := parseDevices(out)
	for i := range devices {
		if !devices[i].Ready() {
			continue
		}
		level, err := b.APILevel(ctx, devices[i].Serial)
		if err != nil {
			b.logger.Warn("failed to read api level", zap.String("serial", devices[i].Serial), zap.Error(err))
		}
		devices[i].APILevel = level
		devices[i].Emulator = b.IsEmulator(ctx, devices[i].Serial)
	}
	return devices, nil
}

func parseDevices(out []byte) []Device {
	var devices []Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{Serial: fields[0], State: fields[1]}
		for _, f := range fields[2:] {
			k, v, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			switch k {
			case "model":
				d.Model = v
			case "product":
				d.Product = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// FindDevice returns the ready device with serial, or the only ready device
// when serial is empty.
func (b *Bridge) FindDevice(ctx context.Context, serial string) (*Device, error) {
	devices, err := b.Devices(ctx)
	if err != nil {
		return nil, err
	}
	ready := lo.Filter(devices, func(d Device, _ int) bool { return d.Ready() })

	if serial != "" {
		d, ok := lo.Find(ready, func(d Device) bool { return d.Serial == serial })
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, serial)
		}
		return &d, nil
	}

	switch len(ready) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return &ready[0], nil
	default:
		serials := lo.Map(ready, func(d Device, _ int) string { return d.Serial })
		return nil, fmt.Errorf("%w (%s); pass --device", ErrMultipleDevices, strings.Join(serials, ", "))
	}
}

// Reachable reports whether serial is still connected and ready.
func (b *Bridge) Reachable(ctx context.Context, serial string) bool {
	out, err := b.run(ctx, "devices")
	if err != nil {
		return false
	}
	return lo.ContainsBy(parseDevices(out), func(d Device) bool {
		return d.Serial == serial && d.Ready()
	})
}

// APILevel reads ro.build.version.sdk.
func (b *Bridge) APILevel(ctx context.Context, serial string) (int, error) {
	out, err := b.shell(ctx, serial, "getprop", "ro.build.version.sdk")
	if err != nil {
		return 0, err
	}
	level, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("invalid sdk level %q: %w", out, err)
	}
	return level, nil
}

// IsEmulator reports whether serial is a virtual device.
func (b *Bridge) IsEmulator(ctx context.Context, serial string) bool {
	if strings.HasPrefix(serial, "emulator-") {
		return true
	}
	out, err := b.shell(ctx, serial, "getprop", "ro.kernel.qemu")
	return err == nil && out == "1"
}

// ResolveActivity returns the launcher activity of pkg as "pkg/.Activity".
func (b *Bridge) ResolveActivity(ctx context.Context, serial, pkg string) (string, error) {
	out, err := b.shell(ctx, serial, "cmd", "package", "resolve-activity", "--brief", pkg)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.Contains(last, "/") {
		return "", fmt.Errorf("no launchable activity for %s", pkg)
	}
	return last, nil
}

// ClearAppData runs pm clear for pkg.
func (b *Bridge) ClearAppData(ctx context.Context, serial, pkg string) error {
	out, err := b.shell(ctx, serial, "pm", "clear", pkg)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("pm clear %s: %s", pkg, out)
	}
	return nil
}

// ForceStop stops pkg without the agent.
func (b *Bridge) ForceStop(ctx context.Context, serial, pkg string) error {
	_, err := b.shell(ctx, serial, "am", "force-stop", pkg)
	return err
}

// Forward implements agent.Forwarder.
func (b *Bridge) Forward(ctx context.Context, serial, local, remote string) error {
	_, err := b.run(ctx, "-s", serial, "forward", local, remote)
	return err
}

// Screen returns the capture source for serial.
func (b *Bridge) Screen(serial string) *Screen {
	return &Screen{bridge: b, serial: serial}
}

// Screen captures hierarchy dumps and screenshots from one device.
type Screen struct {
	bridge *Bridge
	serial string
}

// DumpHierarchy implements capture.HierarchyFetcher.
func (s *Screen) DumpHierarchy(ctx context.Context, dst string) error {
	out, err := s.bridge.shell(ctx, s.serial, "uiautomator", "dump", remoteDumpPath)
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(out), "error") {
		return fmt.Errorf("uiautomator dump: %s", out)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_, err = s.bridge.run(ctx, "-s", s.serial, "pull", remoteDumpPath, dst)
	return err
}

// Screenshot implements capture.ScreenshotFetcher.
func (s *Screen) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := s.bridge.run(ctx, "-s", s.serial, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("screencap returned no data")
	}
	return out, nil
}

var surfaceOrientation = regexp.MustCompile(`SurfaceOrientation:\s*(\d)`)

// Rotation implements capture.ScreenshotFetcher.
func (s *Screen) Rotation(ctx context.Context) (int, error) {
	out, err := s.bridge.shell(ctx, s.serial, "dumpsys", "input")
	if err != nil {
		return 0, err
	}
	m := surfaceOrientation.FindStringSubmatch(out)
	if m == nil {
		return 0, errors.New("SurfaceOrientation not reported")
	}
	return strconv.Atoi(m[1])
}
