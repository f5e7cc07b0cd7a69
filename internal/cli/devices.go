package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/roborec/internal/device"
	"github.com/vburojevic/roborec/internal/output"
)

// DevicesCmd lists devices known to adb
type DevicesCmd struct {
	Ready bool `help:"Only show devices that accept commands"`
}

// DeviceOutput is one NDJSON line of `roborec devices`.
type DeviceOutput struct {
	Type          string `json:"type"` // "device"
	SchemaVersion int    `json:"schemaVersion"`
	device.Device
	Recordable bool `json:"recordable"`
}

// Run executes the devices command
func (c *DevicesCmd) Run(globals *Globals) error {
	logger := newLogger(globals)
	bridge := device.NewBridge(globals.Config.Recording.ADBPath, logger)

	devices, err := bridge.Devices(context.Background())
	if err != nil {
		return outputErrorCommon(globals, "ADB_FAILED", err.Error(), "install the Android platform tools or set recording.adb_path")
	}
	minAPI := globals.Config.Recording.MinAPILevel

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, d := range devices {
			if c.Ready && !d.Ready() {
				continue
			}
			if err := w.WriteRaw(DeviceOutput{
				Type:          "device",
				SchemaVersion: output.SchemaVersion,
				Device:        d,
				Recordable:    d.Ready() && d.APILevel >= minAPI,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(devices) == 0 {
		fmt.Fprintln(globals.Stdout, "No devices connected.")
		return nil
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("Serial", "State", "Model", "API", "Emulator")
	for _, d := range devices {
		if c.Ready && !d.Ready() {
			continue
		}
		api := "-"
		if d.APILevel > 0 {
			api = strconv.Itoa(d.APILevel)
			if d.APILevel < minAPI {
				api += " (unsupported)"
			}
		}
		emulator := ""
		if d.Emulator {
			emulator = "yes"
		}
		if err := table.Append([]string{d.Serial, d.State, d.Model, api, emulator}); err != nil {
			return err
		}
	}
	return table.Render()
}
