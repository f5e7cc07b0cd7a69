package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/roborec/internal/device"
	"github.com/vburojevic/roborec/internal/domain"
	"github.com/vburojevic/roborec/internal/output"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// errorCode maps a recording failure to its output code and hint.
func errorCode(err error) (code, hint string) {
	var serr *domain.SerializationError
	switch {
	case errors.Is(err, device.ErrNoDevice):
		return "DEVICE_NOT_FOUND", "connect a device or start an emulator, then check `roborec devices`"
	case errors.Is(err, device.ErrMultipleDevices):
		return "DEVICE_AMBIGUOUS", "pass --device with one of the listed serials"
	case errors.Is(err, errNoPackage):
		return "PACKAGE_REQUIRED", "pass --package or set defaults.package in the config file"
	case domain.IsSetupError(err):
		return "SETUP_FAILED", ""
	case errors.As(err, &serr):
		return "SAVE_FAILED", "pass --output with a writable directory"
	default:
		return "RECORD_FAILED", ""
	}
}
