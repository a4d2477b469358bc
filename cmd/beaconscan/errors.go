package main

import (
	"errors"
	"fmt"

	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/permission"
	"github.com/srg/beaconscan/internal/platform"
)

// Command-level errors
var (
	// ErrInvalidRegion indicates a --region value that does not parse.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrNoRegions indicates a command that needs at least one --region got none.
	ErrNoRegions = errors.New("at least one --region is required")
)

// MethodError is a failed plugin method call seen from the command line.
type MethodError struct {
	Method  string
	Code    string
	Message string
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Method, e.Code, e.Message)
}

// FormatUserError turns err into a one-line message for the terminal, with a
// hint for the failures users can fix themselves.
func FormatUserError(err error) string {
	var decodeErr *beacon.DecodeError
	var methodErr *MethodError

	switch {
	case errors.Is(err, permission.ErrPermissionDenied):
		return fmt.Sprintf("%v (grant CAP_NET_RAW and CAP_NET_ADMIN, e.g. `sudo setcap cap_net_raw,cap_net_admin+eip $(which beaconscan)`)", err)
	case errors.Is(err, platform.ErrBluetoothOff), errors.Is(err, permission.ErrBluetoothUnavailable):
		return fmt.Sprintf("%v (power on the adapter, e.g. `rfkill unblock bluetooth`)", err)
	case errors.Is(err, platform.ErrUnsupported):
		return fmt.Sprintf("%v (no supported Bluetooth stack on this platform)", err)
	case errors.Is(err, platform.ErrNotReady):
		return fmt.Sprintf("%v (is a Bluetooth adapter present and not in use by another process?)", err)
	case errors.As(err, &decodeErr):
		return fmt.Sprintf("invalid beacon data: %v", decodeErr)
	case errors.As(err, &methodErr):
		return methodErr.Error()
	default:
		return err.Error()
	}
}
