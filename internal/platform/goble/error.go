package goble

import (
	"fmt"
	"strings"

	"github.com/srg/beaconscan/internal/platform"
)

// NormalizeError maps known go-ble error strings to the platform sentinels.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "peripheral manager has invalid state"):
		return fmt.Errorf("%w: %v", platform.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %v", platform.ErrNotReady, err)
	case containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", platform.ErrUnsupported, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
