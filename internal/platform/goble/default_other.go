//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/beaconscan/internal/platform"
)

func newDefaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no bluetooth stack for %s", platform.ErrUnsupported, runtime.GOOS)
}
