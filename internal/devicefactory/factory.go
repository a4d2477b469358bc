package devicefactory

import (
	"github.com/srg/beaconscan/internal/platform"
	"github.com/srg/beaconscan/internal/platform/goble"
)

// DeviceFactory creates platform.Device instances for scanning and advertising.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func() (platform.Device, error) {
	return goble.NewDevice()
}

// Open calls the current DeviceFactory.
func Open() (platform.Device, error) {
	return DeviceFactory()
}
