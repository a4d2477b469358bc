package platform

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a BeaconManager.
type Options struct {
	ScanPeriod        time.Duration
	BetweenScanPeriod time.Duration
	// RegionExitPeriod is how long a monitored region must go unseen before it is
	// exited. Zero exits on the first cycle without a sighting.
	RegionExitPeriod time.Duration
	AllowDuplicates  bool

	DeviceFactory func() (Device, error)
	Logger        *logrus.Logger
}

// DefaultOptions returns the default duty cycle with no device factory.
func DefaultOptions() Options {
	return Options{
		ScanPeriod:        DefaultScanPeriod,
		BetweenScanPeriod: DefaultBetweenScanPeriod,
		RegionExitPeriod:  DefaultRegionExitPeriod,
		AllowDuplicates:   true,
	}
}
