// Package platform is the beacon framework the relays wrap. It owns the BLE
// scan duty cycle, turns iBeacon advertisements into observations and fires
// ranging and monitoring callbacks, the part a mobile OS provides natively.
//
// Radio access goes through Device so the manager runs unchanged over go-ble
// (see internal/platform/goble) or a scripted device in tests.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/srg/beaconscan/internal/beacon"
)

// Default duty cycle, matching the foreground defaults of Android beacon stacks.
const (
	DefaultScanPeriod        = 1100 * time.Millisecond
	DefaultBetweenScanPeriod = 0
	DefaultRegionExitPeriod  = 10 * time.Second

	// advertiseSettle is how long StartBroadcast waits for an early failure.
	advertiseSettle = 250 * time.Millisecond
)

var (
	ErrNotReady      = errors.New("beacon manager is not bound")
	ErrBluetoothOff  = errors.New("bluetooth is turned off")
	ErrUnsupported   = errors.New("unsupported")
	ErrInvalidPeriod = errors.New("invalid scan period")
)

// Advertisement is the part of a received advertisement the manager reads.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	RSSI() int
	Addr() string
}

// Device is the radio: scanning and iBeacon advertising.
type Device interface {
	// Scan delivers advertisements to handler until ctx is done.
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	// AdvertiseIBeacon transmits frame until ctx is done.
	AdvertiseIBeacon(ctx context.Context, frame beacon.Frame) error
	// Stop releases the radio.
	Stop() error
}

// RangeNotifier receives one callback per region per scan cycle.
type RangeNotifier interface {
	OnDetected(region beacon.Region, beacons []beacon.Beacon)
}

// MonitorNotifier receives region transitions and state determinations.
type MonitorNotifier interface {
	OnEntered(region beacon.Region)
	OnExited(region beacon.Region)
	OnStateDetermined(region beacon.Region, state beacon.MonitorState)
}

// ScanErrorNotifier is implemented by notifiers that want scan failures.
type ScanErrorNotifier interface {
	OnScanError(err error)
}
