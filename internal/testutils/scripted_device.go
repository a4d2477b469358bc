package testutils

import (
	"context"
	"sync"

	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/platform"
)

// ScanStep is what one scan window of a ScriptedDevice delivers.
type ScanStep struct {
	Advertisements []platform.Advertisement
	Err            error
}

// ScriptedDevice is a platform.Device that replays scripted scan windows.
// Each Scan call consumes the next step; once the script is exhausted the idle
// step repeats. Scan delivers the step's advertisements and then holds until
// the window closes, like a real radio.
type ScriptedDevice struct {
	mu           sync.Mutex
	steps        []ScanStep
	idle         ScanStep
	scans        int
	stops        int
	advertised   []beacon.Frame
	advertising  bool
	advertiseErr error
	factoryErr   error
}

// NewScriptedDevice creates a device that sees nothing.
func NewScriptedDevice() *ScriptedDevice {
	return &ScriptedDevice{}
}

// ThenScan appends a window delivering advs.
func (d *ScriptedDevice) ThenScan(advs ...platform.Advertisement) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps = append(d.steps, ScanStep{Advertisements: advs})
	return d
}

// ThenFail appends a window that fails with err.
func (d *ScriptedDevice) ThenFail(err error) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps = append(d.steps, ScanStep{Err: err})
	return d
}

// Always sets the window repeated after the script runs out.
func (d *ScriptedDevice) Always(advs ...platform.Advertisement) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = ScanStep{Advertisements: advs}
	return d
}

// AlwaysFail makes every window after the script fail with err.
func (d *ScriptedDevice) AlwaysFail(err error) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idle = ScanStep{Err: err}
	return d
}

// FailAdvertising makes AdvertiseIBeacon fail immediately with err.
func (d *ScriptedDevice) FailAdvertising(err error) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advertiseErr = err
	return d
}

// FailOpen makes Factory return err.
func (d *ScriptedDevice) FailOpen(err error) *ScriptedDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factoryErr = err
	return d
}

// Factory returns a device factory handing out d.
func (d *ScriptedDevice) Factory() func() (platform.Device, error) {
	return func() (platform.Device, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.factoryErr != nil {
			return nil, d.factoryErr
		}
		return d, nil
	}
}

func (d *ScriptedDevice) next() ScanStep {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scans++
	if len(d.steps) == 0 {
		return d.idle
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	return step
}

func (d *ScriptedDevice) Scan(ctx context.Context, _ bool, handler func(platform.Advertisement)) error {
	step := d.next()
	if step.Err != nil {
		return step.Err
	}
	for _, adv := range step.Advertisements {
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *ScriptedDevice) AdvertiseIBeacon(ctx context.Context, frame beacon.Frame) error {
	d.mu.Lock()
	if d.advertiseErr != nil {
		err := d.advertiseErr
		d.mu.Unlock()
		return err
	}
	d.advertised = append(d.advertised, frame)
	d.advertising = true
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	d.advertising = false
	d.mu.Unlock()
	return nil
}

func (d *ScriptedDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

// ScanCount returns how many scan windows were opened.
func (d *ScriptedDevice) ScanCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scans
}

// StopCount returns how many times the radio was released.
func (d *ScriptedDevice) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Advertised returns every frame passed to AdvertiseIBeacon.
func (d *ScriptedDevice) Advertised() []beacon.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]beacon.Frame(nil), d.advertised...)
}

// IsAdvertising reports whether an advertisement is on air.
func (d *ScriptedDevice) IsAdvertising() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advertising
}
