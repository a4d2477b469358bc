// Package goble adapts github.com/go-ble/ble to the platform.Device interface.
package goble

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/platform"
)

// bleDevice wraps ble.Device to implement the platform.Device interface
type bleDevice struct {
	dev ble.Device
}

// NewDevice opens the host radio and wraps it.
func NewDevice() (platform.Device, error) {
	dev, err := newDefaultDevice()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return Wrap(dev), nil
}

// Wrap adapts an already opened ble.Device.
func Wrap(dev ble.Device) platform.Device {
	return &bleDevice{dev: dev}
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the platform.Advertisement
func (d *bleDevice) Scan(ctx context.Context, allowDup bool, handler func(platform.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	}
	err := d.dev.Scan(ctx, allowDup, bleHandler)
	if err != nil && !isContextDone(err) {
		return NormalizeError(err)
	}
	return nil
}

// AdvertiseIBeacon advertises the frame until ctx is done.
func (d *bleDevice) AdvertiseIBeacon(ctx context.Context, frame beacon.Frame) error {
	id := ble.MustParse(frame.ProximityUUID.String())
	err := d.dev.AdvertiseIBeacon(ctx, id, frame.Major, frame.Minor, frame.MeasuredPower)
	if err != nil && !isContextDone(err) {
		return NormalizeError(err)
	}
	return nil
}

// Stop releases the radio.
func (d *bleDevice) Stop() error {
	return NormalizeError(d.dev.Stop())
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
