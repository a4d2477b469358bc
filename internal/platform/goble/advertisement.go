package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/beaconscan/internal/platform"
)

// Advertisement wraps ble.Advertisement to implement platform.Advertisement interface
type Advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement creates a new Advertisement wrapper
func NewAdvertisement(adv ble.Advertisement) platform.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *Advertisement) Addr() string {
	if a.adv.Addr() == nil {
		return ""
	}
	return a.adv.Addr().String()
}
