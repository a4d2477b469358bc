//go:build !linux

package permission

// NewHostProbe returns permissive defaults. CoreBluetooth and other stacks
// prompt on first radio use, so failures surface when the device is opened.
func NewHostProbe() Probe {
	return &StaticProbe{State: AdapterOn}
}
