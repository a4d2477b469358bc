package permission

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Capability names as reported to the host.
const (
	CapNetRaw   = "CAP_NET_RAW"
	CapNetAdmin = "CAP_NET_ADMIN"
)

// SysfsProbe reads adapter state from a sysfs tree and privileges through
// Capabilities.
type SysfsProbe struct {
	Root         string
	Capabilities func() ([]string, error)
}

func (p *SysfsProbe) MissingCapabilities() ([]string, error) {
	if p.Capabilities == nil {
		return nil, nil
	}
	return p.Capabilities()
}

// Adapter is missing without an hci entry under class/bluetooth, off when any
// bluetooth rfkill switch is set, on otherwise.
func (p *SysfsProbe) Adapter() AdapterState {
	root := p.Root
	if root == "" {
		root = "/sys"
	}

	hcis, err := filepath.Glob(filepath.Join(root, "class", "bluetooth", "hci*"))
	if err != nil || len(hcis) == 0 {
		return AdapterMissing
	}

	switches, _ := filepath.Glob(filepath.Join(root, "class", "rfkill", "rfkill*"))
	for _, sw := range switches {
		if readTrimmed(filepath.Join(sw, "type")) != "bluetooth" {
			continue
		}
		if readTrimmed(filepath.Join(sw, "soft")) == "1" || readTrimmed(filepath.Join(sw, "hard")) == "1" {
			return AdapterOff
		}
	}
	return AdapterOn
}

// LocationServicesEnabled is always true: Linux has no location gate on BLE.
func (p *SysfsProbe) LocationServicesEnabled() bool {
	return true
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// StaticProbe reports fixed values. Use Update to change them while another
// goroutine is reading.
type StaticProbe struct {
	mu               sync.Mutex
	Missing          []string
	Err              error
	State            AdapterState
	LocationDisabled bool
}

// Update changes the probe values under its lock.
func (p *StaticProbe) Update(fn func(*StaticProbe)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *StaticProbe) MissingCapabilities() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Missing...), p.Err
}

func (p *StaticProbe) Adapter() AdapterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.State
}

func (p *StaticProbe) LocationServicesEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.LocationDisabled
}
