//go:build linux

package permission

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NewHostProbe reads /sys and the process capability sets.
func NewHostProbe() Probe {
	return &SysfsProbe{Root: "/sys", Capabilities: effectiveCapabilities}
}

// effectiveCapabilities lists CAP_NET_RAW and CAP_NET_ADMIN when missing from
// the effective set. Root holds both.
func effectiveCapabilities() ([]string, error) {
	if os.Geteuid() == 0 {
		return nil, nil
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return nil, fmt.Errorf("capget: %w", err)
	}

	var missing []string
	for _, c := range []struct {
		bit  uint
		name string
	}{
		{unix.CAP_NET_RAW, CapNetRaw},
		{unix.CAP_NET_ADMIN, CapNetAdmin},
	} {
		if data[c.bit/32].Effective&(1<<(c.bit%32)) == 0 {
			missing = append(missing, c.name)
		}
	}
	return missing, nil
}
