// Package permission answers the host's capability questions: whether the
// process may use the radio, whether the adapter is powered, and what
// authorization the host application should report.
package permission

import (
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrLocationServicesDisabled = errors.New("location services disabled")
	ErrBluetoothUnavailable     = errors.New("bluetooth unavailable")
)

// BluetoothState is the adapter state reported to the host.
type BluetoothState string

const (
	StateOn           BluetoothState = "STATE_ON"
	StateOff          BluetoothState = "STATE_OFF"
	StateUnsupported  BluetoothState = "STATE_UNSUPPORTED"
	StateUnauthorized BluetoothState = "STATE_UNAUTHORIZED"
	StateUnknown      BluetoothState = "STATE_UNKNOWN"
)

// AdapterState is what a Probe reads from the host.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterOn
	AdapterOff
	AdapterMissing
)

// AuthorizationStatus mirrors the location authorization of mobile hosts.
type AuthorizationStatus string

const (
	AuthorizationAlways        AuthorizationStatus = "ALWAYS"
	AuthorizationWhenInUse     AuthorizationStatus = "WHEN_IN_USE"
	AuthorizationDenied        AuthorizationStatus = "DENIED"
	AuthorizationNotDetermined AuthorizationStatus = "NOT_DETERMINED"
)

// ParseAuthorizationType accepts "ALWAYS" or "WHEN_IN_USE", case-insensitively.
func ParseAuthorizationType(s string) (AuthorizationStatus, bool) {
	switch AuthorizationStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case AuthorizationAlways:
		return AuthorizationAlways, true
	case AuthorizationWhenInUse:
		return AuthorizationWhenInUse, true
	default:
		return "", false
	}
}

// Probe reads privilege and adapter state from the host.
type Probe interface {
	// MissingCapabilities lists the privileges the process lacks for raw HCI access.
	MissingCapabilities() ([]string, error)
	Adapter() AdapterState
	LocationServicesEnabled() bool
}

// Helper answers capability queries through a Probe.
type Helper struct {
	probe  Probe
	logger *logrus.Logger

	mu        sync.Mutex
	requested bool
	authType  AuthorizationStatus
}

// New creates a Helper. A nil probe uses the host probe for this OS.
func New(probe Probe, logger *logrus.Logger) *Helper {
	if probe == nil {
		probe = NewHostProbe()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Helper{probe: probe, logger: logger, authType: AuthorizationWhenInUse}
}

// MissingPermissions lists missing privileges. A probe failure counts as every
// privilege missing.
func (h *Helper) MissingPermissions() []string {
	missing, err := h.probe.MissingCapabilities()
	if err != nil {
		h.logger.WithError(err).Warn("Failed to query process capabilities")
		return []string{CapNetRaw, CapNetAdmin}
	}
	return missing
}

// PermissionsGranted reports whether nothing is missing.
func (h *Helper) PermissionsGranted() bool {
	return len(h.MissingPermissions()) == 0
}

// RequestPermissions is the one-time request. There is no prompt on a server
// host, so it re-probes, tells the operator how to grant what is missing and
// returns the missing list.
func (h *Helper) RequestPermissions() []string {
	h.mu.Lock()
	h.requested = true
	h.mu.Unlock()

	missing := h.MissingPermissions()
	if len(missing) > 0 {
		h.logger.WithField("missing", missing).
			Warn("Bluetooth access needs more privileges: run as root or grant them with 'setcap cap_net_raw,cap_net_admin+eip <binary>'")
	}
	return missing
}

// LocationServiceEnabled reports whether location services allow scanning.
func (h *Helper) LocationServiceEnabled() bool {
	return h.probe.LocationServicesEnabled()
}

// BluetoothEnabled reports whether the adapter is powered.
func (h *Helper) BluetoothEnabled() bool {
	return h.probe.Adapter() == AdapterOn
}

// BluetoothState maps the adapter and privilege state to a host state string.
func (h *Helper) BluetoothState() BluetoothState {
	switch h.probe.Adapter() {
	case AdapterMissing:
		return StateUnsupported
	case AdapterOff:
		return StateOff
	case AdapterOn:
		if !h.PermissionsGranted() {
			return StateUnauthorized
		}
		return StateOn
	default:
		return StateUnknown
	}
}

// SetAuthorizationType sets the status reported once permissions are granted.
func (h *Helper) SetAuthorizationType(s string) bool {
	t, ok := ParseAuthorizationType(s)
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authType = t
	return true
}

// AuthorizationStatus is the configured type when every privilege is held,
// NOT_DETERMINED before the first request, DENIED after it.
func (h *Helper) AuthorizationStatus() AuthorizationStatus {
	granted := h.PermissionsGranted()

	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case granted:
		return h.authType
	case h.requested:
		return AuthorizationDenied
	default:
		return AuthorizationNotDetermined
	}
}

// BroadcastSupported reports whether this host can advertise.
func (h *Helper) BroadcastSupported() bool {
	return h.probe.Adapter() != AdapterMissing && h.PermissionsGranted()
}

// CheckScanning reports the first reason scanning cannot run, or nil.
func (h *Helper) CheckScanning() error {
	if !h.LocationServiceEnabled() {
		return ErrLocationServicesDisabled
	}
	if !h.PermissionsGranted() {
		return ErrPermissionDenied
	}
	if !h.BluetoothEnabled() {
		return ErrBluetoothUnavailable
	}
	return nil
}
