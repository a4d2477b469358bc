package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/groutine"
)

// BeaconManager runs the duty-cycled scan for every ranged and monitored region.
// One manager is constructed per process and handed to each relay.
type BeaconManager struct {
	logger     *logrus.Logger
	factory    func() (Device, error)
	allowDup   bool
	exitPeriod time.Duration

	// regions are read by the scan goroutine and written by callers
	ranged    *hashmap.Map[string, beacon.Region]
	monitored *hashmap.Map[string, *monitorEntry]

	mu                sync.Mutex
	device            Device
	scanPeriod        time.Duration
	betweenScanPeriod time.Duration
	pendingScan       time.Duration
	pendingBetween    time.Duration
	scanGen           uint64
	scanCancel        context.CancelFunc
	scanDone          chan struct{}
	rangeNotifiers    []RangeNotifier
	monitorNotifiers  []MonitorNotifier
	broadcast         *broadcast
}

// NewBeaconManager creates an unbound manager. Bind opens the radio.
func NewBeaconManager(opts Options) *BeaconManager {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = DefaultScanPeriod
	}
	if opts.BetweenScanPeriod < 0 {
		opts.BetweenScanPeriod = DefaultBetweenScanPeriod
	}
	if opts.RegionExitPeriod < 0 {
		opts.RegionExitPeriod = DefaultRegionExitPeriod
	}

	return &BeaconManager{
		logger:            opts.Logger,
		factory:           opts.DeviceFactory,
		allowDup:          opts.AllowDuplicates,
		exitPeriod:        opts.RegionExitPeriod,
		ranged:            hashmap.New[string, beacon.Region](),
		monitored:         hashmap.New[string, *monitorEntry](),
		scanPeriod:        opts.ScanPeriod,
		betweenScanPeriod: opts.BetweenScanPeriod,
		pendingScan:       opts.ScanPeriod,
		pendingBetween:    opts.BetweenScanPeriod,
	}
}

// Bind opens the radio. It is a no-op when already bound.
func (m *BeaconManager) Bind() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil
	}
	if m.factory == nil {
		return fmt.Errorf("%w: no device factory", ErrNotReady)
	}

	dev, err := m.factory()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	m.device = dev
	m.logger.Debug("Beacon manager bound to radio")
	return nil
}

// IsBound reports whether the radio is open.
func (m *BeaconManager) IsBound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device != nil
}

func (m *BeaconManager) boundDevice() (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return nil, ErrNotReady
	}
	return m.device, nil
}

// ----------------------------
// Notifiers
// ----------------------------

// AddRangeNotifier registers n; adding the same notifier twice has no effect.
func (m *BeaconManager) AddRangeNotifier(n RangeNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rangeNotifiers {
		if existing == n {
			return
		}
	}
	m.rangeNotifiers = append(m.rangeNotifiers, n)
}

// RemoveRangeNotifier unregisters n and reports whether it was registered.
func (m *BeaconManager) RemoveRangeNotifier(n RangeNotifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rangeNotifiers {
		if existing == n {
			m.rangeNotifiers = append(m.rangeNotifiers[:i:i], m.rangeNotifiers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllRangeNotifiers unregisters every range notifier.
func (m *BeaconManager) RemoveAllRangeNotifiers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rangeNotifiers = nil
}

// AddMonitorNotifier registers n; adding the same notifier twice has no effect.
func (m *BeaconManager) AddMonitorNotifier(n MonitorNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.monitorNotifiers {
		if existing == n {
			return
		}
	}
	m.monitorNotifiers = append(m.monitorNotifiers, n)
}

// RemoveMonitorNotifier unregisters n and reports whether it was registered.
func (m *BeaconManager) RemoveMonitorNotifier(n MonitorNotifier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.monitorNotifiers {
		if existing == n {
			m.monitorNotifiers = append(m.monitorNotifiers[:i:i], m.monitorNotifiers[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllMonitorNotifiers unregisters every monitor notifier.
func (m *BeaconManager) RemoveAllMonitorNotifiers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitorNotifiers = nil
}

func (m *BeaconManager) notifiers() ([]RangeNotifier, []MonitorNotifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RangeNotifier(nil), m.rangeNotifiers...), append([]MonitorNotifier(nil), m.monitorNotifiers...)
}

// ----------------------------
// Regions
// ----------------------------

// StartRanging adds region to the ranged set, replacing any region with the same
// identifier, and starts the scan loop if needed.
func (m *BeaconManager) StartRanging(region beacon.Region) error {
	dev, err := m.boundDevice()
	if err != nil {
		return err
	}
	m.ranged.Set(region.Identifier, region)
	m.logger.WithField("region", region.String()).Debug("Ranging started")
	m.ensureScanning(dev)
	return nil
}

// StopRanging removes region from the ranged set. The scan loop winds down on
// its own once no regions remain.
func (m *BeaconManager) StopRanging(region beacon.Region) error {
	if _, err := m.boundDevice(); err != nil {
		return err
	}
	if m.ranged.Del(region.Identifier) {
		m.logger.WithField("region", region.String()).Debug("Ranging stopped")
	}
	return nil
}

// StartMonitoring adds region to the monitored set with an unknown state.
func (m *BeaconManager) StartMonitoring(region beacon.Region) error {
	dev, err := m.boundDevice()
	if err != nil {
		return err
	}
	m.monitored.Set(region.Identifier, &monitorEntry{region: region, state: beacon.StateUnknown})
	m.logger.WithField("region", region.String()).Debug("Monitoring started")
	m.ensureScanning(dev)
	return nil
}

// StopMonitoring removes region from the monitored set.
func (m *BeaconManager) StopMonitoring(region beacon.Region) error {
	if _, err := m.boundDevice(); err != nil {
		return err
	}
	if m.monitored.Del(region.Identifier) {
		m.logger.WithField("region", region.String()).Debug("Monitoring stopped")
	}
	return nil
}

// RangedRegions returns the ranged regions sorted by identifier.
func (m *BeaconManager) RangedRegions() []beacon.Region {
	regions := make([]beacon.Region, 0, m.ranged.Len())
	m.ranged.Range(func(_ string, r beacon.Region) bool {
		regions = append(regions, r)
		return true
	})
	sortRegions(regions)
	return regions
}

// MonitoredRegions returns the monitored regions sorted by identifier.
func (m *BeaconManager) MonitoredRegions() []beacon.Region {
	regions := make([]beacon.Region, 0, m.monitored.Len())
	m.monitored.Range(func(_ string, e *monitorEntry) bool {
		regions = append(regions, e.region)
		return true
	})
	sortRegions(regions)
	return regions
}

func sortRegions(regions []beacon.Region) {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Identifier < regions[j].Identifier
	})
}

func (m *BeaconManager) hasRegions() bool {
	return m.ranged.Len() > 0 || m.monitored.Len() > 0
}

// ----------------------------
// Duty cycle
// ----------------------------

// SetScanPeriod stages the scan window length; UpdateScanPeriods applies it.
func (m *BeaconManager) SetScanPeriod(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingScan = d
}

// SetBetweenScanPeriod stages the pause between scan windows.
func (m *BeaconManager) SetBetweenScanPeriod(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingBetween = d
}

// UpdateScanPeriods validates the staged periods and applies them from the next
// cycle. Invalid values are discarded and the current periods kept.
func (m *BeaconManager) UpdateScanPeriods() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingScan <= 0 || m.pendingBetween < 0 {
		err := fmt.Errorf("%w: scan=%s between=%s", ErrInvalidPeriod, m.pendingScan, m.pendingBetween)
		m.pendingScan, m.pendingBetween = m.scanPeriod, m.betweenScanPeriod
		return err
	}
	m.scanPeriod, m.betweenScanPeriod = m.pendingScan, m.pendingBetween
	m.logger.WithFields(logrus.Fields{
		"scan_period":         m.scanPeriod,
		"between_scan_period": m.betweenScanPeriod,
	}).Debug("Scan periods updated")
	return nil
}

// ScanPeriods returns the applied scan and between-scan periods.
func (m *BeaconManager) ScanPeriods() (scan, between time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanPeriod, m.betweenScanPeriod
}

// IsScanning reports whether the scan loop is running.
func (m *BeaconManager) IsScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanCancel != nil
}

func (m *BeaconManager) ensureScanning(dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.scanGen++
	gen := m.scanGen
	m.scanCancel = cancel
	m.scanDone = done

	groutine.Go(ctx, "platform-scan", func(ctx context.Context) {
		defer close(done)
		m.scanLoop(ctx, dev, gen)
	})
}

// finishScan clears the loop state if gen is still the current loop and no
// regions remain. It reports whether the loop should exit.
func (m *BeaconManager) finishScan(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.scanGen {
		return true
	}
	if m.hasRegions() {
		return false
	}
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.scanCancel = nil
	m.scanDone = nil
	return true
}

func (m *BeaconManager) scanLoop(ctx context.Context, dev Device, gen uint64) {
	m.logger.Debug("Scan loop started")
	defer m.logger.Debug("Scan loop ended")

	for {
		if m.finishScan(gen) {
			return
		}

		scanPeriod, between := m.ScanPeriods()
		c := newCycle()

		scanCtx, cancel := context.WithTimeout(ctx, scanPeriod)
		err := dev.Scan(scanCtx, m.allowDup, func(adv Advertisement) {
			m.handleAdvertisement(c, adv)
		})
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			m.logger.WithError(err).Error("Scan cycle failed")
			m.notifyScanError(err)
			if !sleep(ctx, scanPeriod) {
				return
			}
			continue
		}

		m.processCycle(c.beacons(), time.Now())

		if between > 0 && !sleep(ctx, between) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *BeaconManager) handleAdvertisement(c *cycle, adv Advertisement) {
	frame, err := beacon.ParseIBeacon(adv.ManufacturerData())
	if err != nil {
		return
	}
	observed := frame.Observe(adv.RSSI(), adv.Addr())
	if m.logger.IsLevelEnabled(logrus.TraceLevel) {
		m.logger.WithFields(logrus.Fields{
			"beacon": observed.Key(),
			"addr":   adv.Addr(),
			"name":   adv.LocalName(),
			"rssi":   observed.RSSI,
		}).Trace("iBeacon sighted")
	}
	c.add(observed)
}

func (m *BeaconManager) processCycle(observed []beacon.Beacon, now time.Time) {
	rangeNotifiers, monitorNotifiers := m.notifiers()

	m.ranged.Range(func(_ string, region beacon.Region) bool {
		matched := matching(observed, region)
		for _, n := range rangeNotifiers {
			n.OnDetected(region, matched)
		}
		return true
	})

	m.monitored.Range(func(_ string, e *monitorEntry) bool {
		seen := len(matching(observed, e.region)) > 0
		e.advance(seen, now, m.exitPeriod, monitorNotifiers)
		return true
	})
}

func (m *BeaconManager) notifyScanError(err error) {
	rangeNotifiers, monitorNotifiers := m.notifiers()
	notified := make(map[ScanErrorNotifier]struct{})
	notify := func(n interface{}) {
		en, ok := n.(ScanErrorNotifier)
		if !ok {
			return
		}
		if _, dup := notified[en]; dup {
			return
		}
		notified[en] = struct{}{}
		en.OnScanError(err)
	}
	for _, n := range rangeNotifiers {
		notify(n)
	}
	for _, n := range monitorNotifiers {
		notify(n)
	}
}

func matching(observed []beacon.Beacon, region beacon.Region) []beacon.Beacon {
	matched := make([]beacon.Beacon, 0, len(observed))
	for _, b := range observed {
		if region.Matches(b) {
			matched = append(matched, b)
		}
	}
	return matched
}

// ----------------------------
// Lifecycle
// ----------------------------

// Close stops scanning and broadcasting, forgets every region and releases the
// radio. The manager can be bound again afterwards.
func (m *BeaconManager) Close() error {
	m.StopBroadcast()

	m.ranged.Range(func(id string, _ beacon.Region) bool {
		m.ranged.Del(id)
		return true
	})
	m.monitored.Range(func(id string, _ *monitorEntry) bool {
		m.monitored.Del(id)
		return true
	})

	m.mu.Lock()
	cancel, done := m.scanCancel, m.scanDone
	m.scanCancel, m.scanDone = nil, nil
	m.scanGen++
	dev := m.device
	m.device = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("failed to release radio: %w", err)
	}
	return nil
}
