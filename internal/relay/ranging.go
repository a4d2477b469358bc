package relay

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/platform"
)

// RangingManager is the part of the platform the ranging relay drives.
type RangingManager interface {
	AddRangeNotifier(platform.RangeNotifier)
	RemoveRangeNotifier(platform.RangeNotifier) bool
	StartRanging(beacon.Region) error
	StopRanging(beacon.Region) error
}

// RangingRelay streams {region, beacons} for every scan window of the
// subscribed regions.
type RangingRelay struct {
	regionRelay
	notifier *rangeNotifier
}

// NewRangingRelay creates an idle relay.
func NewRangingRelay(manager RangingManager, loop *mainloop.Loop, collector *metrics.Collector, logger *logrus.Logger) *RangingRelay {
	r := &RangingRelay{}
	r.notifier = &rangeNotifier{relay: &r.regionRelay}
	r.regionRelay = regionRelay{
		stream:     RangingStream,
		code:       ErrorCodeRanging,
		mode:       "ranging",
		metrics:    collector,
		register:   func() { manager.AddRangeNotifier(r.notifier) },
		unregister: func() { manager.RemoveRangeNotifier(r.notifier) },
		start:      manager.StartRanging,
		stop:       manager.StopRanging,
	}
	r.init(loop, loggerOrDefault(logger))
	return r
}

// OnListen replaces the active regions with the decoded arguments and starts
// ranging. Failures are reported once on sink.
func (r *RangingRelay) OnListen(arguments interface{}, sink mainloop.Sink) {
	r.listen(arguments, sink)
}

// OnCancel stops ranging and detaches the sink. Safe to call repeatedly.
func (r *RangingRelay) OnCancel(interface{}) {
	r.cancel()
}

// Attached returns the sink of the current subscription, nil when idle.
func (r *RangingRelay) Attached() mainloop.Sink {
	return r.attached()
}

// Stop ends the stream and stops ranging.
func (r *RangingRelay) Stop() {
	r.shutdown()
}

// Regions returns the active regions.
func (r *RangingRelay) Regions() []beacon.Region {
	return r.activeRegions()
}

// rangeNotifier receives platform ranging callbacks on the scan goroutine.
type rangeNotifier struct {
	relay *regionRelay
}

func (n *rangeNotifier) OnDetected(region beacon.Region, beacons []beacon.Beacon) {
	ev := beacon.RangingEvent{Region: region, Beacons: beacons}
	n.relay.out.Success(delivery{region: region, record: ev.Record()})
}

func (n *rangeNotifier) OnScanError(err error) {
	n.relay.out.Error(ErrorCodeRanging, err.Error(), nil)
}
