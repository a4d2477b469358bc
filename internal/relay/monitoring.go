package relay

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/platform"
)

// MonitoringManager is the part of the platform the monitoring relay drives.
type MonitoringManager interface {
	AddMonitorNotifier(platform.MonitorNotifier)
	RemoveMonitorNotifier(platform.MonitorNotifier) bool
	StartMonitoring(beacon.Region) error
	StopMonitoring(beacon.Region) error
}

// MonitoringRelay streams enter, exit and state events for the subscribed
// regions. Events for regions outside the active list are dropped.
type MonitoringRelay struct {
	regionRelay
	notifier *monitorNotifier
}

// NewMonitoringRelay creates an idle relay.
func NewMonitoringRelay(manager MonitoringManager, loop *mainloop.Loop, collector *metrics.Collector, logger *logrus.Logger) *MonitoringRelay {
	r := &MonitoringRelay{}
	r.notifier = &monitorNotifier{relay: &r.regionRelay}
	r.regionRelay = regionRelay{
		stream:     MonitoringStream,
		code:       ErrorCodeMonitoring,
		mode:       "monitoring",
		metrics:    collector,
		register:   func() { manager.AddMonitorNotifier(r.notifier) },
		unregister: func() { manager.RemoveMonitorNotifier(r.notifier) },
		start:      manager.StartMonitoring,
		stop:       manager.StopMonitoring,
	}
	r.init(loop, loggerOrDefault(logger))
	return r
}

// OnListen replaces the active regions with the decoded arguments and starts
// monitoring. Failures are reported once on sink.
func (r *MonitoringRelay) OnListen(arguments interface{}, sink mainloop.Sink) {
	r.listen(arguments, sink)
}

// OnCancel stops monitoring and detaches the sink. Safe to call repeatedly.
func (r *MonitoringRelay) OnCancel(interface{}) {
	r.cancel()
}

// Attached returns the sink of the current subscription, nil when idle.
func (r *MonitoringRelay) Attached() mainloop.Sink {
	return r.attached()
}

// Stop ends the stream and stops monitoring.
func (r *MonitoringRelay) Stop() {
	r.shutdown()
}

// Regions returns the active regions.
func (r *MonitoringRelay) Regions() []beacon.Region {
	return r.activeRegions()
}

// monitorNotifier receives platform monitoring callbacks on the scan goroutine.
type monitorNotifier struct {
	relay *regionRelay
}

func (n *monitorNotifier) OnEntered(region beacon.Region) {
	n.send(beacon.MonitoringEvent{Kind: beacon.EventDidEnterRegion, Region: region})
}

func (n *monitorNotifier) OnExited(region beacon.Region) {
	n.send(beacon.MonitoringEvent{Kind: beacon.EventDidExitRegion, Region: region})
}

func (n *monitorNotifier) OnStateDetermined(region beacon.Region, state beacon.MonitorState) {
	n.send(beacon.MonitoringEvent{Kind: beacon.EventDidDetermineState, Region: region, State: state})
}

func (n *monitorNotifier) OnScanError(err error) {
	n.relay.out.Error(ErrorCodeMonitoring, err.Error(), nil)
}

func (n *monitorNotifier) send(ev beacon.MonitoringEvent) {
	n.relay.out.Success(delivery{region: ev.Region, record: ev.Record()})
}
