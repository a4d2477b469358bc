// Package relay connects host event streams to the beacon platform.
//
// Each relay owns one stream. OnListen and OnCancel run on the main loop, as
// do all deliveries: platform callbacks arrive on the scan goroutine and are
// handed to the loop through a mainloop.MainThreadSink, where the relay checks
// that the subscription is still attached before forwarding.
package relay

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
)

// Stream names shared with the host.
const (
	RangingStream             = "beacon_scanner_event_ranging"
	MonitoringStream          = "beacon_scanner_event_monitoring"
	BluetoothStateStream      = "beacon_scanner_bluetooth_state_changed"
	AuthorizationStatusStream = "beacon_scanner_authorization_status_changed"
)

// Error codes delivered on the streams.
const (
	ErrorCodeRanging    = "RangingService"
	ErrorCodeMonitoring = "MonitoringService"
)

// StreamHandler is the host side of one event stream. A stream has at most
// one attached sink; a new listen ends the previous one.
type StreamHandler interface {
	OnListen(arguments interface{}, sink mainloop.Sink)
	OnCancel(arguments interface{})
	Attached() mainloop.Sink
}

// delivery is a platform callback encoded for the host.
type delivery struct {
	region beacon.Region
	record beacon.Record
}

// regionRelay is the subscription state shared by the ranging and monitoring
// relays. Only touched on the loop.
type regionRelay struct {
	stream  string
	code    string
	mode    string
	logger  *logrus.Entry
	metrics *metrics.Collector

	register   func()
	unregister func()
	start      func(beacon.Region) error
	stop       func(beacon.Region) error

	out     *mainloop.MainThreadSink
	sink    mainloop.Sink
	regions []beacon.Region
}

func (r *regionRelay) init(loop *mainloop.Loop, logger *logrus.Logger) {
	r.logger = logger.WithField("component", r.mode)
	r.out = mainloop.NewMainThreadSink(loop, mainloop.SinkFunc{
		OnSuccess: r.forward,
		OnError:   r.forwardError,
	}, logger)
}

func (r *regionRelay) listen(arguments interface{}, sink mainloop.Sink) {
	r.logger.WithField("arguments", arguments).Debug("Listen")

	r.displace(sink)
	r.release()
	r.sink = sink

	list, ok := regionList(arguments)
	if !ok {
		r.logger.Error("Couldn't start " + r.mode + ": expected a list of regions")
		sink.Error(r.code, "couldn't start "+r.mode, nil)
		return
	}

	regions, errs := beacon.DecodeRegions(list)
	for _, err := range errs {
		r.logger.WithError(err).Warn("Skipping invalid region")
		r.metrics.DecodeFailed("region")
	}
	if len(regions) == 0 {
		r.logger.Error("No regions for " + r.mode)
		sink.Error(r.code, "no regions for "+r.mode, nil)
		return
	}

	r.register()
	for i, region := range regions {
		if err := r.start(region); err != nil {
			r.logger.WithError(err).WithField("region", region.String()).Error("Failed to start " + r.mode)
			r.regions = regions[:i]
			r.release()
			sink.Error(r.code, err.Error(), nil)
			return
		}
	}
	r.regions = regions
	r.metrics.SetActiveRegions(r.mode, len(regions))
	r.logger.WithField("regions", len(regions)).Info("Started " + r.mode)
}

// regionList accepts a non-empty list whose elements are all records.
func regionList(arguments interface{}) ([]interface{}, bool) {
	list, ok := arguments.([]interface{})
	if !ok || len(list) == 0 {
		return nil, false
	}
	for _, item := range list {
		if _, ok := item.(map[string]interface{}); !ok {
			return nil, false
		}
	}
	return list, true
}

// release stops the platform for every active region. Platform errors are
// logged and swallowed.
func (r *regionRelay) release() {
	if len(r.regions) > 0 {
		for _, region := range r.regions {
			if err := r.stop(region); err != nil {
				r.logger.WithError(err).WithField("region", region.String()).Warn("Failed to stop " + r.mode)
			}
		}
		r.logger.WithField("regions", len(r.regions)).Info("Stopped " + r.mode)
	}
	r.unregister()
	r.regions = nil
	r.metrics.SetActiveRegions(r.mode, 0)
}

// displace ends the stream of the sink a new listen takes over from.
func (r *regionRelay) displace(next mainloop.Sink) {
	if r.sink != nil && !mainloop.SameSink(r.sink, next) {
		r.logger.Info("Subscription taken over by a new listener")
		r.sink.EndOfStream()
	}
}

func (r *regionRelay) attached() mainloop.Sink {
	return r.sink
}

func (r *regionRelay) cancel() {
	r.release()
	r.sink = nil
}

// shutdown ends the subscription from this side.
func (r *regionRelay) shutdown() {
	if r.sink != nil {
		r.sink.EndOfStream()
	}
	r.cancel()
}

func (r *regionRelay) active(region beacon.Region) bool {
	for _, active := range r.regions {
		if active.Identifier == region.Identifier {
			return true
		}
	}
	return false
}

func (r *regionRelay) forward(event interface{}) {
	d := event.(delivery)
	if r.sink == nil || !r.active(d.region) {
		r.metrics.EventsDropped(r.stream, metrics.DropNoListener, 1)
		return
	}
	r.sink.Success(d.record)
	r.metrics.EventDelivered(r.stream)
}

func (r *regionRelay) forwardError(code, message string, details interface{}) {
	if r.sink == nil || len(r.regions) == 0 {
		r.logger.WithField("error", message).Warn("Platform error with no listener")
		return
	}
	r.sink.Error(code, message, details)
}

func (r *regionRelay) activeRegions() []beacon.Region {
	return append([]beacon.Region(nil), r.regions...)
}

func loggerOrDefault(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		return logrus.New()
	}
	return logger
}
