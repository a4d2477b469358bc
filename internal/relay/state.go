package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/groutine"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
)

// DefaultPollInterval is how often a StateRelay re-reads its value.
const DefaultPollInterval = 2 * time.Second

// StateRelay streams a polled value: the current value on listen, then every
// change.
type StateRelay struct {
	stream   string
	read     func() string
	interval time.Duration
	loop     *mainloop.Loop
	logger   *logrus.Entry
	metrics  *metrics.Collector

	// loop-owned
	sink   mainloop.Sink
	cancel context.CancelFunc
}

// NewStateRelay creates an idle relay polling read every interval.
func NewStateRelay(stream string, interval time.Duration, read func() string, loop *mainloop.Loop, collector *metrics.Collector, logger *logrus.Logger) *StateRelay {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StateRelay{
		stream:   stream,
		read:     read,
		interval: interval,
		loop:     loop,
		logger:   loggerOrDefault(logger).WithField("component", stream),
		metrics:  collector,
	}
}

func (r *StateRelay) OnListen(_ interface{}, sink mainloop.Sink) {
	if r.sink != nil && !mainloop.SameSink(r.sink, sink) {
		r.sink.EndOfStream()
	}
	r.OnCancel(nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.sink = sink
	r.cancel = cancel

	out := mainloop.NewMainThreadSink(r.loop, mainloop.SinkFunc{
		OnSuccess: func(event interface{}) {
			if ctx.Err() != nil || r.sink == nil {
				r.metrics.EventsDropped(r.stream, metrics.DropNoListener, 1)
				return
			}
			r.sink.Success(event)
			r.metrics.EventDelivered(r.stream)
		},
	}, r.logger.Logger)

	groutine.Go(ctx, "relay-"+r.stream, func(ctx context.Context) {
		r.poll(ctx, out)
	})
	r.logger.Debug("Listen")
}

func (r *StateRelay) poll(ctx context.Context, out mainloop.Sink) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := r.read()
	out.Success(last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if v := r.read(); v != last {
			r.logger.WithFields(logrus.Fields{"from": last, "to": v}).Info("State changed")
			last = v
			out.Success(v)
		}
	}
}

// OnCancel stops polling and detaches the sink. Safe to call repeatedly.
func (r *StateRelay) OnCancel(interface{}) {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.sink = nil
}

// Attached returns the sink of the current subscription, nil when idle.
func (r *StateRelay) Attached() mainloop.Sink {
	return r.sink
}

// Stop ends the stream.
func (r *StateRelay) Stop() {
	if r.sink != nil {
		r.sink.EndOfStream()
	}
	r.OnCancel(nil)
}
