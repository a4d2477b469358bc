package channel

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
)

// streamSink turns stream deliveries into envelopes on a session outbox. It is
// the sink handed to the dispatcher on listen.
type streamSink struct {
	stream  string
	outbox  *mainloop.RingChannel[*envelope]
	metrics *metrics.Collector
	logger  *logrus.Entry

	mu     sync.RWMutex
	closed bool
}

var _ mainloop.Sink = (*streamSink)(nil)

func newStreamSink(stream string, outbox *mainloop.RingChannel[*envelope], collector *metrics.Collector, logger *logrus.Entry) *streamSink {
	return &streamSink{
		stream:  stream,
		outbox:  outbox,
		metrics: collector,
		logger:  logger.WithField("stream", stream),
	}
}

func (s *streamSink) Success(event interface{}) {
	s.send(newEnvelope(pair("stream", s.stream), pair("event", event)))
}

func (s *streamSink) Error(code, message string, details interface{}) {
	s.send(newEnvelope(pair("stream", s.stream), pair("error", errorBody(code, message, details))))
}

func (s *streamSink) EndOfStream() {
	s.send(newEnvelope(pair("stream", s.stream), pair("endOfStream", true)))
}

func (s *streamSink) send(env *envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.EventsDropped(s.stream, metrics.DropClosed, 1)
		s.logger.Debug("Delivery after session end dropped")
		return
	}
	if s.outbox.ForceSend(env) {
		s.metrics.EventsDropped(s.stream, metrics.DropOverflow, 1)
		s.logger.Warn("Session outbox full, oldest envelope dropped")
	}
}

// close makes later deliveries no-ops. The outbox may be closed afterwards.
func (s *streamSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
