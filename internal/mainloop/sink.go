package mainloop

import (
	"reflect"

	"github.com/sirupsen/logrus"
)

// Sink receives the events of one stream subscription.
type Sink interface {
	Success(event interface{})
	Error(code, message string, details interface{})
	EndOfStream()
}

// SameSink reports whether a and b are the same subscription sink. Sinks of
// non-comparable types, such as SinkFunc, are never the same.
func SameSink(a, b Sink) bool {
	if a == nil || b == nil {
		return false
	}
	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}

// MainThreadSink forwards every delivery to the wrapped sink from the loop
// goroutine. Deliveries from one producer keep their order.
type MainThreadSink struct {
	loop   *Loop
	sink   Sink
	logger *logrus.Logger
}

// NewMainThreadSink wraps sink so its methods always run on loop.
func NewMainThreadSink(loop *Loop, sink Sink, logger *logrus.Logger) *MainThreadSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &MainThreadSink{loop: loop, sink: sink, logger: logger}
}

func (s *MainThreadSink) Success(event interface{}) {
	s.post("success", func() { s.sink.Success(event) })
}

func (s *MainThreadSink) Error(code, message string, details interface{}) {
	s.post("error", func() { s.sink.Error(code, message, details) })
}

func (s *MainThreadSink) EndOfStream() {
	s.post("endOfStream", s.sink.EndOfStream)
}

func (s *MainThreadSink) post(kind string, deliver func()) {
	if s.loop.OnLoop() {
		deliver()
		return
	}
	if !s.loop.Post(deliver) {
		s.logger.WithField("delivery", kind).Debug("Main loop stopped, delivery dropped")
	}
}

// SinkFunc adapts plain functions to Sink. Nil fields are no-ops.
type SinkFunc struct {
	OnSuccess func(event interface{})
	OnError   func(code, message string, details interface{})
	OnEnd     func()
}

func (f SinkFunc) Success(event interface{}) {
	if f.OnSuccess != nil {
		f.OnSuccess(event)
	}
}

func (f SinkFunc) Error(code, message string, details interface{}) {
	if f.OnError != nil {
		f.OnError(code, message, details)
	}
}

func (f SinkFunc) EndOfStream() {
	if f.OnEnd != nil {
		f.OnEnd()
	}
}
