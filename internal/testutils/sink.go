package testutils

import (
	"sync"
)

// SinkError is one error delivered to a RecordingSink.
type SinkError struct {
	Code    string
	Message string
	Details interface{}
}

// RecordingSink implements mainloop.Sink and keeps everything it receives.
type RecordingSink struct {
	mu     sync.Mutex
	events []interface{}
	errors []SinkError
	ends   int
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Success(event interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *RecordingSink) Error(code, message string, details interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, SinkError{Code: code, Message: message, Details: details})
}

func (s *RecordingSink) EndOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
}

// Events returns a copy of the delivered events.
func (s *RecordingSink) Events() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interface{}(nil), s.events...)
}

// Errors returns a copy of the delivered errors.
func (s *RecordingSink) Errors() []SinkError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkError(nil), s.errors...)
}

// EndCount returns how many times EndOfStream was called.
func (s *RecordingSink) EndCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}

// Reset forgets everything received so far.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events, s.errors, s.ends = nil, nil, 0
}
