// Package channel binds the plugin to a host over newline-delimited JSON.
//
// Every line the host writes is one request:
//
//	{"id":1,"method":"initialize"}
//	{"id":2,"listen":"beacon_scanner_event_ranging","arguments":[{"identifier":"r1"}]}
//	{"id":3,"cancel":"beacon_scanner_event_ranging"}
//
// Every request gets exactly one reply carrying the same id. Stream deliveries
// are written as they happen, tagged with the stream name:
//
//	{"id":1,"result":true}
//	{"id":2,"result":null}
//	{"stream":"beacon_scanner_event_ranging","event":{"region":{...},"beacons":[]}}
//	{"stream":"beacon_scanner_event_ranging","endOfStream":true}
//
// The listen acknowledgement is always written before the first event of that
// subscription. A stream has one listener across all sessions: a later listen
// takes it over and the earlier session receives endOfStream. Cancelling, or
// ending the session, only releases streams the session still holds.
package channel

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/plugin"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// CodeInvalidRequest is the error code of replies to lines that are not a
// usable request.
const CodeInvalidRequest = "invalid_request"

// DefaultOutboxCapacity bounds the envelopes queued for one session.
const DefaultOutboxCapacity = 256

// maxLineSize is the longest request line accepted.
const maxLineSize = 1 << 20

// Dispatcher is the plugin surface the binding drives.
type Dispatcher interface {
	Streams() []string
	HandleMethodCall(ctx context.Context, method string, arguments interface{}) plugin.Result
	Listen(ctx context.Context, stream string, arguments interface{}, sink mainloop.Sink) error
	Release(ctx context.Context, stream string, sink mainloop.Sink) error
}

// Request is one decoded host line. Exactly one of Method, Listen and Cancel is
// set.
type Request struct {
	ID        json.RawMessage `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Listen    string          `json:"listen,omitempty"`
	Cancel    string          `json:"cancel,omitempty"`
	Arguments interface{}     `json:"arguments,omitempty"`
}

// Options configures a Server.
type Options struct {
	// OutboxCapacity is the per-session envelope queue size. When the host reads
	// too slowly the oldest queued stream envelope is dropped.
	OutboxCapacity int
	Metrics        *metrics.Collector
	Logger         *logrus.Logger
}

type envelope = orderedmap.OrderedMap[string, interface{}]

func newEnvelope(pairs ...orderedmap.Pair[string, interface{}]) *envelope {
	env := orderedmap.New[string, interface{}]()
	for _, p := range pairs {
		env.Set(p.Key, p.Value)
	}
	return env
}

func pair(key string, value interface{}) orderedmap.Pair[string, interface{}] {
	return orderedmap.Pair[string, interface{}]{Key: key, Value: value}
}

func errorBody(code, message string, details interface{}) *envelope {
	return newEnvelope(
		pair("code", code),
		pair("message", message),
		pair("details", details),
	)
}

// replyFor turns a method result into its reply envelope.
func replyFor(id json.RawMessage, result plugin.Result) *envelope {
	switch {
	case result.IsNotImplemented():
		return newEnvelope(pair("id", id), pair("notImplemented", true))
	case result.IsFailure():
		return newEnvelope(pair("id", id), pair("error", errorBody(result.Code, result.Message, result.Details)))
	default:
		return newEnvelope(pair("id", id), pair("result", result.Value))
	}
}

func errorReply(id json.RawMessage, code, message string) *envelope {
	return newEnvelope(pair("id", id), pair("error", errorBody(code, message, nil)))
}
