package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/groutine"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/plugin"
)

// session serves one host connection. Requests are handled one at a time on the
// reading goroutine. A single writer goroutine owns w.
type session struct {
	server *Server
	w      io.Writer
	logger *logrus.Entry

	replies chan *envelope
	outbox  *mainloop.RingChannel[*envelope]

	// stop tells the writer to flush the outbox and exit; writerDone closes
	// when it has.
	stop       chan struct{}
	writerDone chan struct{}
	writeErr   error

	// Touched only by the reading goroutine.
	listened map[string]*streamSink
	sinks    []*streamSink
}

func newSession(s *Server, w io.Writer, logger *logrus.Entry) *session {
	return &session{
		server:     s,
		w:          w,
		logger:     logger,
		replies:    make(chan *envelope),
		outbox:     mainloop.NewRingChannel[*envelope](s.outboxCapacity),
		stop:       make(chan struct{}),
		writerDone: make(chan struct{}),
		listened:   make(map[string]*streamSink),
	}
}

// run reads requests from r until EOF, a read error or ctx is done.
func (ss *session) run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	groutine.Go(ctx, "channel-writer", func(ctx context.Context) {
		defer close(ss.writerDone)
		ss.writeLoop(ctx)
		if ss.writeErr != nil {
			cancel()
		}
	})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lines := make(chan []byte)
	readDone := make(chan error, 1)
	groutine.Go(ctx, "channel-reader", func(ctx context.Context) {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				readDone <- nil
				return
			}
		}
		readDone <- scanner.Err()
	})

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				err = <-readDone
				break loop
			}
			ss.handleLine(ctx, line)
		}
	}

	ss.end()
	if err == nil {
		err = ss.writeErr
	}
	return err
}

func (ss *session) handleLine(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		ss.logger.WithError(err).Warn("Malformed request line")
		ss.reply(errorReply(nil, CodeInvalidRequest, fmt.Sprintf("malformed request: %v", err)))
		return
	}

	log := ss.logger.WithField("id", string(req.ID))
	switch {
	case req.Method != "":
		result := ss.server.dispatcher.HandleMethodCall(ctx, req.Method, req.Arguments)
		ss.reply(replyFor(req.ID, result))
	case req.Listen != "":
		ss.listen(ctx, req)
	case req.Cancel != "":
		ss.cancel(ctx, req)
	default:
		log.Warn("Request names no method, listen or cancel")
		ss.reply(errorReply(req.ID, CodeInvalidRequest, "request needs one of method, listen or cancel"))
	}
}

func (ss *session) listen(ctx context.Context, req Request) {
	if !ss.server.hasStream(req.Listen) {
		ss.reply(errorReply(req.ID, CodeInvalidRequest, fmt.Sprintf("%v: %s", plugin.ErrUnknownStream, req.Listen)))
		return
	}

	sink := newStreamSink(req.Listen, ss.outbox, ss.server.metrics, ss.logger)
	ss.sinks = append(ss.sinks, sink)
	if prev, ok := ss.listened[req.Listen]; ok {
		prev.close()
	}
	ss.listened[req.Listen] = sink

	// The ack is taken by the writer before any event of this subscription can
	// reach the outbox.
	ss.reply(newEnvelope(pair("id", req.ID), pair("result", nil)))

	if err := ss.server.dispatcher.Listen(ctx, req.Listen, req.Arguments, sink); err != nil {
		ss.logger.WithError(err).WithField("stream", req.Listen).Warn("Listen failed")
		sink.Error(plugin.CodeBeaconScanner, err.Error(), nil)
		sink.close()
		delete(ss.listened, req.Listen)
	}
}

func (ss *session) cancel(ctx context.Context, req Request) {
	if !ss.server.hasStream(req.Cancel) {
		ss.reply(errorReply(req.ID, CodeInvalidRequest, fmt.Sprintf("%v: %s", plugin.ErrUnknownStream, req.Cancel)))
		return
	}

	if sink, ok := ss.listened[req.Cancel]; ok {
		if err := ss.server.dispatcher.Release(ctx, req.Cancel, sink); err != nil {
			ss.logger.WithError(err).WithField("stream", req.Cancel).Warn("Cancel failed")
		}
		sink.close()
		delete(ss.listened, req.Cancel)
	}
	ss.reply(newEnvelope(pair("id", req.ID), pair("result", nil)))
}

// end releases the subscriptions this session still holds and lets the writer
// flush.
func (ss *session) end() {
	for name, sink := range ss.listened {
		if err := ss.server.dispatcher.Release(context.Background(), name, sink); err != nil && !errors.Is(err, mainloop.ErrStopped) {
			ss.logger.WithError(err).WithField("stream", name).Debug("Cancel on session end failed")
		}
		sink.close()
	}
	for _, sink := range ss.sinks {
		sink.close()
	}
	ss.listened = map[string]*streamSink{}

	close(ss.stop)
	<-ss.writerDone
}

func (ss *session) reply(env *envelope) {
	select {
	case ss.replies <- env:
	case <-ss.writerDone:
		ss.logger.Debug("Writer gone, reply dropped")
	}
}

func (ss *session) writeLoop(ctx context.Context) {
	for {
		select {
		case env := <-ss.replies:
			if !ss.write(env) {
				return
			}
		case env := <-ss.outbox.C():
			if !ss.write(env) {
				return
			}
		case <-ss.stop:
			ss.flush()
			return
		case <-ctx.Done():
			ss.flush()
			return
		}
	}
}

func (ss *session) flush() {
	for {
		env, ok := ss.outbox.TryReceive()
		if !ok {
			return
		}
		if !ss.write(env) {
			return
		}
	}
}

func (ss *session) write(env *envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		ss.logger.WithError(err).Error("Envelope not encodable, skipped")
		return true
	}
	data = append(data, '\n')
	if _, err := ss.w.Write(data); err != nil {
		ss.writeErr = fmt.Errorf("failed to write to host: %w", err)
		ss.logger.WithError(err).Warn("Host write failed, closing session")
		return false
	}
	return true
}
