package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/groutine"
	"github.com/srg/beaconscan/internal/metrics"
)

// Server serves host sessions against one dispatcher.
type Server struct {
	dispatcher     Dispatcher
	streams        map[string]struct{}
	outboxCapacity int
	metrics        *metrics.Collector
	logger         *logrus.Logger
}

// NewServer creates a Server for d.
func NewServer(d Dispatcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	capacity := opts.OutboxCapacity
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}

	streams := make(map[string]struct{})
	for _, name := range d.Streams() {
		streams[name] = struct{}{}
	}

	return &Server{
		dispatcher:     d,
		streams:        streams,
		outboxCapacity: capacity,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

func (s *Server) hasStream(name string) bool {
	_, ok := s.streams[name]
	return ok
}

// Serve runs one session reading requests from r and writing replies and
// stream envelopes to w. It returns nil when r reaches EOF or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	log := s.logger.WithField("component", "channel")
	log.Debug("Session started")
	defer log.Debug("Session ended")

	return newSession(s, w, log).run(ctx, r)
}

// ServeListener accepts connections until ctx is done or ln fails, serving each
// as its own session. It closes ln before returning.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stopClose := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopClose()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept host connection: %w", err)
		}

		log := s.logger.WithFields(logrus.Fields{
			"component": "channel",
			"remote":    conn.RemoteAddr().String(),
		})
		log.Info("Host connected")

		wg.Add(1)
		groutine.Go(ctx, "channel-conn", func(ctx context.Context) {
			defer wg.Done()
			connCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			stop := context.AfterFunc(connCtx, func() { _ = conn.Close() })
			defer stop()
			defer conn.Close()

			if err := newSession(s, conn, log).run(connCtx, conn); err != nil {
				log.WithError(err).Warn("Host session ended with error")
				return
			}
			log.Info("Host disconnected")
		})
	}
}
