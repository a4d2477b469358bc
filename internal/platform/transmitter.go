package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/groutine"
)

// broadcast is one running advertisement.
type broadcast struct {
	frame  beacon.Frame
	cancel context.CancelFunc
	done   chan struct{}
}

// StartBroadcast advertises b as an iBeacon until StopBroadcast or Close.
// A running broadcast is replaced. Errors the radio reports within the settle
// window are returned; ctx only bounds that wait.
func (m *BeaconManager) StartBroadcast(ctx context.Context, b beacon.Beacon) error {
	dev, err := m.boundDevice()
	if err != nil {
		return err
	}
	m.StopBroadcast()

	advCtx, cancel := context.WithCancel(context.Background())
	bc := &broadcast{frame: beacon.FrameFor(b), cancel: cancel, done: make(chan struct{})}
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.broadcast = bc
	m.mu.Unlock()

	groutine.Go(advCtx, "platform-advertise", func(ctx context.Context) {
		defer close(bc.done)
		err := dev.AdvertiseIBeacon(ctx, bc.frame)
		m.clearBroadcast(bc)
		if err != nil {
			m.logger.WithError(err).Warn("Advertising stopped")
		}
		errCh <- err
	})

	settle := time.NewTimer(advertiseSettle)
	defer settle.Stop()

	select {
	case err := <-errCh:
		cancel()
		if err == nil {
			err = errors.New("advertising ended immediately")
		}
		return fmt.Errorf("failed to start advertising: %w", err)
	case <-ctx.Done():
		m.StopBroadcast()
		return ctx.Err()
	case <-settle.C:
	}

	m.logger.WithFields(logrus.Fields{
		"uuid":  bc.frame.ProximityUUID.String(),
		"major": bc.frame.Major,
		"minor": bc.frame.Minor,
		"power": bc.frame.MeasuredPower,
	}).Info("Advertising iBeacon")
	return nil
}

func (m *BeaconManager) clearBroadcast(bc *broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broadcast == bc {
		m.broadcast = nil
	}
}

// StopBroadcast ends the running advertisement, if any, and waits for the
// radio to let go of it.
func (m *BeaconManager) StopBroadcast() {
	m.mu.Lock()
	bc := m.broadcast
	m.broadcast = nil
	m.mu.Unlock()

	if bc == nil {
		return
	}
	bc.cancel()
	<-bc.done
	m.logger.Debug("Advertising stopped")
}

// IsBroadcasting reports whether an advertisement is running.
func (m *BeaconManager) IsBroadcasting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcast != nil
}
