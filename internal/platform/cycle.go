package platform

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/srg/beaconscan/internal/beacon"
)

// cycle collects the observations of one scan window. Readings of the same
// beacon are averaged.
type cycle struct {
	mu      sync.Mutex
	samples map[string]*sample
}

type sample struct {
	beacon  beacon.Beacon
	rssiSum int
	count   int
}

func newCycle() *cycle {
	return &cycle{samples: make(map[string]*sample)}
}

func (c *cycle) add(b beacon.Beacon) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := b.Key()
	s, ok := c.samples[key]
	if !ok {
		s = &sample{}
		c.samples[key] = s
	}
	s.beacon = b
	s.rssiSum += b.RSSI
	s.count++
}

// beacons returns one averaged observation per beacon, ordered by identity.
func (c *cycle) beacons() []beacon.Beacon {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]beacon.Beacon, 0, len(c.samples))
	for _, s := range c.samples {
		b := s.beacon
		b.RSSI = int(math.Round(float64(s.rssiSum) / float64(s.count)))
		b.Accuracy = beacon.EstimateDistance(b.RSSI, b.TxPower)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// monitorEntry is the inside/outside state of one monitored region. It is only
// touched by the scan goroutine once registered.
type monitorEntry struct {
	region   beacon.Region
	state    beacon.MonitorState
	lastSeen time.Time
}

// advance moves the entry to its next state and fires the matching callbacks:
// entering fires OnEntered, leaving fires OnExited, and every change fires
// OnStateDetermined. The first cycle without a sighting determines outside
// without an exit.
func (e *monitorEntry) advance(seen bool, now time.Time, exitPeriod time.Duration, notifiers []MonitorNotifier) {
	next := e.state
	switch {
	case seen:
		e.lastSeen = now
		next = beacon.StateInside
	case e.state == beacon.StateInside:
		if now.Sub(e.lastSeen) >= exitPeriod {
			next = beacon.StateOutside
		}
	case e.state != beacon.StateOutside:
		next = beacon.StateOutside
	}

	if next == e.state {
		return
	}
	prev := e.state
	e.state = next

	for _, n := range notifiers {
		switch {
		case next == beacon.StateInside:
			n.OnEntered(e.region)
		case prev == beacon.StateInside:
			n.OnExited(e.region)
		}
		n.OnStateDetermined(e.region, next)
	}
}
