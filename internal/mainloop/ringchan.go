package mainloop

// RingChannel is the outbound envelope queue of a host session. Sends never
// block; a send into a full queue evicts the oldest envelope first, and the
// caller learns about the eviction so it can count it against the stream.
// The writer goroutine waits on C and drains the rest with TryReceive.
type RingChannel[T any] struct {
	ch chan T
}

// NewRingChannel panics when capacity is not positive.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend queues v and reports whether older entries were evicted to make
// room for it.
func (rc *RingChannel[T]) ForceSend(v T) (evicted bool) {
	for {
		select {
		case rc.ch <- v:
			return evicted
		default:
		}
		select {
		case <-rc.ch:
			evicted = true
		default:
		}
	}
}

func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v := <-rc.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}
