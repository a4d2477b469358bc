package beacon

// MonitorState is a region's inside/outside determination. Values follow the
// platform numbering (outside 0, inside 1); anything else is unknown.
type MonitorState int

const (
	StateOutside MonitorState = 0
	StateInside  MonitorState = 1
	StateUnknown MonitorState = -1
)

func (s MonitorState) String() string {
	switch s {
	case StateInside:
		return "inside"
	case StateOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// EventKind tags a monitoring event.
type EventKind string

const (
	EventDidEnterRegion    EventKind = "didEnterRegion"
	EventDidExitRegion     EventKind = "didExitRegion"
	EventDidDetermineState EventKind = "didDetermineStateForRegion"
)

// MonitoringEvent is a region transition or state determination.
// State is only meaningful for EventDidDetermineState.
type MonitoringEvent struct {
	Kind   EventKind
	Region Region
	State  MonitorState
}

// Record encodes the event for the monitoring stream.
func (e MonitoringEvent) Record() Record {
	rec := Record{
		"event":  string(e.Kind),
		"region": EncodeRegion(e.Region),
	}
	if e.Kind == EventDidDetermineState {
		rec["state"] = e.State.String()
	}
	return rec
}

// RangingEvent is one detection cycle for one region.
type RangingEvent struct {
	Region  Region
	Beacons []Beacon
}

// Record encodes the event for the ranging stream; beacons is always a list.
func (e RangingEvent) Record() Record {
	return Record{
		"region":  EncodeRegion(e.Region),
		"beacons": EncodeBeacons(e.Beacons),
	}
}
