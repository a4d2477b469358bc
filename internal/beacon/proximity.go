package beacon

import "math"

// Proximity is a coarse distance bucket.
type Proximity string

const (
	ProximityImmediate Proximity = "immediate"
	ProximityNear      Proximity = "near"
	ProximityFar       Proximity = "far"
	ProximityUnknown   Proximity = "unknown"
)

// RSSI lower bounds (dBm, inclusive) of each proximity bucket.
const (
	ImmediateRSSI = -55
	NearRSSI      = -75
	FarRSSI       = -100
)

// ClassifyRSSI maps a reading to a proximity bucket using one fixed table:
//
//	rssi >= -55          immediate
//	-75  <= rssi < -55   near
//	-100 <= rssi < -75   far
//	rssi < -100          unknown
//
// A stronger reading never lands in a farther bucket than a weaker one.
func ClassifyRSSI(rssi int) Proximity {
	switch {
	case rssi >= ImmediateRSSI:
		return ProximityImmediate
	case rssi >= NearRSSI:
		return ProximityNear
	case rssi >= FarRSSI:
		return ProximityFar
	default:
		return ProximityUnknown
	}
}

// rank orders buckets from closest (0) to unknown (3).
func (p Proximity) rank() int {
	switch p {
	case ProximityImmediate:
		return 0
	case ProximityNear:
		return 1
	case ProximityFar:
		return 2
	default:
		return 3
	}
}

// Closer reports whether p is a strictly closer bucket than other.
func (p Proximity) Closer(other Proximity) bool {
	return p.rank() < other.rank()
}

// EstimateDistance returns an estimated distance in metres from a reading and the
// beacon's calibrated 1 m power, using the curve-fitted model common to Android
// beacon stacks. It returns -1 when rssi is 0 (no reading).
func EstimateDistance(rssi, txPower int) float64 {
	if rssi == 0 {
		return -1
	}
	if txPower == 0 {
		txPower = DefaultTxPower
	}
	ratio := float64(rssi) / float64(txPower)
	if ratio < 1.0 {
		return math.Pow(ratio, 10)
	}
	return 0.89976*math.Pow(ratio, 7.7095) + 0.111
}
