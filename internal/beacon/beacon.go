package beacon

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// DefaultTxPower is the calibrated 1 m power assumed when a record carries none.
const DefaultTxPower = -59

// Beacon is one iBeacon observation, or the description of a beacon to transmit.
type Beacon struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	RSSI          int
	TxPower       int
	Accuracy      float64
	MacAddress    string
}

// Proximity is the coarse category derived from RSSI.
func (b Beacon) Proximity() Proximity {
	return ClassifyRSSI(b.RSSI)
}

// Key identifies a physical beacon across advertisements.
func (b Beacon) Key() string {
	return fmt.Sprintf("%s/%d/%d", b.ProximityUUID, b.Major, b.Minor)
}

// EncodeBeacon turns an observation into its wire record.
func EncodeBeacon(b Beacon) Record {
	rec := Record{
		"proximityUUID": strings.ToUpper(b.ProximityUUID.String()),
		"major":         int(b.Major),
		"minor":         int(b.Minor),
		"rssi":          b.RSSI,
		"txPower":       b.TxPower,
		"accuracy":      b.Accuracy,
		"proximity":     string(b.Proximity()),
	}
	if b.MacAddress != "" {
		rec["macAddress"] = b.MacAddress
	}
	return rec
}

// EncodeBeacons encodes a list; the result is never nil.
func EncodeBeacons(beacons []Beacon) []Record {
	out := make([]Record, 0, len(beacons))
	for _, b := range beacons {
		out = append(out, EncodeBeacon(b))
	}
	return out
}

// DecodeBeacon builds a beacon description for transmission.
// proximityUUID is required, major and minor default to 0 and txPower to
// DefaultTxPower.
func DecodeBeacon(m map[string]interface{}) (Beacon, error) {
	if m == nil {
		return Beacon{}, &DecodeError{Field: "beacon", Reason: "record is nil"}
	}

	proximityUUID, err := decodeUUID(m, "proximityUUID")
	if err != nil {
		return Beacon{}, err
	}

	b := Beacon{ProximityUUID: proximityUUID, TxPower: DefaultTxPower}

	major, err := decodeOptionalUint16(m, "major")
	if err != nil {
		return Beacon{}, err
	}
	if major != nil {
		b.Major = *major
	}
	minor, err := decodeOptionalUint16(m, "minor")
	if err != nil {
		return Beacon{}, err
	}
	if minor != nil {
		b.Minor = *minor
	}

	if raw, ok := m["txPower"]; ok && raw != nil {
		tx, err := ToInt(raw)
		if err != nil {
			return Beacon{}, &DecodeError{Field: "txPower", Reason: "not an integer", Err: err}
		}
		if tx < math.MinInt8 || tx > math.MaxInt8 {
			return Beacon{}, &DecodeError{Field: "txPower", Reason: fmt.Sprintf("%d out of range -128..127", tx)}
		}
		b.TxPower = tx
	}

	return b, nil
}
