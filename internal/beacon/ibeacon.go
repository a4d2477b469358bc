package beacon

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// AppleCompanyID is the Bluetooth SIG company identifier carried by iBeacon frames.
	AppleCompanyID uint16 = 0x004C

	// UnknownCompanyID asks ParseManufacturerData to read the company id from the
	// first two bytes of the data (little-endian).
	UnknownCompanyID uint16 = 0

	iBeaconType   = 0x02
	iBeaconLength = 0x15

	// IBeaconFrameLength is company id (2) + type (1) + length (1) + payload (21).
	IBeaconFrameLength = 25
)

// ManufacturerDataParser parses company-specific manufacturer data.
type ManufacturerDataParser func([]byte) (interface{}, error)

// manufacturerDataParsers maps company IDs to their parser functions
var manufacturerDataParsers = map[uint16]ManufacturerDataParser{
	AppleCompanyID: parseAppleManufacturerData,
}

// ParseManufacturerData parses manufacturer data for companyID, or for the id in
// the first two bytes when companyID is UnknownCompanyID.
// Unknown companies yield (nil, nil).
func ParseManufacturerData(companyID uint16, raw []byte) (interface{}, error) {
	id := companyID
	if id == UnknownCompanyID {
		if len(raw) < 2 {
			return nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
		}
		id = binary.LittleEndian.Uint16(raw[0:2])
	}

	parser, ok := manufacturerDataParsers[id]
	if !ok {
		return nil, nil
	}
	return parser(raw)
}

// Frame is the identity and calibration data of an iBeacon advertisement.
type Frame struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	MeasuredPower int8
}

// VendorID reports the company that defines the frame format.
func (f *Frame) VendorID() uint16 { return AppleCompanyID }

// VendorName reports the name of the company that defines the frame format.
func (f *Frame) VendorName() string { return "Apple" }

// ParseIBeacon extracts an iBeacon frame from raw manufacturer data, including the
// leading company id. It returns ErrNotIBeacon for any other payload.
func ParseIBeacon(raw []byte) (*Frame, error) {
	v, err := ParseManufacturerData(UnknownCompanyID, raw)
	if err != nil {
		return nil, err
	}
	frame, ok := v.(*Frame)
	if !ok || frame == nil {
		return nil, ErrNotIBeacon
	}
	return frame, nil
}

func parseAppleManufacturerData(data []byte) (interface{}, error) {
	if len(data) < IBeaconFrameLength || data[2] != iBeaconType || data[3] != iBeaconLength {
		// other Apple payloads (continuity, airdrop) are not errors
		return nil, nil
	}

	var frame Frame
	copy(frame.ProximityUUID[:], data[4:20])
	frame.Major = binary.BigEndian.Uint16(data[20:22])
	frame.Minor = binary.BigEndian.Uint16(data[22:24])
	frame.MeasuredPower = int8(data[24])
	return &frame, nil
}

// BuildIBeacon encodes f as manufacturer data, company id first.
func BuildIBeacon(f Frame) []byte {
	data := make([]byte, IBeaconFrameLength)
	binary.LittleEndian.PutUint16(data[0:2], AppleCompanyID)
	data[2] = iBeaconType
	data[3] = iBeaconLength
	copy(data[4:20], f.ProximityUUID[:])
	binary.BigEndian.PutUint16(data[20:22], f.Major)
	binary.BigEndian.PutUint16(data[22:24], f.Minor)
	data[24] = byte(f.MeasuredPower)
	return data
}

// FrameFor returns the transmit frame describing b.
func FrameFor(b Beacon) Frame {
	return Frame{
		ProximityUUID: b.ProximityUUID,
		Major:         b.Major,
		Minor:         b.Minor,
		MeasuredPower: int8(b.TxPower),
	}
}

// Observe turns a received frame into an observation.
func (f *Frame) Observe(rssi int, address string) Beacon {
	tx := int(f.MeasuredPower)
	return Beacon{
		ProximityUUID: f.ProximityUUID,
		Major:         f.Major,
		Minor:         f.Minor,
		RSSI:          rssi,
		TxPower:       tx,
		Accuracy:      EstimateDistance(rssi, tx),
		MacAddress:    address,
	}
}
