package testutils

import (
	"github.com/google/uuid"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/platform"
	"github.com/stretchr/testify/mock"
)

// MockAdvertisement is a testify mock implementing platform.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]byte)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() string {
	return m.Called().String(0)
}

// AdvertisementBuilder builds mocked advertisements for testing.
// Expectations are registered with Maybe() since the scanner reads only the
// fields it needs.
type AdvertisementBuilder struct {
	name      string
	address   string
	rssi      int
	manufData []byte
}

// NewAdvertisementBuilder creates a builder for a silent advertisement at -60 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		address: "00:00:00:00:00:01",
		rssi:    -60,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithManufacturerData sets the raw manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithIBeacon sets manufacturer data carrying an iBeacon frame.
func (b *AdvertisementBuilder) WithIBeacon(proximityUUID string, major, minor uint16, measuredPower int8) *AdvertisementBuilder {
	b.manufData = beacon.BuildIBeacon(beacon.Frame{
		ProximityUUID: uuid.MustParse(proximityUUID),
		Major:         major,
		Minor:         minor,
		MeasuredPower: measuredPower,
	})
	return b
}

// Build creates a MockAdvertisement with the configured values.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("Addr").Return(b.address).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	return adv
}

// IBeaconAdvertisement is a shorthand for a single iBeacon sighting.
func IBeaconAdvertisement(proximityUUID string, major, minor uint16, rssi int) platform.Advertisement {
	return NewAdvertisementBuilder().
		WithIBeacon(proximityUUID, major, minor, beacon.DefaultTxPower).
		WithRSSI(rssi).
		Build()
}
