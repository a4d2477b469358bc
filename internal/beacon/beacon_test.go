package beacon_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBeacon(t *testing.T) {
	b := beacon.Beacon{
		ProximityUUID: uuid.MustParse(testUUID),
		Major:         1,
		Minor:         2,
		RSSI:          -65,
		TxPower:       -59,
		Accuracy:      1.5,
		MacAddress:    "AA:BB:CC:DD:EE:FF",
	}

	rec := beacon.EncodeBeacon(b)

	assert.Equal(t, testUUID, rec["proximityUUID"])
	assert.Equal(t, 1, rec["major"])
	assert.Equal(t, 2, rec["minor"])
	assert.Equal(t, -65, rec["rssi"])
	assert.Equal(t, -59, rec["txPower"])
	assert.Equal(t, 1.5, rec["accuracy"])
	assert.Equal(t, "near", rec["proximity"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", rec["macAddress"])

	b.MacAddress = ""
	_, hasMac := beacon.EncodeBeacon(b)["macAddress"]
	assert.False(t, hasMac, "macAddress MUST be omitted when unknown")
}

func TestEncodeBeaconsNeverNil(t *testing.T) {
	out := beacon.EncodeBeacons(nil)

	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestDecodeBeacon(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		b, err := beacon.DecodeBeacon(beacon.Record{"proximityUUID": testUUID})

		require.NoError(t, err)
		assert.Equal(t, uint16(0), b.Major)
		assert.Equal(t, uint16(0), b.Minor)
		assert.Equal(t, beacon.DefaultTxPower, b.TxPower)
	})

	t.Run("reads explicit values", func(t *testing.T) {
		b, err := beacon.DecodeBeacon(beacon.Record{
			"proximityUUID": testUUID,
			"major":         100,
			"minor":         200,
			"txPower":       -70,
		})

		require.NoError(t, err)
		assert.Equal(t, uint16(100), b.Major)
		assert.Equal(t, uint16(200), b.Minor)
		assert.Equal(t, -70, b.TxPower)
	})

	t.Run("rejects out of range tx power", func(t *testing.T) {
		_, err := beacon.DecodeBeacon(beacon.Record{"proximityUUID": testUUID, "txPower": 300})

		assert.ErrorIs(t, err, beacon.ErrDecode)
	})

	t.Run("rejects fractional values", func(t *testing.T) {
		_, err := beacon.DecodeBeacon(beacon.Record{"proximityUUID": testUUID, "major": 1.5})
		assert.ErrorIs(t, err, beacon.ErrDecode)

		_, err = beacon.DecodeBeacon(beacon.Record{"proximityUUID": testUUID, "txPower": -59.5})
		assert.ErrorIs(t, err, beacon.ErrDecode)
	})

	t.Run("rejects missing proximity UUID", func(t *testing.T) {
		_, err := beacon.DecodeBeacon(beacon.Record{"major": 1})

		assert.ErrorIs(t, err, beacon.ErrDecode)
	})
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    int
		wantErr bool
	}{
		{in: 7, want: 7},
		{in: int64(-3), want: -3},
		{in: float64(42), want: 42},
		{in: float32(5), want: 5},
		{in: "010", want: 10},
		{in: " 12 ", want: 12},
		{in: json.Number("9"), want: 9},
		{in: json.Number("9.0"), want: 9},
		{in: 1.5, wantErr: true},
		{in: math.NaN(), wantErr: true},
		{in: math.Inf(1), wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: json.Number("2.5"), wantErr: true},
		{in: true, wantErr: true},
		{in: []int{1}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := beacon.ToInt(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%#v MUST be rejected", tt.in)
			continue
		}
		if assert.NoError(t, err, "%#v", tt.in) {
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestClassifyRSSI(t *testing.T) {
	tests := []struct {
		rssi int
		want beacon.Proximity
	}{
		{-30, beacon.ProximityImmediate},
		{-55, beacon.ProximityImmediate},
		{-56, beacon.ProximityNear},
		{-65, beacon.ProximityNear},
		{-75, beacon.ProximityNear},
		{-76, beacon.ProximityFar},
		{-100, beacon.ProximityFar},
		{-101, beacon.ProximityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, beacon.ClassifyRSSI(tt.rssi), "rssi %d", tt.rssi)
	}
}

func TestClassifyRSSIIsMonotonic(t *testing.T) {
	for rssi := -127; rssi < 20; rssi++ {
		weaker := beacon.ClassifyRSSI(rssi)
		stronger := beacon.ClassifyRSSI(rssi + 1)

		assert.False(t, weaker.Closer(stronger) && weaker != stronger,
			"rssi %d classified closer (%s) than rssi %d (%s)", rssi, weaker, rssi+1, stronger)
		assert.Equal(t, weaker, beacon.ClassifyRSSI(rssi), "classification MUST be deterministic")
	}
}

func TestEstimateDistance(t *testing.T) {
	assert.Equal(t, -1.0, beacon.EstimateDistance(0, -59))
	assert.InDelta(t, 1.0, beacon.EstimateDistance(-59, -59), 0.02, "reading at calibrated power MUST be about 1 m")
	assert.Less(t, beacon.EstimateDistance(-50, -59), beacon.EstimateDistance(-80, -59), "stronger reading MUST be closer")
}
