package beacon_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/stretchr/testify/assert"
)

func TestMonitorStateString(t *testing.T) {
	assert.Equal(t, "inside", beacon.StateInside.String())
	assert.Equal(t, "outside", beacon.StateOutside.String())
	assert.Equal(t, "unknown", beacon.StateUnknown.String())
	assert.Equal(t, "unknown", beacon.MonitorState(42).String(), "unmapped native states MUST read as unknown")
}

func TestMonitoringEventRecord(t *testing.T) {
	region := beacon.NewRegion("r1", uuid.MustParse(testUUID))

	enter := beacon.MonitoringEvent{Kind: beacon.EventDidEnterRegion, Region: region}.Record()
	assert.Equal(t, beacon.Record{
		"event":  "didEnterRegion",
		"region": beacon.Record{"identifier": "r1", "proximityUUID": testUUID},
	}, enter)

	state := beacon.MonitoringEvent{Kind: beacon.EventDidDetermineState, Region: region, State: beacon.StateInside}.Record()
	assert.Equal(t, "didDetermineStateForRegion", state["event"])
	assert.Equal(t, "inside", state["state"])
}

func TestRangingEventRecord(t *testing.T) {
	region := beacon.NewRegion("r1", uuid.MustParse(testUUID))

	rec := beacon.RangingEvent{Region: region}.Record()

	assert.Equal(t, []beacon.Record{}, rec["beacons"], "an empty cycle MUST still carry a beacon list")
}
