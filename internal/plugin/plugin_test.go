package plugin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/permission"
	"github.com/srg/beaconscan/internal/platform"
	"github.com/srg/beaconscan/internal/plugin"
	"github.com/srg/beaconscan/internal/relay"
	"github.com/srg/beaconscan/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	testUUID = "E2C56DB5-DFFB-48D2-B060-D0F5A71096E0"
	waitFor  = 2 * time.Second
	tick     = 5 * time.Millisecond
)

type PluginTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	loop    *mainloop.Loop
	device  *testutils.ScriptedDevice
	manager *platform.BeaconManager
	probe   *permission.StaticProbe
	metrics *metrics.Collector
	plugin  *plugin.Plugin
}

func (suite *PluginTestSuite) SetupTest() {
	logger := testutils.NewSilentLogger()
	suite.ctx, suite.cancel = context.WithCancel(context.Background())

	suite.loop = mainloop.New(mainloop.DefaultCapacity, logger)
	suite.loop.Start(suite.ctx)

	suite.device = testutils.NewScriptedDevice()
	opts := platform.DefaultOptions()
	opts.ScanPeriod = 20 * time.Millisecond
	opts.DeviceFactory = suite.device.Factory()
	opts.Logger = logger
	suite.manager = platform.NewBeaconManager(opts)

	var err error
	suite.metrics, err = metrics.NewCollector(prometheus.NewRegistry())
	suite.Require().NoError(err)

	suite.probe = &permission.StaticProbe{State: permission.AdapterOn}
	suite.plugin = plugin.New(plugin.Options{
		Loop:              suite.loop,
		Manager:           suite.manager,
		Permissions:       permission.New(suite.probe, logger),
		Metrics:           suite.metrics,
		Logger:            logger,
		StatePollInterval: 10 * time.Millisecond,
	})
}

func (suite *PluginTestSuite) TearDownTest() {
	suite.NoError(suite.plugin.Shutdown(context.Background()))
	suite.loop.Stop()
	suite.cancel()
}

func (suite *PluginTestSuite) call(method string, arguments interface{}) plugin.Result {
	return suite.plugin.HandleMethodCall(suite.ctx, method, arguments)
}

func (suite *PluginTestSuite) TestInitialize() {
	result := suite.call(plugin.MethodInitialize, nil)
	suite.Require().True(result.IsSuccess(), "initialize MUST succeed with permissions: %+v", result)
	suite.Equal(true, result.Value)
	suite.True(suite.manager.IsBound(), "initialize MUST bind the platform")
}

func (suite *PluginTestSuite) TestInitializeWithDeniedPermissions() {
	// GOAL: Verify initialize fails with a reason when privileges are missing
	//
	// TEST SCENARIO: Probe reports CAP_NET_RAW missing → Failure naming it, platform stays unbound

	suite.probe.Missing = []string{permission.CapNetRaw}

	result := suite.call(plugin.MethodInitialize, nil)
	suite.Require().True(result.IsFailure(), "initialize MUST fail without permissions")
	suite.Equal(plugin.CodeBeaconScanner, result.Code)
	suite.Contains(result.Message, permission.CapNetRaw, "failure MUST carry the reason")
	suite.Equal([]string{permission.CapNetRaw}, result.Details)
	suite.False(suite.manager.IsBound())
}

func (suite *PluginTestSuite) TestInitializeWithUnavailableRadio() {
	suite.device.FailOpen(errors.New("no devices available"))

	result := suite.call(plugin.MethodInitialize, nil)
	suite.Require().True(result.IsFailure())
	suite.Equal(plugin.CodeBeaconScanner, result.Code)
	suite.Contains(result.Message, "no devices available")
}

func (suite *PluginTestSuite) TestInitializeAndCheckScanning() {
	suite.probe.LocationDisabled = true
	result := suite.call(plugin.MethodInitializeAndCheckScanning, nil)
	suite.Equal(plugin.ReasonLocationServicesDisabled, result.Message)

	suite.probe.LocationDisabled = false
	suite.probe.Missing = []string{permission.CapNetAdmin}
	result = suite.call(plugin.MethodInitializeAndCheckScanning, nil)
	suite.Equal(plugin.ReasonPermissionDenied, result.Message)

	suite.probe.Missing = nil
	suite.probe.State = permission.AdapterOff
	result = suite.call(plugin.MethodInitializeAndCheckScanning, nil)
	suite.Equal(plugin.CodeBeacon, result.Code)
	suite.Equal(plugin.ReasonBluetoothUnavailable, result.Message)

	suite.probe.State = permission.AdapterOn
	result = suite.call(plugin.MethodInitializeAndCheckScanning, nil)
	suite.True(result.IsSuccess())
	suite.Nil(result.Value)
}

func (suite *PluginTestSuite) TestUnknownMethod() {
	result := suite.call("flyToTheMoon", map[string]interface{}{"now": true})
	suite.True(result.IsNotImplemented(), "unknown methods MUST be NotImplemented")
	suite.Equal(float64(1), testutil.ToFloat64(suite.metrics.MethodCalls.WithLabelValues("flyToTheMoon", metrics.ResultNotImplemented)))

	methods := suite.plugin.Methods()
	suite.Len(methods, 18)
	suite.Contains(methods, plugin.MethodInitialize)
	suite.Contains(methods, plugin.MethodOpenApplicationSettings)
	suite.NotContains(methods, "flyToTheMoon")
	suite.IsIncreasing(methods, "methods MUST be sorted")
}

func (suite *PluginTestSuite) TestScanPeriods() {
	tests := []struct {
		name     string
		method   string
		args     interface{}
		failure  bool
		accepted bool
	}{
		{"bare int", plugin.MethodSetScanPeriod, 500, false, true},
		{"json number", plugin.MethodSetScanPeriod, float64(700), false, true},
		{"map", plugin.MethodSetScanPeriod, map[string]interface{}{"scanPeriod": 900}, false, true},
		{"zero rejected", plugin.MethodSetScanPeriod, 0, false, false},
		{"between map", plugin.MethodSetBetweenScanPeriod, map[string]interface{}{"betweenScanPeriod": 100}, false, true},
		{"negative between rejected", plugin.MethodSetBetweenScanPeriod, -1, false, false},
		{"missing key", plugin.MethodSetScanPeriod, map[string]interface{}{"other": 1}, true, false},
		{"nil", plugin.MethodSetBetweenScanPeriod, nil, true, false},
		{"not a number", plugin.MethodSetScanPeriod, "soon", true, false},
		{"bool", plugin.MethodSetScanPeriod, true, true, false},
		{"fractional", plugin.MethodSetScanPeriod, 250.5, true, false},
		{"octal-looking string", plugin.MethodSetBetweenScanPeriod, "010", false, true},
	}

	for _, tt := range tests {
		result := suite.call(tt.method, tt.args)
		if tt.failure {
			suite.True(result.IsFailure(), tt.name)
			suite.Equal(plugin.CodeInvalidArgument, result.Code, tt.name)
			continue
		}
		suite.True(result.IsSuccess(), tt.name)
		suite.Equal(tt.accepted, result.Value, tt.name)
	}

	scan, between := suite.manager.ScanPeriods()
	suite.Equal(900*time.Millisecond, scan, "last accepted scan period MUST be applied")
	suite.Equal(10*time.Millisecond, between, "\"010\" MUST read as 10 ms")
}

func (suite *PluginTestSuite) TestCapabilityQueries() {
	suite.probe.Missing = []string{permission.CapNetRaw}
	suite.Equal("NOT_DETERMINED", suite.call(plugin.MethodAuthorizationStatus, nil).Value)
	suite.probe.Missing = nil
	suite.Equal(true, suite.call(plugin.MethodRequestAuthorization, nil).Value)
	suite.Equal("WHEN_IN_USE", suite.call(plugin.MethodAuthorizationStatus, nil).Value)

	suite.Equal(true, suite.call(plugin.MethodSetLocationAuthorizationType, "ALWAYS").Value)
	suite.Equal(false, suite.call(plugin.MethodSetLocationAuthorizationType, "NEVER").Value)
	suite.Equal(false, suite.call(plugin.MethodSetLocationAuthorizationType, 3).Value)
	suite.Equal("ALWAYS", suite.call(plugin.MethodAuthorizationStatus, nil).Value)

	suite.Equal(true, suite.call(plugin.MethodCheckLocationServices, nil).Value)
	suite.Equal(true, suite.call(plugin.MethodCheckBluetooth, nil).Value)
	suite.Equal("STATE_ON", suite.call(plugin.MethodBluetoothState, nil).Value)
	suite.Equal(true, suite.call(plugin.MethodIsBroadcastSupported, nil).Value)

	for _, m := range []string{plugin.MethodOpenBluetoothSettings, plugin.MethodOpenLocationSettings, plugin.MethodOpenApplicationSettings} {
		suite.Equal(true, suite.call(m, nil).Value, m)
	}
}

func (suite *PluginTestSuite) TestRequestAuthorizationDenied() {
	suite.probe.Missing = []string{permission.CapNetRaw}
	suite.Equal(false, suite.call(plugin.MethodRequestAuthorization, nil).Value)
	suite.Equal("DENIED", suite.call(plugin.MethodAuthorizationStatus, nil).Value)
	suite.Equal("STATE_UNAUTHORIZED", suite.call(plugin.MethodBluetoothState, nil).Value)
}

func (suite *PluginTestSuite) TestBroadcast() {
	record := map[string]interface{}{"proximityUUID": testUUID, "major": 10, "minor": 20, "txPower": -60}

	result := suite.call(plugin.MethodStartBroadcast, record)
	suite.Require().True(result.IsSuccess(), "%+v", result)
	suite.Equal(true, suite.call(plugin.MethodIsBroadcasting, nil).Value)

	frames := suite.device.Advertised()
	suite.Require().Len(frames, 1)
	suite.Equal(uuid.MustParse(testUUID), frames[0].ProximityUUID)
	suite.Equal(uint16(10), frames[0].Major)
	suite.Equal(uint16(20), frames[0].Minor)
	suite.Equal(int8(-60), frames[0].MeasuredPower)

	result = suite.call(plugin.MethodStopBroadcast, nil)
	suite.True(result.IsSuccess())
	suite.Nil(result.Value)
	suite.Equal(false, suite.call(plugin.MethodIsBroadcasting, nil).Value)
}

func (suite *PluginTestSuite) TestBroadcastStartDoesNotHoldTheLoop() {
	// GOAL: Verify deliveries keep flowing while a broadcast waits for the radio to settle
	//
	// TEST SCENARIO: startBroadcast in flight → a loop task completes before the call returns

	record := map[string]interface{}{"proximityUUID": testUUID}
	done := make(chan plugin.Result, 1)
	go func() { done <- suite.call(plugin.MethodStartBroadcast, record) }()

	suite.Require().Eventually(suite.device.IsAdvertising, waitFor, time.Millisecond)

	ran := make(chan struct{})
	suite.Require().True(suite.loop.Post(func() { close(ran) }))
	select {
	case <-ran:
	case <-done:
		suite.FailNow("loop task MUST run before the broadcast settles")
	case <-time.After(waitFor):
		suite.FailNow("loop MUST stay responsive during broadcast start")
	}

	suite.True((<-done).IsSuccess())
}

func (suite *PluginTestSuite) TestBroadcastRejectsBadRecord() {
	result := suite.call(plugin.MethodStartBroadcast, map[string]interface{}{"major": 1})
	suite.True(result.IsFailure())
	suite.Equal(plugin.CodeBroadcast, result.Code)
	suite.Equal(float64(1), testutil.ToFloat64(suite.metrics.DecodeFailures.WithLabelValues("beacon")))

	result = suite.call(plugin.MethodStartBroadcast, "beacon")
	suite.True(result.IsFailure())
}

func (suite *PluginTestSuite) TestCloseStopsStreams() {
	// GOAL: Verify close stops ranging and monitoring and clears the regions
	//
	// TEST SCENARIO: Range and monitor one region each, close → both streams end, platform idle

	suite.Require().True(suite.call(plugin.MethodInitialize, nil).IsSuccess())

	regions := []interface{}{map[string]interface{}{"identifier": "r1", "proximityUUID": testUUID}}
	rangingSink := testutils.NewRecordingSink()
	monitoringSink := testutils.NewRecordingSink()
	suite.Require().NoError(suite.plugin.Listen(suite.ctx, relay.RangingStream, regions, rangingSink))
	suite.Require().NoError(suite.plugin.Listen(suite.ctx, relay.MonitoringStream, regions, monitoringSink))
	suite.Len(suite.manager.RangedRegions(), 1)
	suite.Len(suite.manager.MonitoredRegions(), 1)

	result := suite.call(plugin.MethodClose, nil)
	suite.Equal(true, result.Value)

	suite.Empty(suite.manager.RangedRegions(), "close MUST stop ranging")
	suite.Empty(suite.manager.MonitoredRegions(), "close MUST stop monitoring")
	suite.Equal(1, rangingSink.EndCount())
	suite.Equal(1, monitoringSink.EndCount())
	suite.Eventually(func() bool { return !suite.manager.IsScanning() }, waitFor, tick)
}

func (suite *PluginTestSuite) TestStreams() {
	suite.Equal([]string{
		relay.AuthorizationStatusStream,
		relay.BluetoothStateStream,
		relay.MonitoringStream,
		relay.RangingStream,
	}, suite.plugin.Streams())

	sink := testutils.NewRecordingSink()
	suite.ErrorIs(suite.plugin.Listen(suite.ctx, "nope", nil, sink), plugin.ErrUnknownStream)
	suite.ErrorIs(suite.plugin.Cancel(suite.ctx, "nope", nil), plugin.ErrUnknownStream)

	suite.Require().NoError(suite.plugin.Listen(suite.ctx, relay.BluetoothStateStream, nil, sink))
	suite.Eventually(func() bool { return len(sink.Events()) == 1 }, waitFor, tick)
	suite.Equal("STATE_ON", sink.Events()[0])

	suite.probe.Update(func(p *permission.StaticProbe) { p.State = permission.AdapterOff })
	suite.Eventually(func() bool { return len(sink.Events()) == 2 }, waitFor, tick)
	suite.Equal("STATE_OFF", sink.Events()[1])

	suite.Require().NoError(suite.plugin.Cancel(suite.ctx, relay.BluetoothStateStream, nil))
}

func (suite *PluginTestSuite) TestReleaseOnlyCancelsTheAttachedSink() {
	// GOAL: Verify a taken-over listener is ended and cannot cancel its successor
	//
	// TEST SCENARIO: first listens, second listens → first ends; Release(first) no-op; Release(second) stops ranging

	suite.Require().True(suite.call(plugin.MethodInitialize, nil).IsSuccess())
	regions := []interface{}{map[string]interface{}{"identifier": "r1", "proximityUUID": testUUID}}

	first := testutils.NewRecordingSink()
	second := testutils.NewRecordingSink()
	suite.Require().NoError(suite.plugin.Listen(suite.ctx, relay.RangingStream, regions, first))
	suite.Require().NoError(suite.plugin.Listen(suite.ctx, relay.RangingStream, regions, second))
	suite.Equal(1, first.EndCount(), "displaced sink MUST receive EndOfStream")
	suite.Zero(second.EndCount())

	suite.Require().NoError(suite.plugin.Release(suite.ctx, relay.RangingStream, first))
	suite.Len(suite.manager.RangedRegions(), 1, "releasing a displaced sink MUST keep ranging")

	suite.Require().NoError(suite.plugin.Release(suite.ctx, relay.RangingStream, second))
	suite.Empty(suite.manager.RangedRegions(), "releasing the attached sink MUST stop ranging")
	suite.Zero(second.EndCount(), "release MUST NOT end the stream")

	suite.ErrorIs(suite.plugin.Release(suite.ctx, "nope", second), plugin.ErrUnknownStream)
}

func (suite *PluginTestSuite) TestCallAfterLoopStopped() {
	suite.loop.Stop()
	result := suite.call(plugin.MethodIsBroadcasting, nil)
	suite.True(result.IsFailure(), "calls MUST fail once the loop is gone")
	suite.Contains(result.Message, mainloop.ErrStopped.Error())
}

func TestPluginTestSuite(t *testing.T) {
	suite.Run(t, new(PluginTestSuite))
}
