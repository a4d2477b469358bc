package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/devicefactory"
	"github.com/srg/beaconscan/internal/permission"
	"github.com/srg/beaconscan/internal/platform"
	"github.com/srg/beaconscan/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testUUID = "E2C56DB5-DFFB-48D2-B060-D0F5A71096E0"

// CommandTestSuite runs commands against a scripted radio and a static probe.
type CommandTestSuite struct {
	suite.Suite
	device *testutils.ScriptedDevice
	probe  *permission.StaticProbe

	origFactory func() (platform.Device, error)
	origProbe   func() permission.Probe
}

func (s *CommandTestSuite) SetupTest() {
	s.device = testutils.NewScriptedDevice()
	s.probe = &permission.StaticProbe{State: permission.AdapterOn}

	s.origFactory = devicefactory.DeviceFactory
	s.origProbe = newProbe
	devicefactory.DeviceFactory = s.device.Factory()
	newProbe = func() permission.Probe { return s.probe }
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.DeviceFactory = s.origFactory
	newProbe = s.origProbe
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, in io.Reader, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	if in == nil {
		in = strings.NewReader("")
	}
	cmd.SetIn(in)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// jsonLines splits output into its non-empty lines.
func jsonLines(out string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func (s *CommandTestSuite) TestStatusJSON() {
	// GOAL: Verify status reports the capability answers of the plugin
	//
	// TEST SCENARIO: Adapter on, CAP_NET_ADMIN missing → JSON report naming it

	s.probe.Missing = []string{permission.CapNetAdmin}

	out, err := s.ExecuteCommand(newRootCmd(), nil, "status", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"bluetooth_state": "STATE_UNAUTHORIZED",
		"bluetooth_enabled": true,
		"location_services": true,
		"authorization_status": "NOT_DETERMINED",
		"broadcast_supported": false,
		"missing_permissions": ["`+permission.CapNetAdmin+`"]
	}`)
}

func (s *CommandTestSuite) TestStatusTable() {
	color.NoColor = true

	out, err := s.ExecuteCommand(newRootCmd(), nil, "status", "--format", "table")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(false)).Assert(out,
		"bluetooth_state       STATE_ON\n"+
			"bluetooth_enabled     yes\n"+
			"location_services     yes\n"+
			"authorization_status  NOT_DETERMINED\n"+
			"broadcast_supported   yes\n"+
			"missing_permissions   none\n")
}

func (s *CommandTestSuite) TestRangeJSON() {
	// GOAL: Verify range prints ranging events as JSON lines
	//
	// TEST SCENARIO: Beacon at -65 dBm in region office → events with proximity near

	s.device.Always(testutils.IBeaconAdvertisement(testUUID, 1, 2, -65))

	out, err := s.ExecuteCommand(newRootCmd(), nil, "range",
		"--region", "office:"+testUUID,
		"--duration", "300ms",
		"--scan-period", "20ms",
		"--format", "json")
	s.Require().NoError(err)

	lines := jsonLines(out)
	s.Require().NotEmpty(lines, "range MUST print at least one event")
	testutils.NewJSONAsserter(s.T()).Assert(lines[0], `{
		"region": {"identifier": "office", "proximityUUID": "`+testUUID+`"},
		"beacons": [{"major": 1, "minor": 2, "rssi": -65, "proximity": "near"}]
	}`)
	s.Positive(s.device.StopCount(), "radio MUST be released after the command")
}

func (s *CommandTestSuite) TestRangeTable() {
	s.device.Always(testutils.IBeaconAdvertisement(testUUID, 1, 2, -50))

	out, err := s.ExecuteCommand(newRootCmd(), nil, "range",
		"--region", "office:"+testUUID+":1",
		"--duration", "200ms",
		"--scan-period", "20ms",
		"--format", "table")
	s.Require().NoError(err)

	s.Contains(out, "PROXIMITY")
	s.Contains(out, "immediate")
	s.Equal(1, strings.Count(out, "PROXIMITY"), "header MUST be printed once")
}

func (s *CommandTestSuite) TestMonitorJSON() {
	s.device.Always(testutils.IBeaconAdvertisement(testUUID, 5, 6, -70))

	out, err := s.ExecuteCommand(newRootCmd(), nil, "monitor",
		"--region", "lobby:"+testUUID+":5:6",
		"--duration", "200ms",
		"--scan-period", "20ms",
		"--format", "json")
	s.Require().NoError(err)

	lines := jsonLines(out)
	s.Require().GreaterOrEqual(len(lines), 2, "enter and state MUST be printed")
	asserter := testutils.NewJSONAsserter(s.T())
	asserter.Assert(lines[0], `{"event": "didEnterRegion", "region": {"identifier": "lobby", "major": 5, "minor": 6}}`)
	asserter.Assert(lines[1], `{"event": "didDetermineStateForRegion", "state": "inside"}`)
}

func (s *CommandTestSuite) TestRangeRequiresRegion() {
	_, err := s.ExecuteCommand(newRootCmd(), nil, "range", "--region", "", "--duration", "10ms", "--format", "json")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrNoRegions) || errors.Is(err, ErrInvalidRegion))
}

func (s *CommandTestSuite) TestRangeWithoutPermissions() {
	// GOAL: Verify range refuses to start without radio privileges
	//
	// TEST SCENARIO: CAP_NET_RAW missing → initializeAndCheckScanning failure, no scan

	s.probe.Missing = []string{permission.CapNetRaw}

	_, err := s.ExecuteCommand(newRootCmd(), nil, "range", "--region", "office:"+testUUID, "--duration", "100ms", "--format", "json")
	s.Require().Error(err)

	var methodErr *MethodError
	s.Require().ErrorAs(err, &methodErr)
	s.Equal("PermissionDenied", methodErr.Message)
	s.Zero(s.device.ScanCount(), "MUST NOT scan")
}

func (s *CommandTestSuite) TestBroadcast() {
	out, err := s.ExecuteCommand(newRootCmd(), nil, "broadcast",
		"--uuid", strings.ToLower(testUUID),
		"--major", "10",
		"--minor", "20",
		"--tx-power", "-60",
		"--duration", "400ms")
	s.Require().NoError(err)

	s.Contains(out, "Broadcasting iBeacon "+testUUID)
	s.Contains(out, "Broadcast stopped")

	frames := s.device.Advertised()
	s.Require().NotEmpty(frames)
	s.Equal(uint16(10), frames[0].Major)
	s.Equal(uint16(20), frames[0].Minor)
	s.Equal(int8(-60), frames[0].MeasuredPower)
	s.False(s.device.IsAdvertising(), "advertising MUST stop with the command")
}

func (s *CommandTestSuite) TestServeStdio() {
	// GOAL: Verify serve answers host requests over stdin/stdout
	//
	// TEST SCENARIO: Two calls then EOF → two replies, clean exit

	in := strings.NewReader(`{"id":1,"method":"isBroadcastSupported"}` + "\n" + `{"id":2,"method":"authorizationStatus"}` + "\n")

	out, err := s.ExecuteCommand(newRootCmd(), in, "serve")
	s.Require().NoError(err)

	lines := jsonLines(out)
	s.Require().Len(lines, 2)
	s.Equal(`{"id":1,"result":true}`, lines[0])
	s.Equal(`{"id":2,"result":"WHEN_IN_USE"}`, lines[1])
}

func (s *CommandTestSuite) TestInvalidConfigFile() {
	_, err := s.ExecuteCommand(newRootCmd(), nil, "status", "--config", "/nonexistent/beaconscan.yaml")
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to read config")
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    map[string]interface{}
		wantErr bool
	}{
		{in: "a:" + strings.ToLower(testUUID), want: map[string]interface{}{"identifier": "a", "proximityUUID": testUUID}},
		{in: "a:" + testUUID + ":1", want: map[string]interface{}{"identifier": "a", "proximityUUID": testUUID, "major": 1}},
		{in: "a:" + testUUID + ":1:65535", want: map[string]interface{}{"identifier": "a", "proximityUUID": testUUID, "major": 1, "minor": 65535}},
		{in: "a", wantErr: true},
		{in: ":" + testUUID, wantErr: true},
		{in: "a:not-a-uuid", wantErr: true},
		{in: "a:" + testUUID + ":65536", wantErr: true},
		{in: "a:" + testUUID + ":1:2:3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseRegion(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRegion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			_, decodeErr := beacon.DecodeRegion(got)
			assert.NoError(t, decodeErr, "parsed region MUST decode")
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err      error
		contains string
	}{
		{fmt.Errorf("initialize: %w", permission.ErrPermissionDenied), "setcap"},
		{platform.ErrBluetoothOff, "rfkill"},
		{fmt.Errorf("bind: %w", platform.ErrNotReady), "adapter present"},
		{&MethodError{Method: "initialize", Code: "beacon_scanner", Message: "boom"}, "initialize failed (beacon_scanner): boom"},
		{&beacon.DecodeError{Field: "proximityUUID", Reason: "missing"}, "invalid beacon data"},
		{errors.New("plain"), "plain"},
	}

	for _, tt := range tests {
		assert.Contains(t, FormatUserError(tt.err), tt.contains)
	}
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer

	format, err := resolveFormat("", "auto", &buf)
	require.NoError(t, err)
	assert.Equal(t, "json", format, "non-terminal output MUST default to JSON")

	format, err = resolveFormat("table", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, "table", format, "flag MUST win over config")

	_, err = resolveFormat("xml", "", &buf)
	assert.Error(t, err)
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		require.NoError(t, cmd.ParseFlags(args))
		return cmd
	}

	logger, err := configureLogger(newCmd(), "")
	require.NoError(t, err)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel(), "no flags MUST keep the logger quiet")

	logger, err = configureLogger(newCmd("--verbose"), "warn")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel(), "--verbose MUST win over config")

	logger, err = configureLogger(newCmd("--log-level", "error", "--verbose"), "")
	require.NoError(t, err)
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel(), "--log-level MUST win over --verbose")

	logger, err = configureLogger(newCmd(), "warn")
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	_, err = configureLogger(newCmd("--log-level", "loud"), "")
	assert.Error(t, err)
}
