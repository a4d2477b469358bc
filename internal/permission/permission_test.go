package permission

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type HelperTestSuite struct {
	suite.Suite
	probe  *StaticProbe
	helper *Helper
}

func (suite *HelperTestSuite) SetupTest() {
	suite.probe = &StaticProbe{State: AdapterOn}
	suite.helper = New(suite.probe, logrus.New())
}

func (suite *HelperTestSuite) TestGranted() {
	suite.True(suite.helper.PermissionsGranted())
	suite.True(suite.helper.BluetoothEnabled())
	suite.Equal(StateOn, suite.helper.BluetoothState())
	suite.Equal(AuthorizationWhenInUse, suite.helper.AuthorizationStatus(), "default authorization type MUST be WHEN_IN_USE")
	suite.True(suite.helper.BroadcastSupported())
	suite.NoError(suite.helper.CheckScanning())
}

func (suite *HelperTestSuite) TestAuthorizationLifecycle() {
	// GOAL: Verify the status moves NOT_DETERMINED → DENIED once requested without privileges
	//
	// TEST SCENARIO: Missing CAP_NET_RAW, query, request, query again

	suite.probe.Missing = []string{CapNetRaw}

	suite.Equal(AuthorizationNotDetermined, suite.helper.AuthorizationStatus())
	suite.Equal([]string{CapNetRaw}, suite.helper.RequestPermissions())
	suite.Equal(AuthorizationDenied, suite.helper.AuthorizationStatus(), "status MUST be DENIED after a refused request")

	suite.probe.Missing = nil
	suite.Empty(suite.helper.RequestPermissions())
	suite.Equal(AuthorizationWhenInUse, suite.helper.AuthorizationStatus())
}

func (suite *HelperTestSuite) TestSetAuthorizationType() {
	suite.True(suite.helper.SetAuthorizationType("always"))
	suite.Equal(AuthorizationAlways, suite.helper.AuthorizationStatus())
	suite.False(suite.helper.SetAuthorizationType("SOMETIMES"), "unknown types MUST be rejected")
	suite.Equal(AuthorizationAlways, suite.helper.AuthorizationStatus(), "rejected type MUST NOT change the status")
}

func (suite *HelperTestSuite) TestProbeErrorCountsAsDenied() {
	suite.probe.Err = errors.New("capget: operation not permitted")
	suite.False(suite.helper.PermissionsGranted())
	suite.ElementsMatch([]string{CapNetRaw, CapNetAdmin}, suite.helper.MissingPermissions())
}

func (suite *HelperTestSuite) TestBluetoothStates() {
	tests := []struct {
		adapter AdapterState
		missing []string
		want    BluetoothState
	}{
		{AdapterOn, nil, StateOn},
		{AdapterOn, []string{CapNetAdmin}, StateUnauthorized},
		{AdapterOff, nil, StateOff},
		{AdapterMissing, nil, StateUnsupported},
		{AdapterUnknown, nil, StateUnknown},
	}
	for _, tt := range tests {
		suite.probe.State = tt.adapter
		suite.probe.Missing = tt.missing
		suite.Equal(tt.want, suite.helper.BluetoothState(), "adapter=%d missing=%v", tt.adapter, tt.missing)
	}
}

func (suite *HelperTestSuite) TestCheckScanningOrder() {
	suite.probe.LocationDisabled = true
	suite.probe.Missing = []string{CapNetRaw}
	suite.probe.State = AdapterOff
	suite.ErrorIs(suite.helper.CheckScanning(), ErrLocationServicesDisabled, "location MUST be checked first")

	suite.probe.LocationDisabled = false
	suite.ErrorIs(suite.helper.CheckScanning(), ErrPermissionDenied, "permissions MUST be checked second")

	suite.probe.Missing = nil
	suite.ErrorIs(suite.helper.CheckScanning(), ErrBluetoothUnavailable)
}

func TestHelperTestSuite(t *testing.T) {
	suite.Run(t, new(HelperTestSuite))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSysfsProbeAdapter(t *testing.T) {
	root := t.TempDir()
	probe := &SysfsProbe{Root: root}

	assert.Equal(t, AdapterMissing, probe.Adapter(), "no hci entry MUST mean no adapter")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "class", "bluetooth", "hci0"), 0o755))
	assert.Equal(t, AdapterOn, probe.Adapter(), "hci without rfkill MUST be on")

	writeFile(t, filepath.Join(root, "class", "rfkill", "rfkill0", "type"), "wlan\n")
	writeFile(t, filepath.Join(root, "class", "rfkill", "rfkill0", "soft"), "1\n")
	assert.Equal(t, AdapterOn, probe.Adapter(), "non-bluetooth switches MUST be ignored")

	writeFile(t, filepath.Join(root, "class", "rfkill", "rfkill1", "type"), "bluetooth\n")
	writeFile(t, filepath.Join(root, "class", "rfkill", "rfkill1", "soft"), "0\n")
	writeFile(t, filepath.Join(root, "class", "rfkill", "rfkill1", "hard"), "1\n")
	assert.Equal(t, AdapterOff, probe.Adapter(), "hard-blocked bluetooth MUST be off")

	assert.True(t, probe.LocationServicesEnabled())
	missing, err := probe.MissingCapabilities()
	assert.NoError(t, err)
	assert.Empty(t, missing)
}

func TestParseAuthorizationType(t *testing.T) {
	got, ok := ParseAuthorizationType(" when_in_use ")
	assert.True(t, ok)
	assert.Equal(t, AuthorizationWhenInUse, got)

	_, ok = ParseAuthorizationType("DENIED")
	assert.False(t, ok, "only ALWAYS and WHEN_IN_USE are settable")
}
