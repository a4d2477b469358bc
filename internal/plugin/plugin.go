// Package plugin is the method-call surface of the beacon scanner. Every call
// and every stream subscription runs on the main loop, serialized with event
// delivery.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/permission"
	"github.com/srg/beaconscan/internal/relay"
)

// Method names.
const (
	MethodInitialize                   = "initialize"
	MethodInitializeAndCheckScanning   = "initializeAndCheckScanning"
	MethodClose                        = "close"
	MethodSetScanPeriod                = "setScanPeriod"
	MethodSetBetweenScanPeriod         = "setBetweenScanPeriod"
	MethodAuthorizationStatus          = "authorizationStatus"
	MethodSetLocationAuthorizationType = "setLocationAuthorizationTypeDefault"
	MethodRequestAuthorization         = "requestAuthorization"
	MethodCheckLocationServices        = "checkLocationServicesIfEnabled"
	MethodCheckBluetooth               = "checkBluetoothIfEnabled"
	MethodBluetoothState               = "bluetoothState"
	MethodIsBroadcastSupported         = "isBroadcastSupported"
	MethodStartBroadcast               = "startBroadcast"
	MethodStopBroadcast                = "stopBroadcast"
	MethodIsBroadcasting               = "isBroadcasting"
	MethodOpenBluetoothSettings        = "openBluetoothSettings"
	MethodOpenLocationSettings         = "openLocationSettings"
	MethodOpenApplicationSettings      = "openApplicationSettings"
)

// Failure codes.
const (
	CodeBeaconScanner   = "beacon_scanner"
	CodeBeacon          = "Beacon"
	CodeBroadcast       = "broadcast"
	CodeInvalidArgument = "invalid_argument"
)

// Reasons reported by initializeAndCheckScanning.
const (
	ReasonLocationServicesDisabled = "LocationServicesDisabled"
	ReasonPermissionDenied         = "PermissionDenied"
	ReasonBluetoothUnavailable     = "BluetoothUnavailable"
)

var ErrUnknownStream = errors.New("unknown stream")

// Manager is the part of the beacon platform the plugin drives.
type Manager interface {
	relay.RangingManager
	relay.MonitoringManager

	Bind() error
	IsBound() bool
	SetScanPeriod(time.Duration)
	SetBetweenScanPeriod(time.Duration)
	UpdateScanPeriods() error
	RemoveAllRangeNotifiers()
	RemoveAllMonitorNotifiers()
	StartBroadcast(ctx context.Context, b beacon.Beacon) error
	StopBroadcast()
	IsBroadcasting() bool
	Close() error
}

// Options configures a Plugin. Loop, Manager and Permissions are required.
type Options struct {
	Loop              *mainloop.Loop
	Manager           Manager
	Permissions       *permission.Helper
	Metrics           *metrics.Collector
	Logger            *logrus.Logger
	StatePollInterval time.Duration
}

type handler func(ctx context.Context, arguments interface{}) Result

// stoppable is a stream handler that can end its stream from this side.
type stoppable interface {
	relay.StreamHandler
	Stop()
}

// Plugin dispatches method calls and owns the stream relays. One manager is
// shared by both region relays.
type Plugin struct {
	loop    *mainloop.Loop
	manager Manager
	perms   *permission.Helper
	metrics *metrics.Collector
	logger  *logrus.Logger

	ranging    *relay.RangingRelay
	monitoring *relay.MonitoringRelay
	streams    map[string]stoppable
	handlers   map[string]handler
	// offLoop handlers wait on the radio and only touch the manager, which
	// locks itself. They run on the caller's goroutine.
	offLoop map[string]bool
}

// New wires the relays around opts.Manager.
func New(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	p := &Plugin{
		loop:    opts.Loop,
		manager: opts.Manager,
		perms:   opts.Permissions,
		metrics: opts.Metrics,
		logger:  logger,
	}

	p.ranging = relay.NewRangingRelay(opts.Manager, opts.Loop, opts.Metrics, logger)
	p.monitoring = relay.NewMonitoringRelay(opts.Manager, opts.Loop, opts.Metrics, logger)
	p.streams = map[string]stoppable{
		relay.RangingStream:    p.ranging,
		relay.MonitoringStream: p.monitoring,
		relay.BluetoothStateStream: relay.NewStateRelay(relay.BluetoothStateStream, opts.StatePollInterval,
			func() string { return string(p.perms.BluetoothState()) }, opts.Loop, opts.Metrics, logger),
		relay.AuthorizationStatusStream: relay.NewStateRelay(relay.AuthorizationStatusStream, opts.StatePollInterval,
			func() string { return string(p.perms.AuthorizationStatus()) }, opts.Loop, opts.Metrics, logger),
	}

	p.handlers = map[string]handler{
		MethodInitialize:                   p.initialize,
		MethodInitializeAndCheckScanning:   p.initializeAndCheckScanning,
		MethodClose:                        p.close,
		MethodSetScanPeriod:                p.setScanPeriod,
		MethodSetBetweenScanPeriod:         p.setBetweenScanPeriod,
		MethodAuthorizationStatus:          p.authorizationStatus,
		MethodSetLocationAuthorizationType: p.setLocationAuthorizationType,
		MethodRequestAuthorization:         p.requestAuthorization,
		MethodCheckLocationServices:        p.checkLocationServices,
		MethodCheckBluetooth:               p.checkBluetooth,
		MethodBluetoothState:               p.bluetoothState,
		MethodIsBroadcastSupported:         p.isBroadcastSupported,
		MethodStartBroadcast:               p.startBroadcast,
		MethodStopBroadcast:                p.stopBroadcast,
		MethodIsBroadcasting:               p.isBroadcasting,
		MethodOpenBluetoothSettings:        p.openSettings,
		MethodOpenLocationSettings:         p.openSettings,
		MethodOpenApplicationSettings:      p.openSettings,
	}
	p.offLoop = map[string]bool{MethodStartBroadcast: true}
	return p
}

// Methods lists the supported method names, sorted.
func (p *Plugin) Methods() []string {
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Streams lists the stream names, sorted.
func (p *Plugin) Streams() []string {
	names := make([]string, 0, len(p.streams))
	for name := range p.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleMethodCall runs the named method on the main loop and returns its
// single result. Unknown names yield NotImplemented.
func (p *Plugin) HandleMethodCall(ctx context.Context, method string, arguments interface{}) Result {
	start := time.Now()
	log := p.logger.WithField("method", method)

	h, ok := p.handlers[method]
	if !ok {
		log.Debug("Method not implemented")
		p.metrics.ObserveCall(method, metrics.ResultNotImplemented, time.Since(start))
		return NotImplemented()
	}

	var result Result
	if p.offLoop[method] {
		result = h(ctx, arguments)
	} else if err := p.loop.Do(ctx, func() { result = h(ctx, arguments) }); err != nil {
		log.WithError(err).Error("Method call not run")
		result = Failure(CodeBeaconScanner, err.Error(), nil)
	}

	outcome := metrics.ResultSuccess
	if result.IsFailure() {
		outcome = metrics.ResultFailure
		log.WithFields(logrus.Fields{"code": result.Code, "message": result.Message}).Warn("Method call failed")
	} else {
		log.WithField("result", result.Value).Debug("Method call handled")
	}
	p.metrics.ObserveCall(method, outcome, time.Since(start))
	return result
}

// Listen attaches sink to the named stream on the main loop.
func (p *Plugin) Listen(ctx context.Context, stream string, arguments interface{}, sink mainloop.Sink) error {
	h, ok := p.streams[stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	return p.loop.Do(ctx, func() { h.OnListen(arguments, sink) })
}

// Cancel detaches the named stream on the main loop.
func (p *Plugin) Cancel(ctx context.Context, stream string, arguments interface{}) error {
	h, ok := p.streams[stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	return p.loop.Do(ctx, func() { h.OnCancel(arguments) })
}

// Release cancels the named stream only while sink is still the attached one.
// A listener that was taken over releases nothing.
func (p *Plugin) Release(ctx context.Context, stream string, sink mainloop.Sink) error {
	h, ok := p.streams[stream]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	return p.loop.Do(ctx, func() {
		if mainloop.SameSink(h.Attached(), sink) {
			h.OnCancel(nil)
		}
	})
}

// Shutdown ends every stream, stops broadcasting and releases the radio.
func (p *Plugin) Shutdown(ctx context.Context) error {
	err := p.loop.Do(ctx, func() {
		for _, name := range p.Streams() {
			p.streams[name].Stop()
		}
	})
	if err != nil && !errors.Is(err, mainloop.ErrStopped) {
		return err
	}
	return p.manager.Close()
}

// ----------------------------
// Lifecycle
// ----------------------------

func (p *Plugin) initialize(_ context.Context, _ interface{}) Result {
	if missing := p.perms.RequestPermissions(); len(missing) > 0 {
		return Failure(CodeBeaconScanner, "missing permissions: "+strings.Join(missing, ", "), missing)
	}
	if err := p.manager.Bind(); err != nil {
		return Failure(CodeBeaconScanner, err.Error(), nil)
	}
	return Success(true)
}

func (p *Plugin) initializeAndCheckScanning(_ context.Context, _ interface{}) Result {
	p.perms.RequestPermissions()

	switch err := p.perms.CheckScanning(); {
	case errors.Is(err, permission.ErrLocationServicesDisabled):
		return Failure(CodeBeacon, ReasonLocationServicesDisabled, nil)
	case errors.Is(err, permission.ErrPermissionDenied):
		return Failure(CodeBeacon, ReasonPermissionDenied, p.perms.MissingPermissions())
	case errors.Is(err, permission.ErrBluetoothUnavailable):
		return Failure(CodeBeacon, ReasonBluetoothUnavailable, nil)
	}

	if err := p.manager.Bind(); err != nil {
		return Failure(CodeBeacon, ReasonBluetoothUnavailable, err.Error())
	}
	return Success(nil)
}

func (p *Plugin) close(_ context.Context, _ interface{}) Result {
	p.ranging.Stop()
	p.manager.RemoveAllRangeNotifiers()
	p.monitoring.Stop()
	p.manager.RemoveAllMonitorNotifiers()
	return Success(true)
}

// ----------------------------
// Scan periods
// ----------------------------

func (p *Plugin) setScanPeriod(_ context.Context, arguments interface{}) Result {
	ms, err := intArgument(arguments, "scanPeriod")
	if err != nil {
		return Failure(CodeInvalidArgument, err.Error(), nil)
	}
	p.manager.SetScanPeriod(time.Duration(ms) * time.Millisecond)
	return p.updateScanPeriods()
}

func (p *Plugin) setBetweenScanPeriod(_ context.Context, arguments interface{}) Result {
	ms, err := intArgument(arguments, "betweenScanPeriod")
	if err != nil {
		return Failure(CodeInvalidArgument, err.Error(), nil)
	}
	p.manager.SetBetweenScanPeriod(time.Duration(ms) * time.Millisecond)
	return p.updateScanPeriods()
}

func (p *Plugin) updateScanPeriods() Result {
	if err := p.manager.UpdateScanPeriods(); err != nil {
		p.logger.WithError(err).Warn("Scan periods rejected")
		return Success(false)
	}
	return Success(true)
}

// ----------------------------
// Capabilities
// ----------------------------

func (p *Plugin) authorizationStatus(_ context.Context, _ interface{}) Result {
	return Success(string(p.perms.AuthorizationStatus()))
}

func (p *Plugin) setLocationAuthorizationType(_ context.Context, arguments interface{}) Result {
	s, ok := arguments.(string)
	if !ok {
		return Success(false)
	}
	return Success(p.perms.SetAuthorizationType(s))
}

func (p *Plugin) requestAuthorization(_ context.Context, _ interface{}) Result {
	return Success(len(p.perms.RequestPermissions()) == 0)
}

func (p *Plugin) checkLocationServices(_ context.Context, _ interface{}) Result {
	return Success(p.perms.LocationServiceEnabled())
}

func (p *Plugin) checkBluetooth(_ context.Context, _ interface{}) Result {
	return Success(p.perms.BluetoothEnabled())
}

func (p *Plugin) bluetoothState(_ context.Context, _ interface{}) Result {
	return Success(string(p.perms.BluetoothState()))
}

// openSettings accepts the request; there is no settings UI to open.
func (p *Plugin) openSettings(_ context.Context, _ interface{}) Result {
	return Success(true)
}

// ----------------------------
// Broadcast
// ----------------------------

func (p *Plugin) isBroadcastSupported(_ context.Context, _ interface{}) Result {
	return Success(p.perms.BroadcastSupported())
}

func (p *Plugin) startBroadcast(ctx context.Context, arguments interface{}) Result {
	m, ok := arguments.(map[string]interface{})
	if !ok {
		return Failure(CodeBroadcast, "expected a beacon record", nil)
	}
	b, err := beacon.DecodeBeacon(m)
	if err != nil {
		p.metrics.DecodeFailed("beacon")
		return Failure(CodeBroadcast, err.Error(), nil)
	}
	if err := p.manager.Bind(); err != nil {
		return Failure(CodeBroadcast, err.Error(), nil)
	}
	if err := p.manager.StartBroadcast(ctx, b); err != nil {
		return Failure(CodeBroadcast, err.Error(), nil)
	}
	return Success(true)
}

func (p *Plugin) stopBroadcast(_ context.Context, _ interface{}) Result {
	p.manager.StopBroadcast()
	return Success(nil)
}

func (p *Plugin) isBroadcasting(_ context.Context, _ interface{}) Result {
	return Success(p.manager.IsBroadcasting())
}
