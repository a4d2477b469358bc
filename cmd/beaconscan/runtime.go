package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/devicefactory"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/metrics"
	"github.com/srg/beaconscan/internal/permission"
	"github.com/srg/beaconscan/internal/platform"
	"github.com/srg/beaconscan/internal/plugin"
	"github.com/srg/beaconscan/pkg/config"
)

// newProbe reads radio and privilege state. Tests replace it.
var newProbe = permission.NewHostProbe

// runtime is one assembled plugin: main loop, beacon platform, permission
// helper and metrics.
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	loop    *mainloop.Loop
	metrics *metrics.Collector
	perms   *permission.Helper
	plugin  *plugin.Plugin
}

// loadConfig returns the defaults, or the --config file over them. The second
// result is the file's log level, empty without a file.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, cfg.LogLevel, nil
}

func newRuntime(ctx context.Context, cmd *cobra.Command, cfg *config.Config, configLevel string) (*runtime, error) {
	logger, err := configureLogger(cmd, configLevel)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	// The loop outlives ctx; close stops it.
	loop := mainloop.New(cfg.LoopCapacity, logger)
	loop.Start(context.WithoutCancel(ctx))

	opts := platform.DefaultOptions()
	opts.ScanPeriod = cfg.ScanPeriod
	opts.BetweenScanPeriod = cfg.BetweenScanPeriod
	opts.RegionExitPeriod = cfg.RegionExitPeriod
	opts.DeviceFactory = devicefactory.Open
	opts.Logger = logger

	perms := permission.New(newProbe(), logger)
	perms.SetAuthorizationType(cfg.AuthorizationType)

	p := plugin.New(plugin.Options{
		Loop:              loop,
		Manager:           platform.NewBeaconManager(opts),
		Permissions:       perms,
		Metrics:           collector,
		Logger:            logger,
		StatePollInterval: cfg.StatePollInterval,
	})

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		loop:    loop,
		metrics: collector,
		perms:   perms,
		plugin:  p,
	}, nil
}

// call runs a plugin method and turns a failure into a *MethodError.
func (rt *runtime) call(ctx context.Context, method string, arguments interface{}) (interface{}, error) {
	result := rt.plugin.HandleMethodCall(ctx, method, arguments)
	switch {
	case result.IsFailure():
		return nil, &MethodError{Method: method, Code: result.Code, Message: result.Message}
	case result.IsNotImplemented():
		return nil, &MethodError{Method: method, Code: "not_implemented", Message: "method not implemented"}
	default:
		return result.Value, nil
	}
}

// close ends every stream, releases the radio and stops the loop.
func (rt *runtime) close() {
	if err := rt.plugin.Shutdown(context.Background()); err != nil && !errors.Is(err, mainloop.ErrStopped) {
		rt.logger.WithError(err).Warn("Plugin shutdown failed")
	}
	rt.loop.Stop()
}

// parseRegion parses "identifier:proximityUUID[:major[:minor]]" into the
// region record the plugin accepts.
func parseRegion(s string) (map[string]interface{}, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return nil, fmt.Errorf("%w %q: want identifier:uuid[:major[:minor]]", ErrInvalidRegion, s)
	}

	id := strings.TrimSpace(parts[0])
	if id == "" {
		return nil, fmt.Errorf("%w %q: empty identifier", ErrInvalidRegion, s)
	}
	u, err := uuid.Parse(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidRegion, s, err)
	}

	rec := beacon.Record{
		"identifier":    id,
		"proximityUUID": strings.ToUpper(u.String()),
	}
	for i, field := range []string{"major", "minor"} {
		if len(parts) <= i+2 {
			break
		}
		n, err := strconv.ParseUint(strings.TrimSpace(parts[i+2]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %s: %v", ErrInvalidRegion, s, field, err)
		}
		rec[field] = int(n)
	}
	return rec, nil
}

// regionArguments builds the listen arguments for the --region values.
func regionArguments(values []string) ([]interface{}, error) {
	if len(values) == 0 {
		return nil, ErrNoRegions
	}
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		rec, err := parseRegion(v)
		if err != nil {
			return nil, err
		}
		args = append(args, rec)
	}
	return args, nil
}
