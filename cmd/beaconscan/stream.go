package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/mainloop"
	"github.com/srg/beaconscan/internal/plugin"
	"github.com/srg/beaconscan/internal/relay"
)

// newRangeCmd builds the range command
func newRangeCmd() *cobra.Command {
	return streamFlags(&cobra.Command{
		Use:   "range",
		Short: "Range beacons in one or more regions",
		Long: `Scan for iBeacons matching the given regions and print, every scan cycle,
the beacons seen in each region with their averaged RSSI, proximity and
estimated distance.

Regions are given as identifier:uuid[:major[:minor]], for example:

  beaconscan range --region office:E2C56DB5-DFFB-48D2-B060-D0F5A71096E0:1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, relay.RangingStream)
		},
	})
}

// newMonitorCmd builds the monitor command
func newMonitorCmd() *cobra.Command {
	return streamFlags(&cobra.Command{
		Use:   "monitor",
		Short: "Monitor region entry and exit",
		Long: `Watch the given regions and print a line each time one is entered or
exited, plus the determined inside/outside state.

Regions are given as identifier:uuid[:major[:minor]].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, relay.MonitoringStream)
		},
	})
}

func streamFlags(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().StringSliceP("region", "r", nil, "Region identifier:uuid[:major[:minor]] (repeatable)")
	cmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 for until interrupted)")
	cmd.Flags().StringP("format", "f", "", "Output format (auto, table, json)")
	cmd.Flags().Duration("scan-period", 0, "Scan period override")
	return cmd
}

func runStream(cmd *cobra.Command, stream string) error {
	regionValues, _ := cmd.Flags().GetStringSlice("region")
	regions, err := regionArguments(regionValues)
	if err != nil {
		return err
	}

	cfg, configLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scanPeriod, _ := cmd.Flags().GetDuration("scan-period"); scanPeriod > 0 {
		cfg.ScanPeriod = scanPeriod
	}
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := resolveFormat(formatFlag, cfg.OutputFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	duration, _ := cmd.Flags().GetDuration("duration")

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	rt, err := newRuntime(ctx, cmd, cfg, configLevel)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.call(ctx, plugin.MethodInitializeAndCheckScanning, nil); err != nil {
		return err
	}

	printer := newEventPrinter(cmd.OutOrStdout(), format)
	onEvent := printer.ranging
	method := "listen ranging"
	if stream == relay.MonitoringStream {
		onEvent = printer.monitoring
		method = "listen monitoring"
	}

	// Errors delivered while Listen is still running reject the subscription;
	// later ones are scan failures the platform retries.
	var subscribed atomic.Bool
	rejected := make(chan error, 1)
	ended := make(chan struct{})
	var endOnce sync.Once

	sink := mainloop.SinkFunc{
		OnSuccess: onEvent,
		OnError: func(code, message string, _ interface{}) {
			if !subscribed.Load() {
				select {
				case rejected <- &MethodError{Method: method, Code: code, Message: message}:
				default:
				}
				return
			}
			rt.logger.WithField("code", code).Warn(message)
			printer.streamError(code, message)
		},
		OnEnd: func() { endOnce.Do(func() { close(ended) }) },
	}

	if err := rt.plugin.Listen(ctx, stream, regions, sink); err != nil {
		return err
	}
	subscribed.Store(true)

	select {
	case err := <-rejected:
		return err
	default:
	}

	select {
	case <-ctx.Done():
	case <-ended:
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rt.plugin.Cancel(cancelCtx, stream, nil); err != nil {
		rt.logger.WithError(err).Debug("Stream cancel failed")
	}
	return nil
}
