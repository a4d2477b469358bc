package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/beacon"
	"github.com/srg/beaconscan/internal/plugin"
)

// newBroadcastCmd builds the broadcast command
func newBroadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Advertise this machine as an iBeacon",
		Long: `Transmit an iBeacon advertisement with the given proximity UUID, major,
minor and calibrated 1 m power until interrupted or --duration elapses.`,
		RunE: runBroadcast,
	}

	cmd.Flags().String("uuid", "", "Proximity UUID (required)")
	cmd.Flags().Uint16("major", 0, "Major value")
	cmd.Flags().Uint16("minor", 0, "Minor value")
	cmd.Flags().Int8("tx-power", beacon.DefaultTxPower, "Measured power at 1 m (dBm)")
	cmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 for until interrupted)")
	_ = cmd.MarkFlagRequired("uuid")
	return cmd
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	rawUUID, _ := cmd.Flags().GetString("uuid")
	u, err := uuid.Parse(rawUUID)
	if err != nil {
		return fmt.Errorf("invalid --uuid %q: %w", rawUUID, err)
	}
	major, _ := cmd.Flags().GetUint16("major")
	minor, _ := cmd.Flags().GetUint16("minor")
	txPower, _ := cmd.Flags().GetInt8("tx-power")
	duration, _ := cmd.Flags().GetDuration("duration")

	cfg, configLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}

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

	supported, err := rt.call(ctx, plugin.MethodIsBroadcastSupported, nil)
	if err != nil {
		return err
	}
	if supported != true {
		return &MethodError{Method: plugin.MethodStartBroadcast, Code: plugin.CodeBroadcast, Message: "broadcasting is not supported here"}
	}

	record := beacon.Record{
		"proximityUUID": strings.ToUpper(u.String()),
		"major":         int(major),
		"minor":         int(minor),
		"txPower":       int(txPower),
	}
	if _, err := rt.call(ctx, plugin.MethodStartBroadcast, record); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Broadcasting iBeacon %s major=%d minor=%d txPower=%d dBm (Ctrl+C to stop)\n",
		record["proximityUUID"], major, minor, txPower)
	<-ctx.Done()

	if _, err := rt.call(context.Background(), plugin.MethodStopBroadcast, nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Broadcast stopped")
	return nil
}
