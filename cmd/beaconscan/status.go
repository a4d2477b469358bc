package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/plugin"
)

// newStatusCmd builds the status command
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report radio, privilege and authorization status",
		Long: `Print what the plugin would answer to the host's capability queries:
adapter state, authorization status, missing privileges and whether
broadcasting is possible.`,
		RunE: runStatus,
	}

	cmd.Flags().StringP("format", "f", "", "Output format (auto, table, json)")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, configLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := resolveFormat(formatFlag, cfg.OutputFormat, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cmd, cfg, configLevel)
	if err != nil {
		return err
	}
	defer rt.close()

	queries := []struct {
		name   string
		method string
	}{
		{"bluetooth_state", plugin.MethodBluetoothState},
		{"bluetooth_enabled", plugin.MethodCheckBluetooth},
		{"location_services", plugin.MethodCheckLocationServices},
		{"authorization_status", plugin.MethodAuthorizationStatus},
		{"broadcast_supported", plugin.MethodIsBroadcastSupported},
	}

	rows := make([]statusRow, 0, len(queries)+1)
	for _, q := range queries {
		value, err := rt.call(ctx, q.method, nil)
		if err != nil {
			return err
		}
		rows = append(rows, statusRow{Name: q.name, Value: value})
	}
	missing := rt.perms.MissingPermissions()
	if missing == nil {
		missing = []string{}
	}
	rows = append(rows, statusRow{Name: "missing_permissions", Value: missing})

	return printStatus(cmd.OutOrStdout(), format, rows)
}
