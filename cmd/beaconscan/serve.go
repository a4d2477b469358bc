package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/beaconscan/internal/channel"
	"github.com/srg/beaconscan/internal/groutine"
	"github.com/srg/beaconscan/internal/metrics"
)

// newServeCmd builds the serve command
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plugin to a host application",
		Long: `Run the beacon scanner plugin and exchange newline-delimited JSON with a
host application: method calls and stream subscriptions in, replies and
stream events out.

By default the session runs over stdin/stdout. Use --socket to accept host
connections on a unix socket, or --pty to create a pseudo-terminal whose path
is printed on start.`,
		RunE: runServe,
	}

	cmd.Flags().String("socket", "", "Unix socket path to listen on")
	cmd.Flags().Bool("pty", false, "Serve over a new pseudo-terminal")
	cmd.Flags().String("metrics-addr", "", "Address for the Prometheus /metrics endpoint, e.g. :9090")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, configLevel, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("socket") {
		cfg.SocketPath, _ = cmd.Flags().GetString("socket")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	usePTY, _ := cmd.Flags().GetBool("pty")
	if usePTY && cfg.SocketPath != "" {
		return errors.New("--pty and --socket are mutually exclusive")
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cmd, cfg, configLevel)
	if err != nil {
		return err
	}
	defer rt.close()

	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(ctx, cfg.MetricsAddr, rt.metrics, rt.logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	server := channel.NewServer(rt.plugin, channel.Options{
		OutboxCapacity: cfg.OutboxCapacity,
		Metrics:        rt.metrics,
		Logger:         rt.logger,
	})

	switch {
	case cfg.SocketPath != "":
		ln, err := listenUnix(cfg.SocketPath)
		if err != nil {
			return err
		}
		defer os.Remove(cfg.SocketPath)
		rt.logger.WithField("socket", cfg.SocketPath).Info("Serving host connections")
		return server.ServeListener(ctx, ln)

	case usePTY:
		p, err := channel.OpenPTY(0, rt.logger)
		if err != nil {
			return err
		}
		defer p.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "PTY: %s\n", p.TTYName())
		return server.Serve(ctx, p, p)

	default:
		return server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}
}

// listenUnix listens on path, replacing a stale socket left by an earlier run.
// Any other file at path is an error.
func listenUnix(path string) (net.Listener, error) {
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path %s exists and is not a socket", path)
		}
		if conn, err := net.Dial("unix", path); err == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("socket %s is in use by another process", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return ln, nil
}

// serveMetrics exposes /metrics on addr until the returned shutdown is called.
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger *logrus.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on metrics address %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	groutine.Go(ctx, "metrics-http", func(ctx context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})
	logger.WithField("addr", ln.Addr().String()).Info("Serving metrics")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Metrics server shutdown failed")
		}
	}, nil
}
