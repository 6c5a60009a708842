package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldops/fieldlink/internal/client"
	"github.com/fieldops/fieldlink/internal/config"
	"github.com/fieldops/fieldlink/internal/logging"
	"github.com/fieldops/fieldlink/internal/protocol"
	"github.com/fieldops/fieldlink/internal/sensor"
	"github.com/fieldops/fieldlink/internal/telemetry"
	"github.com/fieldops/fieldlink/internal/transport"
	"github.com/fieldops/fieldlink/internal/ui"
)

var flags config.Flags

func init() {
	f := connectCmd.Flags()
	f.StringVar(&flags.URL, "url", "", "WebSocket URL (e.g. wss://dispatch.example.com/ws)")
	f.StringVar(&flags.Token, "token", "", "Bearer token for the session")
	f.StringVar(&flags.SubjectID, "subject", "", "Subject id the session belongs to")
	f.StringVar(&flags.Role, "role", "", "Role announced when joining (default: technician)")
	f.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	f.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.IntVar(&flags.MaxAttempts, "max-attempts", 0, "Give up after this many reconnect attempts (default: 10)")
	rootCmd.AddCommand(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open a session and stay connected until interrupted",
	Long: `Establishes the WebSocket session and keeps it alive. The connection
reconnects with exponential backoff when interrupted, pauses its heartbeat
while the job is in the background, and retries immediately when the network
comes back.

Exits with a non-zero status if the credential is rejected or reconnecting
gives up, and with zero when the server ends the session or on Ctrl-C.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ui.Banner(version)

		cfg, err := config.Load(flags)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer log.Sync()

		dialer, err := transport.NewDialer(cfg.URL, cfg.Supervisor.HandshakeTimeout, log.Named("transport"))
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		probe, err := sensor.NetworkProbe(cfg.URL)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		fmt.Fprintln(os.Stderr)
		ui.KeyValue("Endpoint", cfg.URL)
		ui.KeyValue("Subject", fmt.Sprintf("%s (%s)", cfg.SubjectID, cfg.Role))
		if cfg.MetricsAddr != "" {
			ui.KeyValue("Metrics", cfg.MetricsAddr)
		}
		ui.Separator()

		sup := client.New(cfg.Supervisor, dialer, client.WithLogger(log.Named("supervisor")))

		finished := make(chan error, 1)
		sup.OnLifecycle(func(ev client.LifecycleEvent) {
			printLifecycle(ev)
			if ev.State != client.StateDisconnected || ev.Err == nil {
				return
			}
			var outcome error
			if !errors.Is(ev.Err, client.ErrSessionClosed) {
				outcome = ev.Err
			}
			select {
			case finished <- outcome:
			default:
			}
		})
		subscribeEvents(sup)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.MetricsAddr != "" {
			srv := telemetry.NewServer(cfg.MetricsAddr, telemetry.NewRegistry(sup), log.Named("metrics"))
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					log.Warn("metrics server shutdown", zap.Error(err))
				}
			}()
		}

		sens := sensor.New(sup, cfg.Sensor,
			sensor.WithLogger(log.Named("sensor")),
			sensor.WithNetworkProbe(probe),
		)
		go sens.Run(ctx)

		sup.Connect(client.Identity{SubjectID: cfg.SubjectID, Role: cfg.Role, Token: cfg.Token})

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			ui.Warn("Shutting down...")
			sup.Disconnect()
			return nil
		case err := <-finished:
			sup.Disconnect()
			return err
		}
	},
}

func printLifecycle(ev client.LifecycleEvent) {
	if ev.Prev == ev.State {
		if ev.Err != nil {
			ui.Warn("%v", ev.Err)
		}
		return
	}
	switch ev.State {
	case client.StateConnecting:
		ui.Info("Connecting...")
	case client.StateConnected:
		ui.Success("Connected")
	case client.StateReconnecting:
		switch {
		case ev.Err != nil && ev.Prev == client.StateConnected:
			ui.Warn("Connection lost: %v", ev.Err)
		case ev.Err != nil:
			ui.Warn("Attempt failed: %v", ev.Err)
		}
		ui.Info("Reconnecting...")
	case client.StateDisconnected:
		switch {
		case errors.Is(ev.Err, client.ErrSessionClosed):
			ui.Info("Session ended by server")
		case ev.Err != nil:
			ui.Error("Disconnected: %v", ev.Err)
		default:
			ui.Info("Disconnected")
		}
	case client.StateClosed:
		ui.Info("Closed")
	}
}

func subscribeEvents(sup *client.Supervisor) {
	sup.On(protocol.KindTicketUpdated, func(ev protocol.Event) {
		e := ev.(protocol.TicketUpdated)
		detail := fmt.Sprintf("%s → %s", e.TicketID, e.Status)
		if e.AssignedTo != "" {
			detail += ui.Dim(" assigned to " + e.AssignedTo)
		}
		ui.Event(string(e.Kind()), detail)
	})
	sup.On(protocol.KindInventoryUpdated, func(ev protocol.Event) {
		e := ev.(protocol.InventoryUpdated)
		detail := fmt.Sprintf("%s qty %d", e.ItemID, e.Quantity)
		if e.Location != "" {
			detail += ui.Dim(" @ " + e.Location)
		}
		ui.Event(string(e.Kind()), detail)
	})
	sup.On(protocol.KindSystemNotification, func(ev protocol.Event) {
		e := ev.(protocol.SystemNotification)
		msg := e.Message
		if e.Title != "" {
			msg = e.Title + ": " + msg
		}
		ui.Event(string(e.Kind()), fmt.Sprintf("[%s] %s", e.Level, msg))
	})
	sup.On(protocol.KindUnknown, func(ev protocol.Event) {
		e := ev.(protocol.Unknown)
		ui.Event(e.Type, ui.Dim(fmt.Sprintf("%d bytes", len(e.Payload))))
	})
}
