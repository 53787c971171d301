package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firstprinciplecode/uplink-sub001/internal/config"
	"github.com/firstprinciplecode/uplink-sub001/internal/relaysvc"
	"github.com/firstprinciplecode/uplink-sub001/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: redactSecrets,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var tpShutdown func(context.Context) error
	if !telemetry.Disabled() {
		tpShutdown, err = telemetry.InitTracer("uplink-relay")
		if err != nil {
			slog.Error("failed to init telemetry, continuing without tracing", "error", err)
		}
	}

	relay := relaysvc.New(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("relay starting",
		"ingressPort", cfg.IngressPort,
		"controlPort", cfg.ControlPort,
		"tunnelDomain", cfg.TunnelDomain,
		"aliasDomain", cfg.AliasDomain,
		"validateTokens", cfg.ValidateTokens,
	)

	runErr := relay.Run(ctx)

	if tpShutdown != nil {
		shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
		if err := tpShutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down telemetry", "error", err)
		}
		shutdownCancel()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("relay exited with error", "error", runErr)
		os.Exit(1)
	}

	slog.Info("relay exiting")
}

// redactSecrets implements §7's redaction policy: any attribute whose key
// contains one of the sensitive substrings is replaced before it reaches the
// log sink.
func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, needle := range []string{"secret", "token", "password", "authorization"} {
		if strings.Contains(key, needle) {
			a.Value = slog.StringValue("***")
			return a
		}
	}
	return a
}
