package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/wapanel/pkg/wapanel/panel"
	"github.com/jholhewres/wapanel/pkg/wapanel/webui"
)

// newServeCmd creates the `wapanel serve` command that starts the
// daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WhatsApp session and web panel",
		Long: `Start Wapanel as a daemon: connects the WhatsApp session,
serves the web control panel, and processes inbound messages.

Examples:
  wapanel serve
  wapanel serve --config ./config.yaml --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	var cfg *panel.Config
	if configPath != "" {
		loaded, err := panel.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = panel.DefaultConfigFromEnv()
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Build and start the panel ──
	p, err := panel.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	// ── Start the web panel ──
	webServer := webui.NewServer(webui.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, p, logger)
	if err := webServer.Start(ctx); err != nil {
		logger.Error("failed to start web panel", "error", err)
	}

	logger.Info("Wapanel running. Press Ctrl+C to stop.",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		webServer.Stop()
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
