package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/dashwire/internal/httpserver"
	"github.com/tinytelemetry/dashwire/internal/logging"
	"github.com/tinytelemetry/dashwire/internal/metrics"
	"github.com/tinytelemetry/dashwire/pkg/eventing"
	"github.com/tinytelemetry/dashwire/pkg/socketrpc"
)

// runServer runs the relay until SIGINT or SIGTERM.
func runServer(cfg relayConfig) error {
	logOut, closeLog := logging.RuntimeFile("relay.log")
	defer closeLog()
	logger := logging.New(logOut, logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	bus := eventing.NewLocalBus()

	var m *metrics.Relay
	sockOpts := []socketrpc.ServerOption{socketrpc.WithServerLogger(logger)}
	if cfg.MetricsEnabled {
		m = metrics.New()
		sockOpts = append(sockOpts, socketrpc.WithHooks(m.SocketHooks()))
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, bus, sockOpts...)
	if err := sockServer.Start(); err != nil {
		return fmt.Errorf("failed to start socket server: %w", err)
	}
	defer sockServer.Stop()

	// Start HTTP API server if enabled
	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(httpserver.Config{
			Addr:         cfg.APIAddr,
			PublishRate:  cfg.PublishRate,
			PublishBurst: cfg.PublishBurst,
			Metrics:      m,
			Logger:       logger,
		}, bus, sockServer)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	printStartupBanner(cfg)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.StatsInterval > 0 {
		g.Go(func() error {
			logStats(gctx, logger, cfg.StatsInterval, bus, sockServer)
			return nil
		})
	}

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: errgroup exited with error", "error", err)
	}

	signal.Stop(sigCh)
	return nil
}

// logStats periodically logs bus occupancy.
func logStats(ctx context.Context, logger *slog.Logger, every time.Duration, bus *eventing.LocalBus, sock *socketrpc.Server) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			logger.Info("relay: stats", "channels", len(bus.Channels()), "socket_peers", sock.Peers())
		}
	}
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg relayConfig) {
	fmt.Println(renderBanner(cfg))
}

func renderBanner(cfg relayConfig) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╔═╗╦ ╦╦ ╦╦╦═╗╔═╗
     ║║╠═╣╚═╗╠═╣║║║║╠╦╝║╣
    ═╩╝╩ ╩╚═╝╩ ╩╚╩╝╩╩╚═╚═╝`)

	var lines []string
	lines = append(lines, "")
	lines = append(lines, logo)
	lines = append(lines, "    "+dim.Render("v"+version+" relay"))
	lines = append(lines, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Bus"))
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("    %s  Unix Socket    %s", check, cyan.Render(shortenPath(cfg.SocketPath))))
	if cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render(cfg.APIAddr)))
		lines = append(lines, fmt.Sprintf("    %s  Websocket      %s", check, cyan.Render(cfg.APIAddr+"/api/ws")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"))
	lines = append(lines, "")
	if cfg.PublishRate > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Rate Limit     %s", check, dim.Render(fmt.Sprintf("%g/s burst %d", cfg.PublishRate, cfg.PublishBurst))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Rate Limit     %s", dot, dim.Render("disabled")))
	}
	if cfg.MetricsEnabled && cfg.APIEnabled {
		lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", check, dim.Render("/metrics")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", dot, dim.Render("disabled")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"))
	lines = append(lines, "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"))
	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
