// Command murmur is the push-to-talk dictation daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/api"
	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/mcp"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/tui"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (default <user config dir>/murmur/config.yaml)")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve the MCP tools over stdin/stdout and nothing else")
	noTUI := flag.Bool("no-tui", false, "run headless; control murmur through the HTTP API")
	flag.Parse()

	dataDir, err := config.DataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		return 1
	}
	if *configPath == "" {
		*configPath = filepath.Join(dataDir, "config.yaml")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "murmur: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The TUI owns stdout, so logs always go to stderr.
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("murmur starting",
		"version", version,
		"config", *configPath,
		"data_dir", dataDir,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Telemetry.ServiceName,
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio backend ─────────────────────────────────────────────────────────
	// Stdio MCP mode never records, so it does not touch the sound system.
	opts := []app.Option{app.WithLogLevel(levelVar)}
	if !*mcpStdio {
		pa, err := capture.NewPortAudio()
		if err != nil {
			slog.Warn("audio capture unavailable, recording disabled", "err", err)
		} else {
			defer func() {
				if err := pa.Close(); err != nil {
					slog.Warn("portaudio close error", "err", err)
				}
			}()
			opts = append(opts, app.WithBackend(pa))
		}
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	mcpServer, err := mcp.New(mcp.Deps{
		Transcriber: application.Orchestrator(),
		Dictionary:  application.Dictionary(),
		History:     application.History(),
	}, version)
	if err != nil {
		slog.Error("failed to create mcp server", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	if *mcpStdio {
		return runStdio(ctx, application, mcpServer)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, err := os.Stat(*configPath); err == nil {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig,
			config.WithPrepare(func(c *config.Config) { c.ResolvePaths(dataDir) }),
		)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	var srv *http.Server
	if cfg.Server.APIEnabled {
		srv, err = newAPIServer(cfg, application, mcpServer, telemetry.MetricsHandler())
		if err != nil {
			slog.Error("failed to create http api", "err", err)
			_ = application.Shutdown(context.Background())
			return 1
		}
	}

	printStartupSummary(cfg, *noTUI)

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return ignoreCanceled(application.Run(gctx)) })

	if srv != nil {
		g.Go(func() error {
			slog.Info("http api listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if !*noTUI {
		g.Go(func() error {
			// Quitting the TUI ends the whole process.
			defer cancelRun()
			return tui.Run(gctx, application, application.Bus())
		})
	} else {
		slog.Info("murmur ready, press Ctrl+C to shut down")
	}

	exit := 0
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}

// loadConfig reads path, falling back to defaults when the file does not
// exist, and resolves data file locations under dataDir.
func loadConfig(path, dataDir string) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
	case err != nil:
		return nil, err
	}
	cfg.ResolvePaths(dataDir)
	return cfg, nil
}

func runStdio(ctx context.Context, application *app.App, srv *mcp.Server) int {
	exit := 0
	if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp stdio error", "err", err)
		exit = 1
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	return exit
}

func newAPIServer(cfg *config.Config, application *app.App, mcpServer *mcp.Server, metrics http.Handler) (*http.Server, error) {
	checks := health.New(
		health.EngineLoaded(application.Engine()),
		health.Ping("history", application.History()),
	)
	s, err := api.New(api.Deps{
		Controller:  application,
		Transcriber: application.Orchestrator(),
		Dictionary:  application.Dictionary(),
		History:     application.History(),
		Bus:         application.Bus(),
		Health:      checks,
		MCP:         mcpServer.HTTPHandler(),
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}
	return api.NewHTTPServer(cfg.Server.ListenAddr, s.Handler()), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, headless bool) {
	// With the TUI up, stderr is hidden behind the alternate screen.
	if !headless {
		return
	}
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║          murmur, startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	llmName := cfg.Providers.LLM.Name
	if !cfg.LLM.Enabled {
		llmName = ""
	}
	printProvider("LLM", llmName, cfg.Providers.LLM.Model)
	printRow("History", cfg.History.Backend)
	printRow("Rules", fmt.Sprint(len(cfg.Format.Rules)))
	if cfg.Archive.S3.Enabled() {
		printRow("Archive", "s3://"+cfg.Archive.S3.Bucket)
	} else {
		printRow("Archive", "(disabled)")
	}
	if cfg.Server.APIEnabled {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(api disabled)")
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + filepath.Base(model)
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", key, value)
}

// reloadOnHangup re-reads the config file on SIGHUP without waiting for the
// next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}
