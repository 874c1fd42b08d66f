package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"workshop-deck/internal/handlers"
	"workshop-deck/internal/persistence"
	"workshop-deck/internal/services"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:   "workshop-server",
	Short: "Interactive workshop deck server",
	Long: `Serves an interactive slide deck with per-participant progress,
durable persistence (SQLite with a JSON file fallback), live sync over
WebSocket and a Gemini-backed workshop assistant.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	// Initialize services
	queue := persistence.NewSaveQueue(a.gateway, logger)
	defer queue.Close()

	hub := services.NewWebSocketService(logger)
	engagement := services.NewEngagementTracker(logger)
	store := services.NewPresentationStore(queue, a.gateway, logger,
		services.WithNotifier(hub),
		services.WithEngagement(engagement))
	hub.SetController(store)

	store.Initialize(a.slides)
	store.Restore(ctx)

	interval, err := cfg.AutosaveInterval()
	if err != nil {
		return err
	}
	autosave := services.NewAutosaver(store, interval, logger)
	store.AttachAutosave(autosave)
	autosave.Start()
	defer store.Teardown()

	var generator services.Generator
	if gemini, err := services.NewGeminiGenerator(ctx, cfg.Assistant.APIKey, cfg.Assistant.Model); err != nil {
		logger.Warn("Workshop assistant disabled", zap.Error(err))
	} else {
		generator = gemini
	}
	assistant := services.NewAssistantService(generator, store, cfg.Assistant, logger,
		services.WithEngagementTracker(engagement))

	// Initialize handlers
	var clickerHandler *handlers.ClickerHandler
	if a.database != nil {
		clickerHandler = handlers.NewClickerHandler(services.NewClickerService(a.database, store, logger), logger)
	} else {
		logger.Info("Clicker registry unavailable without the primary store")
	}

	router := handlers.SetupRoutes(handlers.Router{
		Presentation: handlers.NewPresentationHandler(store, a.gateway, logger),
		Assistant:    handlers.NewAssistantHandler(assistant),
		Clicker:      clickerHandler,
		WebSocket:    handlers.NewWebSocketHandler(hub, logger),
		StaticDir:    cfg.Server.StaticDir,
		Health: func() map[string]any {
			return map[string]any{
				"storage":   string(a.gateway.Mode()),
				"clients":   hub.ClientCount(),
				"slides":    len(a.slides),
				"assistant": assistant.Available(),
			}
		},
		Logger: logger,
	})

	// Configure server
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		var err error
		if cfg.TLS.Enabled {
			server.TLSConfig = &tls.Config{
				MinVersion: getTLSVersion(cfg.TLS.MinVersion),
			}
			logger.Info("Starting HTTPS server",
				zap.String("addr", server.Addr),
				zap.String("certFile", cfg.TLS.CertFile),
				zap.String("keyFile", cfg.TLS.KeyFile),
				zap.String("minVersion", cfg.TLS.MinVersion))
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
			logger.Warn("HTTP mode is not recommended for production")
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// getTLSVersion converts string version to tls.Version constant
func getTLSVersion(version string) uint16 {
	switch version {
	case "1.0":
		return tls.VersionTLS10
	case "1.1":
		return tls.VersionTLS11
	case "1.2":
		return tls.VersionTLS12
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}
