package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/content-runs/internal/config"
	"github.com/jonathan/content-runs/internal/llm"
	"github.com/jonathan/content-runs/internal/poller"
	"github.com/jonathan/content-runs/internal/realtime"
	"github.com/jonathan/content-runs/internal/scoring"
	"github.com/jonathan/content-runs/internal/server"
	"github.com/jonathan/content-runs/internal/server/ratelimit"
	"github.com/jonathan/content-runs/internal/stages"
	"github.com/jonathan/content-runs/internal/tracking"
	"github.com/spf13/cobra"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes run tracking, stage ingestion and realtime event streams.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply the schema before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	passwords, err := config.NewPasswordConfig()
	if err != nil {
		return err
	}

	catalog, err := stages.Load(cfg.Stages.CatalogPath)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if serveMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	hub := realtime.NewHub()
	defer hub.Close()

	var publisher tracking.Notifier = hub
	if cfg.Relay.RedisURL != "" {
		broker, err := realtime.NewRedisBroker(ctx, cfg.Relay.RedisURL, cfg.Relay.Prefix, hub)
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				log.Printf("[relay] failed to close redis broker: %v", err)
			}
		}()
		publisher = broker
		log.Printf("[relay] fanning out through redis")
	}

	tracker := tracking.New(store,
		tracking.WithNotifier(publisher),
		tracking.WithTotalStages(catalog.Total()),
		tracking.WithPublishTimeout(cfg.Relay.PublishTimeout.Duration),
	)

	var manager *poller.Manager
	if cfg.PollingEnabled() {
		client := poller.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey, cfg.Engine.Timeout.Duration)
		manager = poller.NewManager(client, tracker, store, catalog, poller.Options{
			Interval:      cfg.Poller.Interval.Duration,
			MaxAttempts:   cfg.Poller.MaxAttempts,
			MaxFailures:   cfg.Poller.MaxFailures,
			ReportRetries: cfg.Poller.ReportRetries,
		})
		tracker.SetPollers(manager)
	} else {
		log.Printf("[poller] engine base URL or API key not set, execution polling disabled")
	}

	var scorer server.Scorer
	if cfg.LLM.APIKey != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		scorer = scoring.New(client)
	} else {
		log.Printf("[scoring] GEMINI_API_KEY not set, content scoring disabled")
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WebhookSecret:  cfg.WebhookSecret,
		PublishTimeout: cfg.Relay.PublishTimeout.Duration,
		RateLimit:      ratelimit.LoadConfig(),
	}, server.Deps{
		Store:     store,
		Tracker:   tracker,
		Relay:     hub,
		Publisher: publisher,
		Scorer:    scorer,
		JWT:       jwtCfg,
		Passwords: passwords,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	runErr := srv.Run(ctx)

	if manager != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Printf("[poller] shutdown did not complete: %v", err)
		}
	}
	return runErr
}
