package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scanper/liff-dashboard/internal/api/v1/handler"
	"github.com/scanper/liff-dashboard/internal/api/v1/router"
	"github.com/scanper/liff-dashboard/internal/config"
	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/liff"
	"github.com/scanper/liff-dashboard/internal/logger"
	"github.com/scanper/liff-dashboard/internal/pubsub"
	"github.com/scanper/liff-dashboard/internal/scanper"
	"github.com/scanper/liff-dashboard/internal/secrets"
	"github.com/scanper/liff-dashboard/internal/tokenstore"
)

// Version is set at build time with -ldflags.
var Version = "dev"

const sweepInterval = time.Minute

var rootCmd = &cobra.Command{
	Use:          "scanper-liff",
	Short:        "ScanPer LINE Mini-App dashboard",
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("scanper-liff %s\n", Version)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load configuration, resolve secrets and validate them",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := bootLogger()
		cfg, err := loadConfig(cmd.Context(), log)
		if err != nil {
			return err
		}
		fmt.Printf("configuration OK (env=%s, liff=%s, api=%s)\n", cfg.Environment, cfg.LIFFID, cfg.APIURL)
		return nil
	},
}

var setupPubSubCmd = &cobra.Command{
	Use:   "setup-pubsub",
	Short: "Create the payment event topic, dead-letter topic and pull subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := bootLogger()
		cfg, err := loadConfig(cmd.Context(), log)
		if err != nil {
			return err
		}
		if cfg.PubSubPaymentTopic == "" {
			return errors.New("PUBSUB_PAYMENT_TOPIC is not set")
		}
		if cfg.PubSubEmulatorHost != "" {
			log.Info().Str("emulator", cfg.PubSubEmulatorHost).Msg("Using Pub/Sub emulator")
		}

		publisher, err := pubsub.NewPublisher(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer publisher.Close()

		names, err := publisher.EnsureTopic(cmd.Context(), cfg.PubSubPaymentTopic, log)
		if err != nil {
			return err
		}
		fmt.Printf("topic=%s dead_letter=%s subscription=%s\n", names.Topic, names.DeadLetter, names.Subscription)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(setupPubSubCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func bootLogger() zerolog.Logger {
	log := logger.New(os.Getenv("ENV"), "info")
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: no .env file found")
	}
	return log
}

// loadConfig reads the environment, pulls named secrets from Secret Manager
// and validates the result.
func loadConfig(ctx context.Context, log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if secrets.Needed(cfg) {
		resolver, err := secrets.NewResolver(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer resolver.Close()
		if err := secrets.Resolve(ctx, cfg, resolver, log); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer(ctx context.Context) error {
	// 1. Load configuration
	cfg, err := loadConfig(ctx, bootLogger())
	if err != nil {
		return err
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Token store
	var tokens tokenstore.Store
	if cfg.RedisURL != "" {
		rs, err := tokenstore.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer rs.Close()
		tokens = rs
		log.Info().Msg("Using Redis token store")
	} else {
		tokens = tokenstore.NewMemoryStore()
		log.Warn().Msg("REDIS_URL not set, logins are kept in memory and lost on restart")
	}

	// 3. Payment events
	var events pubsub.EventSink = pubsub.NopSink{}
	if cfg.PubSubPaymentTopic != "" {
		publisher, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = pubsub.NewTopicSink(publisher, cfg.PubSubPaymentTopic, log)
		log.Info().Str("topic", cfg.PubSubPaymentTopic).Msg("Publishing payment events")
	}

	// 4. LINE Login and the ScanPer API
	provider := liff.NewProvider(liff.Options{
		LIFFID:        cfg.LIFFID,
		ChannelSecret: cfg.LINEChannelSecret,
		RedirectURL:   cfg.RedirectURL(),
	}, log)
	if err := provider.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("LINE Login discovery failed, retrying on first use")
	}
	api := scanper.NewClient(cfg.APIURL, cfg.HTTPTimeout, log)

	registry := dashboard.NewRegistry(cfg.DashboardIdleTTL, log)
	registryDone := make(chan struct{})
	go func() {
		defer close(registryDone)
		registry.Run(ctx, sweepInterval)
	}()

	// 5. Router
	r, err := router.New(cfg, router.Deps{
		Provider: provider,
		Bind: func(sessionID, userAgent string) handler.Identity {
			return provider.Bind(tokens, sessionID, userAgent, cfg.SessionTTL)
		},
		API:      api,
		Events:   events,
		Registry: registry,
	}, log)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	// 6. HTTP server. A page render may chain several backend calls.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 4*cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("🚀 Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 7. Graceful shutdown
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, exiting...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stop()
	<-registryDone
	log.Info().Msg("Server shut down gracefully")
	return nil
}
