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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"whatsapp-bridge/internal/api"
	"whatsapp-bridge/internal/config"
	"whatsapp-bridge/internal/credstore"
	"whatsapp-bridge/internal/database"
	"whatsapp-bridge/internal/inbound"
	applog "whatsapp-bridge/internal/log"
	"whatsapp-bridge/internal/media"
	"whatsapp-bridge/internal/outbound"
	"whatsapp-bridge/internal/session"
	"whatsapp-bridge/internal/webhook"
	"whatsapp-bridge/internal/whatsapp"
	"whatsapp-bridge/internal/ws"
)

var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:           "whatsapp-bridge",
		Short:         "Bridge a linked WhatsApp device to a CRM webhook",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(resetCredentialsCmd())
	root.AddCommand(migrateCredentialsCmd())

	if err := root.Execute(); err != nil {
		logger := applog.Base()
		logger.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session connector and the HTTP control API",
		RunE:  runServe,
	}
}

func loadConfig(validate bool) (*config.Config, error) {
	cfg := config.LoadConfig()
	applog.Configure(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

func openCredentialStore(cfg *config.Config, db *gorm.DB) credstore.Store {
	if store, err := credentialBackend(cfg.CredentialBackend, cfg, db); err == nil {
		return store
	}
	return credstore.NewGormStore(db)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	logger := applog.WithComponent("server")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitGorm(cfg)
	if err != nil {
		return err
	}
	sqlDB, err := database.SQLDB(db)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	container, err := whatsapp.OpenContainer(ctx, sqlDB, database.Dialect(cfg), applog.WithComponent("whatsmeow"))
	if err != nil {
		return err
	}

	client := whatsapp.NewClient(container, cfg.DeviceName, applog.WithComponent("whatsapp"))
	connector := session.NewConnector(client, openCredentialStore(cfg, db), session.Options{
		ReconnectDelay:      cfg.ReconnectDelay,
		ReconnectMaxDelay:   cfg.ReconnectMaxDelay,
		ReconnectMultiplier: cfg.ReconnectMultiplier,
		SendTimeout:         cfg.SendTimeout,
	})
	connector.OnPairing(func(p session.PairingArtifact) {
		logger.Info().Time("expires_at", p.ExpiresAt).Msg("pairing code available at /qr-display")
	})
	if cfg.PrintQR {
		connector.OnPairing(whatsapp.TerminalPrinter(os.Stdout))
	}

	dispatcher := webhook.NewDispatcher(webhook.Options{
		URL:         cfg.WebhookURL,
		Token:       cfg.WebhookToken,
		Timeout:     cfg.WebhookTimeout,
		Concurrency: cfg.WebhookConcurrency,
		QueueSize:   cfg.WebhookQueueSize,
	}, applog.WithComponent("webhook"))
	resolver := media.NewResolver(connector, cfg.MediaDownloadTimeout)
	processor := inbound.NewProcessor(resolver, dispatcher, applog.WithComponent("inbound"))
	sender := outbound.NewSender(connector, outbound.Options{FetchTimeout: cfg.MediaFetchTimeout}, applog.WithComponent("outbound"))
	hub := ws.NewHub(applog.WithComponent("ws"))

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterConfig{
		Session:       connector,
		Sender:        sender,
		Hub:           hub,
		Logger:        applog.WithComponent("http"),
		SendRateLimit: cfg.SendRateLimit,
		SendRateBurst: cfg.SendRateBurst,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return connector.Run(gctx)
	})
	g.Go(func() error {
		processor.Run(gctx, connector.Messages())
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		updates, unsubscribe := connector.Subscribe()
		defer unsubscribe()
		ws.Follow(gctx, hub, updates, func(s session.Snapshot) any {
			return api.NewStatusView(s, time.Now())
		})
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("webhook", cfg.WebhookURL).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("webhook deliveries still in flight at exit")
	}
	logger.Info().Msg("stopped")
	return runErr
}
