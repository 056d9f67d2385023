// cmd/fitpro/serve.go
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

	"fitpro/config"
	"fitpro/internal/ai"
	"fitpro/internal/auth"
	"fitpro/internal/chat"
	"fitpro/internal/db"
	"fitpro/internal/formula"
	"fitpro/internal/gpt"
	"fitpro/internal/metrics"
	"fitpro/internal/notify"
	"fitpro/internal/payment"
	"fitpro/internal/search"
	"fitpro/internal/server"
	"fitpro/internal/speech"
	"fitpro/internal/storage"
	"fitpro/internal/subscription"
	"fitpro/internal/vision"
	"fitpro/pkg/logger"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const usageSinkTimeout = 5 * time.Second

func serveCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	l := logger.New(cfg.LogLevel)
	defer l.Sync()
	l.Info("Starting FitPro API...")

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Initialize database connection with retry
	var (
		gdb *gorm.DB
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		gdb, err = db.Open(cfg.DB, l)
		if err == nil {
			break
		}
		l.Errorw("Failed to connect to database, retrying...", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if gdb == nil {
		return fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}
	defer db.Close(gdb)

	if cfg.DB.Driver != "sqlite" {
		if err := db.Migrate("", cfg.DB.PostgresDSN(), "up", 0); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	ctx := context.Background()
	m := metrics.New()
	users, formulas := db.NewUserStore(gdb), db.NewFormulaStore(gdb)
	payments, events := db.NewPaymentStore(gdb), db.NewEventStore(gdb)

	// Closed after usage.Wait returns.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			l.Warnw("redis unavailable, usage stream disabled", "addr", cfg.Redis.Addr, "error", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	usage := ai.NewUsageLog(l, usageSinkTimeout).
		Add("log", ai.NewLogSink(l)).
		Add("metrics", ai.NewMetricsSink(m)).
		Add("events", ai.NewEventSink(events))
	if rdb != nil {
		usage.Add("redis", ai.NewStreamSink(rdb, cfg.Redis.UsageStream, cfg.Redis.StreamLen))
	}
	defer usage.Wait()

	// Initialize GPT client
	var searcher gpt.Searcher
	if cfg.Search.SerperKey != "" {
		searcher = search.NewSerper(cfg.Search.SerperKey, cfg.Search.Endpoint, cfg.Search.Results)
	}
	gptClient := gpt.NewClient(gpt.Options{
		APIKey:             cfg.AI.APIKey,
		BaseURL:            cfg.AI.BaseURL,
		Model:              cfg.AI.Model,
		ReasoningModel:     cfg.AI.ReasoningModel,
		VisionModel:        cfg.AI.VisionModel,
		TranscriptionModel: cfg.AI.TranscriptionModel,
		TTSModel:           cfg.AI.TTSModel,
		TTSVoice:           cfg.AI.TTSVoice,
		Timeout:            cfg.AI.Timeout,
		MaxTokens:          cfg.AI.MaxTokens,
		Temperature:        cfg.AI.Temperature,
		MaxToolRounds:      cfg.AI.MaxToolRounds,
	}, searcher, l)
	router := ai.NewRouter(gptClient, usage, l)

	// Optional AWS integrations
	var (
		labeler  vision.Labeler
		receipts subscription.ReceiptUploader
		mailer   notify.EmailSender
	)
	if cfg.AWS.S3Bucket != "" || cfg.AWS.RekognitionEnabled || cfg.AWS.SESSender != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("AWS config load failed: %w", err)
		}
		if cfg.AWS.S3Bucket != "" {
			receipts = storage.NewReceiptStoreFromConfig(awsCfg, cfg.AWS.S3Bucket, cfg.AWS.PublicBaseURL)
		}
		if cfg.AWS.RekognitionEnabled {
			labeler = vision.NewRekognitionLabelerFromConfig(awsCfg)
		}
		if cfg.AWS.SESSender != "" {
			mailer = notify.NewMailerFromConfig(awsCfg, cfg.AWS.SESSender)
		}
	}

	var alerter notify.Alerter
	if cfg.Telegram.Token != "" && cfg.Telegram.AdminChatID != 0 {
		tg, err := notify.NewTelegramAlerter(cfg.Telegram.Token, cfg.Telegram.AdminChatID, l)
		if err != nil {
			l.Warnw("telegram alerts disabled", "error", err)
		} else {
			alerter = tg
		}
	}
	hub := notify.NewHub()
	notifier := notify.New(alerter, mailer, hub, l)

	authSvc := auth.NewService(users, events, auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.Auth.BcryptCost, l)
	subs := subscription.NewService(subscription.Config{
		Amount:      cfg.Subscription.Amount,
		MinTxLength: cfg.Subscription.MinTxLength,
		MaxTxLength: cfg.Subscription.MaxTxLength,
	}, payments, users, events, l).
		WithNotifier(notifier).
		WithMetrics(m)
	if receipts != nil {
		subs.WithReceipts(receipts)
	}

	deps := server.Deps{
		Auth:          authSvc,
		Formulas:      formula.NewService(router, formulas, events, m, cfg.AI.Version, l),
		Chat:          chat.NewService(router, cfg.Chat.MaxHistory, l),
		Vision:        vision.NewService(router, formulas, labeler, cfg.Vision.MaxImageBytes, l),
		Speech:        speech.NewService(gptClient, usage, l),
		Subscriptions: subs,
		Events:        events,
		Hub:           hub,
		Metrics:       m,
		Ping:          func(ctx context.Context) error { return db.Ping(ctx, gdb) },
	}

	// Initialize Stripe client
	if cfg.Stripe.Enabled() {
		stripeClient := payment.NewStripeClient(payment.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			WebhookKey: cfg.Stripe.WebhookKey,
			PriceID:    cfg.Stripe.PriceID,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
		})
		subs.WithCheckout(stripeClient)
		if cfg.Stripe.WebhookKey != "" {
			deps.Stripe = stripeClient
		}
	}

	// Start HTTP server
	httpServer := server.New(cfg.Server, deps, l)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	l.Info("Shutting down...")

	// Create context for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	l.Info("Server stopped successfully")
	return nil
}
