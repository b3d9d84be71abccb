package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/patronhq/payment-service/internal/adapters/fxrate"
	"github.com/patronhq/payment-service/internal/adapters/paystack"
	"github.com/patronhq/payment-service/internal/adapters/postgres"
	redisadapter "github.com/patronhq/payment-service/internal/adapters/redis"
	"github.com/patronhq/payment-service/internal/adapters/stripe"
	"github.com/patronhq/payment-service/internal/config"
	"github.com/patronhq/payment-service/internal/domain"
	"github.com/patronhq/payment-service/internal/domain/ports"
	adminHandler "github.com/patronhq/payment-service/internal/handlers/admin"
	checkoutHandler "github.com/patronhq/payment-service/internal/handlers/checkout"
	cronHandler "github.com/patronhq/payment-service/internal/handlers/cron"
	manageHandler "github.com/patronhq/payment-service/internal/handlers/manage"
	webhookHandler "github.com/patronhq/payment-service/internal/handlers/webhook"
	"github.com/patronhq/payment-service/internal/middleware"
	"github.com/patronhq/payment-service/internal/scheduler"
	"github.com/patronhq/payment-service/internal/services/applier"
	"github.com/patronhq/payment-service/internal/services/checkout"
	"github.com/patronhq/payment-service/internal/services/ingest"
	"github.com/patronhq/payment-service/internal/services/notify"
	"github.com/patronhq/payment-service/internal/services/payout"
	"github.com/patronhq/payment-service/internal/services/reconcile"
	"github.com/patronhq/payment-service/internal/services/router"
	"github.com/patronhq/payment-service/pkg/crypto"
	"github.com/patronhq/payment-service/pkg/observability"
	"github.com/patronhq/payment-service/pkg/shutdown"
	"github.com/patronhq/payment-service/pkg/token"
)

const (
	shutdownTimeout = 30 * time.Second
	webhookWorkers  = 2
)

func main() {
	// .env is optional; production injects real environment.
	_ = godotenv.Load()

	zapLogger, err := observability.NewZapLogger(&config.LoggerConfig{
		Level:       envOr("LOG_LEVEL", "info"),
		Development: os.Getenv("LOG_DEVELOPMENT") == "true",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := observability.NewLoggerAdapter(zapLogger)

	ctx := context.Background()

	if err := loadSecretsIntoEnv(ctx, zapLogger); err != nil {
		zapLogger.Fatal("secret bootstrap failed", zap.Error(err))
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		zapLogger.Fatal("configuration invalid", zap.Error(err))
	}

	zapLogger.Info("starting payment service",
		zap.String("env", string(cfg.App.Env)),
		zap.Int("port", cfg.Server.Port))

	shutdownMgr := shutdown.NewManager(zapLogger, shutdownTimeout)

	// Storage.
	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		zapLogger.Fatal("postgres connect failed", zap.Error(err))
	}
	shutdownMgr.RegisterNoErr("postgres pool", pool.Close)
	db := postgres.NewDBExecutor(pool)

	redisClient, err := redisadapter.NewClient(ctx, &cfg.Redis)
	if err != nil {
		zapLogger.Fatal("redis connect failed", zap.Error(err))
	}
	shutdownMgr.RegisterCloser("redis client", redisClient)

	locker := redisadapter.NewLocker(redisClient)
	queue := redisadapter.NewEventQueue(redisClient)
	dedupe := redisadapter.NewDedupeStore(redisClient)
	balances := redisadapter.NewBalanceCache(redisClient)
	jobHealth := redisadapter.NewJobHealthStore(redisClient)

	// Repositories.
	creators := postgres.NewCreatorRepository(db)
	subscribers := postgres.NewSubscriberRepository(db)
	subs := postgres.NewSubscriptionRepository(db)
	payments := postgres.NewPaymentRepository(db)
	events := postgres.NewWebhookEventRepository(db)
	activities := postgres.NewActivityRepository(db)
	notifLog := postgres.NewNotificationLogRepository(db)

	// Providers and platform helpers.
	stripeAdapter := stripe.NewAdapter(&cfg.Stripe, log)
	paystackAdapter := paystack.NewAdapter(&cfg.Paystack, log)
	rates := fxrate.NewSource(cfg.App.FXRateURL, log)

	cipher, err := crypto.NewCipher(cfg.App.EncryptionSecret)
	if err != nil {
		zapLogger.Fatal("cipher init failed", zap.Error(err))
	}
	signer := token.NewSigner(cfg.App.SessionSecret)

	// Services.
	routerSvc := router.NewService([]ports.CheckoutProvider{stripeAdapter, paystackAdapter}, log)
	checkoutSvc := checkout.NewService(creators, subscribers, subs, routerSvc, dedupe, rates, log)
	applierSvc := applier.NewService(db, creators, subscribers, subs, payments, activities, locker, rates,
		map[domain.Provider]ports.SettlementRateSource{domain.ProviderStripe: stripeAdapter}, cipher, log)
	ingestSvc := ingest.NewService(events, payments,
		[]ports.WebhookSource{stripeAdapter, paystackAdapter}, queue, applierSvc, log)
	payoutSvc := payout.NewService(db, creators, payments, paystackAdapter, locker, cipher, log)

	alerter := &notify.LogAlerter{Logger: log}
	notifySvc := notify.NewService(notifLog, locker, &notify.LoggingNotifier{Logger: log}, log)
	reconcileSvc := reconcile.NewService(payments,
		[]reconcile.Source{stripeAdapter, paystackAdapter}, applierSvc, alerter, log)

	// Scheduler.
	runner := scheduler.NewRunner(locker, jobHealth, log, cfg.App.IsTest(), scheduler.BuildJobs(&scheduler.Deps{
		DB:            db,
		Subscriptions: subs,
		Creators:      creators,
		Subscribers:   subscribers,
		Payments:      payments,
		Events:        events,

		Applier:   applierSvc,
		Ingest:    ingestSvc,
		Payout:    payoutSvc,
		Reconcile: reconcileSvc,
		Notify:    notifySvc,

		Transfers:      paystackAdapter,
		BalanceSources: []scheduler.BalanceSource{stripeAdapter, paystackAdapter},
		Balances:       balances,
		Alerter:        alerter,
		Cipher:         cipher,
		Logger:         log,
	}))

	// Metrics and health.
	healthChecker := observability.NewHealthChecker(pool, redisClient, jobHealth)
	metricsSrv := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker)
	shutdownMgr.RegisterHTTPServer("metrics server", metricsSrv)
	zapLogger.Info("metrics server started", zap.Int("port", cfg.Server.MetricsPort))

	// Handlers and routes.
	webhookH := webhookHandler.NewHandler(ingestSvc, log)
	checkoutH := checkoutHandler.NewHandler(checkoutSvc, creators, rates, log)
	manageH := manageHandler.NewHandler(db, subs, applierSvc, signer,
		map[domain.Provider]ports.SubscriptionProvider{
			domain.ProviderStripe:   stripeAdapter,
			domain.ProviderPaystack: paystackAdapter,
		}, log)
	adminH := adminHandler.NewHandler(events, payments, subscribers, ingestSvc, payoutSvc, reconcileSvc,
		map[domain.Provider]ports.RefundProvider{
			domain.ProviderStripe:   stripeAdapter,
			domain.ProviderPaystack: paystackAdapter,
		}, log)
	cronH := cronHandler.NewHandler(runner, jobHealth, log)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/{provider}", webhookH.Receive)

	mux.HandleFunc("POST /checkout/session", checkoutH.CreateSession)
	mux.HandleFunc("GET /checkout/verify", checkoutH.VerifySession)
	mux.HandleFunc("GET /config/my-minimum", checkoutH.MyMinimum)

	mux.HandleFunc("GET /manage", manageH.View)
	mux.HandleFunc("POST /manage/unsubscribe", manageH.Unsubscribe)
	mux.HandleFunc("POST /manage/reactivate", manageH.Reactivate)

	adminAuth := middleware.SecretAuth("X-Admin-Secret", cfg.App.AdminSecret, log)
	mux.Handle("GET /admin/dead-letters", adminAuth(http.HandlerFunc(adminH.ListDeadLetters)))
	mux.Handle("POST /admin/dead-letters/retry", adminAuth(http.HandlerFunc(adminH.RetryDeadLetter)))
	mux.Handle("GET /admin/transfers/stuck", adminAuth(http.HandlerFunc(adminH.StuckTransfers)))
	mux.Handle("POST /admin/transfers/finalize", adminAuth(http.HandlerFunc(adminH.FinalizeTransfer)))
	mux.Handle("POST /admin/payouts/trigger", adminAuth(http.HandlerFunc(adminH.TriggerPayout)))
	mux.Handle("POST /admin/payments/refund", adminAuth(http.HandlerFunc(adminH.RefundPayment)))
	mux.Handle("POST /admin/reconcile", adminAuth(http.HandlerFunc(adminH.RunReconciliation)))
	mux.Handle("POST /admin/subscribers/unblock", adminAuth(http.HandlerFunc(adminH.UnblockSubscriber)))

	cronAuth := middleware.SecretAuth("X-Cron-Secret", cfg.App.CronSecret, log)
	mux.Handle("POST /cron/run/{job}", cronAuth(http.HandlerFunc(cronH.RunJob)))
	mux.Handle("GET /cron/health", cronAuth(http.HandlerFunc(cronH.Health)))

	handler := middleware.Chain(mux,
		middleware.Recover(log),
		middleware.RequestLogger(log),
		middleware.SecurityHeaders,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()
	shutdownMgr.RegisterHTTPServer("http server", srv)
	zapLogger.Info("http server started", zap.String("addr", srv.Addr))

	runner.Start(ctx)
	shutdownMgr.Register("scheduler", runner.Stop)

	// Async webhook workers; ingestion falls back to inline processing
	// when the queue is unavailable.
	if queue.Available() && !cfg.App.IsTest() {
		workerCtx, cancelWorkers := context.WithCancel(ctx)
		for i := 0; i < webhookWorkers; i++ {
			go ingestSvc.RunWorker(workerCtx)
		}
		shutdownMgr.RegisterNoErr("webhook workers", cancelWorkers)
	}

	shutdownMgr.WaitForShutdown()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
