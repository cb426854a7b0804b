package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/pixfil/masterclass-orders/internal/domain/order"
	"github.com/pixfil/masterclass-orders/internal/domain/promo"
	"github.com/pixfil/masterclass-orders/internal/gateway"
	"github.com/pixfil/masterclass-orders/internal/handler"
	"github.com/pixfil/masterclass-orders/internal/notify"
	"github.com/pixfil/masterclass-orders/internal/storage/postgres"
	"github.com/pixfil/masterclass-orders/pkg/health"
	"github.com/pixfil/masterclass-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	sessionRepo := postgres.NewSessionRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	usageLedger := postgres.NewUsageLedger(pool)

	// Domain services.
	evaluator := promo.NewEvaluator(promoRepo, usageLedger, orderRepo)
	pricer := order.NewPricer(evaluator, promoRepo)

	notifier := notify.New(ctx, notify.LogSender{})
	lifecycle := order.NewLifecycle(orderRepo, notifier)

	secrets := gateway.Secrets{cfg.Gateway.KeyVersion: cfg.Gateway.Secret}
	if cfg.Gateway.PreviousKeyVersion != "" && cfg.Gateway.PreviousSecret != "" {
		secrets[cfg.Gateway.PreviousKeyVersion] = cfg.Gateway.PreviousSecret
	}
	gw := gateway.NewAdapter(gateway.Config{
		Endpoint:            cfg.Gateway.Endpoint,
		MerchantID:          cfg.Gateway.MerchantID,
		Secrets:             secrets,
		KeyVersion:          cfg.Gateway.KeyVersion,
		CaptureMode:         cfg.Gateway.CaptureMode,
		CaptureDay:          cfg.Gateway.CaptureDay,
		Enable3DS2:          cfg.Gateway.Enable3DS2,
		ChallengePreference: cfg.Gateway.ChallengePreference,
		NormalReturnURL:     cfg.Gateway.NormalReturnURL,
		AutoResponseURL:     cfg.Gateway.AutoResponseURL,
		Timeout:             cfg.Gateway.Timeout,
	})

	checkoutSvc := order.NewService(sessionRepo, customerRepo, pricer, orderRepo, gw)

	// HTTP handlers.
	h := handler.New(
		handler.Config{
			SuccessURL: cfg.Checkout.SuccessURL,
			CancelURL:  cfg.Checkout.CancelURL,
		},
		checkoutSvc,
		lifecycle,
		gw,
		sessionRepo,
		orderRepo,
		promoRepo,
		apikeyRepo,
		[]byte(cfg.APIKeyPepper),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("orders-api", m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := notifier.Wait(); err != nil {
			lg.Warn("Notifier drain error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
