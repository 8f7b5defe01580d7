package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-mealkit/db"
	"github.com/noah-isme/backend-mealkit/internal/api"
	"github.com/noah-isme/backend-mealkit/internal/config"
	"github.com/noah-isme/backend-mealkit/internal/discount"
	"github.com/noah-isme/backend-mealkit/internal/events"
	"github.com/noah-isme/backend-mealkit/internal/gateway"
	"github.com/noah-isme/backend-mealkit/internal/lock"
	"github.com/noah-isme/backend-mealkit/internal/obs"
	"github.com/noah-isme/backend-mealkit/internal/order"
	"github.com/noah-isme/backend-mealkit/internal/repo"
	"github.com/noah-isme/backend-mealkit/internal/resilience"
	"github.com/noah-isme/backend-mealkit/internal/storefront"
	"github.com/noah-isme/backend-mealkit/internal/tax"
)

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().
		Str("component", "api").Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "mealkit")
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(metricsNamespace, nil, nil)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName: "mealkit-api",
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Up(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := repo.NewPool(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	orderRepo := repo.NewOrderRepository(pool)
	cartRepo := repo.NewCartRepository(pool)
	customerRepo := repo.NewCustomerRepository(pool)
	discountRepo := repo.NewDiscountRepository(pool)
	shippingRepo := repo.NewShippingRepository(pool)
	eventRepo := repo.NewEventRepository(pool)

	locker := lock.Locker{R: redisClient, RetryBackoff: 50 * time.Millisecond}

	outbound := &resilience.HTTPClient{
		Client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second),
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
		Timeout:     10 * time.Second,
	}

	registry := &gateway.Registry{}
	registry.Register("stripe", &gateway.Stripe{
		HTTP:      outbound,
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.StripeBaseURL,
		Logger:    logger.With().Str("gateway", "stripe").Logger(),
	})
	gw, err := registry.Resolve("stripe")
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve payment gateway")
	}

	storefrontClient := &storefront.HTTPClient{
		HTTP:    outbound,
		BaseURL: cfg.StorefrontURL,
		Token:   cfg.StorefrontToken,
		Logger:  logger.With().Str("client", "storefront").Logger(),
	}

	var taxCalc tax.Calculator = tax.Zero{}
	if cfg.TaxAPIURL != "" {
		taxCalc = &tax.HTTPClient{
			HTTP:    outbound,
			BaseURL: cfg.TaxAPIURL,
			APIKey:  cfg.TaxAPIKey,
			Logger:  logger.With().Str("client", "tax").Logger(),
		}
	}

	discountService := &discount.Service{
		Grants:  discountRepo,
		Orders:  orderRepo,
		Locker:  locker,
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("service", "discount").Logger(),
	}

	bus := &events.Bus{
		Store: eventRepo,
		Notifiers: []events.Notifier{
			&order.SyncNotifier{
				Orders:     orderRepo,
				Customers:  customerRepo,
				Storefront: storefrontClient,
				Logger:     logger.With().Str("notifier", "storefront-sync").Logger(),
			},
			discount.RedemptionNotifier{
				Service: discountService,
				Logger:  logger.With().Str("notifier", "grant-redemption").Logger(),
			},
			&order.TaxNotifier{Tax: taxCalc},
		},
		Logger: logger.With().Str("component", "event-bus").Logger(),
	}

	assembler := &order.Assembler{
		Orders:    orderRepo,
		Carts:     cartRepo,
		Customers: customerRepo,
		Grants:    discountRepo,
		Rates:     shippingRepo,
		Tax:       taxCalc,
		Logger:    logger.With().Str("service", "assembler").Logger(),
	}

	orderService := &order.Service{
		Orders:    orderRepo,
		Customers: customerRepo,
		Lifecycle: &order.Lifecycle{
			Gateway:    gw,
			Storefront: storefrontClient,
			Logger:     logger.With().Str("service", "lifecycle").Logger(),
		},
		Bus:               bus,
		Locker:            locker,
		LockTTL:           cfg.LockTTL,
		MaxChargeAttempts: cfg.MaxChargeAttempts,
		Logger:            logger.With().Str("service", "order").Logger(),
	}

	handler := &api.Handler{
		Assembler: assembler,
		Orders:    orderService,
		Queries: &order.Queries{
			Orders:    orderRepo,
			Carts:     cartRepo,
			Discounts: discountRepo,
			Rates:     shippingRepo,
		},
		Discounts: discountService,
		Grants:    discountRepo,
		Customers: customerRepo,
		Carts:     cartRepo,
		Validate:  validator.New(),
		Logger:    logger.With().Str("component", "http").Logger(),
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        httpMetrics,
		RequestLogger:  obs.RequestLogger{Logger: logger},
		Redis:          redisClient,
		IdemTTL:        cfg.LockTTL,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("serve http")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
