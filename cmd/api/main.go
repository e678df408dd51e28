package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zllovesuki/pagecraft/auth"
	"github.com/zllovesuki/pagecraft/broker"
	"github.com/zllovesuki/pagecraft/customer"
	"github.com/zllovesuki/pagecraft/db"
	"github.com/zllovesuki/pagecraft/external"
	"github.com/zllovesuki/pagecraft/subscription"
	"github.com/zllovesuki/pagecraft/website"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Load configurations from dotFile before anything reads the environment
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         os.Getenv("SENTRY_DSN"),
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		log.Fatalf("Cannot initialize sentry: %v\n", err)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		log.Fatalf("Cannot attach sentry to logger: %v\n", err)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Initialize backend connections
	db, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(logger, os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	billing, err := external.NewStripeBilling(external.NewStripeClient(os.Getenv("STRIPE_KEY")))
	if err != nil {
		logger.Fatal("Cannot initialize Stripe client",
			zap.Error(err),
		)
	}

	a, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	// Initialize managers
	customerManager, err := customer.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Billing:   billing,
		DB:        db,
		Logger:    logger,
		Notifier:  amqpBroker,
		Customers: customerManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	eventLog, err := subscription.NewRedisEventLog(rdb, 0, 0)
	if err != nil {
		logger.Fatal("Cannot initialize webhook event log",
			zap.Error(err),
		)
	}

	catalog, err := website.LoadCatalog(os.Getenv("TEMPLATES_PATH"))
	if err != nil {
		logger.Fatal("Cannot load website templates",
			zap.Error(err),
		)
	}

	websiteManager, err := website.NewManager(website.ManagerOptions{
		DB:      db,
		Logger:  logger,
		Catalog: catalog,
		Ledger:  subscriptionManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize WebsiteManager",
			zap.Error(err),
		)
	}

	resolver, err := website.NewDNSResolver(os.Getenv("DOMAIN_TARGET"), &net.Resolver{PreferGo: true})
	if err != nil {
		logger.Fatal("Cannot initialize domain resolver",
			zap.Error(err),
		)
	}

	gate, err := website.NewGate(website.GateOptions{
		Websites: websiteManager,
		Ledger:   subscriptionManager,
		Resolver: resolver,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize entitlement Gate",
			zap.Error(err),
		)
	}

	// Initialize routers
	customerService, err := customer.NewService(customer.Options{
		Auth:            a,
		CustomerManager: customerManager,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Customer Service Router",
			zap.Error(err),
		)
	}

	subscriptionService, err := subscription.NewService(subscription.ServiceOptions{
		Auth:                a,
		SubscriptionManager: subscriptionManager,
		EventLog:            eventLog,
		WebhookSecret:       os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	websiteService, err := website.NewService(website.ServiceOptions{
		Auth:           a,
		WebsiteManager: websiteManager,
		Gate:           gate,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Website Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.RealIP)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(middleware.Timeout(time.Second * 30))
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(os.Getenv("CORS_ORIGINS"), ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/webhooks", subscriptionService.WebhookRouter())
	rootRouter.Mount("/subscriptions", subscriptionService.Router())
	rootRouter.Mount("/websites", websiteService.Router())
	rootRouter.Mount("/templates", websiteService.TemplateRouter())
	rootRouter.Mount("/customers", customerService.Router())

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":42069"
	}
	srv := &http.Server{
		Handler: rootRouter,
		Addr:    listenAddr,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started",
		zap.String("Addr", listenAddr),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown API server gracefully",
			zap.Error(err),
		)
	}
}
