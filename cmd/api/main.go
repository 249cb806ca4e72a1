package main

import (
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"net/smtp"
	"os"
	"time"

	"github.com/studysnap/billing/account"
	"github.com/studysnap/billing/auth"
	"github.com/studysnap/billing/broker"
	"github.com/studysnap/billing/checkout"
	"github.com/studysnap/billing/customer"
	"github.com/studysnap/billing/db"
	"github.com/studysnap/billing/external"
	"github.com/studysnap/billing/subscription"
	"github.com/studysnap/billing/trial"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
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
	env := os.Getenv("ENV")
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

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		log.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
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
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	stripeClient := external.NewStripeClient(os.Getenv("STRIPE_KEY"))

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

	smtpAuth := smtp.PlainAuth("", os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_HOST"))

	authInstance, err := auth.New(auth.Options{
		Redis:  rdb,
		Logger: logger,

		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),

		Environment: authEnvironment,
		SMTPAuth:    smtpAuth,
		From:        os.Getenv("SMTP_FROM"),
		Hostname:    os.Getenv("SMTP_HOST") + ":" + os.Getenv("SMTP_PORT"),
		EmailOption: auth.EmailOption{
			Name: os.Getenv("SITE_NAME"),
			LinkGenerator: func(uid, token string) string {
				return fmt.Sprintf("%s/account/%s/%s", os.Getenv("SITE_URL"), uid, token)
			},
		},
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	userManager, err := account.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize UserManager",
			zap.Error(err),
		)
	}

	customerManager, err := customer.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize CustomerManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	lockManager, err := checkout.NewManager(logger, db)
	if err != nil {
		logger.Fatal("Cannot initialize LockManager",
			zap.Error(err),
		)
	}

	projector := &subscription.RedisProjector{
		Redis: rdb,
	}

	// beacons are optional: without a broker the reconciler simply skips them
	var publisher broker.Publisher
	if amqpURI := os.Getenv("AMQP_URI"); len(amqpURI) > 0 {
		amqpBroker, err := broker.NewAMQPBroker(logger, amqpURI)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		publisher = amqpBroker
	}

	trialManager, err := trial.NewManager(logger, db, projector)
	if err != nil {
		logger.Fatal("Cannot initialize TrialManager",
			zap.Error(err),
		)
	}

	reconciler, err := subscription.NewReconciler(subscription.ReconcilerOptions{
		CustomerManager:     customerManager,
		SubscriptionManager: subscriptionManager,
		Locks:               lockManager,
		Projector:           projector,
		Publisher:           publisher,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Reconciler",
			zap.Error(err),
		)
	}

	accountRouter, err := account.NewService(account.Options{
		Auth:        authInstance,
		UserManager: userManager,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Account Service Router",
			zap.Error(err),
		)
	}

	checkoutRouter, err := checkout.NewService(checkout.ServiceOptions{
		SubscriptionManager: subscriptionManager,
		CustomerManager:     customerManager,
		LockManager:         lockManager,
		Sessions: &checkout.StripeSessionAPI{
			Client: stripeClient,
		},
		ProductID:       os.Getenv("PLUS_PRODUCT_ID"),
		SuccessURL:      os.Getenv("CHECKOUT_SUCCESS_URL"),
		CancelURL:       os.Getenv("CHECKOUT_CANCEL_URL"),
		PortalReturnURL: os.Getenv("PORTAL_RETURN_URL"),
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Checkout Service Router",
			zap.Error(err),
		)
	}

	trialRouter, err := trial.NewService(trial.ServiceOptions{
		TrialManager: trialManager,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Trial Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := subscription.NewService(subscription.ServiceOptions{
		Reconciler:    reconciler,
		SigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	// the extension calls from its own origin, so every endpoint has to
	// answer preflights
	rootRouter.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Signature"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler)

	rootRouter.Mount("/account", accountRouter.Router())

	rootRouter.Route("/billing", func(r chi.Router) {
		r.Mount("/webhook", webhookRouter.Router())
		r.Mount("/sweep", checkoutRouter.SweepRouter())
		r.Group(func(r chi.Router) {
			r.Use(authInstance.Middleware())
			r.Mount("/trial", trialRouter.Router())
			r.Mount("/", checkoutRouter.Router())
		})
	})

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    ":42069",
	}

	logger.Info("API started")

	log.Fatalln(srv.ListenAndServe())
}
