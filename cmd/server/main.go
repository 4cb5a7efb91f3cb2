package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/loftbid/liveauction/internal/auction"
	"github.com/loftbid/liveauction/internal/auth"
	"github.com/loftbid/liveauction/internal/command"
	"github.com/loftbid/liveauction/internal/config"
	"github.com/loftbid/liveauction/internal/domain"
	"github.com/loftbid/liveauction/internal/eventbus"
	"github.com/loftbid/liveauction/internal/gateway"
	"github.com/loftbid/liveauction/internal/ledger"
	"github.com/loftbid/liveauction/internal/metrics"
	"github.com/loftbid/liveauction/internal/payrail/paypalpay"
	"github.com/loftbid/liveauction/internal/payrail/stripepay"
	"github.com/loftbid/liveauction/internal/ratelimit"
	"github.com/loftbid/liveauction/internal/scheduler"
	"github.com/loftbid/liveauction/internal/store"

	"github.com/shopspring/decimal"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx, cfg.MigrationsDir); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	minIncrement, err := decimal.NewFromString(cfg.AuctionMinIncrement)
	if err != nil {
		log.Fatalf("invalid AUCTION_MIN_INCREMENT: %v", err)
	}

	authenticator := auth.New(cfg.JWTSigningKey, 24*time.Hour)
	bus := eventbus.New(cfg.SubscriberQueueMax)
	ldg := ledger.New(st)

	engine := auction.New(st, bus, ldg, auction.Config{
		ExtendWindow:   time.Duration(cfg.AuctionExtendThresholdSecond) * time.Second,
		ExtendBy:       time.Duration(cfg.AuctionExtendSeconds) * time.Second,
		MinIncrement:   minIncrement,
		PlatformFeeBps: cfg.PlatformFeeBps,
		PaymentWindow:  time.Duration(cfg.OrderPaymentWindowSeconds) * time.Second,
	})

	limiter := ratelimit.New(redisClient)

	// Payment rail adapters implement the capture boundary; neither
	// adapter is exercised by the close path (capture and webhook handling
	// stay outside this service). Each is constructed when its credentials
	// are configured and the result is discarded; nothing in this process
	// calls through them.
	if cfg.StripeAPIKey != "" {
		_ = stripepay.NewStripeRail(cfg.StripeAPIKey)
	}
	if cfg.PayPalClientID != "" {
		_ = paypalpay.NewPayPalRail(cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalBaseURL)
	}

	sched := scheduler.New(st, scheduler.Config{
		PollInterval: cfg.SchedulerPollInterval,
		LeaseSeconds: cfg.SchedulerLeaseSeconds,
		MaxRetries:   cfg.SchedulerMaxRetries,
	})
	sched.RegisterHandler(domain.DeadlineAuctionClose, func(ctx context.Context, d domain.ScheduledDeadline) error {
		id, err := scheduler.ParseAuctionTarget(d.TargetID)
		if err != nil {
			return err
		}
		return engine.DispatchClose(ctx, id)
	})
	sched.RegisterHandler(domain.DeadlinePaymentExpire, func(ctx context.Context, d domain.ScheduledDeadline) error {
		orderID, err := scheduler.ParseAuctionTarget(d.TargetID)
		if err != nil {
			return err
		}
		var order domain.Order
		err = st.WithTx(ctx, func(tx pgx.Tx) error {
			var err error
			order, err = st.GetOrderForUpdate(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if order.PaymentStatus != domain.PaymentPending {
				return nil
			}
			if err := st.SetOrderPaymentStatus(ctx, tx, order.ID, domain.PaymentFailed); err != nil {
				return err
			}
			order.PaymentStatus = domain.PaymentFailed

			a, err := st.GetAuctionForUpdate(ctx, tx, order.AuctionID)
			if err != nil {
				return err
			}
			bus.Publish(a.ChannelID, eventbus.KindOrderExpired, order)
			return nil
		})
		return err
	})
	go sched.Run(ctx)

	presence := gateway.NewPresence()
	surface := command.New(engine, st, bus, presence, authenticator, limiter, cfg.CORSOrigin,
		cfg.MessageRateLimit, cfg.MessageRateWindow, cfg.MessageMaxLen)

	gw := gateway.New(bus, authenticator, presence, time.Duration(cfg.SubscriberIdleSeconds)*time.Second)

	router := mux.NewRouter()
	surface.Mount(router)
	router.HandleFunc("/v1/channels/{channel_id}/stream", gw.ServeHTTP)
	if cfg.PrometheusEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("starting liveauction server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	bus.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Info("server exited")
}
