package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"clinotify/internal/awsutil"
	"clinotify/internal/cache"
	"clinotify/internal/config"
	"clinotify/internal/dispatch"
	"clinotify/internal/domain"
	"clinotify/internal/httpapi"
	"clinotify/internal/identity"
	"clinotify/internal/logging"
	"clinotify/internal/observability"
	"clinotify/internal/profile"
	"clinotify/internal/render"
	"clinotify/internal/store/pg"
	"clinotify/internal/transport"
	"clinotify/internal/transport/sqsout"
	"clinotify/internal/transport/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadDispatcher()
	logging.Init("dispatcher", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("db pool init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := &pg.Store{DB: db}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()

	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	id := identity.New()
	slog.Info("dispatcher starting", "owner", id.Token)

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)

	var sender transport.Sender
	switch cfg.Transport {
	case "", "webhook":
		sender = webhook.NewClient(cfg.GatewayURL+"/v1/messages", cfg.GatewayTimeout)
	case "sqs":
		sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
		if err != nil {
			slog.Error("sqs client init failed", "err", err)
			os.Exit(1)
		}
		if _, err := sqsClient.GetQueueAttributes(startupCtx, &sqs.GetQueueAttributesInput{
			QueueUrl:       &cfg.SQSQueueURL,
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		}); err != nil {
			slog.Error("sqs not reachable", "err", err)
			os.Exit(1)
		}
		sender = &sqsout.Producer{SQS: sqsClient, QueueURL: cfg.SQSQueueURL}
	default:
		slog.Error("unknown transport", "transport", cfg.Transport)
		os.Exit(1)
	}

	var onSent func(ctx context.Context, q domain.Queue, recordID, remoteID string, sentAt time.Time)
	var redisCheck httpapi.ReadyzCheck
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewClient(startupCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		sentCache := cache.NewSentCache(rdb, cfg.RedisTTL)
		onSent = func(ctx context.Context, q domain.Queue, recordID, remoteID string, sentAt time.Time) {
			if err := sentCache.StoreSent(ctx, q, recordID, remoteID, id.Token, sentAt); err != nil {
				slog.Warn("sent cache write failed", "queue", q, "record_id", recordID, "err", err)
			}
		}
		redisCheck = func(c context.Context) error { return rdb.Ping(c).Err() }
	}

	profiles := profile.NewService(st, cfg.ProfileTTL)

	limiter := rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	eng := &dispatch.Engine{
		Store:    st,
		Profiles: profiles,
		Renderer: render.New(),
		Sender:   sender,
		Limiter:  limiter,
		Breaker:  cb,
		Opts: dispatch.Options{
			Owner:        id.Token,
			BatchSize:    cfg.BatchSize,
			MaxRetries:   cfg.MaxRetries,
			StaleAfter:   cfg.StaleAfter,
			IngestCutoff: cfg.IngestCutoff,
			IngestLimit:  cfg.IngestLimit,
		},
		OnSent: onSent,
	}

	welcomeLoop, err := dispatch.NewLoop("welcome", cfg.WelcomeInterval, func(c context.Context) {
		eng.Tick(c, dispatch.Welcome())
	})
	if err != nil {
		slog.Error("welcome loop init failed", "err", err)
		os.Exit(1)
	}
	confirmLoop, err := dispatch.NewLoop("confirm", cfg.ConfirmInterval, func(c context.Context) {
		eng.Tick(c, dispatch.Confirm())
	})
	if err != nil {
		slog.Error("confirm loop init failed", "err", err)
		os.Exit(1)
	}
	reminderLoop, err := dispatch.NewLoop("reminder", cfg.ReminderInterval, func(c context.Context) {
		eng.Tick(c, dispatch.Reminder())
	})
	if err != nil {
		slog.Error("reminder loop init failed", "err", err)
		os.Exit(1)
	}

	reclaimer := &dispatch.Reclaimer{Store: st, StaleAfter: cfg.StaleAfter}
	reclaimLoop, err := dispatch.NewLoop("reclaim", cfg.ReclaimInterval, reclaimer.Tick)
	if err != nil {
		slog.Error("reclaim loop init failed", "err", err)
		os.Exit(1)
	}

	dispatchLoops := []*dispatch.Loop{welcomeLoop, confirmLoop, reminderLoop}
	for _, l := range dispatchLoops {
		l.Start()
	}
	reclaimLoop.Start()

	srv := httpapi.New()
	srv.Mux.HandleFunc("/healthz", httpapi.Healthz())
	readyChecks := []httpapi.ReadyzCheck{
		func(c context.Context) error { return db.Ping(c) },
	}
	if redisCheck != nil {
		readyChecks = append(readyChecks, redisCheck)
	}
	srv.Mux.HandleFunc("/readyz", httpapi.Readyz(2*time.Second, readyChecks...))

	api := &httpapi.API{Loops: dispatchLoops, Store: st, Profiles: profiles}
	api.Register(srv.Mux)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(httpapi.Metrics(observability.APIRequests)(srv.Mux)),
	}

	httpErrCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher http listening", "port", cfg.Port)
		httpErrCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("dispatcher shutdown", "signal", sig.String())
	}

	// Stop claiming before the pool goes away; Stop waits out the tick in
	// flight, so no claim is abandoned mid-send on a clean shutdown.
	reclaimLoop.Stop()
	for _, l := range dispatchLoops {
		l.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
