package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/cart-service/internal/cart/application"
	cartgrpc "github.com/dmehra2102/cart-service/internal/cart/infrastructure/grpc"
	carthttp "github.com/dmehra2102/cart-service/internal/cart/infrastructure/http"
	cartkafka "github.com/dmehra2102/cart-service/internal/cart/infrastructure/kafka"
	cartredis "github.com/dmehra2102/cart-service/internal/cart/infrastructure/redis"
	"github.com/dmehra2102/cart-service/pkg/config"
	"github.com/dmehra2102/cart-service/pkg/idempotency"
	"github.com/dmehra2102/cart-service/pkg/logging"
	"github.com/dmehra2102/cart-service/pkg/metrics"
	"github.com/dmehra2102/cart-service/pkg/outbox"
	"github.com/dmehra2102/cart-service/pkg/shutdown"
	"github.com/dmehra2102/cart-service/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.Options{Service: "cart-service", Env: cfg.AppEnv, Level: cfg.LogLevel})

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "cart-service", cfg.OTLPEndpoint, cfg.OTelRatio, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = tp.Shutdown(flushCtx)
	}()

	mp, err := metrics.Init(ctx, metrics.Options{
		Service:  "cart-service",
		Version:  cfg.AppVersion,
		Env:      cfg.AppEnv,
		Endpoint: cfg.OTLPEndpoint,
	}, log)
	if err != nil {
		log.Error("otel metrics init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = mp.Shutdown(flushCtx)
	}()

	// Redis setup
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// not fatal: health reports DOWN and requests get 503 until redis is back
		log.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "err", err)
	}

	storeOpts := []cartredis.Option{
		cartredis.WithKeyPrefix(cfg.CartKeyPrefix),
		cartredis.WithTTL(cfg.CartTTL),
		cartredis.WithTimeout(cfg.StoreTimeout),
	}
	if cfg.KafkaEnabled() {
		storeOpts = append(storeOpts, cartredis.WithOutbox(cfg.OutboxKey))
	}
	store := cartredis.NewStore(log, rdb, storeOpts...)
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)

	svc := application.NewService(log, store,
		application.WithMaxAttempts(cfg.MutationMaxAttempts),
		application.WithMeterProvider(mp),
	)
	handler := carthttp.NewHandler(log, svc, idem)

	// HTTP server
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// gRPC health
	health := cartgrpc.NewHealthServer(log, store, cfg.HealthInterval)
	gs, err := cartgrpc.Run(cfg.GRPCAddr, health)
	if err != nil {
		log.Error("grpc server failed", "err", err)
		os.Exit(1)
	}
	log.Info("grpc listening", "addr", cfg.GRPCAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		health.Watch(gctx)
		return nil
	})

	if cfg.KafkaEnabled() {
		writer := cartkafka.NewWriter(cfg.KafkaBrokers)
		defer writer.Close()

		dispatch := outbox.NewDispatcher(log, writer, cfg.CartEventsTopic)
		relay := outbox.NewRelay(log, cartredis.NewOutboxStore(log, rdb, cfg.OutboxKey), dispatch, "cart-service-relay")
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil {
				log.Error("relay stopped with error", "err", err)
			}
			return nil
		})

		consumer := cartkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.OrderEventsTopic, "cart-service", svc, idem)
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil {
				log.Error("consumer stopped", "err", err)
				return err
			}
			return nil
		})
	} else {
		log.Info("kafka disabled, outbox relay and order consumer not started")
	}

	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("cart-service stopped with error", "err", err)
	}
	log.Info("cart-service shutdown complete")
}
