package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/broker"
	"github.com/Taha-Seddik/car-auction-backend/internal/cache"
	"github.com/Taha-Seddik/car-auction-backend/internal/config"
	"github.com/Taha-Seddik/car-auction-backend/internal/engine"
	"github.com/Taha-Seddik/car-auction-backend/internal/gateway"
	"github.com/Taha-Seddik/car-auction-backend/internal/guard"
	"github.com/Taha-Seddik/car-auction-backend/internal/httpapi"
	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
	"github.com/Taha-Seddik/car-auction-backend/internal/store"
	"github.com/Taha-Seddik/car-auction-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(logger.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Connect(cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("initialize schema")
	}

	fabric, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}
	defer fabric.Close()
	fabric.StartSubscriber(ctx)

	mq, err := broker.Connect(cfg.AMQPURL, cfg.Prefetch)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to rabbitmq")
	}
	defer mq.Close()

	m := metrics.New("auction")

	eng := engine.New(db, fabric, m)

	closer := engine.NewCloser(db, fabric, m, cfg.CloseInterval, cfg.CloseBatch, cfg.StaleClosing)
	go closer.Run(ctx)

	producer := broker.NewProducer(mq)

	consumer := broker.NewConsumer(mq, eng, m)
	deliveries, err := mq.Consume(broker.QueueProcess)
	if err != nil {
		log.Fatal().Err(err).Str("queue", broker.QueueProcess).Msg("start consumer")
	}
	go consumer.Run(ctx, deliveries)

	deadLetters, err := mq.Consume(broker.QueueDLQ)
	if err != nil {
		log.Fatal().Err(err).Str("queue", broker.QueueDLQ).Msg("start dlq observer")
	}
	go consumer.RunDLQ(ctx, deadLetters)

	g := guard.New(cfg.MaxConnsPerIP, cfg.MaxConnsPerUser)

	hub := gateway.NewHub(fabric, m)
	ws := gateway.NewHandler(hub, g, eng, closer, producer, fabric, cfg.BidMode, m)
	go ws.Run(ctx)

	router := mux.NewRouter()
	router.Use(httpapi.LoggingMiddleware)
	router.Use(httpapi.CORSMiddleware)
	ws.Register(router)
	httpapi.NewHandler(db, eng).Register(router)
	router.Handle("/metrics", m.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Str("bid_mode", cfg.BidMode).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
