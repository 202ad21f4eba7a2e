package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"clickdivulga/internal/adapters/api"
	"clickdivulga/internal/adapters/marketplace"
	"clickdivulga/internal/adapters/repo"
	"clickdivulga/internal/adapters/telegram"
	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/config"
	"clickdivulga/internal/infra/db"
	httpinfra "clickdivulga/internal/infra/http"
	"clickdivulga/internal/infra/lock"
	applog "clickdivulga/internal/infra/log"
	"clickdivulga/internal/infra/metrics"
	"clickdivulga/internal/infra/queue"
	"clickdivulga/internal/usecase/cache"
	"clickdivulga/internal/usecase/dispatch"
	"clickdivulga/internal/usecase/groups"
	"clickdivulga/internal/usecase/quota"
	"clickdivulga/internal/usecase/search"
)

func main() {
	cfg := config.Load()
	log.Logger = applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var locker domain.TenantLocker = lock.NewLocalLocker()
	var sweeps domain.SweepQueue
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient)
		sweeps = queue.NewRedisSweepQueue(redisClient, cfg.Queues.Sweep)
	}

	var events domain.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := queue.NewRabbitEventPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatal().Err(err).Msg("api: некорректный AMQP URL")
		}
		defer publisher.Close()
		events = publisher
	}

	provider := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.AppID, cfg.Marketplace.AppSecret, 15*time.Second)
	sender := telegram.NewSender(cfg.Telegram.SendRPS)

	cacheSvc := cache.NewService(repoAdapter, locker, domain.CacheCapacity)
	quotaSvc := quota.NewService(repoAdapter, locker, domain.DailyQuotaLimit)
	searchSvc := search.NewService(provider, repoAdapter, repoAdapter, cacheSvc, quotaSvc, log.With().Str("component", "search").Logger())
	dispatchSvc := dispatch.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, sender, events, log.With().Str("component", "dispatch").Logger())
	groupsSvc := groups.NewService(repoAdapter)

	srv := httpinfra.NewServer(log.With().Str("component", "http").Logger())
	handler := api.NewHandler(dispatchSvc, groupsSvc, searchSvc, cacheSvc, sweeps, log.With().Str("component", "api").Logger())
	handler.Register(srv.Router)

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
