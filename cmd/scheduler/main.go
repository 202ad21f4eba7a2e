package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"clickdivulga/internal/adapters/marketplace"
	"clickdivulga/internal/adapters/repo"
	"clickdivulga/internal/adapters/telegram"
	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/config"
	"clickdivulga/internal/infra/db"
	"clickdivulga/internal/infra/lock"
	applog "clickdivulga/internal/infra/log"
	"clickdivulga/internal/infra/metrics"
	"clickdivulga/internal/infra/queue"
	"clickdivulga/internal/usecase/cache"
	"clickdivulga/internal/usecase/dispatch"
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
		log.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
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
			log.Fatal().Err(err).Msg("scheduler: некорректный AMQP URL")
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

	refresh := func(ctx context.Context) error {
		tenants, err := repoAdapter.ListTenants(ctx)
		if err != nil {
			return err
		}
		for _, tenant := range tenants {
			if err := searchSvc.RefreshTenant(ctx, tenant); err != nil {
				log.Error().Err(err).Str("tenant", tenant.ID).Msg("scheduler: обновление кэша арендатора")
			}
		}
		return nil
	}

	sweeper := dispatch.NewSweeper(dispatchSvc, refresh, log.With().Str("component", "sweeper").Logger())
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("scheduler: не удалось запустить расписание")
	}
	defer sweeper.Stop()

	if sweeps != nil {
		go consumeSweeps(ctx, sweeps, dispatchSvc)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler: остановка")
}

// consumeSweeps обслуживает внеплановые проходы, поставленные через API.
func consumeSweeps(ctx context.Context, sweeps domain.SweepQueue, dispatchSvc *dispatch.Service) {
	for {
		job, err := sweeps.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("scheduler: чтение очереди проходов")
			continue
		}
		report, err := dispatchSvc.Sweep(ctx, time.Now(), job.TenantID, job.Force)
		if err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("scheduler: внеплановый проход")
			continue
		}
		log.Info().Str("job", job.ID).Int("sent", report.Sent).Int("skipped", report.Skipped).Int("errors", report.Errors).Msg("scheduler: внеплановый проход завершён")
	}
}
