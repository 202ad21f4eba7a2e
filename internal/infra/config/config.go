package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"America/Sao_Paulo"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Marketplace struct {
		BaseURL   string `envconfig:"MARKETPLACE_BASE_URL" default:"https://shopee.com.br/api/v4"`
		AppID     string `envconfig:"MARKETPLACE_APP_ID"`
		AppSecret string `envconfig:"MARKETPLACE_APP_SECRET"`
	} `envconfig:""`

	Telegram struct {
		SendRPS float64 `envconfig:"TG_SEND_RPS" default:"0.5"`
	} `envconfig:""`

	Queues struct {
		Sweep string `envconfig:"SWEEP_QUEUE_KEY" default:"sweep_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
