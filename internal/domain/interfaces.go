package domain

import (
	"context"
	"time"
)

// TenantRepo управляет арендаторами.
type TenantRepo interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
}

// BotRepo управляет ботами арендатора.
type BotRepo interface {
	ListBots(ctx context.Context, tenantID string) ([]Bot, error)
}

// GroupConfigRepo управляет конфигурациями групп каналов.
type GroupConfigRepo interface {
	GetGroupConfig(ctx context.Context, tenantID, botID, group string) (GroupConfig, error)
	UpsertGroupConfig(ctx context.Context, cfg GroupConfig) error
	TouchDispatch(ctx context.Context, tenantID, botID, group string, at time.Time) error
}

// TermRepo управляет кэшем поисковых запросов.
type TermRepo interface {
	GetTerm(ctx context.Context, tenantID, termID string) (SearchTerm, error)
	ListTerms(ctx context.Context, tenantID string) ([]SearchTerm, error)
	UpsertTerm(ctx context.Context, term SearchTerm) error
	DeleteTerm(ctx context.Context, tenantID, termID string) error
}

// QuotaRepo хранит суточные счётчики вызовов.
type QuotaRepo interface {
	GetCounter(ctx context.Context, tenantID string) (QuotaCounter, error)
	SaveCounter(ctx context.Context, counter QuotaCounter) error
}

// DispatchLogRepo ведёт журнал рассылки.
type DispatchLogRepo interface {
	AppendDispatchLog(ctx context.Context, entry DispatchLogEntry) error
	ListDispatchedSince(ctx context.Context, tenantID, botID string, since time.Time) ([]DispatchLogEntry, error)
}

// SearchProvider выполняет поиск товаров на маркетплейсе.
type SearchProvider interface {
	Search(ctx context.Context, tenant Tenant, kind TermKind, raw string) ([]RawOffer, error)
}

// ChannelSink отправляет одно сообщение (картинка + подпись) в канал.
type ChannelSink interface {
	SendPhoto(ctx context.Context, token, destination, photoURL, caption string) error
}

// TenantLocker сериализует изменения кэша и квоты одного арендатора.
type TenantLocker interface {
	WithLock(ctx context.Context, tenantID string, fn func() error) error
}

// SweepQueue — очередь внеплановых проходов планировщика.
type SweepQueue interface {
	Enqueue(ctx context.Context, job SweepJob) error
	Pop(ctx context.Context) (SweepJob, error)
}

// EventPublisher отдаёт события рассылки внешним потребителям.
type EventPublisher interface {
	PublishDispatch(ctx context.Context, event DispatchEvent) error
}
