package quota

import (
	"context"
	"fmt"
	"time"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

// Service ведёт суточные счётчики вызовов арендатора.
// Два класса (интерактивный поиск и фоновое обновление) независимы:
// исчерпание одного не блокирует другой.
type Service struct {
	counters domain.QuotaRepo
	locker   domain.TenantLocker
	limit    int
}

// NewService создаёт гувернёра квот. При limit <= 0 используется domain.DailyQuotaLimit.
func NewService(counters domain.QuotaRepo, locker domain.TenantLocker, limit int) *Service {
	if limit <= 0 {
		limit = domain.DailyQuotaLimit
	}
	return &Service{counters: counters, locker: locker, limit: limit}
}

// TryConsume списывает один вызов указанного класса. Возвращает false без
// изменения состояния, если дневной потолок достигнут. Счётчики сбрасываются
// при первом обращении после смены календарной даты в часовом поясе арендатора.
func (s *Service) TryConsume(ctx context.Context, tenant domain.Tenant, kind domain.QuotaKind, now time.Time) (bool, error) {
	allowed := false
	err := s.locker.WithLock(ctx, tenant.ID, func() error {
		counter, err := s.counters.GetCounter(ctx, tenant.ID)
		if err != nil {
			return fmt.Errorf("чтение счётчика: %w", err)
		}
		today := localDate(now, tenant.Location())
		if counter.TenantID == "" || !counter.Date.Equal(today) {
			counter = domain.QuotaCounter{TenantID: tenant.ID, Date: today}
		}
		if counter.Used(kind) >= s.limit {
			metrics.QuotaRejected.WithLabelValues(string(kind)).Inc()
			return nil
		}
		switch kind {
		case domain.QuotaBackground:
			counter.BackgroundUsed++
		default:
			counter.InteractiveUsed++
		}
		if err := s.counters.SaveCounter(ctx, counter); err != nil {
			return fmt.Errorf("сохранение счётчика: %w", err)
		}
		allowed = true
		return nil
	})
	return allowed, err
}

// localDate усекает момент до календарной даты в указанном поясе.
func localDate(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
