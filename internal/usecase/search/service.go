package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/usecase/cache"
	"clickdivulga/internal/usecase/quota"
)

var (
	// ErrCooldownActive возвращается, если термин искали недавно.
	ErrCooldownActive = errors.New("запрос уже выполнялся недавно")
	// ErrQuotaExceeded возвращается при исчерпании дневной квоты.
	ErrQuotaExceeded = errors.New("дневная квота поиска исчерпана")
)

// Service выполняет поисковые запросы к маркетплейсу с учётом квоты и кулдауна.
type Service struct {
	provider domain.SearchProvider
	tenants  domain.TenantRepo
	terms    domain.TermRepo
	cache    *cache.Service
	quota    *quota.Service
	log      zerolog.Logger
}

// NewService создаёт поисковый сервис.
func NewService(provider domain.SearchProvider, tenants domain.TenantRepo, terms domain.TermRepo, cacheSvc *cache.Service, quotaSvc *quota.Service, logger zerolog.Logger) *Service {
	return &Service{provider: provider, tenants: tenants, terms: terms, cache: cacheSvc, quota: quotaSvc, log: logger}
}

// Search выполняет интерактивный поиск: кулдаун проверяется до списания квоты,
// поэтому повторный запрос внутри окна не расходует лимит.
func (s *Service) Search(ctx context.Context, tenantID string, kind domain.TermKind, raw string) (domain.SearchTerm, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return domain.SearchTerm{}, fmt.Errorf("получение арендатора: %w", err)
	}

	termID := cache.NormalizeTermID(raw)
	hot, err := s.cache.OnCooldown(ctx, tenantID, termID, domain.InteractiveCooldown)
	if err != nil {
		return domain.SearchTerm{}, fmt.Errorf("проверка кулдауна: %w", err)
	}
	if hot {
		return domain.SearchTerm{}, ErrCooldownActive
	}

	allowed, err := s.quota.TryConsume(ctx, tenant, domain.QuotaInteractive, time.Now())
	if err != nil {
		return domain.SearchTerm{}, fmt.Errorf("списание квоты: %w", err)
	}
	if !allowed {
		return domain.SearchTerm{}, ErrQuotaExceeded
	}

	return s.fetchAndStore(ctx, tenant, kind, raw, termID)
}

// RefreshTenant обновляет все кэшированные запросы арендатора, расходуя
// фоновую квоту. Кулдаун здесь не действует: запись просто перезаписывается.
func (s *Service) RefreshTenant(ctx context.Context, tenant domain.Tenant) error {
	terms, err := s.terms.ListTerms(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("чтение кэша: %w", err)
	}
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return err
		}
		allowed, err := s.quota.TryConsume(ctx, tenant, domain.QuotaBackground, time.Now())
		if err != nil {
			return fmt.Errorf("списание фоновой квоты: %w", err)
		}
		if !allowed {
			return ErrQuotaExceeded
		}
		if _, err := s.fetchAndStore(ctx, tenant, term.Kind, term.RawTerm, term.TermID); err != nil {
			// Ошибка одного термина не прерывает обновление остальных.
			s.log.Error().Err(err).Str("tenant", tenant.ID).Str("term", term.TermID).Msg("refresh: термин не обновлён")
		}
	}
	return nil
}

func (s *Service) fetchAndStore(ctx context.Context, tenant domain.Tenant, kind domain.TermKind, raw, termID string) (domain.SearchTerm, error) {
	offers, err := s.provider.Search(ctx, tenant, kind, raw)
	if err != nil {
		return domain.SearchTerm{}, fmt.Errorf("поиск на маркетплейсе: %w", err)
	}
	items := make([]domain.CatalogItem, 0, len(offers))
	for _, offer := range offers {
		items = append(items, domain.NewCatalogItem(offer))
	}
	term := domain.SearchTerm{
		TenantID:  tenant.ID,
		TermID:    termID,
		Kind:      kind,
		RawTerm:   raw,
		Items:     items,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.cache.Put(ctx, term); err != nil {
		return domain.SearchTerm{}, fmt.Errorf("сохранение результата: %w", err)
	}
	return term, nil
}
