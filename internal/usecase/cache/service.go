package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

// ErrItemNotFound возвращается, если товар с таким названием не найден в кэше.
var ErrItemNotFound = errors.New("товар не найден в кэше")

// Service реализует кэш результатов поиска с глобальным лимитом на арендатора.
type Service struct {
	terms  domain.TermRepo
	locker domain.TenantLocker
	cap    int
}

// NewService создаёт кэш. При cap <= 0 используется domain.CacheCapacity.
func NewService(terms domain.TermRepo, locker domain.TenantLocker, cap int) *Service {
	if cap <= 0 {
		cap = domain.CacheCapacity
	}
	return &Service{terms: terms, locker: locker, cap: cap}
}

// NormalizeTermID приводит запрос к каноничному идентификатору:
// нижний регистр, пробелы в дефисы, без точек и слэшей.
// Коллизии нормализации считаются намеренной дедупликацией.
func NormalizeTermID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, ".", "")
	id = strings.ReplaceAll(id, "/", "")
	return id
}

// Put сохраняет результат поиска, предварительно вытеснив самые старые записи,
// чтобы суммарное число товаров арендатора не превысило лимит.
func (s *Service) Put(ctx context.Context, term domain.SearchTerm) error {
	return s.locker.WithLock(ctx, term.TenantID, func() error {
		if err := s.evictFor(ctx, term.TenantID, term.TermID, len(term.Items)); err != nil {
			return fmt.Errorf("вытеснение кэша: %w", err)
		}
		return s.terms.UpsertTerm(ctx, term)
	})
}

// evictFor удаляет записи от самой старой по updatedAt, пока входящие товары
// не поместятся в лимит. Запись, которую перезапишет upsert, в счёт не идёт.
func (s *Service) evictFor(ctx context.Context, tenantID, replacingTermID string, incoming int) error {
	terms, err := s.terms.ListTerms(ctx, tenantID)
	if err != nil {
		return err
	}
	total := 0
	kept := terms[:0]
	for _, t := range terms {
		if t.TermID == replacingTermID {
			continue
		}
		total += len(t.Items)
		kept = append(kept, t)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].UpdatedAt.Before(kept[j].UpdatedAt) })
	for _, t := range kept {
		if total+incoming <= s.cap {
			break
		}
		if err := s.terms.DeleteTerm(ctx, tenantID, t.TermID); err != nil {
			return err
		}
		metrics.CacheEvictions.Inc()
		total -= len(t.Items)
	}
	return nil
}

// OnCooldown сообщает, выполнялся ли поиск по термину недавно.
func (s *Service) OnCooldown(ctx context.Context, tenantID, termID string, window time.Duration) (bool, error) {
	term, err := s.terms.GetTerm(ctx, tenantID, termID)
	if err != nil {
		if errors.Is(err, domain.ErrTermNotFound) {
			return false, nil
		}
		return false, err
	}
	return time.Since(term.UpdatedAt) < window, nil
}

// RemoveItem убирает все товары с точным названием из первой записи, где
// оно встречается. Опустевшая запись сохраняется с нулём товаров, не удаляется.
func (s *Service) RemoveItem(ctx context.Context, tenantID, title string) error {
	return s.locker.WithLock(ctx, tenantID, func() error {
		terms, err := s.terms.ListTerms(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, term := range terms {
			filtered := term.Items[:0:0]
			found := false
			for _, item := range term.Items {
				if item.Title == title {
					found = true
					continue
				}
				filtered = append(filtered, item)
			}
			if !found {
				continue
			}
			term.Items = filtered
			term.UpdatedAt = time.Now().UTC()
			return s.terms.UpsertTerm(ctx, term)
		}
		return ErrItemNotFound
	})
}

// Items собирает все товары арендатора по всем кэшированным запросам.
func (s *Service) Items(ctx context.Context, tenantID string) ([]domain.CatalogItem, error) {
	terms, err := s.terms.ListTerms(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var items []domain.CatalogItem
	for _, term := range terms {
		items = append(items, term.Items...)
	}
	return items, nil
}
