package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/usecase/cache"
	"clickdivulga/internal/usecase/quota"
)

type memTerms struct {
	terms map[string]domain.SearchTerm
}

func newMemTerms() *memTerms {
	return &memTerms{terms: make(map[string]domain.SearchTerm)}
}

func (m *memTerms) GetTerm(_ context.Context, tenantID, termID string) (domain.SearchTerm, error) {
	term, ok := m.terms[tenantID+"/"+termID]
	if !ok {
		return domain.SearchTerm{}, domain.ErrTermNotFound
	}
	return term, nil
}

func (m *memTerms) ListTerms(_ context.Context, tenantID string) ([]domain.SearchTerm, error) {
	var out []domain.SearchTerm
	for _, term := range m.terms {
		if term.TenantID == tenantID {
			out = append(out, term)
		}
	}
	return out, nil
}

func (m *memTerms) UpsertTerm(_ context.Context, term domain.SearchTerm) error {
	m.terms[term.TenantID+"/"+term.TermID] = term
	return nil
}

func (m *memTerms) DeleteTerm(_ context.Context, tenantID, termID string) error {
	delete(m.terms, tenantID+"/"+termID)
	return nil
}

type memCounters struct {
	byTenant map[string]domain.QuotaCounter
}

func (m *memCounters) GetCounter(_ context.Context, tenantID string) (domain.QuotaCounter, error) {
	return m.byTenant[tenantID], nil
}

func (m *memCounters) SaveCounter(_ context.Context, counter domain.QuotaCounter) error {
	m.byTenant[counter.TenantID] = counter
	return nil
}

type stubTenants struct{ tenant domain.Tenant }

func (s *stubTenants) GetTenant(_ context.Context, _ string) (domain.Tenant, error) {
	return s.tenant, nil
}

func (s *stubTenants) ListTenants(_ context.Context) ([]domain.Tenant, error) {
	return []domain.Tenant{s.tenant}, nil
}

type stubProvider struct {
	offers []domain.RawOffer
	err    error
	calls  int
}

func (s *stubProvider) Search(_ context.Context, _ domain.Tenant, _ domain.TermKind, _ string) ([]domain.RawOffer, error) {
	s.calls++
	return s.offers, s.err
}

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, _ string, fn func() error) error { return fn() }

func newFixture(provider *stubProvider, quotaLimit int) (*Service, *memTerms, *memCounters) {
	terms := newMemTerms()
	counters := &memCounters{byTenant: make(map[string]domain.QuotaCounter)}
	cacheSvc := cache.NewService(terms, noopLocker{}, 0)
	quotaSvc := quota.NewService(counters, noopLocker{}, quotaLimit)
	tenants := &stubTenants{tenant: domain.Tenant{ID: "t1", Timezone: "UTC"}}
	svc := NewService(provider, tenants, terms, cacheSvc, quotaSvc, zerolog.Nop())
	return svc, terms, counters
}

func TestSearchStoresTermWithCommissions(t *testing.T) {
	provider := &stubProvider{offers: []domain.RawOffer{{
		Title:         "Luminária",
		ImageURL:      "https://cdn/luminaria.jpg",
		Price:         100,
		CommissionPct: 0.08,
		Link:          "https://shope.ee/x",
		Store:         "Casa Luz",
	}}}
	svc, terms, _ := newFixture(provider, 10)

	term, err := svc.Search(context.Background(), "t1", domain.TermKeyword, "Luminária de Mesa")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if term.TermID != "luminária-de-mesa" {
		t.Fatalf("ожидали нормализованный термин, получили %q", term.TermID)
	}
	stored, ok := terms.terms["t1/luminária-de-mesa"]
	if !ok {
		t.Fatalf("термин должен сохраниться в кэше")
	}
	if stored.Items[0].CommissionLive != 15 || stored.Items[0].CommissionSocial != 8 {
		t.Fatalf("комиссии должны считаться при сохранении: %+v", stored.Items[0])
	}
}

func TestSearchCooldownRejectsWithoutQuotaCharge(t *testing.T) {
	provider := &stubProvider{}
	svc, terms, counters := newFixture(provider, 10)

	terms.terms["t1/fone-jbl"] = domain.SearchTerm{
		TenantID:  "t1",
		TermID:    "fone-jbl",
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}

	_, err := svc.Search(context.Background(), "t1", domain.TermKeyword, "Fone JBL")
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("ожидали ErrCooldownActive, получили %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("провайдер не должен вызываться на кулдауне")
	}
	if counters.byTenant["t1"].InteractiveUsed != 0 {
		t.Fatalf("отказ по кулдауну не должен расходовать квоту")
	}
}

func TestSearchQuotaExceeded(t *testing.T) {
	provider := &stubProvider{}
	svc, _, _ := newFixture(provider, 1)

	if _, err := svc.Search(context.Background(), "t1", domain.TermKeyword, "primeiro"); err != nil {
		t.Fatalf("первый запрос должен пройти: %v", err)
	}
	_, err := svc.Search(context.Background(), "t1", domain.TermKeyword, "segundo")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("ожидали ErrQuotaExceeded, получили %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("провайдер не должен вызываться после исчерпания квоты")
	}
}

func TestSearchProviderErrorHasNoEffect(t *testing.T) {
	provider := &stubProvider{err: errors.New("timeout")}
	svc, terms, _ := newFixture(provider, 10)

	_, err := svc.Search(context.Background(), "t1", domain.TermKeyword, "algo")
	if err == nil {
		t.Fatalf("ожидали ошибку провайдера")
	}
	if len(terms.terms) != 0 {
		t.Fatalf("при ошибке провайдера кэш не должен меняться")
	}
}

func TestRefreshTenantUsesBackgroundQuota(t *testing.T) {
	provider := &stubProvider{offers: []domain.RawOffer{{Title: "Novo", ImageURL: "https://cdn/n.jpg"}}}
	svc, terms, counters := newFixture(provider, 10)

	terms.terms["t1/a"] = domain.SearchTerm{TenantID: "t1", TermID: "a", Kind: domain.TermKeyword, RawTerm: "a", UpdatedAt: time.Now().UTC()}
	terms.terms["t1/b"] = domain.SearchTerm{TenantID: "t1", TermID: "b", Kind: domain.TermKeyword, RawTerm: "b", UpdatedAt: time.Now().UTC()}

	tenant := domain.Tenant{ID: "t1", Timezone: "UTC"}
	if err := svc.RefreshTenant(context.Background(), tenant); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("ожидали 2 вызова провайдера, получили %d", provider.calls)
	}
	counter := counters.byTenant["t1"]
	if counter.BackgroundUsed != 2 {
		t.Fatalf("фоновая квота должна списаться дважды, получили %d", counter.BackgroundUsed)
	}
	if counter.InteractiveUsed != 0 {
		t.Fatalf("интерактивная квота не должна расходоваться фоном")
	}
}
