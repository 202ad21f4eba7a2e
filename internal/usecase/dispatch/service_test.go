package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clickdivulga/internal/domain"
)

type stubStore struct {
	tenant  domain.Tenant
	bot     domain.Bot
	configs map[string]domain.GroupConfig
	terms   []domain.SearchTerm
	entries []domain.DispatchLogEntry
	touched map[string]time.Time
}

func newStubStore() *stubStore {
	return &stubStore{
		tenant: domain.Tenant{ID: "t1", Timezone: "UTC"},
		bot: domain.Bot{
			ID:           "b1",
			TenantID:     "t1",
			Token:        "123:token",
			Destinations: map[string]string{"2": "@canal2", "3": "@canal3"},
		},
		configs: make(map[string]domain.GroupConfig),
		touched: make(map[string]time.Time),
	}
}

func (s *stubStore) GetTenant(_ context.Context, _ string) (domain.Tenant, error) {
	return s.tenant, nil
}

func (s *stubStore) ListTenants(_ context.Context) ([]domain.Tenant, error) {
	return []domain.Tenant{s.tenant}, nil
}

func (s *stubStore) ListBots(_ context.Context, _ string) ([]domain.Bot, error) {
	return []domain.Bot{s.bot}, nil
}

func (s *stubStore) GetGroupConfig(_ context.Context, _, _, group string) (domain.GroupConfig, error) {
	cfg, ok := s.configs[group]
	if !ok {
		return domain.GroupConfig{}, domain.ErrGroupConfigNotFound
	}
	return cfg, nil
}

func (s *stubStore) UpsertGroupConfig(_ context.Context, cfg domain.GroupConfig) error {
	s.configs[cfg.Group] = cfg
	return nil
}

func (s *stubStore) TouchDispatch(_ context.Context, _, _, group string, at time.Time) error {
	s.touched[group] = at
	cfg := s.configs[group]
	cfg.LastDispatchAt = &at
	s.configs[group] = cfg
	return nil
}

func (s *stubStore) GetTerm(_ context.Context, _, termID string) (domain.SearchTerm, error) {
	for _, term := range s.terms {
		if term.TermID == termID {
			return term, nil
		}
	}
	return domain.SearchTerm{}, domain.ErrTermNotFound
}

func (s *stubStore) ListTerms(_ context.Context, _ string) ([]domain.SearchTerm, error) {
	return s.terms, nil
}

func (s *stubStore) UpsertTerm(_ context.Context, term domain.SearchTerm) error {
	for i := range s.terms {
		if s.terms[i].TermID == term.TermID {
			s.terms[i] = term
			return nil
		}
	}
	s.terms = append(s.terms, term)
	return nil
}

func (s *stubStore) DeleteTerm(_ context.Context, _, termID string) error {
	for i := range s.terms {
		if s.terms[i].TermID == termID {
			s.terms = append(s.terms[:i], s.terms[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *stubStore) AppendDispatchLog(_ context.Context, entry domain.DispatchLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubStore) ListDispatchedSince(_ context.Context, _, _ string, since time.Time) ([]domain.DispatchLogEntry, error) {
	var out []domain.DispatchLogEntry
	for _, entry := range s.entries {
		if entry.SentAt.After(since) {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeSink struct {
	sent []string
	err  error
}

func (f *fakeSink) SendPhoto(_ context.Context, _, _, _ string, caption string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, caption)
	return nil
}

func baseConfig() domain.GroupConfig {
	return domain.GroupConfig{
		TenantID:        "t1",
		BotID:           "b1",
		Group:           "2",
		ProductTitles:   []string{"Lamp"},
		MessagesPerTick: 1,
		IntervalMinutes: 1,
		WindowStartHour: 0,
		WindowEndHour:   23,
		TextMode:        domain.TextModeGenerated,
	}
}

func lampTerm() domain.SearchTerm {
	return domain.SearchTerm{
		TenantID: "t1",
		TermID:   "lamp",
		Items: []domain.CatalogItem{{
			Title:    "Lamp",
			ImageURL: "https://cdn/lamp.jpg",
			Price:    49.9,
			Link:     "https://shope.ee/lamp",
		}},
		UpdatedAt: time.Now().UTC(),
	}
}

func newService(store *stubStore, sink *fakeSink) *Service {
	return NewService(store, store, store, store, store, sink, nil, zerolog.Nop())
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func TestWindowGate(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	cfg.WindowStartHour = 9
	cfg.WindowEndHour = 17
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{lampTerm()}
	sink := &fakeSink{}
	svc := newService(store, sink)

	for _, hour := range []int{8, 18, 23} {
		report, err := svc.RunTick(context.Background(), at(hour))
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if report.Sent != 0 {
			t.Fatalf("час %d: вне окна отправок быть не должно", hour)
		}
		if _, ok := store.touched["2"]; ok {
			t.Fatalf("час %d: отказ по окну не должен трогать lastDispatchAt", hour)
		}
	}

	for _, hour := range []int{9, 13, 17} {
		store.entries = nil
		store.configs["2"] = cfg
		delete(store.touched, "2")
		report, err := svc.RunTick(context.Background(), at(hour))
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if report.Sent != 1 {
			t.Fatalf("час %d внутри окна: ожидали отправку, отчёт %+v", hour, report)
		}
	}
}

func TestIntervalGate(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	cfg.IntervalMinutes = 10
	now := at(12)

	recent := now.Add(-5 * time.Minute)
	cfg.LastDispatchAt = &recent
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{lampTerm()}
	sink := &fakeSink{}
	svc := newService(store, sink)

	report, _ := svc.RunTick(context.Background(), now)
	if report.Sent != 0 || report.Skipped == 0 {
		t.Fatalf("5 минут из 10 — группа должна быть пропущена: %+v", report)
	}

	stale := now.Add(-11 * time.Minute)
	cfg.LastDispatchAt = &stale
	store.configs["2"] = cfg
	report, _ = svc.RunTick(context.Background(), now)
	if report.Sent != 1 {
		t.Fatalf("11 минут из 10 — группа должна отправить: %+v", report)
	}
}

func TestEmptyWhitelistSkipsWithoutTouch(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	cfg.ProductTitles = nil
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{lampTerm()}
	svc := newService(store, &fakeSink{})

	report, _ := svc.RunTick(context.Background(), at(12))
	if report.Sent != 0 {
		t.Fatalf("пустой белый список не должен отправлять")
	}
	if _, ok := store.touched["2"]; ok {
		t.Fatalf("отказ по пустому списку не должен трогать lastDispatchAt")
	}
}

func TestMissingCredentialsSkipsWithoutTouch(t *testing.T) {
	store := newStubStore()
	store.bot.Token = ""
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{lampTerm()}
	svc := newService(store, &fakeSink{})

	report, _ := svc.RunTick(context.Background(), at(12))
	if report.Sent != 0 || report.Errors != 0 {
		t.Fatalf("без токена группа молча пропускается: %+v", report)
	}
	if _, ok := store.touched["2"]; ok {
		t.Fatalf("отказ по учёткам не должен трогать lastDispatchAt")
	}
}

func TestDedupWindow(t *testing.T) {
	store := newStubStore()
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{lampTerm()}
	now := at(12)

	store.entries = []domain.DispatchLogEntry{{
		TenantID: "t1", BotID: "b1", Group: "3",
		Title: "Lamp", Outcome: domain.OutcomeSent,
		SentAt: now.Add(-47 * time.Hour),
	}}
	sink := &fakeSink{}
	svc := newService(store, sink)

	report, _ := svc.RunTick(context.Background(), now)
	if report.Sent != 0 {
		t.Fatalf("отправка 47 часов назад (в любой группе) подавляет повтор")
	}
	if _, ok := store.touched["2"]; !ok {
		t.Fatalf("гейты 1-4 пройдены — lastDispatchAt должен сдвинуться даже без отправок")
	}

	store.entries = []domain.DispatchLogEntry{{
		TenantID: "t1", BotID: "b1", Group: "2",
		Title: "Lamp", Outcome: domain.OutcomeSent,
		SentAt: now.Add(-49 * time.Hour),
	}}
	store.configs["2"] = baseConfig()
	report, _ = svc.RunTick(context.Background(), now)
	if report.Sent != 1 {
		t.Fatalf("отправка 49 часов назад уже вне окна дедупликации: %+v", report)
	}
}

func TestErrorEntryAlsoSuppressesResend(t *testing.T) {
	store := newStubStore()
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{lampTerm()}
	now := at(12)
	store.entries = []domain.DispatchLogEntry{{
		TenantID: "t1", BotID: "b1", Group: "2",
		Title: "Lamp", Outcome: domain.OutcomeError, Detail: "bad destination",
		SentAt: now.Add(-time.Hour),
	}}
	svc := newService(store, &fakeSink{})

	report, _ := svc.RunTick(context.Background(), now)
	if report.Sent != 0 {
		t.Fatalf("ошибочная запись журнала тоже участвует в дедупликации")
	}
}

func TestRateCap(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	cfg.ProductTitles = []string{"A", "B", "C"}
	cfg.MessagesPerTick = 2
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{{
		TenantID: "t1",
		TermID:   "letras",
		Items: []domain.CatalogItem{
			{Title: "A", ImageURL: "https://cdn/a.jpg"},
			{Title: "B", ImageURL: "https://cdn/b.jpg"},
			{Title: "C", ImageURL: "https://cdn/c.jpg"},
		},
	}}
	sink := &fakeSink{}
	svc := newService(store, sink)

	report, _ := svc.RunTick(context.Background(), at(12))
	if report.Sent != 2 {
		t.Fatalf("лимит 2 на тик: ожидали 2 отправки, получили %d", report.Sent)
	}
}

func TestMissingImageNeverSentNorLogged(t *testing.T) {
	store := newStubStore()
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{{
		TenantID: "t1",
		TermID:   "lamp",
		Items:    []domain.CatalogItem{{Title: "Lamp", Price: 10}},
	}}
	sink := &fakeSink{}
	svc := newService(store, sink)

	report, _ := svc.RunTick(context.Background(), at(12))
	if report.Sent != 0 {
		t.Fatalf("товар без картинки не отправляется")
	}
	if len(store.entries) != 0 {
		t.Fatalf("товар без картинки не попадает в журнал")
	}
}

func TestEndToEndSingleSendThenIntervalGate(t *testing.T) {
	store := newStubStore()
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{lampTerm()}
	sink := &fakeSink{}
	svc := newService(store, sink)

	now := at(12)
	report, err := svc.RunTick(context.Background(), now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("ожидали ровно одну отправку, отчёт %+v", report)
	}
	if len(store.entries) != 1 || store.entries[0].Outcome != domain.OutcomeSent {
		t.Fatalf("ожидали одну запись Sent, получили %+v", store.entries)
	}
	if got, ok := store.touched["2"]; !ok || !got.Equal(now) {
		t.Fatalf("lastDispatchAt должен стать временем тика")
	}

	second, _ := svc.RunTick(context.Background(), now.Add(30*time.Second))
	if second.Sent != 0 {
		t.Fatalf("через 30 секунд интервал-гейт должен закрыть группу: %+v", second)
	}
	if len(store.entries) != 1 {
		t.Fatalf("второй тик не должен писать в журнал")
	}
}

func TestSendFailureLogsErrorAndAdvancesInterval(t *testing.T) {
	store := newStubStore()
	store.configs["2"] = baseConfig()
	store.terms = []domain.SearchTerm{lampTerm()}
	sink := &fakeSink{err: errors.New("forbidden: bot was kicked")}
	svc := newService(store, sink)

	now := at(12)
	report, _ := svc.RunTick(context.Background(), now)
	if report.Errors != 1 || report.Sent != 0 {
		t.Fatalf("ожидали одну ошибку отправки: %+v", report)
	}
	if len(store.entries) != 1 || store.entries[0].Outcome != domain.OutcomeError {
		t.Fatalf("ожидали запись Error: %+v", store.entries)
	}
	if store.entries[0].Detail == "" {
		t.Fatalf("запись Error должна содержать причину")
	}
	if _, ok := store.touched["2"]; !ok {
		t.Fatalf("группа обработана — lastDispatchAt сдвигается и при ошибке")
	}
}

func TestForceBypassesIntervalAndDedup(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	now := at(12)
	recent := now.Add(-10 * time.Second)
	cfg.LastDispatchAt = &recent
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{lampTerm()}
	store.entries = []domain.DispatchLogEntry{{
		TenantID: "t1", BotID: "b1", Group: "2",
		Title: "Lamp", Outcome: domain.OutcomeSent,
		SentAt: now.Add(-time.Hour),
	}}
	sink := &fakeSink{}
	svc := newService(store, sink)

	report, err := svc.Force(context.Background(), now, "t1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("force игнорирует интервал и дедупликацию: %+v", report)
	}
	if _, ok := store.touched["2"]; ok {
		t.Fatalf("force не должен сдвигать lastDispatchAt")
	}
}

func TestForceRespectsWindowAndCredentials(t *testing.T) {
	store := newStubStore()
	cfg := baseConfig()
	cfg.WindowStartHour = 9
	cfg.WindowEndHour = 17
	store.configs["2"] = cfg
	store.terms = []domain.SearchTerm{lampTerm()}
	svc := newService(store, &fakeSink{})

	report, _ := svc.Force(context.Background(), at(20), "t1")
	if report.Sent != 0 {
		t.Fatalf("force не обходит окно рассылки: %+v", report)
	}
}
