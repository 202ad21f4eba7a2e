package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.TenantRepo      = (*Postgres)(nil)
	_ domain.BotRepo         = (*Postgres)(nil)
	_ domain.GroupConfigRepo = (*Postgres)(nil)
	_ domain.TermRepo        = (*Postgres)(nil)
	_ domain.QuotaRepo       = (*Postgres)(nil)
	_ domain.DispatchLogRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetTenant возвращает арендатора по идентификатору.
func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (domain.Tenant, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var tenant domain.Tenant
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, tz, app_id, app_secret, created_at
FROM tenants WHERE id=$1
`, tenantID).Scan(&tenant.ID, &tenant.Timezone, &tenant.AppID, &tenant.AppSecret, &tenant.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "tenants_get", "tenants", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return tenant, err
}

// ListTenants возвращает всех арендаторов.
func (p *Postgres) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tz, app_id, app_secret, created_at
FROM tenants ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "tenants_list", "tenants", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Timezone, &t.AppID, &t.AppSecret, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// ListBots возвращает ботов арендатора.
func (p *Postgres) ListBots(ctx context.Context, tenantID string) ([]domain.Bot, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tenant_id, token, destinations, created_at
FROM bots WHERE tenant_id=$1 ORDER BY id
`, tenantID)
	metrics.ObserveNetworkRequest("postgres", "bots_list", "bots", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bots []domain.Bot
	for rows.Next() {
		var (
			b        domain.Bot
			destJSON []byte
		)
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Token, &destJSON, &b.CreatedAt); err != nil {
			return nil, err
		}
		if len(destJSON) > 0 {
			if err := json.Unmarshal(destJSON, &b.Destinations); err != nil {
				return nil, fmt.Errorf("decode destinations: %w", err)
			}
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// GetGroupConfig возвращает конфигурацию группы.
func (p *Postgres) GetGroupConfig(ctx context.Context, tenantID, botID, group string) (domain.GroupConfig, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		cfg        domain.GroupConfig
		storesJSON []byte
		titlesJSON []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT tenant_id, bot_id, group_id, stores, keyword, product_titles,
       messages_per_tick, interval_minutes, window_start_hour, window_end_hour,
       text_mode, manual_text, last_dispatch_at, updated_at
FROM channel_groups WHERE tenant_id=$1 AND bot_id=$2 AND group_id=$3
`, tenantID, botID, group).Scan(&cfg.TenantID, &cfg.BotID, &cfg.Group, &storesJSON, &cfg.Keyword, &titlesJSON,
		&cfg.MessagesPerTick, &cfg.IntervalMinutes, &cfg.WindowStartHour, &cfg.WindowEndHour,
		&cfg.TextMode, &cfg.ManualText, &cfg.LastDispatchAt, &cfg.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "channel_groups_get", "channel_groups", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GroupConfig{}, domain.ErrGroupConfigNotFound
	}
	if err != nil {
		return domain.GroupConfig{}, err
	}
	if len(storesJSON) > 0 {
		if err := json.Unmarshal(storesJSON, &cfg.Stores); err != nil {
			return domain.GroupConfig{}, fmt.Errorf("decode stores: %w", err)
		}
	}
	if len(titlesJSON) > 0 {
		if err := json.Unmarshal(titlesJSON, &cfg.ProductTitles); err != nil {
			return domain.GroupConfig{}, fmt.Errorf("decode product titles: %w", err)
		}
	}
	return cfg, nil
}

// UpsertGroupConfig сохраняет конфигурацию группы. last_dispatch_at
// при этом не затирается: его двигает только TouchDispatch.
func (p *Postgres) UpsertGroupConfig(ctx context.Context, cfg domain.GroupConfig) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	storesJSON, err := json.Marshal(cfg.Stores)
	if err != nil {
		return fmt.Errorf("encode stores: %w", err)
	}
	titlesJSON, err := json.Marshal(cfg.ProductTitles)
	if err != nil {
		return fmt.Errorf("encode product titles: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO channel_groups (tenant_id, bot_id, group_id, stores, keyword, product_titles,
                            messages_per_tick, interval_minutes, window_start_hour, window_end_hour,
                            text_mode, manual_text, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (tenant_id, bot_id, group_id) DO UPDATE SET
    stores = EXCLUDED.stores,
    keyword = EXCLUDED.keyword,
    product_titles = EXCLUDED.product_titles,
    messages_per_tick = EXCLUDED.messages_per_tick,
    interval_minutes = EXCLUDED.interval_minutes,
    window_start_hour = EXCLUDED.window_start_hour,
    window_end_hour = EXCLUDED.window_end_hour,
    text_mode = EXCLUDED.text_mode,
    manual_text = EXCLUDED.manual_text,
    updated_at = EXCLUDED.updated_at
`, cfg.TenantID, cfg.BotID, cfg.Group, storesJSON, cfg.Keyword, titlesJSON,
		cfg.MessagesPerTick, cfg.IntervalMinutes, cfg.WindowStartHour, cfg.WindowEndHour,
		cfg.TextMode, cfg.ManualText, cfg.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "channel_groups_upsert", "channel_groups", start, err)
	return err
}

// TouchDispatch фиксирует момент последней рассылки группы.
func (p *Postgres) TouchDispatch(ctx context.Context, tenantID, botID, group string, at time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE channel_groups SET last_dispatch_at=$4
WHERE tenant_id=$1 AND bot_id=$2 AND group_id=$3
`, tenantID, botID, group, at)
	metrics.ObserveNetworkRequest("postgres", "channel_groups_touch", "channel_groups", start, err)
	return err
}

// GetTerm возвращает кэшированный результат поиска.
func (p *Postgres) GetTerm(ctx context.Context, tenantID, termID string) (domain.SearchTerm, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		term      domain.SearchTerm
		itemsJSON []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT tenant_id, term_id, kind, raw_term, items, updated_at
FROM search_terms WHERE tenant_id=$1 AND term_id=$2
`, tenantID, termID).Scan(&term.TenantID, &term.TermID, &term.Kind, &term.RawTerm, &itemsJSON, &term.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "search_terms_get", "search_terms", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SearchTerm{}, domain.ErrTermNotFound
	}
	if err != nil {
		return domain.SearchTerm{}, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &term.Items); err != nil {
			return domain.SearchTerm{}, fmt.Errorf("decode items: %w", err)
		}
	}
	return term, nil
}

// ListTerms возвращает все кэшированные запросы арендатора.
func (p *Postgres) ListTerms(ctx context.Context, tenantID string) ([]domain.SearchTerm, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT tenant_id, term_id, kind, raw_term, items, updated_at
FROM search_terms WHERE tenant_id=$1
ORDER BY updated_at
`, tenantID)
	metrics.ObserveNetworkRequest("postgres", "search_terms_list", "search_terms", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var terms []domain.SearchTerm
	for rows.Next() {
		var (
			term      domain.SearchTerm
			itemsJSON []byte
		)
		if err := rows.Scan(&term.TenantID, &term.TermID, &term.Kind, &term.RawTerm, &itemsJSON, &term.UpdatedAt); err != nil {
			return nil, err
		}
		if len(itemsJSON) > 0 {
			if err := json.Unmarshal(itemsJSON, &term.Items); err != nil {
				return nil, fmt.Errorf("decode items: %w", err)
			}
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

// UpsertTerm сохраняет результат поиска.
func (p *Postgres) UpsertTerm(ctx context.Context, term domain.SearchTerm) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	itemsJSON, err := json.Marshal(term.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO search_terms (tenant_id, term_id, kind, raw_term, items, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant_id, term_id) DO UPDATE SET
    kind = EXCLUDED.kind,
    raw_term = EXCLUDED.raw_term,
    items = EXCLUDED.items,
    updated_at = EXCLUDED.updated_at
`, term.TenantID, term.TermID, term.Kind, term.RawTerm, itemsJSON, term.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "search_terms_upsert", "search_terms", start, err)
	return err
}

// DeleteTerm удаляет кэшированный запрос.
func (p *Postgres) DeleteTerm(ctx context.Context, tenantID, termID string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM search_terms WHERE tenant_id=$1 AND term_id=$2`, tenantID, termID)
	metrics.ObserveNetworkRequest("postgres", "search_terms_delete", "search_terms", start, err)
	return err
}

// GetCounter возвращает суточный счётчик арендатора. Отсутствие записи —
// не ошибка: возвращается нулевой счётчик.
func (p *Postgres) GetCounter(ctx context.Context, tenantID string) (domain.QuotaCounter, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var counter domain.QuotaCounter
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT tenant_id, date, interactive_used, background_used
FROM quota_counters WHERE tenant_id=$1
`, tenantID).Scan(&counter.TenantID, &counter.Date, &counter.InteractiveUsed, &counter.BackgroundUsed)
	metrics.ObserveNetworkRequest("postgres", "quota_counters_get", "quota_counters", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuotaCounter{}, nil
	}
	return counter, err
}

// SaveCounter сохраняет суточный счётчик.
func (p *Postgres) SaveCounter(ctx context.Context, counter domain.QuotaCounter) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO quota_counters (tenant_id, date, interactive_used, background_used)
VALUES ($1,$2,$3,$4)
ON CONFLICT (tenant_id) DO UPDATE SET
    date = EXCLUDED.date,
    interactive_used = EXCLUDED.interactive_used,
    background_used = EXCLUDED.background_used
`, counter.TenantID, counter.Date, counter.InteractiveUsed, counter.BackgroundUsed)
	metrics.ObserveNetworkRequest("postgres", "quota_counters_save", "quota_counters", start, err)
	return err
}

// AppendDispatchLog добавляет запись журнала рассылки.
func (p *Postgres) AppendDispatchLog(ctx context.Context, entry domain.DispatchLogEntry) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO dispatch_log (tenant_id, bot_id, group_id, title, outcome, detail, sent_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, entry.TenantID, entry.BotID, entry.Group, entry.Title, entry.Outcome, entry.Detail, entry.SentAt)
	metrics.ObserveNetworkRequest("postgres", "dispatch_log_append", "dispatch_log", start, err)
	return err
}

// ListDispatchedSince возвращает записи журнала бота с указанного момента.
func (p *Postgres) ListDispatchedSince(ctx context.Context, tenantID, botID string, since time.Time) ([]domain.DispatchLogEntry, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT tenant_id, bot_id, group_id, title, outcome, detail, sent_at
FROM dispatch_log WHERE tenant_id=$1 AND bot_id=$2 AND sent_at >= $3
ORDER BY sent_at DESC
`, tenantID, botID, since)
	metrics.ObserveNetworkRequest("postgres", "dispatch_log_list_since", "dispatch_log", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.DispatchLogEntry
	for rows.Next() {
		var e domain.DispatchLogEntry
		if err := rows.Scan(&e.TenantID, &e.BotID, &e.Group, &e.Title, &e.Outcome, &e.Detail, &e.SentAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
