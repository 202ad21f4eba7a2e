package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/infra/metrics"
)

// sendTimeout ограничивает каждый исходящий вызов к каналу.
const sendTimeout = 15 * time.Second

// Service — движок рассылки: раз в тик проходит все комбинации
// арендатор × бот × группа и отправляет подходящие товары.
type Service struct {
	tenants domain.TenantRepo
	bots    domain.BotRepo
	groups  domain.GroupConfigRepo
	terms   domain.TermRepo
	logs    domain.DispatchLogRepo
	sink    domain.ChannelSink
	events  domain.EventPublisher
	log     zerolog.Logger
}

// NewService создаёт движок рассылки. events может быть nil.
func NewService(tenants domain.TenantRepo, bots domain.BotRepo, groups domain.GroupConfigRepo, terms domain.TermRepo, logs domain.DispatchLogRepo, sink domain.ChannelSink, events domain.EventPublisher, logger zerolog.Logger) *Service {
	return &Service{tenants: tenants, bots: bots, groups: groups, terms: terms, logs: logs, sink: sink, events: events, log: logger}
}

// RunTick выполняет один штатный проход по всем арендаторам.
func (s *Service) RunTick(ctx context.Context, now time.Time) (domain.DispatchReport, error) {
	return s.sweep(ctx, now, "", false)
}

// Force выполняет внеплановый проход: таймеры и дедупликация игнорируются,
// lastDispatchAt не сдвигается. Отладочный путь, не для штатной работы.
func (s *Service) Force(ctx context.Context, now time.Time, tenantID string) (domain.DispatchReport, error) {
	return s.sweep(ctx, now, tenantID, true)
}

// Sweep выполняет проход по одному арендатору либо по всем (tenantID == "").
func (s *Service) Sweep(ctx context.Context, now time.Time, tenantID string, force bool) (domain.DispatchReport, error) {
	return s.sweep(ctx, now, tenantID, force)
}

func (s *Service) sweep(ctx context.Context, now time.Time, onlyTenant string, force bool) (domain.DispatchReport, error) {
	start := time.Now()
	var report domain.DispatchReport
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	tenants, err := s.listTenants(ctx, onlyTenant)
	if err != nil {
		return report, err
	}
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		bots, err := s.bots.ListBots(ctx, tenant.ID)
		if err != nil {
			s.log.Error().Err(err).Str("tenant", tenant.ID).Msg("sweep: боты не получены")
			report.Errors++
			continue
		}
		for _, bot := range bots {
			for _, group := range domain.Groups() {
				groupReport := s.runGroup(ctx, now, tenant, bot, group, force)
				report.Add(groupReport)
			}
		}
	}
	return report, nil
}

func (s *Service) listTenants(ctx context.Context, onlyTenant string) ([]domain.Tenant, error) {
	if onlyTenant != "" {
		tenant, err := s.tenants.GetTenant(ctx, onlyTenant)
		if err != nil {
			return nil, fmt.Errorf("получение арендатора: %w", err)
		}
		return []domain.Tenant{tenant}, nil
	}
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("список арендаторов: %w", err)
	}
	return tenants, nil
}

// runGroup прогоняет одну группу через гейты и отправляет прошедшие товары.
// Порядок гейтов важен: отказ до пятого шага не трогает lastDispatchAt.
func (s *Service) runGroup(ctx context.Context, now time.Time, tenant domain.Tenant, bot domain.Bot, group string, force bool) domain.DispatchReport {
	var report domain.DispatchReport

	cfg, err := s.groups.GetGroupConfig(ctx, tenant.ID, bot.ID, group)
	if err != nil {
		if !errors.Is(err, domain.ErrGroupConfigNotFound) {
			s.log.Error().Err(err).Str("tenant", tenant.ID).Str("bot", bot.ID).Str("group", group).Msg("sweep: конфигурация не прочитана")
			report.Errors++
		}
		return report
	}

	hour := now.In(tenant.Location()).Hour()
	if hour < cfg.WindowStartHour || hour > cfg.WindowEndHour {
		report.Skipped++
		metrics.DispatchSkipped.WithLabelValues("window").Inc()
		return report
	}
	if !force && cfg.LastDispatchAt != nil && now.Sub(*cfg.LastDispatchAt) < time.Duration(cfg.IntervalMinutes)*time.Minute {
		report.Skipped++
		metrics.DispatchSkipped.WithLabelValues("interval").Inc()
		return report
	}
	if len(cfg.ProductTitles) == 0 {
		report.Skipped++
		metrics.DispatchSkipped.WithLabelValues("empty_whitelist").Inc()
		return report
	}
	if bot.Token == "" || bot.Destination(group) == "" {
		report.Skipped++
		metrics.DispatchSkipped.WithLabelValues("credentials").Inc()
		s.log.Debug().Str("tenant", tenant.ID).Str("bot", bot.ID).Str("group", group).Msg("sweep: нет токена или назначения")
		return report
	}

	candidates, err := s.collectCandidates(ctx, tenant.ID, cfg)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant.ID).Msg("sweep: кэш не прочитан")
		report.Errors++
		return report
	}

	sentTitles := make(map[string]struct{})
	if !force {
		recent, err := s.logs.ListDispatchedSince(ctx, tenant.ID, bot.ID, now.Add(-domain.DedupWindow))
		if err != nil {
			s.log.Error().Err(err).Str("tenant", tenant.ID).Str("bot", bot.ID).Msg("sweep: журнал не прочитан")
			report.Errors++
			return report
		}
		for _, entry := range recent {
			sentTitles[strings.ToLower(entry.Title)] = struct{}{}
		}
	}

	attempts := 0
	for _, item := range candidates {
		if attempts >= cfg.MessagesPerTick {
			break
		}
		key := strings.ToLower(item.Title)
		if _, dup := sentTitles[key]; dup {
			continue
		}
		outcome := s.sendItem(ctx, tenant, bot, cfg, item)
		sentTitles[key] = struct{}{}
		attempts++
		if outcome == domain.OutcomeSent {
			report.Sent++
		} else {
			report.Errors++
		}
	}

	if !force {
		if err := s.groups.TouchDispatch(ctx, tenant.ID, bot.ID, group, now); err != nil {
			s.log.Error().Err(err).Str("tenant", tenant.ID).Str("bot", bot.ID).Str("group", group).Msg("sweep: lastDispatchAt не обновлён")
		}
	}
	return report
}

// collectCandidates отбирает товары из кэша по белому списку названий.
// Сравнение без учёта регистра и крайних пробелов; товары без картинки
// отбрасываются — без неё сообщение не собрать.
func (s *Service) collectCandidates(ctx context.Context, tenantID string, cfg domain.GroupConfig) ([]domain.CatalogItem, error) {
	terms, err := s.terms.ListTerms(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	whitelist := make(map[string]struct{}, len(cfg.ProductTitles))
	for _, title := range cfg.ProductTitles {
		whitelist[strings.ToLower(strings.TrimSpace(title))] = struct{}{}
	}
	var candidates []domain.CatalogItem
	for _, term := range terms {
		for _, item := range term.Items {
			key := strings.ToLower(strings.TrimSpace(item.Title))
			if _, ok := whitelist[key]; !ok {
				continue
			}
			if item.ImageURL == "" {
				continue
			}
			candidates = append(candidates, item)
		}
	}
	return candidates, nil
}

func (s *Service) sendItem(ctx context.Context, tenant domain.Tenant, bot domain.Bot, cfg domain.GroupConfig, item domain.CatalogItem) domain.DispatchOutcome {
	caption := BuildCaption(item, cfg)
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	entry := domain.DispatchLogEntry{
		TenantID: tenant.ID,
		BotID:    bot.ID,
		Group:    cfg.Group,
		Title:    item.Title,
		Outcome:  domain.OutcomeSent,
		SentAt:   time.Now().UTC(),
	}
	err := s.sink.SendPhoto(sendCtx, bot.Token, bot.Destination(cfg.Group), item.ImageURL, caption)
	if err != nil {
		entry.Outcome = domain.OutcomeError
		entry.Detail = err.Error()
		metrics.DispatchErrors.Inc()
		s.log.Error().Err(err).Str("tenant", tenant.ID).Str("bot", bot.ID).Str("group", cfg.Group).Str("title", item.Title).Msg("sweep: отправка не удалась")
	} else {
		metrics.DispatchSent.Inc()
	}
	if logErr := s.logs.AppendDispatchLog(ctx, entry); logErr != nil {
		s.log.Error().Err(logErr).Str("tenant", tenant.ID).Msg("sweep: журнал не записан")
	}
	s.publish(ctx, entry)
	return entry.Outcome
}

func (s *Service) publish(ctx context.Context, entry domain.DispatchLogEntry) {
	if s.events == nil {
		return
	}
	event := domain.DispatchEvent{
		TenantID: entry.TenantID,
		BotID:    entry.BotID,
		Group:    entry.Group,
		Title:    entry.Title,
		Outcome:  entry.Outcome,
		Detail:   entry.Detail,
		SentAt:   entry.SentAt,
	}
	if err := s.events.PublishDispatch(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("tenant", entry.TenantID).Msg("sweep: событие не опубликовано")
	}
}
