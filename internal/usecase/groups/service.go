package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clickdivulga/internal/domain"
)

var (
	// ErrGroupInvalid — неизвестный идентификатор группы.
	ErrGroupInvalid = errors.New("некорректный идентификатор группы")
	// ErrWindowInvalid — часы окна вне [0,23] либо начало позже конца.
	ErrWindowInvalid = errors.New("некорректное окно рассылки")
	// ErrIntervalInvalid — интервал между рассылками меньше минуты.
	ErrIntervalInvalid = errors.New("некорректный интервал рассылки")
	// ErrRateInvalid — отрицательный лимит сообщений на тик.
	ErrRateInvalid = errors.New("некорректный лимит сообщений")
	// ErrTextModeInvalid — неизвестный режим текста.
	ErrTextModeInvalid = errors.New("некорректный режим текста")
)

// Service сохраняет конфигурации групп каналов.
type Service struct {
	repo domain.GroupConfigRepo
}

// NewService создаёт сервис конфигураций.
func NewService(repo domain.GroupConfigRepo) *Service {
	return &Service{repo: repo}
}

// SaveParams — поля сохранения конфигурации одной группы.
type SaveParams struct {
	TenantID        string
	BotID           string
	Group           string
	Stores          []string
	Keyword         string
	ProductTitles   []string
	MessagesPerTick int
	IntervalMinutes int
	WindowStartHour int
	WindowEndHour   int
	TextMode        domain.TextMode
	ManualText      string
}

// Save валидирует и сохраняет конфигурацию. lastDispatchAt при этом
// не затирается: его двигает только планировщик.
func (s *Service) Save(ctx context.Context, params SaveParams) error {
	if !domain.ValidGroup(params.Group) {
		return ErrGroupInvalid
	}
	if params.WindowStartHour < 0 || params.WindowStartHour > 23 ||
		params.WindowEndHour < 0 || params.WindowEndHour > 23 {
		return ErrWindowInvalid
	}
	// Окно через полночь не поддерживается: начало не может быть позже конца.
	if params.WindowStartHour > params.WindowEndHour {
		return ErrWindowInvalid
	}
	if params.IntervalMinutes <= 0 {
		return ErrIntervalInvalid
	}
	if params.MessagesPerTick < 0 {
		return ErrRateInvalid
	}
	if !params.TextMode.Valid() {
		return ErrTextModeInvalid
	}

	cfg := domain.GroupConfig{
		TenantID:        params.TenantID,
		BotID:           params.BotID,
		Group:           params.Group,
		Stores:          normalizeSet(params.Stores),
		Keyword:         strings.TrimSpace(params.Keyword),
		ProductTitles:   normalizeSet(params.ProductTitles),
		MessagesPerTick: params.MessagesPerTick,
		IntervalMinutes: params.IntervalMinutes,
		WindowStartHour: params.WindowStartHour,
		WindowEndHour:   params.WindowEndHour,
		TextMode:        params.TextMode,
		ManualText:      strings.TrimSpace(params.ManualText),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := s.repo.UpsertGroupConfig(ctx, cfg); err != nil {
		return fmt.Errorf("сохранение конфигурации: %w", err)
	}
	return nil
}

// normalizeSet убирает пустые и дублирующиеся значения, сохраняя порядок.
func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}
