package domain

import "time"

// Константы ядра: ёмкость кэша, дневной потолок квоты, окна подавления.
const (
	CacheCapacity       = 400
	DailyQuotaLimit     = 25000
	InteractiveCooldown = 12 * time.Hour
	DedupWindow         = 48 * time.Hour
)

// Tenant описывает изолированный аккаунт: все данные и квоты разделены по нему.
type Tenant struct {
	ID        string
	Timezone  string
	AppID     string
	AppSecret string
	CreatedAt time.Time
}

// Location возвращает часовой пояс арендатора, UTC при ошибке.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Bot описывает бота арендатора: токен и адрес назначения на каждую группу.
type Bot struct {
	ID           string
	TenantID     string
	Token        string
	Destinations map[string]string
	CreatedAt    time.Time
}

// Destination возвращает адрес назначения для группы, пустую строку если не задан.
func (b Bot) Destination(group string) string {
	if b.Destinations == nil {
		return ""
	}
	return b.Destinations[group]
}

// TextMode задаёт источник текста сообщения.
type TextMode string

const (
	// TextModeManual использует текст, сохранённый в конфигурации группы.
	TextModeManual TextMode = "manual"
	// TextModeGenerated строит текст из шаблонов по названию товара.
	TextModeGenerated TextMode = "generated"
)

// Valid проверяет, что режим текста известен.
func (m TextMode) Valid() bool {
	return m == TextModeManual || m == TextModeGenerated
}

// Groups возвращает допустимые идентификаторы групп каналов.
func Groups() []string { return []string{"2", "3"} }

// ValidGroup проверяет идентификатор группы.
func ValidGroup(group string) bool {
	for _, g := range Groups() {
		if g == group {
			return true
		}
	}
	return false
}

// GroupConfig хранит настройки рассылки одной группы каналов бота.
type GroupConfig struct {
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
	TextMode        TextMode
	ManualText      string
	LastDispatchAt  *time.Time
	UpdatedAt       time.Time
}

// TermKind различает поиск по ключевому слову и по магазину.
type TermKind string

const (
	// TermKeyword — поиск по ключевому слову.
	TermKeyword TermKind = "keyword"
	// TermStore — выборка по идентификатору магазина.
	TermStore TermKind = "store"
)

// CatalogItem — один товар из маркетплейса вместе с рассчитанными комиссиями.
type CatalogItem struct {
	Title              string  `json:"title"`
	ImageURL           string  `json:"image_url"`
	Price              float64 `json:"price"`
	OriginalPrice      float64 `json:"original_price,omitempty"`
	CommissionPctStore float64 `json:"commission_pct_store"`
	CommissionLive     float64 `json:"commission_live"`
	CommissionSocial   float64 `json:"commission_social"`
	Link               string  `json:"link"`
	Store              string  `json:"store"`
}

// SearchTerm — кэшированный результат поиска арендатора.
type SearchTerm struct {
	TenantID  string
	TermID    string
	Kind      TermKind
	RawTerm   string
	Items     []CatalogItem
	UpdatedAt time.Time
}

// QuotaKind различает классы вызовов при учёте квоты.
type QuotaKind string

const (
	// QuotaInteractive — поисковые запросы пользователей.
	QuotaInteractive QuotaKind = "interactive"
	// QuotaBackground — фоновое обновление кэша.
	QuotaBackground QuotaKind = "background"
)

// QuotaCounter — счётчики вызовов арендатора за календарный день.
type QuotaCounter struct {
	TenantID        string
	Date            time.Time
	InteractiveUsed int
	BackgroundUsed  int
}

// Used возвращает значение счётчика указанного класса.
func (q QuotaCounter) Used(kind QuotaKind) int {
	if kind == QuotaBackground {
		return q.BackgroundUsed
	}
	return q.InteractiveUsed
}

// DispatchOutcome — результат отправки одного сообщения.
type DispatchOutcome string

const (
	// OutcomeSent — сообщение доставлено.
	OutcomeSent DispatchOutcome = "sent"
	// OutcomeError — отправка завершилась ошибкой.
	OutcomeError DispatchOutcome = "error"
)

// DispatchLogEntry — запись журнала рассылки, только добавляется.
type DispatchLogEntry struct {
	TenantID string
	BotID    string
	Group    string
	Title    string
	Outcome  DispatchOutcome
	Detail   string
	SentAt   time.Time
}

// DispatchReport — итог одного прохода планировщика.
type DispatchReport struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Add суммирует отчёты.
func (r *DispatchReport) Add(other DispatchReport) {
	r.Sent += other.Sent
	r.Skipped += other.Skipped
	r.Errors += other.Errors
}

// SweepJob — задача на внеплановый проход планировщика.
type SweepJob struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Force       bool      `json:"force,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// DispatchEvent публикуется во внешнюю шину после каждой попытки отправки.
type DispatchEvent struct {
	TenantID string          `json:"tenant_id"`
	BotID    string          `json:"bot_id"`
	Group    string          `json:"group"`
	Title    string          `json:"title"`
	Outcome  DispatchOutcome `json:"outcome"`
	Detail   string          `json:"detail,omitempty"`
	SentAt   time.Time       `json:"sent_at"`
}

// RawOffer — товар в том виде, как его возвращает маркетплейс.
type RawOffer struct {
	Title         string
	ImageURL      string
	Price         float64
	OriginalPrice float64
	CommissionPct float64
	Link          string
	Store         string
}
