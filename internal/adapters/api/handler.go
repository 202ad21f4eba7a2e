package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clickdivulga/internal/domain"
	"clickdivulga/internal/usecase/cache"
	"clickdivulga/internal/usecase/dispatch"
	"clickdivulga/internal/usecase/groups"
	"clickdivulga/internal/usecase/search"
)

// Handler регистрирует HTTP маршруты управления рассылкой.
type Handler struct {
	dispatchSvc *dispatch.Service
	groupsSvc   *groups.Service
	searchSvc   *search.Service
	cacheSvc    *cache.Service
	sweeps      domain.SweepQueue
	log         zerolog.Logger
}

// NewHandler создаёт обработчик. sweeps может быть nil — тогда внеплановый
// проход выполняется синхронно в обработчике.
func NewHandler(dispatchSvc *dispatch.Service, groupsSvc *groups.Service, searchSvc *search.Service, cacheSvc *cache.Service, sweeps domain.SweepQueue, logger zerolog.Logger) *Handler {
	return &Handler{
		dispatchSvc: dispatchSvc,
		groupsSvc:   groupsSvc,
		searchSvc:   searchSvc,
		cacheSvc:    cacheSvc,
		sweeps:      sweeps,
		log:         logger,
	}
}

// Register вешает маршруты на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/v1/sweep", h.triggerSweep)
	r.Put("/api/v1/tenants/{tenant}/bots/{bot}/groups/{group}", h.saveGroup)
	r.Post("/api/v1/tenants/{tenant}/search", h.runSearch)
	r.Post("/api/v1/tenants/{tenant}/items/delete", h.deleteItem)
	r.Get("/api/v1/tenants/{tenant}/items", h.listItems)
}

type sweepRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Force    bool   `json:"force,omitempty"`
	Async    bool   `json:"async,omitempty"`
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req sweepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if req.Async && h.sweeps != nil {
		job := domain.SweepJob{
			ID:          uuid.NewString(),
			TenantID:    req.TenantID,
			Force:       req.Force,
			RequestedAt: time.Now().UTC(),
		}
		if err := h.sweeps.Enqueue(r.Context(), job); err != nil {
			h.log.Error().Err(err).Msg("api: постановка прохода в очередь")
			writeError(w, http.StatusInternalServerError, "failed to enqueue sweep")
			return
		}
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"job_id": job.ID})
		return
	}

	report, err := h.dispatchSvc.Sweep(r.Context(), time.Now(), req.TenantID, req.Force)
	if err != nil {
		h.log.Error().Err(err).Msg("api: внеплановый проход")
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, report)
}

type saveGroupRequest struct {
	Stores          []string `json:"stores"`
	Keyword         string   `json:"keyword"`
	ProductTitles   []string `json:"product_titles"`
	MessagesPerTick int      `json:"messages_per_tick"`
	IntervalMinutes int      `json:"interval_minutes"`
	WindowStartHour int      `json:"window_start_hour"`
	WindowEndHour   int      `json:"window_end_hour"`
	TextMode        string   `json:"text_mode"`
	ManualText      string   `json:"manual_text"`
}

func (h *Handler) saveGroup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req saveGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := groups.SaveParams{
		TenantID:        chi.URLParam(r, "tenant"),
		BotID:           chi.URLParam(r, "bot"),
		Group:           chi.URLParam(r, "group"),
		Stores:          req.Stores,
		Keyword:         req.Keyword,
		ProductTitles:   req.ProductTitles,
		MessagesPerTick: req.MessagesPerTick,
		IntervalMinutes: req.IntervalMinutes,
		WindowStartHour: req.WindowStartHour,
		WindowEndHour:   req.WindowEndHour,
		TextMode:        domain.TextMode(req.TextMode),
		ManualText:      req.ManualText,
	}
	if err := h.groupsSvc.Save(r.Context(), params); err != nil {
		switch {
		case errors.Is(err, groups.ErrGroupInvalid),
			errors.Is(err, groups.ErrWindowInvalid),
			errors.Is(err, groups.ErrIntervalInvalid),
			errors.Is(err, groups.ErrRateInvalid),
			errors.Is(err, groups.ErrTextModeInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error().Err(err).Msg("api: сохранение конфигурации группы")
			writeError(w, http.StatusInternalServerError, "failed to save group config")
		}
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Kind string `json:"kind"`
	Term string `json:"term"`
}

func (h *Handler) runSearch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	kind := domain.TermKeyword
	if req.Kind == string(domain.TermStore) {
		kind = domain.TermStore
	}

	term, err := h.searchSvc.Search(r.Context(), chi.URLParam(r, "tenant"), kind, req.Term)
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	case errors.Is(err, search.ErrCooldownActive):
		writeError(w, http.StatusConflict, "term was searched recently")
		return
	case errors.Is(err, search.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "daily search quota exceeded")
		return
	case err != nil:
		h.log.Error().Err(err).Msg("api: поиск")
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}
	writeJSON(w, map[string]any{
		"term_id":    term.TermID,
		"items":      term.Items,
		"updated_at": term.UpdatedAt,
	})
}

type deleteItemRequest struct {
	Title string `json:"title"`
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req deleteItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	err := h.cacheSvc.RemoveItem(r.Context(), chi.URLParam(r, "tenant"), req.Title)
	if errors.Is(err, cache.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("api: удаление товара из кэша")
		writeError(w, http.StatusInternalServerError, "failed to remove item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.cacheSvc.Items(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.log.Error().Err(err).Msg("api: чтение кэша")
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, map[string]any{"items": items})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
