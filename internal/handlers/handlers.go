package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"bookings/internal/notify"
	"bookings/internal/tokens"
)

// Handler оборачивает Storage и внешние шлюзы (почта, токены)
type Handler struct {
	Store    StorageInterface
	Notifier notify.Notifier
	Tokens   *tokens.Service
	BaseURL  string

	// Параметры админской сессии
	AdminEmail    string
	AdminPassword string
	SessionTTL    time.Duration

	// Подменяется в тестах
	Now func() time.Time
}

// NewHandler создает новый Handler
func NewHandler(store StorageInterface, notifier notify.Notifier, tok *tokens.Service, baseURL string) *Handler {
	return &Handler{
		Store:      store,
		Notifier:   notifier,
		Tokens:     tok,
		BaseURL:    baseURL,
		SessionTTL: 12 * time.Hour,
		Now:        time.Now,
	}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams парсит limit и offset из query, с дефолтами и ограничениями
func parsePaginationParams(r *http.Request) PaginationParams {
	var params PaginationParams
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	params.Limit = 20 // дефолт
	params.Offset = 0

	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			params.Limit = l
		}
	}
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}
