package notification

import (
	"errors"
	"net/http"
	"strconv"

	"ga4u/internal/httpx"
	myMiddleware "ga4u/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Handler struct {
	service *Service
	log     zerolog.Logger
}

func NewHandler(s *Service, log zerolog.Logger) *Handler {
	return &Handler{service: s, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/notifications", h.List)
	r.Post("/api/notifications/{id}/read", h.MarkRead)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	items, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list notifications failed")
		httpx.Error(w, http.StatusInternalServerError, "could not list notifications")
		return
	}
	unread, err := h.service.CountUnread(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("count notifications failed")
		httpx.Error(w, http.StatusInternalServerError, "could not list notifications")
		return
	}
	if items == nil {
		items = []Notification{}
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "unread": unread})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.service.MarkRead(r.Context(), id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "notification not found")
			return
		}
		h.log.Error().Err(err).Msg("mark notification read failed")
		httpx.Error(w, http.StatusInternalServerError, "could not update notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
