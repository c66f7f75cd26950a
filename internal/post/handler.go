package post

import (
	"context"
	"errors"
	"net/http"

	"ga4u/internal/httpx"
	myMiddleware "ga4u/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Trasher interface {
	MoveToTrash(ctx context.Context, eventID, by uuid.UUID) error
	Restore(ctx context.Context, eventID, by uuid.UUID) error
}

type Handler struct {
	repo Trasher
	log  zerolog.Logger
}

func NewHandler(repo Trasher, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/events/{id}/trash", h.handle(h.repo.MoveToTrash))
	r.Post("/api/events/{id}/restore", h.handle(h.repo.Restore))
}

func (h *Handler) handle(op func(ctx context.Context, eventID, by uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := myMiddleware.UserID(r.Context())
		if !ok {
			httpx.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		eventID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid event id")
			return
		}

		switch err := op(r.Context(), eventID, userID); {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, ErrNotFound):
			httpx.Error(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrForbidden):
			httpx.Error(w, http.StatusForbidden, err.Error())
		default:
			h.log.Error().Err(err).Str("event_id", eventID.String()).Msg("event trash operation failed")
			httpx.Error(w, http.StatusInternalServerError, "could not update event")
		}
	}
}
