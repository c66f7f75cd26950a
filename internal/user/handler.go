package user

import (
	"errors"
	"net/http"
	"strings"

	"ga4u/internal/httpx"
	myMiddleware "ga4u/internal/middleware"

	"github.com/rs/zerolog"
)

type Handler struct {
	Service *Service
	log     zerolog.Logger
}

func NewHandler(s *Service, log zerolog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		h.log.Error().Err(err).Msg("register failed")
		httpx.Error(w, http.StatusInternalServerError, "could not register")
		return
	}

	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error().Err(err).Msg("login failed")
		}
		httpx.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		httpx.Error(w, http.StatusBadRequest, "q is required")
		return
	}

	profiles, err := h.Service.SearchUsers(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("search failed")
		httpx.Error(w, http.StatusInternalServerError, "search failed")
		return
	}
	if profiles == nil {
		profiles = []Profile{}
	}
	httpx.JSON(w, http.StatusOK, profiles)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req UpdateProfileRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.Service.UpdateFullName(r.Context(), userID, req.FullName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Error(w, http.StatusNotFound, "profile not found")
			return
		}
		h.log.Error().Err(err).Msg("profile update failed")
		httpx.Error(w, http.StatusInternalServerError, "could not update profile")
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
