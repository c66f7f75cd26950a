package chat

import (
	"errors"
	"net/http"

	"ga4u/internal/conversation"
	"ga4u/internal/httpx"
	myMiddleware "ga4u/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	service *Service
	hub     *Hub
	log     zerolog.Logger
}

func NewHandler(s *Service, hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{service: s, hub: hub, log: log}
}

// Routes mounts the messaging endpoints. They expect the auth middleware to
// have run.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/conversations", h.ListConversations)
	r.Post("/api/conversations/private", h.OpenPrivate)
	r.Post("/api/conversations/group/{eventID}/join", h.JoinGroup)
	r.Get("/api/conversations/{id}/messages", h.ListMessages)
	r.Post("/api/conversations/{id}/messages", h.SendMessage)
	r.Post("/api/conversations/{id}/read", h.MarkRead)
	r.Get("/api/badge", h.Badge)
	r.Get("/ws", h.ServeWs)
}

type openPrivateRequest struct {
	TalentID   string `json:"talent_id" validate:"required,uuid"`
	PromoterID string `json:"promoter_id" validate:"required,uuid"`
}

type sendRequest struct {
	Text string `json:"text" validate:"required"`
}

// fail maps service errors onto status codes. Unexpected errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conversation.ErrMalformedID), errors.Is(err, conversation.ErrNotPrivate),
		errors.Is(err, conversation.ErrNotGroup):
		httpx.Error(w, http.StatusBadRequest, "invalid conversation id")
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong), errors.Is(err, httpx.ErrBadRequest):
		httpx.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotParticipant):
		httpx.Error(w, http.StatusForbidden, "not a participant in this conversation")
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("chat request failed")
		httpx.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	out, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) OpenPrivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req openPrivateRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	conv, err := h.service.OpenPrivate(r.Context(),
		uuid.MustParse(req.TalentID), uuid.MustParse(req.PromoterID), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"conversation_id": conv})
}

func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid event id")
		return
	}

	conv := conversation.Group(eventID)
	if err := h.service.Join(r.Context(), conv, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"conversation_id": conv})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	conv, err := conversation.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msgs, err := h.service.List(r.Context(), conv, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []MessageView{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": msgs})
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	conv, err := conversation.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req sendRequest
	if err := httpx.Decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	msg, err := h.service.Send(r.Context(), conv, userID, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	conv, err := conversation.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	cursor, err := h.service.MarkRead(r.Context(), conv, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"last_read_at": cursor})
}

func (h *Handler) Badge(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	n, err := h.service.Badge(r.Context(), userID, r.URL.Query().Get("route"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"count": n})
}

// ServeWs upgrades to a websocket that receives event frames and badge
// updates for the authenticated user.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userID, r.URL.Query().Get("route"))
	if !h.hub.register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
