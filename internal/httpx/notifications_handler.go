package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/notifications"
)

type NotificationStore interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

type NotificationsHandler struct {
	Store NotificationStore
	Auth  *auth.Verifier
	// Live serves the websocket stream; optional.
	Live http.Handler
	Log  *slog.Logger
}

func (h *NotificationsHandler) Register(r chi.Router) {
	api := withTimeout(r).With(h.Auth.Require)
	api.Get("/api/notifications", h.list)
	api.Post("/api/notifications/{id}/read", h.markRead)
	if h.Live != nil {
		r.Get("/ws/notifications", h.Live.ServeHTTP)
	}
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.Store.ListForUser(r.Context(), u.ID, limit)
	if err != nil {
		logger(h.Log, r).Error("list notifications", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []notifications.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *NotificationsHandler) markRead(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	err := h.Store.MarkRead(r.Context(), u.ID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, notifications.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case err != nil:
		logger(h.Log, r).Error("mark notification read", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}
