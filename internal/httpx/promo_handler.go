package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/promo"
)

type PromoService interface {
	Validate(ctx context.Context, code, userID string) (promo.Promo, error)
	Use(ctx context.Context, code, userID string) (promo.Promo, error)
}

type PromoHandler struct {
	Promos PromoService
	Auth   *auth.Verifier
	Log    *slog.Logger
}

func (h *PromoHandler) Register(r chi.Router) {
	api := withTimeout(r)
	api.Post("/api/promo/validate", h.validate)
	api.With(h.Auth.Require).Post("/api/promo/use", h.use)
}

type promoReq struct {
	PromoCode string `json:"promoCode"`
}

type promoResp struct {
	Valid     bool         `json:"valid"`
	PromoData *promo.Promo `json:"promoData,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// rejection reports whether err is a business reason to refuse a code.
func rejection(err error) bool {
	for _, e := range []error{promo.ErrNotFound, promo.ErrInactive, promo.ErrNotYetValid,
		promo.ErrExpired, promo.ErrAlreadyUsed, promo.ErrMissingCode} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func (h *PromoHandler) validate(w http.ResponseWriter, r *http.Request) {
	var req promoReq
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, promoResp{Error: err.Error()})
		return
	}
	// signed-in callers also get the one-use-per-user check
	var userID string
	if u, err := h.Auth.Parse(auth.TokenFrom(r)); err == nil {
		userID = u.ID
	}
	p, err := h.Promos.Validate(r.Context(), req.PromoCode, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, promoResp{Valid: true, PromoData: &p})
	case errors.Is(err, promo.ErrMissingCode):
		writeJSON(w, http.StatusBadRequest, promoResp{Error: err.Error()})
	case rejection(err):
		writeJSON(w, http.StatusOK, promoResp{Error: err.Error()})
	default:
		logger(h.Log, r).Error("validate promo", "err", err)
		writeJSON(w, http.StatusInternalServerError, promoResp{Error: "could not validate promo code"})
	}
}

func (h *PromoHandler) use(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	var req promoReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.Promos.Use(r.Context(), req.PromoCode, u.ID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "promoData": p})
	case errors.Is(err, promo.ErrAlreadyUsed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, promo.ErrMissingCode):
		writeError(w, http.StatusBadRequest, err.Error())
	case rejection(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger(h.Log, r).Error("use promo", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not record promo usage")
	}
}
