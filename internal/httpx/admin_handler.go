package httpx

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/catalog"
)

// RequireAdmin guards operator routes with the shared X-Admin-Token. An empty
// configured token disables the routes entirely.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type AdminHandler struct {
	Token      string
	Reconciler Reconciler
	Log        *slog.Logger
}

func (h *AdminHandler) Register(r chi.Router) {
	withTimeout(r).With(RequireAdmin(h.Token)).Post("/api/admin/assign-pending-links", h.assignPending)
}

func (h *AdminHandler) assignPending(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reconciler.AssignPending(r.Context())
	if err != nil {
		logger(h.Log, r).Error("assign pending links", "err", err)
		writeError(w, http.StatusInternalServerError, "assign pending links failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"paid":    rep.Paid(),
		"pending": rep.Pending(),
		"failed":  rep.Failed(),
		"report":  rep,
	})
}

type LinkInventory interface {
	AllocateOne(ctx context.Context, variantID string) (allocator.OneResult, error)
	ReplaceLinks(ctx context.Context, variantID string, links []catalog.Link) (catalog.Variant, error)
}

// CatalogHandler exposes the internal inventory endpoints used by back-office
// tooling.
type CatalogHandler struct {
	Token     string
	Inventory LinkInventory
	Log       *slog.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	api := withTimeout(r).With(RequireAdmin(h.Token))
	api.Post("/api/internal/allocate", h.allocate)
	api.Post("/api/internal/links", h.replaceLinks)
}

type allocateReq struct {
	VariantID string `json:"variantId"`
}

func (h *CatalogHandler) allocate(w http.ResponseWriter, r *http.Request) {
	var req allocateReq
	if err := decodeJSON(r, &req); err != nil || req.VariantID == "" {
		writeJSON(w, http.StatusBadRequest, allocator.OneResult{Message: "variantId is required"})
		return
	}
	res, err := h.Inventory.AllocateOne(r.Context(), req.VariantID)
	if err != nil {
		if errors.Is(err, catalog.ErrVariantNotFound) {
			writeJSON(w, http.StatusNotFound, allocator.OneResult{Message: "variant not found"})
			return
		}
		logger(h.Log, r).Error("allocate link", "variant_id", req.VariantID, "err", err)
		writeJSON(w, http.StatusInternalServerError, allocator.OneResult{Message: "allocation failed"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type replaceLinksReq struct {
	VariantID     string         `json:"variantId"`
	DownloadLinks []catalog.Link `json:"downloadLinks"`
}

func (h *CatalogHandler) replaceLinks(w http.ResponseWriter, r *http.Request) {
	var req replaceLinksReq
	if err := decodeJSON(r, &req); err != nil || req.VariantID == "" {
		writeError(w, http.StatusBadRequest, "variantId and downloadLinks are required")
		return
	}
	if req.DownloadLinks == nil {
		req.DownloadLinks = []catalog.Link{}
	}
	v, err := h.Inventory.ReplaceLinks(r.Context(), req.VariantID, req.DownloadLinks)
	switch {
	case errors.Is(err, allocator.ErrInvalidLink), errors.Is(err, allocator.ErrDuplicateLink):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, catalog.ErrVariantNotFound):
		writeError(w, http.StatusNotFound, "variant not found")
		return
	case err != nil:
		logger(h.Log, r).Error("replace links", "variant_id", req.VariantID, "err", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	used, unused := catalog.Counts(v.Links)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": len(v.Links), "used": used, "unused": unused})
}
