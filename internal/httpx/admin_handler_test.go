package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/reconcile"
)

func TestAssignPendingRequiresToken(t *testing.T) {
	rec := &fakeReconciler{}
	h := &AdminHandler{Token: "s3cret", Reconciler: rec}

	assert.Equal(t, http.StatusUnauthorized, serve(t, h, http.MethodPost, "/api/admin/assign-pending-links", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serve(t, h, http.MethodPost, "/api/admin/assign-pending-links", "", nil, "X-Admin-Token", "guess").Code)
	assert.Zero(t, rec.assigns)

	disabled := &AdminHandler{Reconciler: rec}
	assert.Equal(t, http.StatusUnauthorized,
		serve(t, disabled, http.MethodPost, "/api/admin/assign-pending-links", "", nil, "X-Admin-Token", "").Code)
}

func TestAssignPendingReportsCounts(t *testing.T) {
	rec := &fakeReconciler{report: reconcile.Report{Orders: []reconcile.Outcome{
		{OrderID: "a", Status: orders.StatusPaid},
		{OrderID: "b", Status: orders.StatusPending, Outstanding: 1},
		{OrderID: "c", Status: orders.StatusPending, Error: "cms unavailable"},
	}}}
	h := &AdminHandler{Token: "s3cret", Reconciler: rec}

	resp := serve(t, h, http.MethodPost, "/api/admin/assign-pending-links", "", nil, "X-Admin-Token", "s3cret")
	require.Equal(t, http.StatusOK, resp.Code)

	out := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), out["paid"])
	assert.Equal(t, float64(1), out["pending"])
	assert.Equal(t, float64(1), out["failed"])
	assert.Equal(t, 1, rec.assigns)
}

func newCatalogHandler(unused int) (*CatalogHandler, *catalog.MemoryStore) {
	links := make([]catalog.Link, unused)
	for i := range links {
		links[i] = catalog.Link{FilePath: fmt.Sprintf("/l/%d", i)}
	}
	s := catalog.NewMemoryStore()
	s.Put(catalog.Variant{ID: "var-1", ProductID: "prod-1", Links: links})
	return &CatalogHandler{Token: "s3cret", Inventory: allocator.New(s, 5, nil)}, s
}

func TestInternalAllocate(t *testing.T) {
	h, _ := newCatalogHandler(1)
	call := func(body any) (int, allocator.OneResult) {
		resp := serve(t, h, http.MethodPost, "/api/internal/allocate", "", body, "X-Admin-Token", "s3cret")
		return resp.Code, decode[allocator.OneResult](t, resp)
	}

	code, res := call(map[string]string{"variantId": "var-1"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)
	assert.Equal(t, "/l/0", res.FilePath)
	assert.Zero(t, res.RemainingLinks)

	code, res = call(map[string]string{"variantId": "var-1"})
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.Success)
	assert.Equal(t, "No download links available", res.Message)

	code, _ = call(map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(map[string]string{"variantId": "nope"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInternalReplaceLinks(t *testing.T) {
	h, s := newCatalogHandler(2)

	resp := serve(t, h, http.MethodPost, "/api/internal/links", "", map[string]any{
		"variantId":     "var-1",
		"downloadLinks": []catalog.Link{{FilePath: "/n/1"}, {FilePath: "/n/2", IsUsed: true}, {FilePath: "/n/3"}},
	}, "X-Admin-Token", "s3cret")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	out := decode[map[string]any](t, resp)
	assert.Equal(t, float64(3), out["total"])
	assert.Equal(t, float64(2), out["unused"])

	v := mustGet(t, s)
	assert.Equal(t, "/n/2", v.Links[1].FilePath)

	resp = serve(t, h, http.MethodPost, "/api/internal/links", "", map[string]any{
		"variantId":     "var-1",
		"downloadLinks": []catalog.Link{{FilePath: "/dup"}, {FilePath: "/dup"}},
	}, "X-Admin-Token", "s3cret")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Len(t, mustGet(t, s).Links, 3)

	resp = serve(t, h, http.MethodPost, "/api/internal/links", "", map[string]any{"variantId": "var-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func mustGet(t *testing.T, s *catalog.MemoryStore) catalog.Variant {
	t.Helper()
	v, err := s.Variant(context.Background(), "var-1")
	require.NoError(t, err)
	return v
}
