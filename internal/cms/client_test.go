package cms_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-store/internal/catalog"
	"github.com/ariefcatur/go-digital-store/internal/cms"
)

func TestClientVariantDecodesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2023-05-03/data/query/production", r.URL.Path)
		assert.Equal(t, `"var-1"`, r.URL.Query().Get("$id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"result":{"_id":"var-1","_rev":"rev-a","title":"Gold",
			"productId":"prod-1","productName":"Game Account",
			"downloadLinks":[{"_key":"k1","filePath":"/a.txt","isUsed":true},{"_key":"k2","filePath":"/b.txt","isUsed":false}]}}`))
	}))
	defer srv.Close()

	c := cms.NewClient(srv.URL, "2023-05-03", "production", "tok", time.Second)
	v, err := c.Variant(context.Background(), "var-1")
	require.NoError(t, err)

	assert.Equal(t, "rev-a", v.Revision)
	assert.Equal(t, "Game Account", v.ProductName)
	assert.Equal(t, "Gold", v.VariantName)
	assert.Equal(t, []catalog.Link{{FilePath: "/a.txt", IsUsed: true}, {FilePath: "/b.txt"}}, v.Links)
}

func TestClientVariantMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":null}`))
	}))
	defer srv.Close()

	c := cms.NewClient(srv.URL, "2023-05-03", "production", "", time.Second)
	_, err := c.Variant(context.Background(), "nope")
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestClientSwapLinksSendsRevisionGuard(t *testing.T) {
	var got struct {
		Mutations []struct {
			Patch struct {
				ID           string `json:"id"`
				IfRevisionID string `json:"ifRevisionID"`
				Set          struct {
					DownloadLinks []struct {
						Key      string `json:"_key"`
						FilePath string `json:"filePath"`
						IsUsed   bool   `json:"isUsed"`
					} `json:"downloadLinks"`
				} `json:"set"`
			} `json:"patch"`
		} `json:"mutations"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"transactionId":"rev-b"}`))
	}))
	defer srv.Close()

	c := cms.NewClient(srv.URL, "2023-05-03", "production", "tok", time.Second)
	out, err := c.SwapLinks(context.Background(),
		catalog.Variant{ID: "var-1", Revision: "rev-a"},
		[]catalog.Link{{FilePath: "/a.txt", IsUsed: true}})
	require.NoError(t, err)

	assert.Equal(t, "rev-b", out.Revision)
	require.Len(t, got.Mutations, 1)
	assert.Equal(t, "var-1", got.Mutations[0].Patch.ID)
	assert.Equal(t, "rev-a", got.Mutations[0].Patch.IfRevisionID)
	require.Len(t, got.Mutations[0].Patch.Set.DownloadLinks, 1)
	assert.True(t, got.Mutations[0].Patch.Set.DownloadLinks[0].IsUsed)
	assert.Equal(t, "link-0", got.Mutations[0].Patch.Set.DownloadLinks[0].Key)
}

func TestClientSwapLinksConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := cms.NewClient(srv.URL, "2023-05-03", "production", "tok", time.Second)
	_, err := c.SwapLinks(context.Background(), catalog.Variant{ID: "var-1", Revision: "old"}, nil)
	assert.ErrorIs(t, err, catalog.ErrRevisionConflict)
}
