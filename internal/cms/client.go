// Package cms talks to the hosted headless CMS that owns product variant
// documents. Only the download-link inventory is read and written here.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-digital-store/internal/catalog"
)

const variantQuery = `*[_type == "productVariant" && _id == $id][0]{
  _id, _rev, title,
  "productId": product._ref,
  "productName": product->title,
  downloadLinks[]{_key, filePath, isUsed}
}`

type Client struct {
	baseURL string
	dataset string
	token   string
	http    *http.Client
}

func NewClient(projectURL, apiVersion, dataset, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(projectURL, "/")
	if apiVersion != "" {
		base += "/v" + strings.TrimPrefix(apiVersion, "v")
	}
	return &Client{
		baseURL: base,
		dataset: dataset,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type cmsLink struct {
	Key      string `json:"_key"`
	FilePath string `json:"filePath"`
	IsUsed   bool   `json:"isUsed"`
}

type variantDoc struct {
	ID          string    `json:"_id"`
	Rev         string    `json:"_rev"`
	Title       string    `json:"title"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName"`
	Links       []cmsLink `json:"downloadLinks"`
}

func (d variantDoc) toVariant() catalog.Variant {
	v := catalog.Variant{
		ID:          d.ID,
		ProductID:   d.ProductID,
		ProductName: d.ProductName,
		VariantName: d.Title,
		Revision:    d.Rev,
		Links:       make([]catalog.Link, 0, len(d.Links)),
	}
	for _, l := range d.Links {
		v.Links = append(v.Links, catalog.Link{FilePath: l.FilePath, IsUsed: l.IsUsed})
	}
	return v
}

func (c *Client) Variant(ctx context.Context, variantID string) (catalog.Variant, error) {
	id, _ := json.Marshal(variantID)
	q := url.Values{}
	q.Set("query", variantQuery)
	q.Set("$id", string(id))
	endpoint := fmt.Sprintf("%s/data/query/%s?%s", c.baseURL, url.PathEscape(c.dataset), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return catalog.Variant{}, err
	}
	var out struct {
		Result *variantDoc `json:"result"`
	}
	if err := c.do(req, &out); err != nil {
		return catalog.Variant{}, fmt.Errorf("cms variant %s: %w", variantID, err)
	}
	if out.Result == nil {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return out.Result.toVariant(), nil
}

// SwapLinks patches downloadLinks guarded by ifRevisionID.
func (c *Client) SwapLinks(ctx context.Context, v catalog.Variant, links []catalog.Link) (catalog.Variant, error) {
	docLinks := make([]cmsLink, 0, len(links))
	for i, l := range links {
		docLinks = append(docLinks, cmsLink{Key: "link-" + strconv.Itoa(i), FilePath: l.FilePath, IsUsed: l.IsUsed})
	}
	body := map[string]any{
		"mutations": []any{
			map[string]any{
				"patch": map[string]any{
					"id":           v.ID,
					"ifRevisionID": v.Revision,
					"set":          map[string]any{"downloadLinks": docLinks},
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return catalog.Variant{}, err
	}
	endpoint := fmt.Sprintf("%s/data/mutate/%s?returnIds=true", c.baseURL, url.PathEscape(c.dataset))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return catalog.Variant{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		TransactionID string `json:"transactionId"`
	}
	if err := c.do(req, &out); err != nil {
		return catalog.Variant{}, fmt.Errorf("cms patch %s: %w", v.ID, err)
	}

	written := v
	written.Links = catalog.CloneLinks(links)
	// the document revision becomes the id of the transaction that wrote it
	written.Revision = out.TransactionID
	return written, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return catalog.ErrRevisionConflict
	case resp.StatusCode == http.StatusNotFound:
		return catalog.ErrVariantNotFound
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
