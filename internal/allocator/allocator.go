// Package allocator hands out unused download links from a variant's
// inventory. Writes are guarded by the store's revision check (or an atomic
// claim when the store supports one), so two concurrent allocations can never
// receive the same link.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ariefcatur/go-digital-store/internal/catalog"
)

var (
	ErrMissingVariant  = errors.New("allocator: variant id is required")
	ErrProductMismatch = errors.New("allocator: variant belongs to a different product")
	ErrInvalidLink     = errors.New("allocator: download link file path is empty")
	ErrDuplicateLink   = errors.New("allocator: duplicate download link")
)

type Request struct {
	ProductID string
	VariantID string
	Quantity  int
}

type AllocatedLink struct {
	FilePath    string `json:"filePath"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName"`
}

type Result struct {
	Links          []AllocatedLink `json:"links"`
	AvailableCount int             `json:"availableCount"`
	NeededCount    int             `json:"neededCount"`
	HasEnoughLinks bool            `json:"hasEnoughLinks"`
}

// Shortfall is how many requested links could not be allocated.
func (r Result) Shortfall() int {
	if d := r.NeededCount - len(r.Links); d > 0 {
		return d
	}
	return 0
}

type Allocator struct {
	store       catalog.Store
	maxAttempts int
	backoff     time.Duration
	log         *slog.Logger
}

func New(store catalog.Store, maxAttempts int, log *slog.Logger) *Allocator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Allocator{store: store, maxAttempts: maxAttempts, backoff: 15 * time.Millisecond, log: log}
}

// Allocate claims up to req.Quantity unused links. When fewer are available
// every remaining link is still claimed and HasEnoughLinks is false.
func (a *Allocator) Allocate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.VariantID) == "" {
		return Result{}, ErrMissingVariant
	}
	qty := req.Quantity
	if qty < 1 {
		qty = 1
	}
	if c, ok := a.store.(catalog.Claimer); ok {
		return a.claim(ctx, c, req, qty)
	}

	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		v, err := a.store.Variant(ctx, req.VariantID)
		if err != nil {
			return Result{}, fmt.Errorf("load variant %s: %w", req.VariantID, err)
		}
		if err := checkProduct(req, v); err != nil {
			return Result{}, err
		}

		links := catalog.CloneLinks(v.Links)
		_, unused := catalog.Counts(links)
		picked := markUnused(links, qty)
		res := Result{
			NeededCount:    qty,
			AvailableCount: unused,
			HasEnoughLinks: unused >= qty,
		}
		if len(picked) == 0 {
			return res, nil
		}

		if _, err := a.store.SwapLinks(ctx, v, links); err != nil {
			if errors.Is(err, catalog.ErrRevisionConflict) {
				lastErr = err
				a.log.Debug("link inventory changed, retrying", "variant_id", req.VariantID, "attempt", attempt)
				if err := a.wait(ctx, attempt); err != nil {
					return Result{}, err
				}
				continue
			}
			return Result{}, fmt.Errorf("persist links for %s: %w", req.VariantID, err)
		}
		res.Links = describe(v, picked)
		return res, nil
	}
	return Result{}, fmt.Errorf("allocate from %s after %d attempts: %w", req.VariantID, a.maxAttempts, lastErr)
}

func (a *Allocator) claim(ctx context.Context, c catalog.Claimer, req Request, qty int) (Result, error) {
	claim, err := c.ClaimLinks(ctx, req.VariantID, qty)
	if err != nil {
		return Result{}, fmt.Errorf("claim links for %s: %w", req.VariantID, err)
	}
	if err := checkProduct(req, claim.Variant); err != nil {
		if rerr := a.Release(ctx, req.VariantID, claim.Paths); rerr != nil {
			a.log.Error("release after product mismatch failed", "variant_id", req.VariantID, "paths", claim.Paths, "err", rerr)
		}
		return Result{}, err
	}
	return Result{
		Links:          describe(claim.Variant, claim.Paths),
		NeededCount:    qty,
		AvailableCount: claim.Available,
		HasEnoughLinks: claim.Available >= qty,
	}, nil
}

// OneResult is the answer of the single-link allocation endpoint.
type OneResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	FilePath       string `json:"filePath,omitempty"`
	RemainingLinks int    `json:"remainingLinks"`
}

func (a *Allocator) AllocateOne(ctx context.Context, variantID string) (OneResult, error) {
	res, err := a.Allocate(ctx, Request{VariantID: variantID, Quantity: 1})
	if err != nil {
		return OneResult{}, err
	}
	remaining := res.AvailableCount - len(res.Links)
	if remaining < 0 {
		remaining = 0
	}
	if len(res.Links) == 0 {
		return OneResult{Message: "No download links available", RemainingLinks: remaining}, nil
	}
	return OneResult{
		Success:        true,
		Message:        "Download link allocated",
		FilePath:       res.Links[0].FilePath,
		RemainingLinks: remaining,
	}, nil
}

// Release returns previously allocated links to the pool. Paths that are
// unknown or already unused are ignored.
func (a *Allocator) Release(ctx context.Context, variantID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		want[p] = true
	}
	return a.update(ctx, variantID, func(links []catalog.Link) ([]catalog.Link, bool) {
		changed := false
		for i := range links {
			if links[i].IsUsed && want[links[i].FilePath] {
				links[i].IsUsed = false
				changed = true
			}
		}
		return links, changed
	})
}

// ReplaceLinks overwrites the whole collection of a variant.
func (a *Allocator) ReplaceLinks(ctx context.Context, variantID string, links []catalog.Link) (catalog.Variant, error) {
	if strings.TrimSpace(variantID) == "" {
		return catalog.Variant{}, ErrMissingVariant
	}
	if err := validateLinks(links); err != nil {
		return catalog.Variant{}, err
	}
	var written catalog.Variant
	err := a.swap(ctx, variantID, func(v catalog.Variant) (catalog.Variant, error) {
		return a.store.SwapLinks(ctx, v, links)
	}, &written)
	return written, err
}

// AppendLinks adds new unused links after the existing ones.
func (a *Allocator) AppendLinks(ctx context.Context, variantID string, paths []string) (catalog.Variant, error) {
	var written catalog.Variant
	err := a.swap(ctx, variantID, func(v catalog.Variant) (catalog.Variant, error) {
		links := catalog.CloneLinks(v.Links)
		for _, p := range paths {
			links = append(links, catalog.Link{FilePath: strings.TrimSpace(p)})
		}
		if err := validateLinks(links); err != nil {
			return catalog.Variant{}, err
		}
		return a.store.SwapLinks(ctx, v, links)
	}, &written)
	return written, err
}

// Inventory returns the current collection of a variant.
func (a *Allocator) Inventory(ctx context.Context, variantID string) (catalog.Variant, error) {
	return a.store.Variant(ctx, variantID)
}

func (a *Allocator) update(ctx context.Context, variantID string, fn func([]catalog.Link) ([]catalog.Link, bool)) error {
	return a.swap(ctx, variantID, func(v catalog.Variant) (catalog.Variant, error) {
		links, changed := fn(catalog.CloneLinks(v.Links))
		if !changed {
			return v, nil
		}
		return a.store.SwapLinks(ctx, v, links)
	}, nil)
}

func (a *Allocator) swap(ctx context.Context, variantID string, write func(catalog.Variant) (catalog.Variant, error), out *catalog.Variant) error {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		v, err := a.store.Variant(ctx, variantID)
		if err != nil {
			return fmt.Errorf("load variant %s: %w", variantID, err)
		}
		written, err := write(v)
		if err == nil {
			if out != nil {
				*out = written
			}
			return nil
		}
		if !errors.Is(err, catalog.ErrRevisionConflict) {
			return err
		}
		lastErr = err
		if err := a.wait(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("update %s after %d attempts: %w", variantID, a.maxAttempts, lastErr)
}

func (a *Allocator) wait(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*a.backoff + time.Duration(rand.Int64N(int64(a.backoff)+1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// markUnused flips up to n unused links to used in collection order and
// returns their paths.
func markUnused(links []catalog.Link, n int) []string {
	var picked []string
	for i := range links {
		if len(picked) == n {
			break
		}
		if !links[i].IsUsed {
			links[i].IsUsed = true
			picked = append(picked, links[i].FilePath)
		}
	}
	return picked
}

func describe(v catalog.Variant, paths []string) []AllocatedLink {
	out := make([]AllocatedLink, 0, len(paths))
	for _, p := range paths {
		out = append(out, AllocatedLink{FilePath: p, ProductName: v.ProductName, VariantName: v.VariantName})
	}
	return out
}

func checkProduct(req Request, v catalog.Variant) error {
	if req.ProductID != "" && v.ProductID != "" && req.ProductID != v.ProductID {
		return fmt.Errorf("%w: variant %s is not part of product %s", ErrProductMismatch, v.ID, req.ProductID)
	}
	return nil
}

func validateLinks(links []catalog.Link) error {
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		if strings.TrimSpace(l.FilePath) == "" {
			return ErrInvalidLink
		}
		if seen[l.FilePath] {
			return fmt.Errorf("%w: %s", ErrDuplicateLink, l.FilePath)
		}
		seen[l.FilePath] = true
	}
	return nil
}
