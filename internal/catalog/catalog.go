// Package catalog models the finite download-link inventory attached to a
// product variant and the stores that persist it.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrVariantNotFound  = errors.New("catalog: variant not found")
	ErrRevisionConflict = errors.New("catalog: variant revision changed")
)

// Link is a single pre-generated deliverable. A used link is never handed out
// again.
type Link struct {
	FilePath string `json:"filePath"`
	IsUsed   bool   `json:"isUsed"`
}

type Variant struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	VariantName string `json:"variantName"`
	Links       []Link `json:"downloadLinks"`
	// Revision is opaque; stores compare it on write.
	Revision string `json:"revision"`
}

// Store reads and overwrites a variant's link collection.
type Store interface {
	Variant(ctx context.Context, variantID string) (Variant, error)
	// SwapLinks replaces the whole collection only if v.Revision is still the
	// stored revision, returning the variant as written. A stale revision
	// yields ErrRevisionConflict.
	SwapLinks(ctx context.Context, v Variant, links []Link) (Variant, error)
}

// Claim is the result of an atomic per-link claim.
type Claim struct {
	Variant   Variant
	Paths     []string
	Available int
}

// Claimer is implemented by stores that can mark links used without a
// read-modify-write of the whole collection.
type Claimer interface {
	ClaimLinks(ctx context.Context, variantID string, n int) (Claim, error)
}

// Counts splits a collection into used and unused totals.
func Counts(links []Link) (used, unused int) {
	for _, l := range links {
		if l.IsUsed {
			used++
		} else {
			unused++
		}
	}
	return used, unused
}

// CloneLinks returns a copy safe to mutate.
func CloneLinks(links []Link) []Link {
	out := make([]Link, len(links))
	copy(out, links)
	return out
}
