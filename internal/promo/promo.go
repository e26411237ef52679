// Package promo validates promo codes and records their one-time use per user.
package promo

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("promo code not found")
	ErrInactive     = errors.New("promo code is not active")
	ErrNotYetValid  = errors.New("promo code is not valid yet")
	ErrExpired      = errors.New("promo code has expired")
	ErrAlreadyUsed  = errors.New("promo code already used")
	ErrMissingCode  = errors.New("promo code is required")
	ErrUnauthorized = errors.New("sign in to use promo codes")
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFlat       DiscountType = "flat"
)

type Promo struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue int          `json:"discountValue"` // percent, or cents when flat
	ValidFrom     *time.Time   `json:"validFrom,omitempty"`
	ValidUntil    *time.Time   `json:"validUntil,omitempty"`
	Active        bool         `json:"active"`
}

// Check reports why the promo cannot be used at now, if at all.
func (p Promo) Check(now time.Time) error {
	if !p.Active {
		return ErrInactive
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrNotYetValid
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return ErrExpired
	}
	return nil
}

// Apply returns the discounted amount, never below zero.
func (p Promo) Apply(amountCents int) int {
	var off int
	switch p.DiscountType {
	case DiscountPercentage:
		pct := min(max(p.DiscountValue, 0), 100)
		off = amountCents * pct / 100
	case DiscountFlat:
		off = p.DiscountValue
	}
	return max(amountCents-off, 0)
}

type Store interface {
	FindByCode(ctx context.Context, code string) (Promo, error)
	HasUsed(ctx context.Context, userID, promoID string) (bool, error)
	RecordUsage(ctx context.Context, userID, promoID string) error
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Validate looks the code up and checks window and per-user usage. userID may
// be empty for anonymous browsing; usage is then not checked.
func (s *Service) Validate(ctx context.Context, code, userID string) (Promo, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Promo{}, ErrMissingCode
	}
	p, err := s.Store.FindByCode(ctx, code)
	if err != nil {
		return Promo{}, err
	}
	if err := p.Check(s.now()); err != nil {
		return Promo{}, err
	}
	if userID == "" {
		return p, nil
	}
	used, err := s.Store.HasUsed(ctx, userID, p.ID)
	if err != nil {
		return Promo{}, err
	}
	if used {
		return Promo{}, ErrAlreadyUsed
	}
	return p, nil
}

// Use validates and records usage. The store's uniqueness constraint is the
// final arbiter when two requests race.
func (s *Service) Use(ctx context.Context, code, userID string) (Promo, error) {
	if userID == "" {
		return Promo{}, ErrUnauthorized
	}
	p, err := s.Validate(ctx, code, userID)
	if err != nil {
		return Promo{}, err
	}
	if err := s.Store.RecordUsage(ctx, userID, p.ID); err != nil {
		return Promo{}, err
	}
	return p, nil
}
