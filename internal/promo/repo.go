package promo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) FindByCode(ctx context.Context, code string) (Promo, error) {
	var (
		p  Promo
		dt string
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id::text, code, discount_type, discount_value, valid_from, valid_until, active
		FROM promo_codes WHERE LOWER(code) = LOWER($1)`, code).
		Scan(&p.ID, &p.Code, &dt, &p.DiscountValue, &p.ValidFrom, &p.ValidUntil, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Promo{}, ErrNotFound
	}
	if err != nil {
		return Promo{}, fmt.Errorf("select promo: %w", err)
	}
	p.DiscountType = DiscountType(dt)
	return p, nil
}

func (r *Repo) HasUsed(ctx context.Context, userID, promoID string) (bool, error) {
	pid, err := uuid.Parse(promoID)
	if err != nil {
		return false, ErrNotFound
	}
	var one int
	err = r.DB.QueryRow(ctx, `
		SELECT 1 FROM promo_usages WHERE user_id=$1 AND promo_id=$2`, userID, pid).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select promo usage: %w", err)
	}
	return true, nil
}

func (r *Repo) RecordUsage(ctx context.Context, userID, promoID string) error {
	pid, err := uuid.Parse(promoID)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.DB.Exec(ctx, `INSERT INTO promo_usages (user_id, promo_id) VALUES ($1, $2)`, userID, pid)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyUsed
	}
	return err
}
