package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-digital-store/internal/postgres"
)

// PGStore keeps link inventory in catalog_variants / catalog_links. It
// implements both Store and Claimer.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) Variant(ctx context.Context, variantID string) (Variant, error) {
	return s.load(ctx, s.DB, variantID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PGStore) load(ctx context.Context, q querier, variantID string) (Variant, error) {
	v := Variant{ID: variantID}
	var rev int64
	err := q.QueryRow(ctx, `
		SELECT product_id, product_name, variant_name, revision
		FROM catalog_variants WHERE id=$1`, variantID).
		Scan(&v.ProductID, &v.ProductName, &v.VariantName, &rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return Variant{}, fmt.Errorf("select variant: %w", err)
	}
	v.Revision = strconv.FormatInt(rev, 10)

	rows, err := q.Query(ctx, `
		SELECT file_path, is_used FROM catalog_links
		WHERE variant_id=$1 ORDER BY position`, variantID)
	if err != nil {
		return Variant{}, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.FilePath, &l.IsUsed); err != nil {
			return Variant{}, err
		}
		v.Links = append(v.Links, l)
	}
	return v, rows.Err()
}

func (s *PGStore) SwapLinks(ctx context.Context, v Variant, links []Link) (Variant, error) {
	expected, err := strconv.ParseInt(v.Revision, 10, 64)
	if err != nil {
		return Variant{}, fmt.Errorf("revision %q: %w", v.Revision, ErrRevisionConflict)
	}

	var out Variant
	err = postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `
			UPDATE catalog_variants SET revision = revision + 1, updated_at = NOW()
			WHERE id=$1 AND revision=$2`, v.ID, expected)
		if err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}
		if ct.RowsAffected() != 1 {
			var one int
			if err := tx.QueryRow(ctx, `SELECT 1 FROM catalog_variants WHERE id=$1`, v.ID).Scan(&one); errors.Is(err, pgx.ErrNoRows) {
				return ErrVariantNotFound
			}
			return ErrRevisionConflict
		}

		if _, err := tx.Exec(ctx, `DELETE FROM catalog_links WHERE variant_id=$1`, v.ID); err != nil {
			return fmt.Errorf("clear links: %w", err)
		}
		if len(links) > 0 {
			rows := make([][]any, 0, len(links))
			for i, l := range links {
				rows = append(rows, []any{v.ID, i, l.FilePath, l.IsUsed})
			}
			if _, err := tx.CopyFrom(ctx, pgx.Identifier{"catalog_links"},
				[]string{"variant_id", "position", "file_path", "is_used"},
				pgx.CopyFromRows(rows)); err != nil {
				return fmt.Errorf("write links: %w", err)
			}
		}

		out, err = s.load(ctx, tx, v.ID)
		return err
	})
	if err != nil {
		return Variant{}, err
	}
	return out, nil
}

// ClaimLinks marks up to n unused links used in one statement. The variant row
// is locked first, in the same order SwapLinks takes its locks, so claims and
// link rewrites on one variant queue up instead of deadlocking.
func (s *PGStore) ClaimLinks(ctx context.Context, variantID string, n int) (Claim, error) {
	c := Claim{Variant: Variant{ID: variantID}}
	err := postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT product_id, product_name, variant_name
			FROM catalog_variants WHERE id=$1
			FOR UPDATE`, variantID).
			Scan(&c.Variant.ProductID, &c.Variant.ProductName, &c.Variant.VariantName)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVariantNotFound
		}
		if err != nil {
			return fmt.Errorf("select variant: %w", err)
		}

		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM catalog_links WHERE variant_id=$1 AND NOT is_used`, variantID).
			Scan(&c.Available); err != nil {
			return fmt.Errorf("count unused: %w", err)
		}

		rows, err := tx.Query(ctx, `
			WITH picked AS (
				SELECT id FROM catalog_links
				WHERE variant_id=$1 AND NOT is_used
				ORDER BY position
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			UPDATE catalog_links l SET is_used = TRUE
			FROM picked WHERE l.id = picked.id
			RETURNING l.position, l.file_path`, variantID, n)
		if err != nil {
			return fmt.Errorf("claim links: %w", err)
		}
		type claimed struct {
			pos  int
			path string
		}
		got, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (claimed, error) {
			var cl claimed
			err := row.Scan(&cl.pos, &cl.path)
			return cl, err
		})
		if err != nil {
			return err
		}
		sort.Slice(got, func(i, j int) bool { return got[i].pos < got[j].pos })
		for _, g := range got {
			c.Paths = append(c.Paths, g.path)
		}

		if len(got) > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE catalog_variants SET revision = revision + 1, updated_at = NOW()
				WHERE id=$1`, variantID); err != nil {
				return fmt.Errorf("bump revision: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Claim{}, err
	}
	if len(c.Paths) < n {
		// some unused rows were held by another claimer
		c.Available = len(c.Paths)
	}
	return c, nil
}

// UpsertVariant creates or renames a variant without touching its links.
func (s *PGStore) UpsertVariant(ctx context.Context, v Variant) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO catalog_variants (id, product_id, product_name, variant_name)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE
		SET product_id=EXCLUDED.product_id, product_name=EXCLUDED.product_name,
		    variant_name=EXCLUDED.variant_name, updated_at=NOW()`,
		v.ID, v.ProductID, v.ProductName, v.VariantName)
	return err
}
