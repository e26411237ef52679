package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-digital-store/internal/postgres"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("order status transition not allowed")
	ErrEmptyCheckout     = errors.New("checkout has no items")
	ErrEmptyMatch        = errors.New("no invoice, group or order id to match")
)

const orderColumns = `id, user_id, product_id, variant_id, amount_cents, currency, status,
	quantity, order_group_id, buyer_email, invoice_id, payment_id, promo_code,
	download_links, created_at, updated_at`

type Repo struct{ DB *pgxpool.Pool }

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.VariantID, &o.AmountCents, &o.Currency, &status,
		&o.Metadata.Quantity, &o.Metadata.OrderGroupID, &o.Metadata.Email, &o.Metadata.InvoiceID,
		&o.Metadata.PaymentID, &o.Metadata.PromoCode, &o.DownloadLinks, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	if o.DownloadLinks == nil {
		o.DownloadLinks = []DeliveredLink{}
	}
	return o, nil
}

func collect(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateCheckout inserts one order per line item, all sharing the checkout's
// order group. Idempotent on order_group_id: a repeated checkout returns the
// existing rows with existed=true.
func (r *Repo) CreateCheckout(ctx context.Context, c Checkout) (out []Order, existed bool, err error) {
	if len(c.Items) == 0 {
		return nil, false, ErrEmptyCheckout
	}
	if c.OrderGroupID == "" {
		c.OrderGroupID = uuid.NewString()
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if c.Items, err = MergeLineItems(c.Items); err != nil {
		return nil, false, err
	}

	if out, err = r.ListByGroup(ctx, c.OrderGroupID); err != nil {
		return nil, false, err
	} else if len(out) > 0 {
		return out, true, nil
	}

	err = postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		for _, it := range c.Items {
			if it.Quantity <= 0 {
				return fmt.Errorf("invalid quantity for variant %s", it.VariantID)
			}
			if it.VariantID == "" || it.ProductID == "" {
				return errors.New("line item needs product and variant ids")
			}
			o, err := scanOrder(tx.QueryRow(ctx, `
				INSERT INTO orders (id, user_id, product_id, variant_id, amount_cents, currency, status,
				                    quantity, order_group_id, buyer_email, promo_code, download_links)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
				RETURNING `+orderColumns,
				uuid.NewString(), c.UserID, it.ProductID, it.VariantID, it.AmountCents, strings.ToLower(c.Currency),
				string(StatusPendingPayment), it.Quantity, c.OrderGroupID, c.Email, c.PromoCode, []DeliveredLink{}))
			if err != nil {
				return fmt.Errorf("insert order: %w", err)
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, false, nil
}

// AttachInvoice records the gateway invoice for every unpaid order of a group.
func (r *Repo) AttachInvoice(ctx context.Context, groupID, invoiceID string) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET invoice_id=$2, updated_at=NOW()
		WHERE order_group_id=$1 AND status=$3`, groupID, invoiceID, string(StatusPendingPayment))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return Order{}, ErrNotFound
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (r *Repo) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id=$1 ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *Repo) ListByGroup(ctx context.Context, groupID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE order_group_id=$1 ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListReconcilable returns unpaid orders matching m, oldest first.
func (r *Repo) ListReconcilable(ctx context.Context, m Match) ([]Order, error) {
	if m.Empty() {
		return nil, ErrEmptyMatch
	}
	// an order id that is not a uuid matches no row
	var orderID *uuid.UUID
	if id, err := uuid.Parse(m.OrderID); err == nil {
		orderID = &id
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status IN ($4, $5)
		  AND (($1::text <> '' AND invoice_id = $1::text)
		    OR ($2::text <> '' AND order_group_id = $2::text)
		    OR ($3::uuid IS NOT NULL AND id = $3::uuid))
		ORDER BY created_at, id`,
		m.InvoiceID, m.OrderGroupID, orderID, string(StatusPendingPayment), string(StatusPending))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListPending returns backordered orders, oldest first.
func (r *Repo) ListPending(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status=$1 ORDER BY created_at, id LIMIT $2`, string(StatusPending), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ApplyAllocation moves an order from a.From to a.To and stores its links.
// The update only lands if the order is still in a.From and still holds
// a.Delivered links, so two reconciliations of the same order cannot both win.
func (r *Repo) ApplyAllocation(ctx context.Context, a Allocation) (Order, error) {
	if !CanTransition(a.From, a.To) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.From, a.To)
	}
	id, err := uuid.Parse(a.OrderID)
	if err != nil {
		return Order{}, ErrNotFound
	}
	links := a.Links
	if links == nil {
		links = []DeliveredLink{}
	}
	o, err := scanOrder(r.DB.QueryRow(ctx, `
		UPDATE orders
		SET status=$3, download_links=$4,
		    payment_id = CASE WHEN $5::text <> '' THEN $5::text ELSE payment_id END,
		    updated_at=NOW()
		WHERE id=$1 AND status=$2 AND jsonb_array_length(download_links)=$6
		RETURNING `+orderColumns,
		id, string(a.From), string(a.To), links, a.PaymentID, a.Delivered))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, err
	}
	cur, gerr := r.Get(ctx, a.OrderID)
	if gerr != nil {
		return Order{}, gerr
	}
	return Order{}, fmt.Errorf("%w: order %s is %s with %d link(s), expected %s with %d",
		ErrInvalidTransition, a.OrderID, cur.Status, len(cur.DownloadLinks), a.From, a.Delivered)
}
