// Package notifications stores per-user messages about order changes.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-digital-store/internal/orders"
)

var ErrNotFound = errors.New("notification not found")

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	OrderID   string    `json:"orderId,omitempty"`
	ProductID string    `json:"productId,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// ForOrder builds the message shown to a buyer after reconciliation.
func ForOrder(o orders.Order) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		UserID:    o.UserID,
		OrderID:   o.ID,
		ProductID: o.ProductID,
		CreatedAt: time.Now().UTC(),
	}
	switch o.Status {
	case orders.StatusPaid:
		n.Title = "Order delivered"
		n.Message = fmt.Sprintf("Payment confirmed. %d download link(s) are ready in your order.", len(o.DownloadLinks))
	default:
		n.Title = "Payment received"
		n.Message = fmt.Sprintf("Payment confirmed. %d of %d item(s) delivered; the rest will follow as soon as stock is available.",
			len(o.DownloadLinks), len(o.DownloadLinks)+o.Outstanding())
	}
	return n
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Create(ctx context.Context, n Notification) error {
	var orderID *string
	if n.OrderID != "" {
		orderID = &n.OrderID
	}
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notifications (id, user_id, order_id, product_id, title, message, is_read, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.ID, n.UserID, orderID, n.ProductID, n.Title, n.Message, n.Read, n.CreatedAt)
	return err
}

func (r *Repo) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id::text, user_id, COALESCE(order_id::text, ''), product_id, title, message, is_read, created_at
		FROM notifications WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.ProductID, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repo) MarkRead(ctx context.Context, userID, id string) error {
	nid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	ct, err := r.DB.Exec(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, nid, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
