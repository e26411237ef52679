package orders

import (
	"errors"
	"fmt"
	"time"
)

type Order struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	ProductID     string          `json:"productId"`
	VariantID     string          `json:"variantId"`
	AmountCents   int             `json:"amountCents"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	Metadata      Metadata        `json:"metadata"`
	DownloadLinks []DeliveredLink `json:"downloadLinks"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Metadata is the checkout context of an order. Each field is its own column.
type Metadata struct {
	Quantity     int    `json:"quantity"`
	OrderGroupID string `json:"orderGroupId"`
	Email        string `json:"email"`
	InvoiceID    string `json:"invoiceId,omitempty"`
	PaymentID    string `json:"paymentId,omitempty"`
	PromoCode    string `json:"promoCode,omitempty"`
}

type DeliveredLink struct {
	FilePath    string `json:"filePath"`
	ProductName string `json:"productName,omitempty"`
	VariantName string `json:"variantName,omitempty"`
}

// Outstanding is how many links the order is still owed.
func (o Order) Outstanding() int {
	q := o.Metadata.Quantity
	if q < 1 {
		q = 1
	}
	if d := q - len(o.DownloadLinks); d > 0 {
		return d
	}
	return 0
}

// LineItem is one cart line at checkout.
type LineItem struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	Quantity    int    `json:"quantity"`
	AmountCents int    `json:"amountCents"`
}

var ErrConflictingLines = errors.New("cart lines for one variant name different products")

// MergeLineItems folds cart lines for the same variant into one, summing
// quantity and amount and keeping first-seen order. A group holds at most one
// order per variant.
func MergeLineItems(items []LineItem) ([]LineItem, error) {
	out := make([]LineItem, 0, len(items))
	idx := make(map[string]int, len(items))
	for _, it := range items {
		i, ok := idx[it.VariantID]
		if !ok {
			idx[it.VariantID] = len(out)
			out = append(out, it)
			continue
		}
		if out[i].ProductID != it.ProductID {
			return nil, fmt.Errorf("%w: variant %s", ErrConflictingLines, it.VariantID)
		}
		out[i].Quantity += it.Quantity
		out[i].AmountCents += it.AmountCents
	}
	return out, nil
}

type Checkout struct {
	UserID       string
	Email        string
	OrderGroupID string
	Currency     string
	PromoCode    string
	Items        []LineItem
}

// Match selects orders a payment event refers to. Empty fields are ignored;
// at least one must be set.
type Match struct {
	InvoiceID    string
	OrderGroupID string
	OrderID      string
}

func (m Match) Empty() bool {
	return m.InvoiceID == "" && m.OrderGroupID == "" && m.OrderID == ""
}

// Allocation is the result of one reconciliation step applied to an order.
type Allocation struct {
	OrderID   string
	From      Status
	To        Status
	// Delivered is how many links the order held when it was read.
	Delivered int
	Links     []DeliveredLink
	PaymentID string
}
