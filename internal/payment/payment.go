// Package payment integrates the hosted crypto payment gateway: invoices,
// payment status lookups and signed webhook notifications.
package payment

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Gateway payment statuses.
const (
	StatusWaiting       = "waiting"
	StatusConfirming    = "confirming"
	StatusConfirmed     = "confirmed"
	StatusSending       = "sending"
	StatusPartiallyPaid = "partially_paid"
	StatusFinished      = "finished"
	StatusFailed        = "failed"
	StatusRefunded      = "refunded"
	StatusExpired       = "expired"
)

// ID accepts both JSON strings and numbers; the gateway sends either.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Payment is both the webhook body and the status lookup response.
type Payment struct {
	PaymentID     ID      `json:"payment_id"`
	InvoiceID     ID      `json:"invoice_id"`
	OrderID       string  `json:"order_id"`
	PaymentStatus string  `json:"payment_status"`
	PayAddress    string  `json:"pay_address"`
	PriceAmount   float64 `json:"price_amount"`
	PriceCurrency string  `json:"price_currency"`
}

// Settled reports whether the payment cleared and orders may be fulfilled.
func (p Payment) Settled() bool {
	switch strings.ToLower(p.PaymentStatus) {
	case StatusFinished, StatusConfirmed:
		return true
	}
	return false
}
