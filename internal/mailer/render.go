package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/ariefcatur/go-digital-store/internal/orders"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type view struct {
	OrderID     string
	StoreURL    string
	Quantity    int
	Delivered   int
	Outstanding int
	Links       []orders.DeliveredLink
}

// Render picks the paid or backorder template for a settled order.
func Render(p orders.OrderSettledPayload, storeURL string) (subject, html string, err error) {
	v := view{
		OrderID:     p.OrderID,
		StoreURL:    strings.TrimRight(storeURL, "/"),
		Quantity:    max(p.Quantity, 1),
		Delivered:   len(p.Links),
		Outstanding: p.Outstanding,
		Links:       p.Links,
	}
	name := "pending.html"
	subject = fmt.Sprintf("Payment received for order %s", shortID(p.OrderID))
	if p.Status == orders.StatusPaid {
		name = "paid.html"
		subject = fmt.Sprintf("Your order %s is ready", shortID(p.OrderID))
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	return subject, buf.String(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
