package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/payment"
)

type OrderStore interface {
	CreateCheckout(ctx context.Context, c orders.Checkout) ([]orders.Order, bool, error)
	AttachInvoice(ctx context.Context, groupID, invoiceID string) error
	Get(ctx context.Context, orderID string) (orders.Order, error)
	ListForUser(ctx context.Context, userID string) ([]orders.Order, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) ([]byte, bool)
	Put(ctx context.Context, orderID string, body []byte) error
}

// InvoiceSettings are passed through to the gateway on every invoice.
type InvoiceSettings struct {
	Currency    string
	CallbackURL string
	SuccessURL  string
	CancelURL   string
}

type OrdersHandler struct {
	Orders   OrderStore
	Gateway  PaymentGateway
	Promos   PromoService
	Cache    StatusCache
	Auth     *auth.Verifier
	Invoices InvoiceSettings
	Log      *slog.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	api := withTimeout(r).With(h.Auth.Require)
	api.Post("/api/checkout", h.checkout)
	api.Get("/api/orders", h.listOrders)
	api.Get("/api/orders/{id}", h.getOrder)
}

type checkoutReq struct {
	OrderGroupID string            `json:"orderGroupId"`
	Email        string            `json:"email"`
	Currency     string            `json:"currency"`
	PromoCode    string            `json:"promoCode"`
	Items        []orders.LineItem `json:"items"`
}

type checkoutResp struct {
	OrderGroupID string         `json:"orderGroupId"`
	InvoiceID    string         `json:"invoiceId,omitempty"`
	InvoiceURL   string         `json:"invoiceUrl,omitempty"`
	TotalCents   int            `json:"totalCents"`
	Orders       []orders.Order `json:"orders"`
	Idempotent   bool           `json:"idempotent"`
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	log := logger(h.Log, r)
	u, _ := auth.UserFrom(r.Context())
	var req checkoutReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "missing items")
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.VariantID == "" || it.Quantity < 1 || it.AmountCents < 0 {
			writeError(w, http.StatusBadRequest, "each item needs productId, variantId, quantity >= 1 and a non-negative amount")
			return
		}
	}
	items, err := orders.MergeLineItems(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Items = items
	if req.OrderGroupID != "" {
		if _, err := uuid.Parse(req.OrderGroupID); err != nil {
			writeError(w, http.StatusBadRequest, "orderGroupId must be a uuid")
			return
		}
	} else {
		req.OrderGroupID = uuid.NewString()
	}
	email := req.Email
	if email == "" {
		email = u.Email
	}

	if code := strings.TrimSpace(req.PromoCode); code != "" {
		p, err := h.Promos.Validate(r.Context(), code, u.ID)
		switch {
		case err == nil:
			for i := range req.Items {
				req.Items[i].AmountCents = p.Apply(req.Items[i].AmountCents)
			}
			req.PromoCode = p.Code
		case rejection(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		default:
			log.Error("validate promo at checkout", "err", err)
			writeError(w, http.StatusInternalServerError, "could not validate promo code")
			return
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = h.Invoices.Currency
	}
	list, existed, err := h.Orders.CreateCheckout(r.Context(), orders.Checkout{
		UserID:       u.ID,
		Email:        email,
		OrderGroupID: req.OrderGroupID,
		Currency:     currency,
		PromoCode:    req.PromoCode,
		Items:        req.Items,
	})
	if err != nil {
		log.Error("create checkout", "err", err)
		writeError(w, http.StatusInternalServerError, "could not create orders")
		return
	}
	for _, o := range list {
		if o.UserID != u.ID {
			writeError(w, http.StatusConflict, "orderGroupId already in use")
			return
		}
	}

	resp := checkoutResp{OrderGroupID: req.OrderGroupID, Orders: list, Idempotent: existed}
	for _, o := range list {
		resp.TotalCents += o.AmountCents
		if o.Metadata.InvoiceID != "" {
			resp.InvoiceID = o.Metadata.InvoiceID
		}
	}
	if resp.InvoiceID != "" || !anyAwaitingPayment(list) {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	inv, err := h.Gateway.CreateInvoice(r.Context(), payment.InvoiceRequest{
		PriceAmount:      float64(resp.TotalCents) / 100,
		PriceCurrency:    list[0].Currency,
		OrderID:          req.OrderGroupID,
		OrderDescription: fmt.Sprintf("%d item(s)", len(list)),
		IPNCallbackURL:   h.Invoices.CallbackURL,
		SuccessURL:       h.Invoices.SuccessURL,
		CancelURL:        h.Invoices.CancelURL,
	})
	if err != nil {
		// orders stay pending_payment; retrying with the same orderGroupId creates the invoice
		log.Error("create invoice", "order_group_id", req.OrderGroupID, "err", err)
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}
	if err := h.Orders.AttachInvoice(r.Context(), req.OrderGroupID, string(inv.ID)); err != nil {
		log.Error("attach invoice", "order_group_id", req.OrderGroupID, "invoice_id", string(inv.ID), "err", err)
		writeError(w, http.StatusInternalServerError, "could not record invoice")
		return
	}
	resp.InvoiceID = string(inv.ID)
	resp.InvoiceURL = inv.InvoiceURL
	for i := range resp.Orders {
		resp.Orders[i].Metadata.InvoiceID = resp.InvoiceID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func anyAwaitingPayment(list []orders.Order) bool {
	for _, o := range list {
		if o.Status == orders.StatusPendingPayment {
			return true
		}
	}
	return false
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	list, err := h.Orders.ListForUser(r.Context(), u.ID)
	if err != nil {
		logger(h.Log, r).Error("list orders", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	// 1) cache
	if h.Cache != nil {
		if b, ok := h.Cache.Get(r.Context(), orderID); ok {
			var o orders.Order
			if json.Unmarshal(b, &o) == nil && o.UserID == u.ID {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(b)
				return
			}
		}
	}

	// 2) database
	o, err := h.Orders.Get(r.Context(), orderID)
	if errors.Is(err, orders.ErrNotFound) || (err == nil && o.UserID != u.ID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		logger(h.Log, r).Error("get order", "order_id", orderID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	b, _ := json.Marshal(o)
	if h.Cache != nil {
		_ = h.Cache.Put(r.Context(), orderID, b)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
