package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/payment"
	"github.com/ariefcatur/go-digital-store/internal/reconcile"
	"github.com/ariefcatur/go-digital-store/internal/redisx"
)

type Reconciler interface {
	Reconcile(ctx context.Context, t reconcile.Trigger) (reconcile.Report, error)
	AssignPending(ctx context.Context) (reconcile.Report, error)
}

type PaymentGateway interface {
	CreateInvoice(ctx context.Context, in payment.InvoiceRequest) (payment.Invoice, error)
	PaymentStatus(ctx context.Context, paymentID string) (payment.Payment, error)
	InvoicePayments(ctx context.Context, invoiceID string) ([]payment.Payment, error)
}

// ReplayGuard remembers webhook deliveries already processed.
type ReplayGuard interface {
	Mark(ctx context.Context, key string) (bool, error)
	Unmark(ctx context.Context, key string) error
}

type GroupReader interface {
	ListByGroup(ctx context.Context, groupID string) ([]orders.Order, error)
}

type PaymentsHandler struct {
	Reconciler  Reconciler
	Verifier    *payment.Verifier
	Gateway     PaymentGateway
	Replay      ReplayGuard
	Orders      GroupReader
	Auth        *auth.Verifier
	MockEnabled bool
	Log         *slog.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	api := withTimeout(r)
	api.Post("/api/webhooks/payments", h.webhook)
	api.Group(func(r chi.Router) {
		r.Use(h.Auth.Require)
		r.Post("/api/payments/status", h.status)
		if h.MockEnabled {
			r.Post("/api/payments/mock", h.mock)
		}
	})
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	log := logger(h.Log, r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Verifier.Verify(r.Header.Get(payment.HeaderTimestamp), r.Header.Get(payment.HeaderSignature), body); err != nil {
		log.Warn("webhook rejected", "err", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var p payment.Payment
	if err := json.Unmarshal(body, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.InvoiceID == "" && p.OrderID == "" {
		writeError(w, http.StatusBadRequest, "missing invoice_id and order_id")
		return
	}
	log = log.With("invoice_id", string(p.InvoiceID), "order_group_id", p.OrderID, "payment_status", p.PaymentStatus)

	if !p.Settled() {
		log.Info("webhook received, payment not settled")
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "settled": false})
		return
	}

	ref := string(p.InvoiceID)
	if ref == "" {
		ref = p.OrderID
	}
	key := fmt.Sprintf(redisx.KeyWebhookSeen, ref, p.PaymentStatus)
	if h.Replay != nil {
		fresh, err := h.Replay.Mark(r.Context(), key)
		switch {
		case err != nil:
			log.Warn("replay guard unavailable", "err", err)
		case !fresh:
			log.Info("duplicate webhook ignored")
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	rep, err := h.Reconciler.Reconcile(r.Context(), reconcile.Trigger{
		Source:       reconcile.SourceWebhook,
		InvoiceID:    string(p.InvoiceID),
		OrderGroupID: p.OrderID,
		PaymentID:    string(p.PaymentID),
	})
	if err != nil {
		log.Error("reconcile from webhook", "err", err)
		h.unmark(r.Context(), log, key)
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	if n := rep.Failed(); n > 0 {
		// the gateway redelivers on non-2xx; the mark must not swallow that retry
		log.Error("webhook left orders unsettled", "failed", n)
		h.unmark(r.Context(), log, key)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"received": true, "settled": false, "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "settled": true, "report": rep})
}

func (h *PaymentsHandler) unmark(ctx context.Context, log *slog.Logger, key string) {
	if h.Replay == nil {
		return
	}
	if err := h.Replay.Unmark(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("clear replay mark", "err", err)
	}
}

type statusReq struct {
	PaymentID    string `json:"paymentId"`
	InvoiceID    string `json:"invoiceId"`
	OrderGroupID string `json:"orderGroupId"`
}

type statusResp struct {
	PaymentStatus string            `json:"paymentStatus"`
	Settled       bool              `json:"settled"`
	Report        *reconcile.Report `json:"report,omitempty"`
	Orders        []orders.Order    `json:"orders"`
}

// status polls the gateway on behalf of a buyer whose webhook has not
// arrived yet, and reconciles when the payment has settled.
func (h *PaymentsHandler) status(w http.ResponseWriter, r *http.Request) {
	log := logger(h.Log, r)
	u, _ := auth.UserFrom(r.Context())
	var req statusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PaymentID == "" && req.InvoiceID == "" && req.OrderGroupID == "" {
		writeError(w, http.StatusBadRequest, "paymentId, invoiceId or orderGroupId is required")
		return
	}

	groupID, invoiceID := req.OrderGroupID, req.InvoiceID
	if groupID != "" && invoiceID == "" && req.PaymentID == "" {
		own, err := h.ownedGroup(r.Context(), groupID, u.ID)
		if err != nil {
			h.groupError(w, log, err)
			return
		}
		invoiceID = own[0].Metadata.InvoiceID
		if invoiceID == "" {
			writeJSON(w, http.StatusOK, statusResp{PaymentStatus: payment.StatusWaiting, Orders: own})
			return
		}
	}

	p, err := h.lookup(r.Context(), req.PaymentID, invoiceID)
	if err != nil {
		log.Error("payment status lookup", "err", err)
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}
	if p.OrderID != "" {
		groupID = p.OrderID
	}
	if p.InvoiceID != "" {
		invoiceID = string(p.InvoiceID)
	}
	if groupID == "" {
		writeJSON(w, http.StatusOK, statusResp{PaymentStatus: p.PaymentStatus, Settled: p.Settled(), Orders: []orders.Order{}})
		return
	}
	if _, err := h.ownedGroup(r.Context(), groupID, u.ID); err != nil {
		h.groupError(w, log, err)
		return
	}

	resp := statusResp{PaymentStatus: p.PaymentStatus, Settled: p.Settled()}
	if p.Settled() {
		rep, err := h.Reconciler.Reconcile(r.Context(), reconcile.Trigger{
			Source:       reconcile.SourcePoll,
			InvoiceID:    invoiceID,
			OrderGroupID: groupID,
			PaymentID:    string(p.PaymentID),
		})
		if err != nil {
			log.Error("reconcile from status poll", "err", err)
		} else {
			resp.Report = &rep
		}
	}
	resp.Orders, err = h.ownedGroup(r.Context(), groupID, u.ID)
	if err != nil {
		h.groupError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PaymentsHandler) lookup(ctx context.Context, paymentID, invoiceID string) (payment.Payment, error) {
	if paymentID != "" {
		return h.Gateway.PaymentStatus(ctx, paymentID)
	}
	ps, err := h.Gateway.InvoicePayments(ctx, invoiceID)
	if err != nil {
		return payment.Payment{}, err
	}
	if len(ps) == 0 {
		return payment.Payment{InvoiceID: payment.ID(invoiceID), PaymentStatus: payment.StatusWaiting}, nil
	}
	for _, p := range ps {
		if p.Settled() {
			return p, nil
		}
	}
	return ps[len(ps)-1], nil
}

var errForeignGroup = errors.New("order group belongs to another user")

func (h *PaymentsHandler) ownedGroup(ctx context.Context, groupID, userID string) ([]orders.Order, error) {
	list, err := h.Orders.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, orders.ErrNotFound
	}
	for _, o := range list {
		if o.UserID != userID {
			return nil, errForeignGroup
		}
	}
	return list, nil
}

func (h *PaymentsHandler) groupError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, errForeignGroup):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		log.Error("load order group", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type mockReq struct {
	OrderGroupID string `json:"orderGroupId"`
}

// mock settles a checkout without the gateway. Only mounted when mock
// payments are enabled.
func (h *PaymentsHandler) mock(w http.ResponseWriter, r *http.Request) {
	log := logger(h.Log, r)
	u, _ := auth.UserFrom(r.Context())
	var req mockReq
	if err := decodeJSON(r, &req); err != nil || req.OrderGroupID == "" {
		writeError(w, http.StatusBadRequest, "orderGroupId is required")
		return
	}
	if _, err := h.ownedGroup(r.Context(), req.OrderGroupID, u.ID); err != nil {
		h.groupError(w, log, err)
		return
	}
	rep, err := h.Reconciler.Reconcile(r.Context(), reconcile.Trigger{
		Source:       reconcile.SourceMock,
		OrderGroupID: req.OrderGroupID,
		PaymentID:    "mock-" + uuid.NewString(),
	})
	if err != nil {
		log.Error("reconcile mock payment", "err", err)
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": rep})
}
