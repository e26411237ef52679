package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-digital-store/internal/auth"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/payment"
	"github.com/ariefcatur/go-digital-store/internal/promo"
	"github.com/ariefcatur/go-digital-store/internal/reconcile"
)

var verifier = auth.NewVerifier("test-secret")

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := verifier.Issue(auth.User{ID: userID, Email: userID + "@example.com"}, time.Hour)
	require.NoError(t, err)
	return tok
}

type registrar interface{ Register(r chi.Router) }

func serve(t *testing.T, h registrar, method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := NewRouter(RouterOptions{CORSOrigins: []string{"*"}})
	h.Register(r)

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type fakeReconciler struct {
	mu       sync.Mutex
	triggers []reconcile.Trigger
	assigns  int
	report   reconcile.Report
	err      error
}

func (f *fakeReconciler) Reconcile(_ context.Context, t reconcile.Trigger) (reconcile.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	rep := f.report
	rep.Source = t.Source
	return rep, f.err
}

func (f *fakeReconciler) AssignPending(context.Context) (reconcile.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigns++
	rep := f.report
	rep.Source = reconcile.SourceAdmin
	return rep, f.err
}

type fakeGateway struct {
	payments map[string]payment.Payment
	invoices map[string][]payment.Payment
	created  []payment.InvoiceRequest
	err      error
}

func (g *fakeGateway) CreateInvoice(_ context.Context, in payment.InvoiceRequest) (payment.Invoice, error) {
	if g.err != nil {
		return payment.Invoice{}, g.err
	}
	g.created = append(g.created, in)
	return payment.Invoice{ID: "inv-new", OrderID: in.OrderID, InvoiceURL: "https://pay.example/inv-new"}, nil
}

func (g *fakeGateway) PaymentStatus(_ context.Context, id string) (payment.Payment, error) {
	if g.err != nil {
		return payment.Payment{}, g.err
	}
	return g.payments[id], nil
}

func (g *fakeGateway) InvoicePayments(_ context.Context, id string) ([]payment.Payment, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.invoices[id], nil
}

type memOrderStore struct {
	mu       sync.Mutex
	byID     map[string]orders.Order
	seq      int
	attached map[string]string
}

func newOrderStore(list ...orders.Order) *memOrderStore {
	s := &memOrderStore{byID: map[string]orders.Order{}, attached: map[string]string{}}
	for _, o := range list {
		s.byID[o.ID] = o
	}
	return s
}

func (s *memOrderStore) CreateCheckout(_ context.Context, c orders.Checkout) ([]orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.group(c.OrderGroupID); len(existing) > 0 {
		return existing, true, nil
	}
	var out []orders.Order
	for _, it := range c.Items {
		s.seq++
		o := orders.Order{
			ID: fmt.Sprintf("ord-%d", s.seq), UserID: c.UserID, ProductID: it.ProductID, VariantID: it.VariantID,
			AmountCents: it.AmountCents, Currency: c.Currency, Status: orders.StatusPendingPayment,
			Metadata:      orders.Metadata{Quantity: it.Quantity, OrderGroupID: c.OrderGroupID, Email: c.Email, PromoCode: c.PromoCode},
			DownloadLinks: []orders.DeliveredLink{},
			CreatedAt:     time.Unix(int64(s.seq), 0),
		}
		s.byID[o.ID] = o
		out = append(out, o)
	}
	return out, false, nil
}

func (s *memOrderStore) group(id string) []orders.Order {
	var out []orders.Order
	for _, o := range s.byID {
		if o.Metadata.OrderGroupID == id {
			out = append(out, o)
		}
	}
	return out
}

func (s *memOrderStore) AttachInvoice(_ context.Context, groupID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[groupID] = invoiceID
	for id, o := range s.byID {
		if o.Metadata.OrderGroupID == groupID {
			o.Metadata.InvoiceID = invoiceID
			s.byID[id] = o
		}
	}
	return nil
}

func (s *memOrderStore) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) ListForUser(_ context.Context, userID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.byID {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListByGroup(_ context.Context, groupID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group(groupID), nil
}

type fakePromos struct {
	promos map[string]promo.Promo
	used   map[string]bool
}

func (f *fakePromos) Validate(_ context.Context, code, userID string) (promo.Promo, error) {
	if code == "" {
		return promo.Promo{}, promo.ErrMissingCode
	}
	p, ok := f.promos[code]
	if !ok {
		return promo.Promo{}, promo.ErrNotFound
	}
	if err := p.Check(time.Now()); err != nil {
		return promo.Promo{}, err
	}
	if userID != "" && f.used[userID+"/"+p.ID] {
		return promo.Promo{}, promo.ErrAlreadyUsed
	}
	return p, nil
}

func (f *fakePromos) Use(ctx context.Context, code, userID string) (promo.Promo, error) {
	p, err := f.Validate(ctx, code, userID)
	if err != nil {
		return promo.Promo{}, err
	}
	f.used[userID+"/"+p.ID] = true
	return p, nil
}

func newFakePromos() *fakePromos {
	past := time.Now().Add(-time.Hour)
	return &fakePromos{
		promos: map[string]promo.Promo{
			"SAVE10":  {ID: "p1", Code: "SAVE10", DiscountType: promo.DiscountPercentage, DiscountValue: 10, Active: true},
			"OLDCODE": {ID: "p2", Code: "OLDCODE", DiscountType: promo.DiscountFlat, DiscountValue: 100, Active: true, ValidUntil: &past},
		},
		used: map[string]bool{},
	}
}
