// Package reconcile settles paid orders: it allocates download links,
// advances order status and fans the result out to notifications, the event
// bus and connected browsers. Webhooks, status polls, the admin trigger and
// mock payments all go through the same Reconciler.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-digital-store/internal/allocator"
	"github.com/ariefcatur/go-digital-store/internal/notifications"
	"github.com/ariefcatur/go-digital-store/internal/orders"
)

// Trigger sources.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceAdmin   = "admin"
	SourceMock    = "mock"
)

var ErrNoMatch = errors.New("reconcile: trigger carries no invoice, group or order id")

type OrderStore interface {
	ListReconcilable(ctx context.Context, m orders.Match) ([]orders.Order, error)
	ListPending(ctx context.Context, limit int) ([]orders.Order, error)
	ApplyAllocation(ctx context.Context, a orders.Allocation) (orders.Order, error)
}

type Allocator interface {
	Allocate(ctx context.Context, req allocator.Request) (allocator.Result, error)
	Release(ctx context.Context, variantID string, paths []string) error
}

type NotificationStore interface {
	Create(ctx context.Context, n notifications.Notification) error
}

// Publisher matches kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header)
}

// Broadcaster pushes a message to every live connection of a user.
type Broadcaster interface {
	Send(userID string, v any)
}

type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

type Trigger struct {
	Source       string
	InvoiceID    string
	OrderGroupID string
	OrderID      string
	PaymentID    string
}

func (t Trigger) match() orders.Match {
	return orders.Match{InvoiceID: t.InvoiceID, OrderGroupID: t.OrderGroupID, OrderID: t.OrderID}
}

// Outcome is what happened to one order.
type Outcome struct {
	OrderID     string        `json:"orderId"`
	VariantID   string        `json:"variantId"`
	From        orders.Status `json:"from"`
	Status      orders.Status `json:"status"`
	Allocated   int           `json:"allocated"`
	Outstanding int           `json:"outstanding"`
	Error       string        `json:"error,omitempty"`
}

type Report struct {
	Source string    `json:"source"`
	Orders []Outcome `json:"orders"`
}

func (r Report) count(fn func(Outcome) bool) int {
	n := 0
	for _, o := range r.Orders {
		if fn(o) {
			n++
		}
	}
	return n
}

func (r Report) Paid() int {
	return r.count(func(o Outcome) bool { return o.Error == "" && o.Status == orders.StatusPaid })
}

func (r Report) Pending() int {
	return r.count(func(o Outcome) bool { return o.Error == "" && o.Status == orders.StatusPending })
}

func (r Report) Failed() int {
	return r.count(func(o Outcome) bool { return o.Error != "" })
}

type Reconciler struct {
	Orders        OrderStore
	Allocator     Allocator
	Notifications NotificationStore
	Events        Publisher
	// Live and Cache are optional.
	Live     Broadcaster
	Cache    StatusCache
	Producer string
	Log      *slog.Logger
	Now      func() time.Time
}

// Reconcile settles every unpaid order the trigger refers to, oldest first.
// A failing order is recorded in the report and does not stop its siblings.
func (r *Reconciler) Reconcile(ctx context.Context, t Trigger) (Report, error) {
	m := t.match()
	if m.Empty() {
		return Report{Source: t.Source}, ErrNoMatch
	}
	list, err := r.Orders.ListReconcilable(ctx, m)
	if err != nil {
		return Report{Source: t.Source}, fmt.Errorf("list orders: %w", err)
	}
	r.logger().Info("reconciling", "source", t.Source, "invoice_id", t.InvoiceID,
		"order_group_id", t.OrderGroupID, "orders", len(list))
	return r.run(ctx, t, list), nil
}

// AssignPending retries allocation for every backordered order.
func (r *Reconciler) AssignPending(ctx context.Context) (Report, error) {
	list, err := r.Orders.ListPending(ctx, 0)
	if err != nil {
		return Report{Source: SourceAdmin}, fmt.Errorf("list pending orders: %w", err)
	}
	r.logger().Info("assigning pending links", "orders", len(list))
	return r.run(ctx, Trigger{Source: SourceAdmin}, list), nil
}

func (r *Reconciler) run(ctx context.Context, t Trigger, list []orders.Order) Report {
	rep := Report{Source: t.Source, Orders: make([]Outcome, 0, len(list))}
	for _, o := range list {
		if ctx.Err() != nil {
			rep.Orders = append(rep.Orders, Outcome{OrderID: o.ID, VariantID: o.VariantID, From: o.Status,
				Status: o.Status, Outstanding: o.Outstanding(), Error: ctx.Err().Error()})
			continue
		}
		rep.Orders = append(rep.Orders, r.settle(ctx, t, o))
	}
	return rep
}

func (r *Reconciler) settle(ctx context.Context, t Trigger, o orders.Order) Outcome {
	log := r.logger().With("order_id", o.ID, "variant_id", o.VariantID, "source", t.Source)
	out := Outcome{OrderID: o.ID, VariantID: o.VariantID, From: o.Status, Status: o.Status}

	if !o.Status.Reconcilable() {
		out.Error = fmt.Sprintf("order is %s", o.Status)
		return out
	}

	owed := o.Outstanding()
	var fresh []orders.DeliveredLink
	if owed > 0 {
		res, err := r.Allocator.Allocate(ctx, allocator.Request{
			ProductID: o.ProductID,
			VariantID: o.VariantID,
			Quantity:  owed,
		})
		if err != nil {
			log.Error("allocate links", "err", err)
			out.Outstanding = owed
			out.Error = err.Error()
			// Payment has cleared: park the order as pending so a later trigger retries.
			if o.Status == orders.StatusPendingPayment {
				if _, aerr := r.apply(ctx, t, o, orders.StatusPending, o.DownloadLinks); aerr != nil {
					log.Error("park order as pending", "err", aerr)
				} else {
					out.Status = orders.StatusPending
				}
			}
			return out
		}
		for _, l := range res.Links {
			fresh = append(fresh, orders.DeliveredLink{FilePath: l.FilePath, ProductName: l.ProductName, VariantName: l.VariantName})
		}
	}

	links := make([]orders.DeliveredLink, 0, len(o.DownloadLinks)+len(fresh))
	links = append(links, o.DownloadLinks...)
	links = append(links, fresh...)
	to := orders.StatusPending
	if len(fresh) >= owed {
		to = orders.StatusPaid
	}

	if to == o.Status && len(fresh) == 0 {
		out.Outstanding = owed
		return out
	}

	updated, err := r.apply(ctx, t, o, to, links)
	if err != nil {
		log.Error("update order", "err", err)
		if rerr := r.Allocator.Release(ctx, o.VariantID, paths(fresh)); rerr != nil {
			log.Error("release links after failed update", "paths", paths(fresh), "err", rerr)
		}
		out.Outstanding = owed
		out.Error = err.Error()
		return out
	}

	out.Status = updated.Status
	out.Allocated = len(fresh)
	out.Outstanding = updated.Outstanding()
	log.Info("order reconciled", "status", updated.Status, "allocated", out.Allocated, "outstanding", out.Outstanding)

	r.fanOut(ctx, log, updated)
	return out
}

func (r *Reconciler) apply(ctx context.Context, t Trigger, o orders.Order, to orders.Status, links []orders.DeliveredLink) (orders.Order, error) {
	return r.Orders.ApplyAllocation(ctx, orders.Allocation{
		OrderID:   o.ID,
		From:      o.Status,
		To:        to,
		Delivered: len(o.DownloadLinks),
		Links:     links,
		PaymentID: t.PaymentID,
	})
}

// fanOut runs the side effects of a settled order. None of them can undo the
// status change; failures are only logged.
func (r *Reconciler) fanOut(ctx context.Context, log *slog.Logger, o orders.Order) {
	if r.Cache != nil {
		if err := r.Cache.Invalidate(ctx, o.ID); err != nil {
			log.Warn("invalidate status cache", "err", err)
		}
	}

	n := notifications.ForOrder(o)
	if r.Notifications != nil {
		if err := r.Notifications.Create(ctx, n); err != nil {
			log.Error("create notification", "err", err)
		}
	}
	if r.Live != nil {
		r.Live.Send(o.UserID, n)
	}

	if r.Events != nil {
		env, err := r.envelope(o)
		if err != nil {
			log.Error("build settled event", "err", err)
			return
		}
		r.Events.Publish(orders.PartitionKey(o.ID), env,
			kafka.Header{Key: "event_type", Value: []byte(orders.SettledEventType(o.Status))})
	}
}

func (r *Reconciler) envelope(o orders.Order) ([]byte, error) {
	payload := orders.OrderSettledPayload{
		OrderID:      o.ID,
		OrderGroupID: o.Metadata.OrderGroupID,
		UserID:       o.UserID,
		Email:        o.Metadata.Email,
		ProductID:    o.ProductID,
		VariantID:    o.VariantID,
		Status:       o.Status,
		Quantity:     o.Metadata.Quantity,
		Outstanding:  o.Outstanding(),
		Links:        o.DownloadLinks,
		AmountCents:  o.AmountCents,
		Currency:     o.Currency,
	}
	return orders.NewEnvelope(orders.SettledEventType(o.Status), r.Producer, o.Metadata.OrderGroupID, r.now(), payload)
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func paths(links []orders.DeliveredLink) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.FilePath)
	}
	return out
}
