package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-digital-store/internal/app"
	kafkax "github.com/ariefcatur/go-digital-store/internal/kafka"
	"github.com/ariefcatur/go-digital-store/internal/orders"
	"github.com/ariefcatur/go-digital-store/internal/reconcile"
)

func newAssignPendingCommand(ctx *commandContext) *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "assign-pending",
		Short: "Allocate links to backordered orders, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			db, err := ctx.ensureDB(cmd.Context())
			if err != nil {
				return err
			}
			alloc, err := ctx.allocator(cmd.Context())
			if err != nil {
				return err
			}

			var events reconcile.Publisher
			var prod *kafkax.Producer
			if publish {
				prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderSettled, 256, ctx.logger())
				prod.Start(cmd.Context())
				events = prod
			}
			rec := app.Reconciler(cfg, db, alloc, events, nil, nil, ctx.logger())

			rep, err := rec.AssignPending(cmd.Context())
			if prod != nil {
				prod.Close()
				prod.WaitClosed()
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderReport(rep))
			if prod != nil {
				st := prod.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "events written=%d failed=%d\n", st.Written, st.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", true, "Publish order.settled events so buyers get emails")
	return cmd
}

func renderReport(rep reconcile.Report) string {
	if len(rep.Orders) == 0 {
		return "No pending orders\n"
	}
	rows := make([][]string, 0, len(rep.Orders))
	for _, o := range rep.Orders {
		rows = append(rows, []string{o.OrderID, o.VariantID, string(o.From), string(o.Status),
			strconv.Itoa(o.Allocated), strconv.Itoa(o.Outstanding), o.Error})
	}
	out := renderTable(
		[]string{"Order", "Variant", "From", "Status", "Allocated", "Outstanding", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
	return out + fmt.Sprintf("paid=%d pending=%d failed=%d\n", rep.Paid(), rep.Pending(), rep.Failed())
}

func newOrdersCommand(ctx *commandContext) *cobra.Command {
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders",
	}
	ordersCmd.AddCommand(newOrdersPendingCommand(ctx))
	return ordersCmd
}

func newOrdersPendingCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List backordered orders waiting for links",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.ensureDB(cmd.Context())
			if err != nil {
				return err
			}
			list, err := (&orders.Repo{DB: db}).ListPending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPending(list, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum orders to list")
	return cmd
}

func renderPending(list []orders.Order, now time.Time) string {
	if len(list) == 0 {
		return "No pending orders\n"
	}
	rows := make([][]string, 0, len(list))
	for _, o := range list {
		rows = append(rows, []string{
			o.ID, o.Metadata.Email, o.VariantID,
			fmt.Sprintf("%d/%d", len(o.DownloadLinks), max(o.Metadata.Quantity, 1)),
			now.Sub(o.CreatedAt).Truncate(time.Minute).String(),
		})
	}
	return renderTable(
		[]string{"Order", "Buyer", "Variant", "Delivered", "Waiting"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}
