package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/order-api-client/pkg/orders"
)

func newOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Query the order API through the resilient client",
	}
	cmd.AddCommand(newOrdersListCmd(), newOrdersGetCmd(), newOrdersStatsCmd())
	return cmd
}

// withService runs fn against a freshly wired order service.
func withService(cmd *cobra.Command, fn func(svc *orders.Service) (any, error)) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := fn(a.orders)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func newOrdersListCmd() *cobra.Command {
	var (
		q   orders.ListQuery
		all bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *orders.Service) (any, error) {
				if all {
					return svc.ListAllOrders(cmd.Context(), q)
				}
				return svc.ListOrders(cmd.Context(), q)
			})
		},
	}

	cmd.Flags().Int64Var(&q.Customer, "customer", 0, "filter by customer id")
	cmd.Flags().StringVar(&q.Status, "status", "", "filter by order status")
	cmd.Flags().IntVar(&q.Page, "page", 0, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", 0, "page size (max 100)")
	cmd.Flags().StringVar(&q.Search, "search", "", "free text search")
	cmd.Flags().BoolVar(&all, "all", false, "fetch every page")
	return cmd
}

func newOrdersGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q: %w", args[0], err)
			}
			return withService(cmd, func(svc *orders.Service) (any, error) {
				return svc.GetOrder(cmd.Context(), id)
			})
		},
	}
}

func newOrdersStatsCmd() *cobra.Command {
	var customer int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show order statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(svc *orders.Service) (any, error) {
				return svc.GetOrderStats(cmd.Context(), customer)
			})
		},
	}

	cmd.Flags().Int64Var(&customer, "customer", 0, "scope statistics to a customer")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
