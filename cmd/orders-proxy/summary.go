package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/order-api-client/pkg/monitor"
)

func newSummaryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show recent performance snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Monitor.SQLitePath == "" {
				return errors.New("monitor.sqlite_path is not configured")
			}

			history, err := monitor.NewSQLiteSink(cmd.Context(), cfg.Monitor.SQLitePath)
			if err != nil {
				return err
			}
			defer history.Close()

			snaps, err := history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshots recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAKEN AT\tAPI OK %\tCACHE HIT %\tORDERS OK %\tAVG MS\tRECOMMENDATIONS")
			for _, s := range snaps {
				fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%.0f\t%s\n",
					s.TakenAt.Format("2006-01-02T15:04:05"),
					s.Summary.APISuccessRate,
					s.Summary.CacheHitRate,
					s.Summary.OrderSuccessRate,
					s.Summary.AvgResponseTimeMs,
					strings.Join(s.Summary.Recommendations, "; "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of snapshots to show")
	return cmd
}
