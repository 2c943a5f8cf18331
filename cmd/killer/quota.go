package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newQuotaCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show today's remote call usage against the daily limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.pipeline.QuotaStatus(cmd.Context())
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tLIMIT\tUSED\tREMAINING\tEXHAUSTED")
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n", st.ResetDate, st.Limit, st.Used, st.Remaining, st.Exhausted)
			return w.Flush()
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero today's request counter",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pipeline.ResetQuota(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Daily quota reset.")
			return nil
		},
	}

	cmd.AddCommand(resetCmd)
	return cmd
}
