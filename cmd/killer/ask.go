package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/killer-ai/killer/pkg/models"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		mode   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ask [text...]",
		Short: "Run one explain/answer request through the pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Handle(ctx, models.Request{
				Mode: models.Mode(mode),
				Text: strings.Join(args, " "),
			})
			if err != nil {
				if asJSON {
					_ = json.NewEncoder(os.Stdout).Encode(models.ErrorResult{Error: err.Error()})
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Println(res.Response)
			switch {
			case res.Cached:
				fmt.Fprintf(os.Stderr, "(cached %s)\n", res.Timestamp)
			case res.QuotaInfo != nil && (res.QuotaInfo.ShowWarning || res.QuotaInfo.Exhausted):
				fmt.Fprintf(os.Stderr, "(%d of %d requests left today)\n", res.QuotaInfo.Remaining, res.QuotaInfo.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(models.ModeExplain), `request mode: "explain" or "answer"`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
