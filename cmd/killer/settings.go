package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/killer-ai/killer/pkg/models"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored API settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective API settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.pipeline.Settings(cmd.Context())
			fmt.Printf("API key:  %s\nEndpoint: %s\n", maskKey(s.APIKey), s.APIEndpoint)
			return nil
		},
	}

	var apiKey, endpoint string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Store API settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("api-key") && !cmd.Flags().Changed("endpoint") {
				return fmt.Errorf("nothing to set: pass --api-key and/or --endpoint")
			}

			a, err := openApp(cmd.Context(), opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			current, err := a.store.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}
			next := models.Settings{APIKey: current.APIKey, APIEndpoint: current.APIEndpoint}
			if cmd.Flags().Changed("api-key") {
				next.APIKey = apiKey
			}
			if cmd.Flags().Changed("endpoint") {
				next.APIEndpoint = endpoint
			}
			if err := a.pipeline.SaveSettings(cmd.Context(), next); err != nil {
				return err
			}
			fmt.Println("Settings saved.")
			return nil
		},
	}
	setCmd.Flags().StringVar(&apiKey, "api-key", "", "API key (empty clears the stored key)")
	setCmd.Flags().StringVar(&endpoint, "endpoint", "", "generateContent endpoint URL (empty clears the stored endpoint)")

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}

func maskKey(key string) string {
	if key == "" {
		return "(not configured)"
	}
	return models.MaskAPIKey(key)
}
