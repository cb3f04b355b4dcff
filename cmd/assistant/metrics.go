package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Derive metrics from storage and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, cleanup, err := setup(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer cleanup()

			ns := a.Config.Storage.Namespace
			if cmd.Flags().Changed("namespace") {
				ns = namespace
			}

			m := a.NewDeriver(ns).Refresh(cmd.Context())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m)
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "storage namespace to read, e.g. telegram:12345")
	return cmd
}
