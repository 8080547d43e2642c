// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
)

func newHyperparamsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "hyperparams",
		Short: "Show the configured hyperparameters and their valid domains",
		Long: "Show the hyperparameters of the configuration along with the domain of each one.\n" +
			"Values that differ from the defaults are highlighted.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"defaults": hyperparams.Default(),
					"current":  cfg.Hyperparameters,
					"schema":   hyperparams.Schema(),
				})
			}
			printHyperparameters("Hyperparameters", cfg.Hyperparameters, hyperparams.Default())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the defaults, current values and schema as JSON.")
	return cmd
}
