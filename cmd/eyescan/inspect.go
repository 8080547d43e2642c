// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/model"
)

func newInspectCmd() *cobra.Command {
	var modelDir string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the size and hyperparameters of a saved model",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			m, err := model.Load(backend, orDefault(modelDir, cfg.ModelDir))
			if err != nil {
				return err
			}
			summary, err := m.Summary()
			if err != nil {
				return err
			}

			printTitle("Model")
			t := newTable(nil, lipgloss.Left, lipgloss.Right)
			t.Add(false, "directory", summary.Dir)
			t.Add(false, "ready", fmt.Sprint(summary.Ready))
			t.Add(false, "training steps", humanize.Comma(summary.GlobalStep))
			t.Add(false, "variables", humanize.Comma(int64(summary.NumVariables)))
			t.Add(false, "parameters", humanize.Comma(int64(summary.NumParameters)))
			t.Add(false, "memory", humanize.Bytes(summary.NumBytes))
			fmt.Println(t.Render())

			printHyperparameters("Hyperparameters", summary.Hyperparameters, hyperparams.Default())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelDir, "model", "", "Saved model directory. Defaults to model_dir of the configuration.")
	return cmd
}

// printHyperparameters prints hp, highlighting the values that differ from base.
func printHyperparameters(title string, hp, base hyperparams.Set) {
	printTitle(title)
	t := newTable([]string{"hyperparameter", "value", "domain"}, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	baseRows := hyperparamRows(base)
	for i, row := range hyperparamRows(hp) {
		differs := row[1] != baseRows[i][1]
		domain := ""
		if d, ok := hyperparams.DomainOf(row[0]); ok {
			domain = d.String()
		}
		t.Add(differs, row[0], row[1], domain)
	}
	fmt.Println(t.Render())
}

// hyperparamRows lists the field name and value of each hyperparameter, in schema order.
func hyperparamRows(hp hyperparams.Set) [][2]string {
	return [][2]string{
		{hyperparams.FieldFilters, fmt.Sprint(hp.ConvLayers.Filters)},
		{hyperparams.FieldKernelSize, fmt.Sprint(hp.ConvLayers.KernelSize)},
		{hyperparams.FieldActivation, hp.ConvLayers.Activation},
		{hyperparams.FieldDenseUnits, fmt.Sprint(hp.DenseUnits)},
		{hyperparams.FieldDropoutRate, fmt.Sprint(hp.DropoutRate)},
		{hyperparams.FieldLearningRate, fmt.Sprint(hp.LearningRate)},
		{hyperparams.FieldBatchSize, fmt.Sprint(hp.BatchSize)},
		{hyperparams.FieldEpochs, fmt.Sprint(hp.Epochs)},
		{hyperparams.FieldValidationSplit, fmt.Sprint(hp.ValidationSplit)},
	}
}
