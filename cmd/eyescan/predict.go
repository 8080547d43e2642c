// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/pkg/inference"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"github.com/vedant-zeus/eye1/pkg/session"
)

func newPredictCmd() *cobra.Command {
	var modelDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "predict [flags] image...",
		Short: "Classify images with a saved model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			backend, err := newBackend(cfg)
			if err != nil {
				return err
			}
			p, err := cfg.Preprocessor()
			if err != nil {
				return err
			}
			sess, err := session.New(backend)
			if err != nil {
				return err
			}
			sess.WithPreprocessor(p)
			if err := sess.Load(orDefault(modelDir, cfg.ModelDir)); err != nil {
				return err
			}

			sources := make([]preprocess.Source, len(args))
			for i, arg := range args {
				sources[i] = preprocess.File(arg)
			}
			results, err := sess.PredictBatch(context.Background(), sources)
			if err != nil {
				return err
			}
			if asJSON {
				out := make(map[string][]inference.Prediction, len(args))
				for i, arg := range args {
					out[arg] = results[i]
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for i, arg := range args {
				printPredictions(arg, results[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelDir, "model", "", "Saved model directory. Defaults to model_dir of the configuration.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the predictions as JSON, keyed by image path.")
	return cmd
}

// printPredictions prints the ranked classes of one image, highlighting the top one.
func printPredictions(name string, preds []inference.Prediction) {
	printTitle(name)
	t := newTable([]string{"disease", "confidence"}, lipgloss.Left, lipgloss.Right)
	for i, p := range preds {
		t.Add(i == 0, p.Disease.String(), percent(p.Confidence))
	}
	fmt.Println(t.Render())
	if len(preds) > 0 {
		fmt.Printf("Prediction: %s\n", preds[0])
	}
}
