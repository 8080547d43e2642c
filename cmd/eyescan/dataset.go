// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/dataset"
)

func newDatasetCmd() *cobra.Command {
	var dataDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Show the images found in the dataset directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			root := orDefault(dataDir, cfg.DataDir)
			entries, err := dataset.Manifest(root, nil)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			counts := make([]int, classes.NumClasses)
			sizes := make([]uint64, classes.NumClasses)
			for _, e := range entries {
				counts[e.Label]++
				if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(e.Path))); err == nil {
					sizes[e.Label] += uint64(info.Size())
				}
			}
			printTitle(fmt.Sprintf("Dataset %q", root))
			t := newTable([]string{"class", "images", "size", "share"}, lipgloss.Left, lipgloss.Right)
			var totalSize uint64
			for _, l := range classes.All() {
				share := 0.0
				if len(entries) > 0 {
					share = float64(counts[l]) / float64(len(entries))
				}
				t.Add(false, l.String(), humanize.Comma(int64(counts[l])), humanize.Bytes(sizes[l]), percent(share))
				totalSize += sizes[l]
			}
			t.Add(true, "total", humanize.Comma(int64(len(entries))), humanize.Bytes(totalSize), percent(1))
			fmt.Println(t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "", "Dataset root. Defaults to data_dir of the configuration.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the manifest as JSON.")
	return cmd
}
