// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package modeltest holds test utilities for packages that build, train or run models.
package modeltest

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/stretchr/testify/require"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"k8s.io/klog/v2"
)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// Backend returns a backend shared by the tests. It uses the pure Go backend ("go"), unless
// another one is selected with the GOMLX_BACKEND environment variable.
func Backend() backends.Backend {
	backendOnce.Do(func() {
		if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
			backends.DefaultConfig = "go"
		}
		cachedBackend = backends.MustNew()
		klog.V(1).Infof("test backend: %s", cachedBackend.Name())
	})
	return cachedBackend
}

// SmallHyperparameters returns the smallest valid hyperparameters, to keep tests fast.
func SmallHyperparameters() hyperparams.Set {
	return hyperparams.Set{
		ConvLayers: hyperparams.ConvLayers{
			Filters:    []int{16, 16, 16},
			KernelSize: 3,
			Activation: "relu",
		},
		DenseUnits:      128,
		DropoutRate:     0.1,
		LearningRate:    0.001,
		BatchSize:       16,
		Epochs:          5,
		ValidationSplit: 0.2,
	}
}

// ClassColor returns a color distinct for each class, used to draw synthetic images.
func ClassColor(label classes.Label) color.NRGBA {
	palette := [classes.NumClasses]color.NRGBA{
		{R: 230, G: 30, B: 30, A: 255},
		{R: 30, G: 230, B: 30, A: 255},
		{R: 30, G: 30, B: 230, A: 255},
		{R: 230, G: 230, B: 30, A: 255},
		{R: 30, G: 230, B: 230, A: 255},
	}
	return palette[label]
}

// SyntheticImage draws an image of the given size: a background with the class color and a
// diagonal stripe that moves with variant.
func SyntheticImage(label classes.Label, variant, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	c := ClassColor(label)
	for y := range height {
		for x := range width {
			if (x+y+variant*7)%23 < 3 {
				img.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.Set(x, y, c)
			}
		}
	}
	return img
}

// WriteDataset writes perClass synthetic PNG images for each class under
// root/<ClassName>/, and returns root.
func WriteDataset(t testing.TB, root string, perClass int) string {
	for _, label := range classes.All() {
		dir := filepath.Join(root, label.String())
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := range perClass {
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%03d.png", i)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, SyntheticImage(label, i, 64, 48)))
			require.NoError(t, f.Close())
		}
	}
	return root
}
