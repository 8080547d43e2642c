// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
)

func writeFile(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "eyescan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
	assert.Equal(t, "nearest", cfg.Preprocess.Filter)
	assert.True(t, hyperparams.Default().Equal(cfg.Hyperparameters))
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
data_dir: /data/eyes
server:
  addr: ":9000"
preprocess:
  filter: lanczos
  parallelism: 2
hyperparameters:
  convLayers:
    filters: [16, 32, 48]
    activation: elu
  denseUnits: 256
  learningRate: 0.0005
`)
	t.Setenv("EYESCAN_SERVER__ADDR", ":9090")
	t.Setenv("EYESCAN_HYPERPARAMETERS__EPOCHS", "20")
	t.Setenv("EYESCAN_TRAINING__PATIENCE", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/eyes", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Training.Patience)
	assert.Equal(t, "lanczos", cfg.Preprocess.Filter)
	assert.Equal(t, 2, cfg.Preprocess.Parallelism)

	hp := cfg.Hyperparameters
	assert.Equal(t, []int{16, 32, 48}, hp.ConvLayers.Filters)
	assert.Equal(t, "elu", hp.ConvLayers.Activation)
	assert.Equal(t, 3, hp.ConvLayers.KernelSize, "unset values keep their default")
	assert.Equal(t, 256, hp.DenseUnits)
	assert.InDelta(t, 0.0005, hp.LearningRate, 1e-12)
	assert.Equal(t, 20, hp.Epochs)

	p, err := cfg.Preprocessor()
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestLoadListFromEnv(t *testing.T) {
	t.Setenv("EYESCAN_HYPERPARAMETERS__CONVLAYERS__FILTERS", "64, 128,256")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []int{64, 128, 256}, cfg.Hyperparameters.ConvLayers.Filters)

	t.Setenv("EYESCAN_HYPERPARAMETERS__CONVLAYERS__FILTERS", "64,128")
	_, err = Load("")
	var validationErr *hyperparams.ValidationError
	require.True(t, errors.As(err, &validationErr), "got %v", err)
	assert.True(t, validationErr.Has(hyperparams.FieldFilters))
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "hyperparameters:\n  convLayers:\n    kernelSize: 4\n"))
	var validationErr *hyperparams.ValidationError
	require.True(t, errors.As(err, &validationErr), "got %v", err)
	assert.True(t, validationErr.Has(hyperparams.FieldKernelSize))

	_, err = Load(writeFile(t, "preprocess:\n  filter: blurry\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "training:\n  lr_patience: 2\n  lr_factor: 1.5\n"))
	require.ErrorContains(t, err, "lr_factor")
	_, err = Load(writeFile(t, "training:\n  patience: -1\n"))
	require.ErrorContains(t, err, "patience")
}

func TestTrainingOptions(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, cfg.Training.LRFactor, 1e-12)
	assert.InDelta(t, 1e-5, cfg.Training.MinLearningRate, 1e-12)
	assert.Len(t, cfg.Training.Options(), 1, "learning rate plateau is off by default")

	t.Setenv("EYESCAN_TRAINING__LR_PATIENCE", "3")
	t.Setenv("EYESCAN_TRAINING__PATIENCE", "5")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Training.LRPatience)
	assert.Equal(t, 5, cfg.Training.Patience)
	assert.Len(t, cfg.Training.Options(), 2)
}

func TestYAML(t *testing.T) {
	cfg := Default()
	cfg.ModelDir = "/models/latest"
	cfg.Hyperparameters.BatchSize = 64
	cfg.Hyperparameters.ConvLayers.Filters = []int{64, 128, 256}
	out, err := cfg.YAML()
	require.NoError(t, err)

	loaded, err := Load(writeFile(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg.ModelDir, loaded.ModelDir)
	assert.True(t, cfg.Hyperparameters.Equal(loaded.Hyperparameters), "got %s", loaded.Hyperparameters)
}
