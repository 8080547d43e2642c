// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the eyescan configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then environment variables
// prefixed with EYESCAN_, where "__" separates nesting levels (for example
// EYESCAN_HYPERPARAMETERS__DENSEUNITS=256 or EYESCAN_SERVER__ADDR=:9090). Command-line flags
// are applied by the caller on top of the result.
package config

import (
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"github.com/vedant-zeus/eye1/pkg/training"
	"k8s.io/klog/v2"
)

// EnvPrefix of the environment variables read by Load.
const EnvPrefix = "EYESCAN_"

// Config holds every configurable value of eyescan.
type Config struct {
	// Backend is the gomlx backend configuration, e.g. "xla:cpu" or "go". Empty selects the
	// default backend.
	Backend string `koanf:"backend"`

	// DataDir is the root of the labeled image directories.
	DataDir string `koanf:"data_dir"`

	// ModelDir is where models are saved to and loaded from.
	ModelDir string `koanf:"model_dir"`

	Server          ServerConfig     `koanf:"server"`
	Preprocess      PreprocessConfig `koanf:"preprocess"`
	Training        TrainingConfig   `koanf:"training"`
	Hyperparameters hyperparams.Set  `koanf:"hyperparameters"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type PreprocessConfig struct {
	// Filter is the resampling filter name, see preprocess.FilterFromName.
	Filter string `koanf:"filter"`

	// Parallelism is the number of images decoded at once. 0 uses the number of CPUs.
	Parallelism int `koanf:"parallelism"`
}

type TrainingConfig struct {
	// Patience for early stopping on the validation loss. 0 disables it.
	Patience int `koanf:"patience"`

	// LRPatience is the number of epochs without improvement of the validation loss before the
	// learning rate is multiplied by LRFactor, down to MinLearningRate. 0 disables it.
	LRPatience      int     `koanf:"lr_patience"`
	LRFactor        float64 `koanf:"lr_factor"`
	MinLearningRate float64 `koanf:"min_learning_rate"`
}

// Options returns the training options for early stopping and the learning rate plateau.
func (t TrainingConfig) Options() []training.Option {
	opts := []training.Option{training.WithEarlyStopping(t.Patience)}
	if t.LRPatience > 0 {
		opts = append(opts, training.WithLearningRatePlateau(t.LRFactor, t.LRPatience, t.MinLearningRate))
	}
	return opts
}

func (t TrainingConfig) validate() error {
	switch {
	case t.Patience < 0:
		return errors.Errorf("training.patience can't be negative, got %d", t.Patience)
	case t.LRPatience < 0:
		return errors.Errorf("training.lr_patience can't be negative, got %d", t.LRPatience)
	case t.LRPatience > 0 && !(t.LRFactor > 0 && t.LRFactor < 1):
		return errors.Errorf("training.lr_factor must be in (0, 1), got %g", t.LRFactor)
	case t.MinLearningRate < 0:
		return errors.Errorf("training.min_learning_rate can't be negative, got %g", t.MinLearningRate)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:         "dataset",
		ModelDir:        "model",
		Server:          ServerConfig{Addr: ":8080"},
		Preprocess:      PreprocessConfig{Filter: "nearest"},
		Training: TrainingConfig{
			LRFactor:        training.DefaultPlateauFactor,
			MinLearningRate: training.DefaultMinLearningRate,
		},
		Hyperparameters: hyperparams.Default(),
	}
}

// Load returns the default configuration, overridden by the YAML file at path (if path is not
// empty) and by the EYESCAN_ environment variables.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "loading default configuration")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "loading configuration file %q", path)
		}
		klog.V(1).Infof("configuration loaded from %q", path)
	}

	// Environment variables are upper case: map them back to the known keys. Values of list keys
	// are comma separated.
	known := make(map[string]string)
	lists := make(map[string]bool)
	for _, key := range k.Keys() {
		known[strings.ToLower(key)] = key
		if v := k.Get(key); v != nil && reflect.ValueOf(v).Kind() == reflect.Slice {
			lists[key] = true
		}
	}
	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(name, value string) (string, any) {
		return envKeyValue(name, value, known, lists)
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "loading configuration from the environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKeyValue converts an EYESCAN_ environment variable to its configuration key and value.
// "__" separates nested keys.
func envKeyValue(name, value string, known map[string]string, lists map[string]bool) (string, any) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
	if original, found := known[key]; found {
		key = original
	}
	if !lists[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Validate checks the hyperparameters, the preprocessing options and the training options.
func (c Config) Validate() error {
	if _, err := preprocess.FilterFromName(c.Preprocess.Filter); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	if err := c.Hyperparameters.Validate(); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	return errors.WithMessage(c.Training.validate(), "invalid configuration")
}

// Preprocessor returns a preprocessor with the configured filter and parallelism.
func (c Config) Preprocessor() (*preprocess.Preprocessor, error) {
	filter, err := preprocess.FilterFromName(c.Preprocess.Filter)
	if err != nil {
		return nil, err
	}
	p := preprocess.New().WithFilter(filter)
	if c.Preprocess.Parallelism != 0 {
		p.WithParallelism(c.Preprocess.Parallelism)
	}
	return p, nil
}

// YAML returns the configuration in the format read by Load.
func (c Config) YAML() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(c, "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	out, err := k.Marshal(yaml.Parser())
	return out, errors.Wrap(err, "marshaling configuration")
}
