// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// eyescan trains and serves the eye disease classifier.
//
// Run "eyescan help" for the list of commands.
package main

import (
	"flag"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/internal/config"
	"k8s.io/klog/v2"
)

var (
	flagConfig  string
	flagBackend string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "eyescan",
		Short: "Train and run an eye disease classifier",
		Long: "eyescan classifies eye images into Bulging_Eyes, Cataracts, Crossed_Eyes, Glaucoma and Uveitis.\n" +
			"Configuration is read from --config (YAML) and EYESCAN_* environment variables; flags take precedence.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML configuration file.")
	must.M(root.MarkPersistentFlagFilename("config", "yaml", "yml"))
	root.PersistentFlags().StringVar(&flagBackend, "backend", "",
		`GoMLX backend configuration, e.g. "xla:cpu" or "go". Defaults to $GOMLX_BACKEND or the configuration file.`)

	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)

	root.AddCommand(
		newTrainCmd(),
		newPredictCmd(),
		newServeCmd(),
		newDatasetCmd(),
		newInspectCmd(),
		newHyperparamsCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig reads the configuration and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	return cfg, nil
}

// newBackend creates the backend selected by cfg, or the default one.
func newBackend(cfg config.Config) (backend backends.Backend, err error) {
	if cfg.Backend != "" {
		if err = os.Setenv(backends.ConfigEnvVar, cfg.Backend); err != nil {
			return nil, errors.Wrap(err, "selecting backend")
		}
	}
	err = exceptions.TryCatch[error](func() { backend = backends.MustNew() })
	if err != nil {
		return nil, errors.WithMessage(err, "creating backend")
	}
	klog.V(1).Infof("backend: %s", backend.Description())
	return backend, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
