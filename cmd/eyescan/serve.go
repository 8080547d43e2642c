// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vedant-zeus/eye1/internal/api"
	"github.com/vedant-zeus/eye1/pkg/session"
	"k8s.io/klog/v2"
)

func newServeCmd() *cobra.Command {
	var addr, modelDir, dataDir string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve training and inference over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !debug {
				gin.SetMode(gin.ReleaseMode)
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
			if modelDir != "" {
				if err := sess.Load(modelDir); err != nil {
					return err
				}
				klog.Infof("loaded model from %q", modelDir)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			server := api.New(sess, api.Options{
				DataDir:  orDefault(dataDir, cfg.DataDir),
				Training: cfg.Training.Options(),
			})
			return server.Run(ctx, orDefault(addr, cfg.Server.Addr))
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "Address to listen on. Defaults to server.addr of the configuration.")
	flags.StringVar(&modelDir, "model", "", "Saved model to load at startup. Without it, the model must be trained first.")
	flags.StringVar(&dataDir, "data", "", "Dataset root. Defaults to data_dir of the configuration.")
	flags.BoolVar(&debug, "debug", false, "Run gin in debug mode.")
	return cmd
}
