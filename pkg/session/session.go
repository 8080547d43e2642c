// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package session ties a backend to the one model it trains and serves.
//
// A Session performs no locking: callers must not train and predict concurrently on the same
// Session.
package session

import (
	"context"

	"github.com/gomlx/gomlx/backends"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/inference"
	"github.com/vedant-zeus/eye1/pkg/model"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"github.com/vedant-zeus/eye1/pkg/training"
	"k8s.io/klog/v2"
)

// Session owns at most one model at a time.
type Session struct {
	ID      uuid.UUID
	Backend backends.Backend

	preprocessor *preprocess.Preprocessor
	model        *model.CompiledModel
}

// ErrNoBackend is returned by New when no backend is given.
var ErrNoBackend = errors.New("session requires a backend")

// New creates a session without a model.
func New(backend backends.Backend) (*Session, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	s := &Session{
		ID:           uuid.New(),
		Backend:      backend,
		preprocessor: preprocess.New(),
	}
	klog.V(1).Infof("session %s created on backend %s", s.ID, backend.Name())
	return s, nil
}

// WithPreprocessor sets the preprocessor used for training and prediction.
func (s *Session) WithPreprocessor(p *preprocess.Preprocessor) *Session {
	s.preprocessor = p
	return s
}

// Preprocessor used for training and prediction.
func (s *Session) Preprocessor() *preprocess.Preprocessor { return s.preprocessor }

// Model returns the current model, or nil if none was trained or loaded yet.
func (s *Session) Model() *model.CompiledModel { return s.model }

// Ready returns whether the session has a model ready for prediction.
func (s *Session) Ready() bool { return s.model.Ready() }

// Hyperparameters of the current model, or the defaults if there is none.
func (s *Session) Hyperparameters() hyperparams.Set {
	if s.model == nil {
		return hyperparams.Default()
	}
	return s.model.Hyperparameters()
}

// Train builds a new model from hp and trains it on ds. The session's model is replaced only if
// training succeeds; on failure the previous model is kept.
func (s *Session) Train(ctx context.Context, ds *dataset.LabeledImageSet, hp hyperparams.Set,
	opts ...training.Option) (*training.Report, error) {
	opts = append([]training.Option{training.WithPreprocessor(s.preprocessor)}, opts...)
	m, err := model.Build(s.Backend, hp)
	if err != nil {
		return nil, &training.Error{Stage: training.StageSetup, Epoch: -1, Err: err}
	}
	report, err := training.Train(ctx, m, ds, hp, opts...)
	if err != nil {
		return nil, err
	}
	s.model = m
	klog.V(1).Infof("session %s: trained new model, final accuracy %.4f", s.ID, report.FinalAccuracy)
	return report, nil
}

// Load replaces the session's model with the one saved in dir.
func (s *Session) Load(dir string) error {
	m, err := model.Load(s.Backend, dir)
	if err != nil {
		return errors.WithMessagef(err, "session %s", s.ID)
	}
	s.model = m
	return nil
}

// Save writes the current model to dir.
func (s *Session) Save(dir string) error {
	if s.model == nil {
		return errors.WithMessage(inference.ErrModelNotReady, "nothing to save")
	}
	return s.model.Save(dir)
}

// Predict classifies one image with the current model. It fails with an *inference.Error
// wrapping inference.ErrModelNotReady if there is no trained model.
func (s *Session) Predict(src preprocess.Source) ([]inference.Prediction, error) {
	return s.engine().Predict(src)
}

// PredictBatch classifies several images with the current model.
func (s *Session) PredictBatch(ctx context.Context, sources []preprocess.Source) ([][]inference.Prediction, error) {
	return s.engine().PredictBatch(ctx, sources)
}

func (s *Session) engine() *inference.Engine {
	return &inference.Engine{Model: s.model, Preprocessor: s.preprocessor}
}
