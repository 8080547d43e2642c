// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package model builds the convolutional classifier from a hyperparams.Set, and holds its
// weights.
//
// A CompiledModel is owned by one session at a time: it is updated in place by training and
// read by inference, and it performs no internal locking.
package model

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"k8s.io/klog/v2"
)

// InvalidTopologyError is returned by Build when the hyperparameters can't describe a valid
// network.
type InvalidTopologyError struct {
	Reason string
	Err    error
}

// Error implements error.
func (e *InvalidTopologyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid model topology: %s: %v", e.Reason, e.Err)
	}
	return "invalid model topology: " + e.Reason
}

// Unwrap returns the underlying cause, usually a *hyperparams.ValidationError.
func (e *InvalidTopologyError) Unwrap() error { return e.Err }

// CompiledModel holds the model variables (in a context.Context), the hyperparameters used to
// build it and the optimizer bound to it.
type CompiledModel struct {
	backend   backends.Backend
	ctx       *context.Context
	hparams   hyperparams.Set
	optimizer optimizers.Interface

	// inferenceExec is compiled on its first use, for each batch size.
	inferenceExec *context.Exec

	// checkpoint is set once the model is saved to or loaded from a directory.
	checkpoint *checkpoints.Handler

	ready bool
}

// Build creates a new model, with randomly initialized weights, for the given hyperparameters.
//
// The returned model is not ready for inference until it is trained (see MarkReady).
func Build(backend backends.Backend, hp hyperparams.Set) (*CompiledModel, error) {
	if backend == nil {
		return nil, errors.New("model.Build requires a backend")
	}
	if err := hp.Validate(); err != nil {
		return nil, &InvalidTopologyError{Reason: "hyperparameters out of domain", Err: err}
	}
	if err := checkSpatialSize(preprocess.ImageSize, len(hp.ConvLayers.Filters)); err != nil {
		return nil, err
	}
	ctx := context.New()
	hp.SetContextParams(ctx)
	m, err := newCompiledModel(backend, ctx, hp)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("built model: %s", hp)
	return m, nil
}

// checkSpatialSize checks that numPools halvings of size never collapse a spatial dimension:
// the input to every pooling must be at least 2.
func checkSpatialSize(size, numPools int) error {
	for i := range numPools {
		if size < 2 {
			return &InvalidTopologyError{Reason: fmt.Sprintf(
				"spatial size %d before pooling #%d is too small", size, i)}
		}
		size /= 2
	}
	return nil
}

func newCompiledModel(backend backends.Backend, ctx *context.Context, hp hyperparams.Set) (*CompiledModel, error) {
	m := &CompiledModel{
		backend: backend,
		ctx:     ctx,
		hparams: hp.Clone(),
	}
	err := exceptions.TryCatch[error](func() {
		m.optimizer = optimizers.Adam().FromContext(ctx).Done()
	})
	if err != nil {
		return nil, errors.WithMessage(err, "creating optimizer")
	}
	m.inferenceExec, err = context.NewExec(backend, m.GraphContext(), Probabilities)
	if err != nil {
		return nil, errors.WithMessage(err, "creating inference executor")
	}
	return m, nil
}

// Backend used by the model.
func (m *CompiledModel) Backend() backends.Backend { return m.backend }

// Context holding the model variables and hyperparameters.
func (m *CompiledModel) Context() *context.Context { return m.ctx }

// GraphContext returns the context used to build the training and inference graphs: variables
// are created if missing and reused otherwise, so both graphs share the same weights.
func (m *CompiledModel) GraphContext() *context.Context { return m.ctx.Checked(false) }

// Hyperparameters used to build the model.
func (m *CompiledModel) Hyperparameters() hyperparams.Set { return m.hparams.Clone() }

// Optimizer bound to the model: Adam at the configured learning rate.
func (m *CompiledModel) Optimizer() optimizers.Interface { return m.optimizer }

// Ready returns whether the model was trained or loaded, and can be used for inference.
func (m *CompiledModel) Ready() bool { return m != nil && m.ready }

// MarkReady marks the model as ready for inference. It is called after a successful training.
func (m *CompiledModel) MarkReady() { m.ready = true }

// Probabilities runs the model over images, shaped [batchSize, 224, 224, 3], and returns the
// class probabilities, shaped [batchSize, classes.NumClasses]. Dropout is disabled.
//
// It works on models that are not ready, in which case the results are meaningless. The caller
// owns the returned tensor.
func (m *CompiledModel) Probabilities(images *tensors.Tensor) (*tensors.Tensor, error) {
	dims := images.Shape().Dimensions
	if len(dims) != 4 || dims[1] != preprocess.ImageSize || dims[2] != preprocess.ImageSize ||
		dims[3] != preprocess.NumChannels {
		return nil, errors.Errorf("model input must be shaped [batchSize, %d, %d, %d], got %s",
			preprocess.ImageSize, preprocess.ImageSize, preprocess.NumChannels, images.Shape())
	}
	probs, err := m.inferenceExec.Exec1(images)
	if err != nil {
		return nil, errors.WithMessage(err, "running model")
	}
	if got := probs.Shape().Dimensions; len(got) != 2 || got[0] != dims[0] || got[1] != classes.NumClasses {
		shape := probs.Shape()
		_ = probs.FinalizeAll()
		return nil, errors.Errorf("model output has shape %s, expected [%d, %d]", shape, dims[0], classes.NumClasses)
	}
	return probs, nil
}

// PredictProbabilities is a convenience wrapper around Probabilities for a single batch of
// images: it returns the probabilities as Go values and frees the output tensor.
func (m *CompiledModel) PredictProbabilities(images *tensors.Tensor) ([][]float32, error) {
	probs, err := m.Probabilities(images)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := probs.FinalizeAll(); err != nil {
			klog.Warningf("failed to free model output: %+v", err)
		}
	}()
	flat := tensors.MustCopyFlatData[float32](probs)
	batchSize := probs.Shape().Dimensions[0]
	rows := make([][]float32, batchSize)
	for i := range rows {
		rows[i] = flat[i*classes.NumClasses : (i+1)*classes.NumClasses]
	}
	return rows, nil
}
