// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package hyperparams

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Keys of the context hyperparameters holding a Set. They are stored in the root scope, and are
// saved along with checkpoints.
const (
	ParamFilters         = "conv_filters"
	ParamKernelSize      = "conv_kernel_size"
	ParamActivation      = "conv_activation"
	ParamDenseUnits      = "dense_units"
	ParamDropoutRate     = "dropout_rate"
	ParamBatchSize       = "batch_size"
	ParamEpochs          = "num_epochs"
	ParamValidationSplit = "validation_split"
)

// ParamLearningRate is shared with the optimizers, so it is read by optimizers.Adam().FromContext.
var ParamLearningRate = optimizers.ParamLearningRate

// SetContextParams stores s as hyperparameters in the root scope of ctx.
func (s Set) SetContextParams(ctx *context.Context) {
	root := ctx.InAbsPath(context.RootScope)
	root.SetParams(map[string]any{
		ParamFilters:         append([]int(nil), s.ConvLayers.Filters...),
		ParamKernelSize:      s.ConvLayers.KernelSize,
		ParamActivation:      s.ConvLayers.Activation,
		ParamDenseUnits:      s.DenseUnits,
		ParamDropoutRate:     s.DropoutRate,
		ParamLearningRate:    s.LearningRate,
		ParamBatchSize:       s.BatchSize,
		ParamEpochs:          s.Epochs,
		ParamValidationSplit: s.ValidationSplit,
	})
}

// FromContext reads back a Set stored with SetContextParams, e.g. after loading a checkpoint.
// Missing parameters take the default values. The result is validated.
func FromContext(ctx *context.Context) (Set, error) {
	var s Set
	err := exceptions.TryCatch[error](func() {
		root := ctx.InAbsPath(context.RootScope)
		def := Default()
		s = Set{
			ConvLayers: ConvLayers{
				Filters:    context.GetParamOr(root, ParamFilters, def.ConvLayers.Filters),
				KernelSize: context.GetParamOr(root, ParamKernelSize, def.ConvLayers.KernelSize),
				Activation: context.GetParamOr(root, ParamActivation, def.ConvLayers.Activation),
			},
			DenseUnits:      context.GetParamOr(root, ParamDenseUnits, def.DenseUnits),
			DropoutRate:     context.GetParamOr(root, ParamDropoutRate, def.DropoutRate),
			LearningRate:    context.GetParamOr(root, ParamLearningRate, def.LearningRate),
			BatchSize:       context.GetParamOr(root, ParamBatchSize, def.BatchSize),
			Epochs:          context.GetParamOr(root, ParamEpochs, def.Epochs),
			ValidationSplit: context.GetParamOr(root, ParamValidationSplit, def.ValidationSplit),
		}
	})
	if err != nil {
		return Set{}, errors.WithMessage(err, "reading hyperparameters from context")
	}
	s = s.Clone()
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}
