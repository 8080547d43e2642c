// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/model"
)

// weights is a local copy of the model variables, keyed by their scope and name. The optimizer
// state is not included.
type weights map[string]*tensors.Tensor

// modelVariables returns the context scope holding the model variables.
func modelVariables(ctx *context.Context) *context.Context {
	return ctx.InAbsPath(context.RootScope + model.Scope)
}

// copyWeights copies the current value of every model variable in ctx.
func copyWeights(ctx *context.Context) (weights, error) {
	w := make(weights)
	for v := range modelVariables(ctx).IterVariablesInScope() {
		value, err := v.Value()
		if err == nil {
			value, err = value.LocalClone()
		}
		if err != nil {
			w.finalize()
			return nil, errors.WithMessagef(err, "copying variable %q", v.ScopeAndName())
		}
		w[v.ScopeAndName()] = value
	}
	return w, nil
}

// restore sets the model variables of ctx to the copied values. The variables take ownership of
// the tensors, so w is empty afterwards.
func (w weights) restore(ctx *context.Context) error {
	for v := range modelVariables(ctx).IterVariablesInScope() {
		key := v.ScopeAndName()
		value, found := w[key]
		if !found {
			return errors.Errorf("no saved value for variable %q", key)
		}
		if err := v.SetValue(value); err != nil {
			return errors.WithMessagef(err, "restoring variable %q", key)
		}
		delete(w, key)
	}
	return nil
}

// finalize frees the tensors still held by w. It can be called on a nil weights.
func (w weights) finalize() {
	for key, t := range w {
		_ = t.FinalizeAll()
		delete(w, key)
	}
}

// learningRateVar returns the variable the optimizer reads the learning rate from. It is created
// with the first training graph, and is nil before that.
func learningRateVar(ctx *context.Context) *context.Variable {
	return ctx.InAbsPath(context.RootScope + optimizers.Scope).GetVariable(optimizers.ParamLearningRate)
}

// setLearningRate changes the learning rate used by the following training steps.
//
// The optimizer reads the learning_rate hyperparameter only once, when the training graph is
// built, so the variable is updated instead. The hyperparameters saved with the model keep the
// configured learning rate.
func setLearningRate(ctx *context.Context, lr float64) error {
	v := learningRateVar(ctx)
	if v == nil {
		return errors.New("learning rate variable not created yet")
	}
	var value *tensors.Tensor
	switch dtype := v.Shape().DType; dtype {
	case dtypes.Float32:
		value = tensors.FromScalar(float32(lr))
	case dtypes.Float64:
		value = tensors.FromScalar(lr)
	default:
		return errors.Errorf("learning rate variable has unsupported dtype %s", dtype)
	}
	return errors.WithMessage(v.SetValue(value), "setting learning rate")
}

// plateau reduces the learning rate when the validation loss stops improving.
type plateau struct {
	factor, minLR float64
	patience      int

	best      float64
	sinceBest int
}

// Default values of WithLearningRatePlateau.
const (
	DefaultPlateauFactor   = 0.2
	DefaultPlateauPatience = 3
	DefaultMinLearningRate = 1e-5
)

func (p *plateau) validate() error {
	if !(p.factor > 0 && p.factor < 1) {
		return errors.Errorf("learning rate plateau factor must be in (0, 1), got %g", p.factor)
	}
	if p.patience <= 0 {
		return errors.Errorf("learning rate plateau patience must be positive, got %d", p.patience)
	}
	if p.minLR < 0 {
		return errors.Errorf("minimum learning rate can't be negative, got %g", p.minLR)
	}
	return nil
}

// update records the validation loss of one more epoch, trained at learning rate lr. It returns
// the learning rate for the next epoch, and whether it changed.
func (p *plateau) update(loss, lr float64) (float64, bool) {
	if loss < p.best {
		p.best = loss
		p.sinceBest = 0
		return lr, false
	}
	p.sinceBest++
	if p.sinceBest < p.patience || lr <= p.minLR {
		return lr, false
	}
	p.sinceBest = 0
	return max(lr*p.factor, p.minLR), true
}
