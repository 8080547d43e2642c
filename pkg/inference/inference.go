// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package inference classifies images with a trained model.CompiledModel.
package inference

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/model"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"k8s.io/klog/v2"
)

// ErrModelNotReady is returned (wrapped in an *Error) when the model was never trained nor
// loaded.
var ErrModelNotReady = errors.New("model is not ready: train or load it first")

// Error is returned by Predict for any failure.
type Error struct {
	// Source describes the image that failed, if any.
	Source string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("inference on %s failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Prediction is the confidence of one class, rounded to 4 decimal places.
type Prediction struct {
	Disease    classes.Label `json:"disease"`
	Confidence float64       `json:"confidence"`
}

// String implements fmt.Stringer.
func (p Prediction) String() string {
	return fmt.Sprintf("%s: %.2f%%", p.Disease, 100*p.Confidence)
}

// ConfidenceDecimals is the number of decimal places kept in Prediction.Confidence.
const ConfidenceDecimals = 4

func round(v float32) float64 {
	scale := math.Pow10(ConfidenceDecimals)
	return math.Round(float64(v)*scale) / scale
}

// Rank converts a probability vector, in catalogue order, to predictions sorted by decreasing
// confidence. Ties keep the catalogue order.
func Rank(probs []float32) ([]Prediction, error) {
	if len(probs) != classes.NumClasses {
		return nil, errors.Errorf("got %d probabilities, expected one per class (%d)", len(probs), classes.NumClasses)
	}
	preds := make([]Prediction, len(probs))
	for i, p := range probs {
		preds[i] = Prediction{Disease: classes.Label(i), Confidence: round(p)}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Confidence > preds[j].Confidence })
	return preds, nil
}

// Engine runs a model on images transformed by its Preprocessor.
type Engine struct {
	Model        *model.CompiledModel
	Preprocessor *preprocess.Preprocessor
}

// New returns an Engine for m with the default preprocessor.
func New(m *model.CompiledModel) *Engine {
	return &Engine{Model: m, Preprocessor: preprocess.New()}
}

// Predict classifies one image, given as any preprocess.Source, and returns one prediction per
// class, with the most likely first.
func Predict(m *model.CompiledModel, src preprocess.Source) ([]Prediction, error) {
	return New(m).Predict(src)
}

func (e *Engine) checkReady() error {
	if !e.Model.Ready() {
		return &Error{Err: ErrModelNotReady}
	}
	return nil
}

func (e *Engine) preprocessor() *preprocess.Preprocessor {
	if e.Preprocessor == nil {
		return preprocess.New()
	}
	return e.Preprocessor
}

// Predict classifies one image. See the package function Predict.
func (e *Engine) Predict(src preprocess.Source) ([]Prediction, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	input, err := e.preprocessor().Tensor(src)
	if err != nil {
		return nil, &Error{Source: preprocess.Describe(src), Err: err}
	}
	results, err := e.run(input)
	if err != nil {
		return nil, &Error{Source: preprocess.Describe(src), Err: err}
	}
	return results[0], nil
}

// PredictBatch classifies several images in one forward pass. The result at position i is the
// ranking of sources[i].
func (e *Engine) PredictBatch(ctx context.Context, sources []preprocess.Source) ([][]Prediction, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	input, err := e.preprocessor().Batch(ctx, sources)
	if err != nil {
		var batchErr *preprocess.BatchError
		if errors.As(err, &batchErr) && batchErr.Index < len(sources) {
			return nil, &Error{Source: preprocess.Describe(sources[batchErr.Index]), Err: err}
		}
		return nil, &Error{Err: err}
	}
	results, err := e.run(input)
	if err != nil {
		return nil, &Error{Err: err}
	}
	return results, nil
}

// run executes the model on input and frees it.
func (e *Engine) run(input *tensors.Tensor) ([][]Prediction, error) {
	defer func() {
		if err := input.FinalizeAll(); err != nil {
			klog.Warningf("failed to free model input: %+v", err)
		}
	}()
	probs, err := e.Model.PredictProbabilities(input)
	if err != nil {
		return nil, err
	}
	results := make([][]Prediction, len(probs))
	for i, row := range probs {
		if results[i], err = Rank(row); err != nil {
			return nil, err
		}
	}
	return results, nil
}
