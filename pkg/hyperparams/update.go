// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package hyperparams

import (
	"slices"

	"github.com/pkg/errors"
)

// ConvLayersUpdate holds optional new values for ConvLayers. Nil fields are left unchanged.
type ConvLayersUpdate struct {
	Filters    []int   `json:"filters,omitempty"`
	KernelSize *int    `json:"kernelSize,omitempty"`
	Activation *string `json:"activation,omitempty"`
}

// Update is a partial Set: only the non-nil fields are applied by Set.Merge.
type Update struct {
	ConvLayers      *ConvLayersUpdate `json:"convLayers,omitempty"`
	DenseUnits      *int              `json:"denseUnits,omitempty"`
	DropoutRate     *float64          `json:"dropoutRate,omitempty"`
	LearningRate    *float64          `json:"learningRate,omitempty"`
	BatchSize       *int              `json:"batchSize,omitempty"`
	Epochs          *int              `json:"epochs,omitempty"`
	ValidationSplit *float64          `json:"validationSplit,omitempty"`
}

// IsEmpty returns whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return (u.ConvLayers == nil || (u.ConvLayers.Filters == nil && u.ConvLayers.KernelSize == nil &&
		u.ConvLayers.Activation == nil)) &&
		u.DenseUnits == nil && u.DropoutRate == nil && u.LearningRate == nil &&
		u.BatchSize == nil && u.Epochs == nil && u.ValidationSplit == nil
}

// Merge returns a copy of s with the update applied.
//
// The merged set is validated: if any value is out of its domain, s is returned unchanged
// along with the *ValidationError.
func (s Set) Merge(u Update) (Set, error) {
	merged := s.Clone()
	if c := u.ConvLayers; c != nil {
		if c.Filters != nil {
			merged.ConvLayers.Filters = slices.Clone(c.Filters)
		}
		setIf(&merged.ConvLayers.KernelSize, c.KernelSize)
		setIf(&merged.ConvLayers.Activation, c.Activation)
	}
	setIf(&merged.DenseUnits, u.DenseUnits)
	setIf(&merged.DropoutRate, u.DropoutRate)
	setIf(&merged.LearningRate, u.LearningRate)
	setIf(&merged.BatchSize, u.BatchSize)
	setIf(&merged.Epochs, u.Epochs)
	setIf(&merged.ValidationSplit, u.ValidationSplit)
	if err := merged.Validate(); err != nil {
		return s, errors.WithMessage(err, "merging hyperparameters update")
	}
	return merged, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Ptr returns a pointer to v. It is a convenience to build an Update.
func Ptr[T any](v T) *T {
	return &v
}
