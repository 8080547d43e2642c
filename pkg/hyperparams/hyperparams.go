// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package hyperparams defines the tunable knobs of the classifier: their defaults and the domain
// of valid values of each one.
//
// A Set is a value: methods that change it return a modified copy. Values out of their domain
// are rejected, never clamped.
package hyperparams

import (
	"fmt"
	"slices"
	"strings"
)

// NumConvBlocks is the number of convolutional blocks of the model, and the required length of
// ConvLayers.Filters.
const NumConvBlocks = 3

// ConvLayers configures the convolutional blocks. All blocks share the kernel size and
// activation, each one has its own number of filters.
type ConvLayers struct {
	Filters    []int  `json:"filters" koanf:"filters"`
	KernelSize int    `json:"kernelSize" koanf:"kernelSize"`
	Activation string `json:"activation" koanf:"activation"`
}

// Set is a complete set of hyperparameters for building and training a model.
type Set struct {
	ConvLayers      ConvLayers `json:"convLayers" koanf:"convLayers"`
	DenseUnits      int        `json:"denseUnits" koanf:"denseUnits"`
	DropoutRate     float64    `json:"dropoutRate" koanf:"dropoutRate"`
	LearningRate    float64    `json:"learningRate" koanf:"learningRate"`
	BatchSize       int        `json:"batchSize" koanf:"batchSize"`
	Epochs          int        `json:"epochs" koanf:"epochs"`
	ValidationSplit float64    `json:"validationSplit" koanf:"validationSplit"`
}

// Default returns the default hyperparameters.
func Default() Set {
	return Set{
		ConvLayers: ConvLayers{
			Filters:    []int{32, 64, 128},
			KernelSize: 3,
			Activation: "relu",
		},
		DenseUnits:      512,
		DropoutRate:     0.5,
		LearningRate:    0.001,
		BatchSize:       32,
		Epochs:          10,
		ValidationSplit: 0.2,
	}
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	s.ConvLayers.Filters = slices.Clone(s.ConvLayers.Filters)
	return s
}

// Equal returns whether s and other hold the same values.
func (s Set) Equal(other Set) bool {
	return slices.Equal(s.ConvLayers.Filters, other.ConvLayers.Filters) &&
		s.ConvLayers.KernelSize == other.ConvLayers.KernelSize &&
		s.ConvLayers.Activation == other.ConvLayers.Activation &&
		s.DenseUnits == other.DenseUnits &&
		s.DropoutRate == other.DropoutRate &&
		s.LearningRate == other.LearningRate &&
		s.BatchSize == other.BatchSize &&
		s.Epochs == other.Epochs &&
		s.ValidationSplit == other.ValidationSplit
}

// String implements fmt.Stringer.
func (s Set) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "filters=%v kernel=%d activation=%s", s.ConvLayers.Filters, s.ConvLayers.KernelSize,
		s.ConvLayers.Activation)
	fmt.Fprintf(&sb, " dense=%d dropout=%g lr=%g batch=%d epochs=%d validation=%g",
		s.DenseUnits, s.DropoutRate, s.LearningRate, s.BatchSize, s.Epochs, s.ValidationSplit)
	return sb.String()
}
