// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package hyperparams

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Names of the tunable fields, as used in Domain.Field and Violation.Field.
const (
	FieldFilters         = "convLayers.filters"
	FieldKernelSize      = "convLayers.kernelSize"
	FieldActivation      = "convLayers.activation"
	FieldDenseUnits      = "denseUnits"
	FieldDropoutRate     = "dropoutRate"
	FieldLearningRate    = "learningRate"
	FieldBatchSize       = "batchSize"
	FieldEpochs          = "epochs"
	FieldValidationSplit = "validationSplit"
)

// Range is a continuous domain [Min, Max] with an optional Step: if Step > 0 only values
// Min + k*Step are valid.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`

	// ExclusiveMax excludes Max from the domain.
	ExclusiveMax bool `json:"exclusiveMax,omitempty"`
}

// stepTolerance is the tolerance, in units of Step, when checking that a value falls on a step.
const stepTolerance = 1e-6

// Contains returns whether v is in the range and, if Step is set, on one of its steps.
func (r Range) Contains(v float64) bool {
	// Stepped ranges accept values within the step tolerance of either end, so that on-step
	// values computed in floating point (e.g. 7*0.1) are not rejected at the boundaries.
	slack := 0.0
	if r.Step > 0 {
		slack = stepTolerance * r.Step
	}
	if math.IsNaN(v) || v < r.Min-slack {
		return false
	}
	if v > r.Max+slack || (r.ExclusiveMax && v >= r.Max-slack) {
		return false
	}
	if r.Step <= 0 {
		return true
	}
	steps := (v - r.Min) / r.Step
	return math.Abs(steps-math.Round(steps)) <= stepTolerance
}

// String implements fmt.Stringer.
func (r Range) String() string {
	closing := "]"
	if r.ExclusiveMax {
		closing = ")"
	}
	if r.Step > 0 {
		return fmt.Sprintf("[%g, %g%s step %g", r.Min, r.Max, closing, r.Step)
	}
	return fmt.Sprintf("[%g, %g%s", r.Min, r.Max, closing)
}

// Domains of each field.
var (
	FiltersRange         = Range{Min: 16, Max: 256, Step: 16}
	KernelSizeOptions    = []int{2, 3, 5}
	ActivationOptions    = []string{"relu", "elu", "selu", "tanh"}
	DenseUnitsRange      = Range{Min: 128, Max: 1024, Step: 64}
	DropoutRateRange     = Range{Min: 0.1, Max: 0.7, Step: 0.1}
	LearningRateRange    = Range{Min: 0.0001, Max: 0.01, Step: 0.0001}
	BatchSizeOptions     = []int{16, 32, 64, 128}
	EpochsRange          = Range{Min: 5, Max: 50, Step: 5}
	ValidationSplitRange = Range{Min: 0, Max: 1, ExclusiveMax: true}
)

// Domain describes the valid values of one field: either a Range or a list of Options.
type Domain struct {
	Field   string `json:"field"`
	Range   *Range `json:"range,omitempty"`
	Options []any  `json:"options,omitempty"`
}

// String implements fmt.Stringer.
func (d Domain) String() string {
	if d.Range != nil {
		return d.Range.String()
	}
	parts := make([]string, len(d.Options))
	for i, opt := range d.Options {
		parts[i] = fmt.Sprint(opt)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func rangeDomain(field string, r Range) Domain {
	return Domain{Field: field, Range: &r}
}

func optionsDomain[T any](field string, options []T) Domain {
	anyOptions := make([]any, len(options))
	for i, opt := range options {
		anyOptions[i] = opt
	}
	return Domain{Field: field, Options: anyOptions}
}

// Schema returns the domain of every tunable field.
func Schema() []Domain {
	return []Domain{
		rangeDomain(FieldFilters, FiltersRange),
		optionsDomain(FieldKernelSize, KernelSizeOptions),
		optionsDomain(FieldActivation, ActivationOptions),
		rangeDomain(FieldDenseUnits, DenseUnitsRange),
		rangeDomain(FieldDropoutRate, DropoutRateRange),
		rangeDomain(FieldLearningRate, LearningRateRange),
		optionsDomain(FieldBatchSize, BatchSizeOptions),
		rangeDomain(FieldEpochs, EpochsRange),
		rangeDomain(FieldValidationSplit, ValidationSplitRange),
	}
}

// DomainOf returns the domain of the given field.
func DomainOf(field string) (Domain, bool) {
	for _, d := range Schema() {
		if d.Field == field {
			return d, true
		}
	}
	return Domain{}, false
}

// Violation is one field value out of its domain.
type Violation struct {
	Field string
	Value any
}

// String implements fmt.Stringer.
func (v Violation) String() string {
	d, _ := DomainOf(v.baseField())
	return fmt.Sprintf("%s=%v not in %s", v.Field, v.Value, d)
}

// baseField returns the field name without an element index, e.g. "convLayers.filters".
func (v Violation) baseField() string {
	field, _, _ := strings.Cut(v.Field, "[")
	return field
}

// ValidationError is returned when a Set has values out of their domains.
type ValidationError struct {
	Violations []Violation
}

// Error implements error.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "invalid hyperparameters: " + strings.Join(parts, "; ")
}

// Has returns whether the error includes a violation of the given field. Violations of single
// elements of convLayers.filters count as violations of the field.
func (e *ValidationError) Has(field string) bool {
	return slices.ContainsFunc(e.Violations, func(v Violation) bool {
		return v.Field == field || v.baseField() == field
	})
}

// Validate returns a *ValidationError listing every field of s out of its domain, or nil if s is
// valid.
func (s Set) Validate() error {
	var violations []Violation
	check := func(ok bool, field string, value any) {
		if !ok {
			violations = append(violations, Violation{Field: field, Value: value})
		}
	}
	if len(s.ConvLayers.Filters) != NumConvBlocks {
		check(false, FieldFilters, s.ConvLayers.Filters)
	} else {
		for i, f := range s.ConvLayers.Filters {
			check(FiltersRange.Contains(float64(f)), fmt.Sprintf("%s[%d]", FieldFilters, i), f)
		}
	}
	check(slices.Contains(KernelSizeOptions, s.ConvLayers.KernelSize), FieldKernelSize, s.ConvLayers.KernelSize)
	check(slices.Contains(ActivationOptions, s.ConvLayers.Activation), FieldActivation, s.ConvLayers.Activation)
	check(DenseUnitsRange.Contains(float64(s.DenseUnits)), FieldDenseUnits, s.DenseUnits)
	check(DropoutRateRange.Contains(s.DropoutRate), FieldDropoutRate, s.DropoutRate)
	check(LearningRateRange.Contains(s.LearningRate), FieldLearningRate, s.LearningRate)
	check(slices.Contains(BatchSizeOptions, s.BatchSize), FieldBatchSize, s.BatchSize)
	check(EpochsRange.Contains(float64(s.Epochs)), FieldEpochs, s.Epochs)
	check(ValidationSplitRange.Contains(s.ValidationSplit), FieldValidationSplit, s.ValidationSplit)
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
