// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package classes holds the catalogue of eye conditions the classifier predicts.
//
// The order of the catalogue is the class-index mapping used both when labeling training
// examples and when naming the model outputs.
package classes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// Label is the index of a class in the catalogue.
type Label int

const (
	BulgingEyes Label = iota
	Cataracts
	CrossedEyes
	Glaucoma
	Uveitis
)

// NumClasses is the size of the catalogue, and the width of the model output.
const NumClasses = 5

var names = [NumClasses]string{
	"Bulging_Eyes",
	"Cataracts",
	"Crossed_Eyes",
	"Glaucoma",
	"Uveitis",
}

// All returns the catalogue in canonical order.
func All() []Label {
	all := make([]Label, NumClasses)
	for i := range all {
		all[i] = Label(i)
	}
	return all
}

// Names returns a copy of the class names in canonical order. These are also the dataset
// directory names.
func Names() []string {
	return slices.Clone(names[:])
}

// IsValid returns whether l is an index in the catalogue.
func (l Label) IsValid() bool {
	return l >= 0 && l < NumClasses
}

// String implements fmt.Stringer.
func (l Label) String() string {
	if !l.IsValid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return names[l]
}

// FromName returns the Label with the given name. Matching ignores case.
func FromName(name string) (Label, error) {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return Label(i), nil
		}
	}
	return -1, errors.Errorf("unknown class %q, valid classes are %q", name, names)
}

// MarshalText implements encoding.TextMarshaler, so labels are serialized by name.
func (l Label) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, errors.Errorf("invalid class index %d", int(l))
	}
	return []byte(names[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(text []byte) error {
	v, err := FromName(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
