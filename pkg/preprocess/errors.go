// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package preprocess

import "fmt"

// DecodeError is returned when an image source holds no valid image.
type DecodeError struct {
	// Source describes the image source, e.g. a file path or "data URI".
	Source string
	Err    error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding image from %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedFormatError is returned when an image source cannot be interpreted as an RGB image:
// an unknown source type, a data URI with a non-image media type or an empty image.
type UnsupportedFormatError struct {
	Source string
	Reason string
}

// Error implements error.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format from %s: %s", e.Source, e.Reason)
}

// BatchError reports which element of a batch failed to preprocess.
type BatchError struct {
	Index int
	Err   error
}

// Error implements error.
func (e *BatchError) Error() string {
	return fmt.Sprintf("preprocessing image #%d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying cause, usually a *DecodeError or *UnsupportedFormatError.
func (e *BatchError) Unwrap() error { return e.Err }
