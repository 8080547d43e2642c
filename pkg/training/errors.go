// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package training

import "fmt"

// Stage of a training run, reported in Error.
type Stage string

const (
	StageSetup      Stage = "setup"
	StagePreprocess Stage = "preprocess"
	StageSplit      Stage = "split"
	StageFit        Stage = "fit"
	StageEvaluate   Stage = "evaluate"
	StageSave       Stage = "save"
)

// Error aborts a training run. Epoch is the index of the epoch that failed, or -1 when the failure
// happened outside the epoch loop.
type Error struct {
	Stage Stage
	Epoch int
	Err   error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Epoch >= 0 {
		return fmt.Sprintf("training failed at %s (epoch %d): %v", e.Stage, e.Epoch, e.Err)
	}
	return fmt.Sprintf("training failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *Error) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Epoch: -1, Err: err}
}
