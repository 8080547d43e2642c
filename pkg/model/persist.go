// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"k8s.io/klog/v2"
)

// Scope of the model variables, under the root of the context.
const Scope = "model"

// ErrDirNotEmpty is returned by Save when the target directory already has files.
var ErrDirNotEmpty = errors.New("directory is not empty")

// Save writes the model (hyperparameters, weights and optimizer state) as a checkpoint in dir.
//
// The first save goes to a new or empty directory: saving into a directory with other files
// fails with ErrDirNotEmpty, since the checkpoint handler would otherwise load their values into
// the model. Later saves of the same model go to the same directory, keeping only the latest
// checkpoint.
func (m *CompiledModel) Save(dir string) error {
	if m.checkpoint == nil {
		entries, err := os.ReadDir(dir)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "checking model directory %q", dir)
		}
		if len(entries) > 0 {
			return errors.WithMessagef(ErrDirNotEmpty, "saving model to %q", dir)
		}
		m.checkpoint, err = checkpoints.Build(m.ctx).Dir(dir).Keep(1).Done()
		if err != nil {
			return errors.WithMessagef(err, "creating checkpoint in %q", dir)
		}
	} else if !sameDir(dir, m.checkpoint.Dir()) {
		return errors.Errorf("model is already saved to %q, can't save it to %q", m.checkpoint.Dir(), dir)
	}
	if err := m.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "saving model to %q", dir)
	}
	klog.V(1).Infof("model saved to %q", dir)
	return nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Dir returns the directory the model was saved to or loaded from, or "" if none.
func (m *CompiledModel) Dir() string {
	if m.checkpoint == nil {
		return ""
	}
	return m.checkpoint.Dir()
}

// Load reads a model saved with Save. The loaded model is ready for inference, and further
// saves go back to dir.
func Load(backend backends.Backend, dir string) (*CompiledModel, error) {
	if backend == nil {
		return nil, errors.New("model.Load requires a backend")
	}
	ctx := context.New()
	handler, err := checkpoints.Load(ctx).Dir(dir).Keep(1).Immediate().Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "loading model from %q", dir)
	}
	hp, err := hyperparams.FromContext(ctx)
	if err != nil {
		return nil, &InvalidTopologyError{Reason: "hyperparameters saved in " + dir, Err: err}
	}
	m, err := newCompiledModel(backend, ctx, hp)
	if err != nil {
		return nil, err
	}
	m.checkpoint = handler
	m.ready = true
	klog.V(1).Infof("model loaded from %q: %s", dir, hp)
	return m, nil
}

// Summary describes the size and state of a model.
type Summary struct {
	Dir             string
	Ready           bool
	GlobalStep      int64
	NumVariables    int
	NumParameters   int
	NumBytes        uint64
	Hyperparameters hyperparams.Set
}

// Summary returns the size and state of the model. Variables are only counted once they are
// created, that is, after the model is first trained, run or loaded.
func (m *CompiledModel) Summary() (s Summary, err error) {
	s = Summary{Dir: m.Dir(), Ready: m.ready, Hyperparameters: m.Hyperparameters()}
	err = exceptions.TryCatch[error](func() {
		s.GlobalStep = optimizers.GetGlobalStep(m.ctx)
		for v := range m.ctx.InAbsPath(context.RootScope + Scope).IterVariablesInScope() {
			shape := v.Shape()
			s.NumVariables++
			s.NumParameters += shape.Size()
			s.NumBytes += uint64(shape.Memory())
		}
	})
	return
}
