// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-zeus/eye1/internal/modeltest"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/model"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
)

func TestSplit(t *testing.T) {
	for _, tc := range []struct {
		n, wantTrain, wantVal int
		split                 float64
	}{
		{n: 10, split: 0.2, wantTrain: 8, wantVal: 2},
		{n: 10, split: 0, wantTrain: 10, wantVal: 0},
		{n: 3, split: 0.5, wantTrain: 1, wantVal: 2},
		{n: 7, split: 0.1, wantTrain: 6, wantVal: 1},
		{n: 1, split: 0.5, wantTrain: 0, wantVal: 1},
	} {
		numTrain, numVal := Split(tc.n, tc.split)
		assert.Equal(t, tc.wantTrain, numTrain, "Split(%d, %g)", tc.n, tc.split)
		assert.Equal(t, tc.wantVal, numVal, "Split(%d, %g)", tc.n, tc.split)
	}
}

func loadSynthetic(t *testing.T, perClass int) *dataset.LabeledImageSet {
	root := modeltest.WriteDataset(t, t.TempDir(), perClass)
	ds, err := dataset.Load(root, nil)
	require.NoError(t, err)
	return ds
}

func requireTrainingError(t *testing.T, err error, stage Stage) *Error {
	require.Error(t, err)
	var trainErr *Error
	require.True(t, errors.As(err, &trainErr), "expected *training.Error, got %T: %v", err, err)
	assert.Equal(t, stage, trainErr.Stage)
	return trainErr
}

func TestTrainErrors(t *testing.T) {
	backend := modeltest.Backend()
	ds := loadSynthetic(t, 1)
	ctx := context.Background()

	t.Run("invalid hyperparameters", func(t *testing.T) {
		hp := modeltest.SmallHyperparameters()
		hp.ConvLayers.KernelSize = 4
		_, err := Train(ctx, nil, ds, hp, WithBackend(backend))
		requireTrainingError(t, err, StageSetup)
		var validationErr *hyperparams.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.True(t, validationErr.Has(hyperparams.FieldKernelSize))
	})

	t.Run("no examples", func(t *testing.T) {
		_, err := Train(ctx, nil, nil, modeltest.SmallHyperparameters(), WithBackend(backend))
		requireTrainingError(t, err, StageSetup)
	})

	t.Run("no backend", func(t *testing.T) {
		_, err := Train(ctx, nil, ds, modeltest.SmallHyperparameters())
		requireTrainingError(t, err, StageSetup)
	})

	t.Run("no training examples left", func(t *testing.T) {
		hp := modeltest.SmallHyperparameters()
		hp.ValidationSplit = 0.9
		one, err := dataset.New(ds.Images[:1], ds.Labels[:1])
		require.NoError(t, err)
		_, err = Train(ctx, nil, one, hp, WithBackend(backend))
		requireTrainingError(t, err, StageSplit)
	})

	t.Run("different network", func(t *testing.T) {
		m, err := model.Build(backend, modeltest.SmallHyperparameters())
		require.NoError(t, err)
		hp := modeltest.SmallHyperparameters()
		hp.DenseUnits = 192
		_, err = Train(ctx, m, ds, hp)
		requireTrainingError(t, err, StageSetup)
		assert.False(t, m.Ready())
	})

	t.Run("cancelled", func(t *testing.T) {
		m, err := model.Build(backend, modeltest.SmallHyperparameters())
		require.NoError(t, err)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = Train(cancelled, m, ds, modeltest.SmallHyperparameters())
		require.ErrorIs(t, err, context.Canceled)
		var trainErr *Error
		require.True(t, errors.As(err, &trainErr))
		assert.False(t, m.Ready())
	})
}

func TestTrain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	backend := modeltest.Backend()
	ds := loadSynthetic(t, 4)
	hp := modeltest.SmallHyperparameters()
	modelDir := filepath.Join(t.TempDir(), "model")

	var events []EpochEvent
	report, err := Train(context.Background(), nil, ds, hp,
		WithBackend(backend),
		WithSeed(42),
		WithCheckpointDir(modelDir),
		WithListener(ListenerFunc(func(e EpochEvent) { events = append(events, e) })))
	require.NoError(t, err)

	require.Len(t, events, hp.Epochs)
	assert.Equal(t, events, report.Epochs)
	for i, e := range events {
		assert.Equal(t, i, e.Epoch)
		assert.True(t, e.HasValidation)
		assert.False(t, math.IsNaN(e.Loss) || math.IsInf(e.Loss, 0), "epoch %d loss=%g", i, e.Loss)
		assert.False(t, math.IsNaN(e.ValLoss) || math.IsInf(e.ValLoss, 0), "epoch %d val_loss=%g", i, e.ValLoss)
		assert.InDelta(t, 0.5, e.Accuracy, 0.5)
		assert.InDelta(t, 0.5, e.ValAccuracy, 0.5)
		assert.Equal(t, hp.LearningRate, e.LearningRate)
		assert.Greater(t, e.Duration, time.Duration(0))
	}
	last := events[len(events)-1]
	assert.Equal(t, last.Loss, report.FinalLoss)
	assert.Equal(t, last.ValAccuracy, report.FinalValAccuracy)
	assert.False(t, report.StoppedEarly)
	assert.Equal(t, modelDir, report.ModelDir)

	loaded, err := model.Load(backend, modelDir)
	require.NoError(t, err)
	assert.True(t, loaded.Ready())
	assert.True(t, hp.Equal(loaded.Hyperparameters()))
	summary, err := loaded.Summary()
	require.NoError(t, err)
	assert.Greater(t, summary.GlobalStep, int64(0))
}

func TestTrainCancelBetweenEpochs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	ds := loadSynthetic(t, 2)
	m, err := model.Build(modeltest.Backend(), modeltest.SmallHyperparameters())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var numEvents int
	_, err = Train(ctx, m, ds, modeltest.SmallHyperparameters(),
		WithListener(ListenerFunc(func(EpochEvent) {
			numEvents++
			cancel()
		})))
	trainErr := requireTrainingError(t, err, StageFit)
	assert.Equal(t, 1, trainErr.Epoch)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, numEvents)
	assert.False(t, m.Ready())
}

func TestEarlyStopper(t *testing.T) {
	assert.Nil(t, newEarlyStopper(0))
	s := newEarlyStopper(2)
	var stops []bool
	for _, loss := range []float64{1.0, 0.8, 0.9, 0.7, 0.7, 0.75} {
		stops = append(stops, s.stop(loss))
	}
	assert.Equal(t, []bool{false, false, false, false, false, true}, stops)

	s = newEarlyStopper(3)
	var improved []bool
	for _, loss := range []float64{1.0, 1.2, 0.9, 0.9, math.NaN()} {
		s.stop(loss)
		improved = append(improved, s.improved())
	}
	assert.Equal(t, []bool{true, false, true, false, false}, improved)
}

func TestPlateau(t *testing.T) {
	p := &plateau{factor: 0.2, patience: 2, minLR: 1e-5, best: math.Inf(1)}
	require.NoError(t, p.validate())
	lr := 1e-3
	var lrs []float64
	var changes []bool
	for _, loss := range []float64{1.0, 0.9, 0.95, 0.92, 0.91, 0.93, 0.8, 0.85, 0.85, 0.9, 0.9} {
		var changed bool
		lr, changed = p.update(loss, lr)
		lrs = append(lrs, lr)
		changes = append(changes, changed)
	}
	assert.Equal(t, []bool{false, false, false, true, false, true, false, false, true, false, false}, changes)
	assert.InDeltaSlice(t, []float64{1e-3, 1e-3, 1e-3, 2e-4, 2e-4, 4e-5, 4e-5, 4e-5, 1e-5, 1e-5, 1e-5}, lrs, 1e-12)
	assert.Equal(t, 1e-5, lrs[len(lrs)-1], "never below the minimum")

	for _, bad := range []*plateau{
		{factor: 1, patience: 1},
		{factor: 0, patience: 1},
		{factor: 0.5, patience: 0},
		{factor: 0.5, patience: 1, minLR: -1},
	} {
		assert.Error(t, bad.validate(), "%+v", bad)
	}
}

func TestWeightsRestore(t *testing.T) {
	m, err := model.Build(modeltest.Backend(), modeltest.SmallHyperparameters())
	require.NoError(t, err)
	images := tensors.FromScalarAndDimensions(float32(0.5), 2, preprocess.ImageSize, preprocess.ImageSize,
		preprocess.NumChannels)
	defer images.MustFinalizeAll()
	before, err := m.PredictProbabilities(images)
	require.NoError(t, err)

	saved, err := copyWeights(m.Context())
	require.NoError(t, err)
	defer saved.finalize()
	require.NotEmpty(t, saved)
	for v := range modelVariables(m.Context()).IterVariablesInScope() {
		require.NoError(t, v.SetValue(tensors.FromShape(v.Shape())))
	}
	zeroed, err := m.PredictProbabilities(images)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.2, 0.2, 0.2, 0.2, 0.2}, zeroed[0], 1e-6)

	require.NoError(t, saved.restore(m.Context()))
	assert.Empty(t, saved, "restored tensors are owned by the variables")
	after, err := m.PredictProbabilities(images)
	require.NoError(t, err)
	for i := range before {
		assert.InDeltaSlice(t, before[i], after[i], 1e-6)
	}

	require.Error(t, weights{}.restore(m.Context()))
	require.Error(t, setLearningRate(m.Context(), 1e-4), "no training graph yet")
}

// mislabeledValidation returns the images of ds followed by copies of its first numVal images
// with a wrong label: training on the first part makes the loss of the second part grow.
func mislabeledValidation(t *testing.T, ds *dataset.LabeledImageSet, numVal int) *dataset.LabeledImageSet {
	images := append(slices.Clone(ds.Images), ds.Images[:numVal]...)
	labels := slices.Clone(ds.Labels)
	for _, l := range ds.Labels[:numVal] {
		labels = append(labels, classes.Label((int(l)+1)%classes.NumClasses))
	}
	out, err := dataset.New(images, labels)
	require.NoError(t, err)
	return out
}

func TestTrainStoppedEarly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training test in short mode")
	}
	ds := mislabeledValidation(t, loadSynthetic(t, 3), 4)
	hp := modeltest.SmallHyperparameters()
	hp.Epochs = 20
	numTrain, numVal := Split(ds.Len(), hp.ValidationSplit)
	require.Equal(t, 4, numVal)

	ctx := context.Background()
	valImages, err := preprocess.New().Images(ctx, ds.Images[numTrain:])
	require.NoError(t, err)
	valT, err := preprocess.ToTensor(valImages)
	require.NoError(t, err)
	defer valT.MustFinalizeAll()

	m, err := model.Build(modeltest.Backend(), hp)
	require.NoError(t, err)
	var events []EpochEvent
	var predictions [][][]float32
	report, err := Train(ctx, m, ds, hp,
		WithSeed(7),
		WithEarlyStopping(2),
		WithLearningRatePlateau(0.5, 1, 1e-4),
		WithListener(ListenerFunc(func(e EpochEvent) {
			events = append(events, e)
			probs, err := m.PredictProbabilities(valT)
			require.NoError(t, err)
			predictions = append(predictions, probs)
		})))
	require.NoError(t, err)

	require.True(t, report.StoppedEarly, "validation loss per epoch: %v", valLosses(events))
	require.True(t, report.RestoredBest)
	require.Less(t, len(events), hp.Epochs)
	require.Less(t, report.BestEpoch, len(events)-1)
	best := events[report.BestEpoch].ValLoss
	for _, e := range events {
		assert.GreaterOrEqual(t, e.ValLoss, best)
	}
	after, err := m.PredictProbabilities(valT)
	require.NoError(t, err)
	for i := range after {
		assert.InDeltaSlice(t, predictions[report.BestEpoch][i], after[i], 1e-6,
			"model must have the weights of epoch %d", report.BestEpoch)
	}
	assert.True(t, m.Ready())

	// The learning rate follows the plateaus of the validation loss.
	expected := &plateau{factor: 0.5, patience: 1, minLR: 1e-4, best: math.Inf(1)}
	lr := hp.LearningRate
	for _, e := range events {
		assert.InDelta(t, lr, e.LearningRate, 1e-12, "epoch %d", e.Epoch)
		lr, _ = expected.update(e.ValLoss, lr)
	}
	last := events[len(events)-1]
	assert.Less(t, last.LearningRate, hp.LearningRate)
	lrVar := learningRateVar(m.Context())
	require.NotNil(t, lrVar)
	assert.InDelta(t, last.LearningRate, float64(tensors.ToScalar[float32](lrVar.MustValue())), 1e-9)
}

func valLosses(events []EpochEvent) []float64 {
	losses := make([]float64, len(events))
	for i, e := range events {
		losses[i] = e.ValLoss
	}
	return losses
}

func TestTrainPlateauErrors(t *testing.T) {
	ds := loadSynthetic(t, 1)
	_, err := Train(context.Background(), nil, ds, modeltest.SmallHyperparameters(),
		WithBackend(modeltest.Backend()), WithLearningRatePlateau(2, 3, 0))
	requireTrainingError(t, err, StageSetup)
}

func sampleReport(withValidation bool) *Report {
	r := &Report{}
	for i := range 4 {
		e := EpochEvent{
			Epoch:        i,
			Loss:         1.5 / float64(i+1),
			Accuracy:     0.2 * float64(i+1),
			LearningRate: 0.001,
			Duration:     time.Duration(i+1) * time.Second,
		}
		if withValidation {
			e.HasValidation = true
			e.ValLoss = 1.6 / float64(i+1)
			e.ValAccuracy = 0.15 * float64(i+1)
		}
		r.add(e)
	}
	return r
}

func TestWriteCSV(t *testing.T) {
	r := sampleReport(true)
	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))

	df := dataframe.ReadCSV(&buf)
	require.NoError(t, df.Err)
	assert.Equal(t, 4, df.Nrow())
	assert.Equal(t, []string{ColEpoch, ColLoss, ColAccuracy, ColValLoss, ColValAccuracy, ColDurationSecs}, df.Names())
	assert.InDeltaSlice(t, []float64{1.5, 0.75, 0.5, 0.375}, df.Col(ColLoss).Float(), 1e-5)
	assert.InDeltaSlice(t, []float64{0.15, 0.3, 0.45, 0.6}, df.Col(ColValAccuracy).Float(), 1e-5)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 4}, df.Col(ColDurationSecs).Float(), 1e-5)
	assert.InDelta(t, 0.6, r.FinalValAccuracy, 1e-9)
	assert.True(t, r.HasValidation())
}

func TestPlotHistory(t *testing.T) {
	for _, withValidation := range []bool{true, false} {
		path := filepath.Join(t.TempDir(), "history.png")
		require.NoError(t, sampleReport(withValidation).PlotHistory(path))
		contents, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(contents, []byte("\x89PNG")), "not a PNG file")
	}
	require.Error(t, (&Report{}).PlotHistory(filepath.Join(t.TempDir(), "empty.png")))
}
