// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package training fits a model.CompiledModel to a labeled image set.
//
// Train runs one epoch at a time over a shuffled in-memory copy of the preprocessed images,
// evaluates the held-out validation examples after each epoch and pushes an EpochEvent to the
// registered listeners.
package training

import (
	"context"
	"image"
	"math"
	"math/rand"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/model"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"k8s.io/klog/v2"
)

// EpochEvent reports the metrics of one finished epoch. Epoch is 0-based.
//
// Loss and Accuracy are means over the training examples of the epoch, computed while training
// (with dropout on). The validation metrics are only set if HasValidation.
type EpochEvent struct {
	Epoch         int           `json:"epoch"`
	Loss          float64       `json:"loss"`
	Accuracy      float64       `json:"accuracy"`
	ValLoss       float64       `json:"valLoss,omitempty"`
	ValAccuracy   float64       `json:"valAccuracy,omitempty"`
	HasValidation bool          `json:"hasValidation"`
	LearningRate  float64       `json:"learningRate"`
	Duration      time.Duration `json:"duration"`
}

// Listener receives an EpochEvent after every epoch. It is called synchronously from Train.
type Listener interface {
	OnEpochEnd(event EpochEvent)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(event EpochEvent)

// OnEpochEnd implements Listener.
func (fn ListenerFunc) OnEpochEnd(event EpochEvent) { fn(event) }

type config struct {
	backend       backends.Backend
	preprocessor  *preprocess.Preprocessor
	checkpointDir string
	patience      int
	plateau       *plateau
	listeners     []Listener
	seed          *int64
}

// Option configures Train.
type Option func(*config)

// WithBackend sets the backend used to build the model when Train is not given one.
func WithBackend(backend backends.Backend) Option {
	return func(c *config) { c.backend = backend }
}

// WithPreprocessor sets the preprocessor used on the images. The default is preprocess.New().
func WithPreprocessor(p *preprocess.Preprocessor) Option {
	return func(c *config) { c.preprocessor = p }
}

// WithCheckpointDir saves the trained model to dir once training succeeds.
func WithCheckpointDir(dir string) Option {
	return func(c *config) { c.checkpointDir = dir }
}

// WithEarlyStopping stops training once the validation loss fails to improve for patience
// consecutive epochs, and restores the model weights of the epoch with the lowest validation
// loss. 0 disables it. It has no effect without a validation split.
func WithEarlyStopping(patience int) Option {
	return func(c *config) { c.patience = patience }
}

// WithLearningRatePlateau multiplies the learning rate by factor each time the validation loss
// fails to improve for patience consecutive epochs, down to minLR. It has no effect without a
// validation split. See DefaultPlateauFactor, DefaultPlateauPatience and DefaultMinLearningRate.
func WithLearningRatePlateau(factor float64, patience int, minLR float64) Option {
	return func(c *config) {
		c.plateau = &plateau{factor: factor, patience: patience, minLR: minLR, best: math.Inf(1)}
	}
}

// WithListener registers listeners for the epoch events.
func WithListener(listeners ...Listener) Option {
	return func(c *config) { c.listeners = append(c.listeners, listeners...) }
}

// WithSeed makes the shuffling of the training examples deterministic.
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = &seed }
}

// Split returns the number of training and validation examples for numExamples: the trailing
// ceil(numExamples*validationSplit) examples are held out for validation.
func Split(numExamples int, validationSplit float64) (numTrain, numVal int) {
	numVal = int(math.Ceil(float64(numExamples) * validationSplit))
	numVal = min(numVal, numExamples)
	return numExamples - numVal, numVal
}

// Train fits m to the images of ds, with the batch size, epochs and validation split of hp.
//
// If m is nil, a new model is built from hp, using the backend given by WithBackend. Otherwise hp
// must describe the same network m was built with. The model is updated in place, and marked
// ready if training succeeds.
//
// ctx is checked between epochs: a cancelled run returns an *Error wrapping ctx.Err().
// Any failure aborts the run with an *Error.
func Train(ctx context.Context, m *model.CompiledModel, ds *dataset.LabeledImageSet, hp hyperparams.Set,
	opts ...Option) (*Report, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.preprocessor == nil {
		cfg.preprocessor = preprocess.New()
	}

	if err := hp.Validate(); err != nil {
		return nil, stageError(StageSetup, err)
	}
	if cfg.plateau != nil {
		if err := cfg.plateau.validate(); err != nil {
			return nil, stageError(StageSetup, err)
		}
	}
	if ds == nil || ds.Len() == 0 {
		return nil, stageError(StageSetup, errors.New("no examples to train on"))
	}
	numTrain, numVal := Split(ds.Len(), hp.ValidationSplit)
	if numTrain == 0 {
		return nil, stageError(StageSplit, errors.Errorf(
			"validation split %g leaves no training example out of %d", hp.ValidationSplit, ds.Len()))
	}
	if m == nil {
		if cfg.backend == nil {
			return nil, stageError(StageSetup, errors.New("no model given and no backend to build one"))
		}
		var err error
		m, err = model.Build(cfg.backend, hp)
		if err != nil {
			return nil, stageError(StageSetup, err)
		}
	} else if !sameNetwork(m.Hyperparameters(), hp) {
		return nil, stageError(StageSetup, errors.Errorf(
			"model was built with %s, can't train it with %s", m.Hyperparameters(), hp))
	}

	imgs, err := cfg.preprocessor.Images(ctx, ds.Images)
	if err != nil {
		return nil, stageError(StagePreprocess, err)
	}
	klog.V(1).Infof("training on %d examples, validating on %d", numTrain, numVal)

	r := &runner{cfg: cfg, model: m, hparams: hp, learningRate: hp.LearningRate}
	defer r.finalize()
	if err = r.createDatasets(imgs, ds.Labels, numTrain); err != nil {
		return nil, stageError(StagePreprocess, err)
	}
	report, err := r.fit(ctx)
	if err != nil {
		return nil, err
	}

	m.MarkReady()
	if cfg.checkpointDir != "" {
		if err := m.Save(cfg.checkpointDir); err != nil {
			return nil, stageError(StageSave, err)
		}
		report.ModelDir = m.Dir()
	}
	return report, nil
}

// sameNetwork returns whether a and b build the same network with the same optimizer. The fit
// parameters may differ.
func sameNetwork(a, b hyperparams.Set) bool {
	b.BatchSize, b.Epochs, b.ValidationSplit = a.BatchSize, a.Epochs, a.ValidationSplit
	return a.Equal(b)
}

// runner holds the state of one training run.
type runner struct {
	cfg     *config
	model   *model.CompiledModel
	hparams hyperparams.Set

	// learningRate of the next epoch.
	learningRate float64

	// best holds the weights of the epoch with the lowest validation loss, when early stopping.
	best weights

	trainDS, valDS *datasets.InMemoryDataset

	trainer           *train.Trainer
	loop              *train.Loop
	lossMetric        metrics.Interface
	accuracyMetric    metrics.Interface
	valLossMetric     metrics.Interface
	valAccuracyMetric metrics.Interface
}

// finalize frees the datasets, including the tensors they own, and the saved weights.
func (r *runner) finalize() {
	r.best.finalize()
	for _, ds := range []*datasets.InMemoryDataset{r.trainDS, r.valDS} {
		if ds != nil {
			ds.FinalizeAll()
		}
	}
}

// oneHot returns the one-hot encoded labels, shaped [len(labels), classes.NumClasses].
func oneHot(labels []classes.Label) *tensors.Tensor {
	flat := make([]float32, len(labels)*classes.NumClasses)
	for i, label := range labels {
		flat[i*classes.NumClasses+int(label)] = 1
	}
	return tensors.FromFlatDataAndDimensions(flat, len(labels), classes.NumClasses)
}

// newDataset converts the images and labels to tensors, owned by the returned dataset.
func (r *runner) newDataset(name string, imgs []image.Image, labels []classes.Label) (*datasets.InMemoryDataset, error) {
	imagesT, err := preprocess.ToTensor(imgs)
	if err != nil {
		return nil, err
	}
	labelsT := oneHot(labels)
	ds, err := datasets.InMemoryFromData(r.model.Backend(), name, []any{imagesT}, []any{labelsT})
	if err != nil {
		_ = imagesT.FinalizeAll()
		_ = labelsT.FinalizeAll()
		return nil, errors.WithMessagef(err, "creating %s dataset", name)
	}
	return ds.BatchSize(r.hparams.BatchSize, false), nil
}

func (r *runner) createDatasets(imgs []image.Image, labels []classes.Label, numTrain int) error {
	var err error
	r.trainDS, err = r.newDataset("train", imgs[:numTrain], labels[:numTrain])
	if err != nil {
		return err
	}
	if r.cfg.seed != nil {
		r.trainDS.WithRand(rand.New(rand.NewSource(*r.cfg.seed)))
	}
	r.trainDS.Shuffle()
	if numTrain < len(imgs) {
		r.valDS, err = r.newDataset("validation", imgs[numTrain:], labels[numTrain:])
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) createTrainer() error {
	r.lossMetric = model.NewLossMetric("Loss", "loss")
	r.accuracyMetric = model.NewAccuracyMetric("Accuracy", "acc")
	r.valLossMetric = model.NewLossMetric("Validation Loss", "val_loss")
	r.valAccuracyMetric = model.NewAccuracyMetric("Validation Accuracy", "val_acc")
	return exceptions.TryCatch[error](func() {
		r.trainer = train.NewTrainer(r.model.Backend(), r.model.GraphContext(), model.Graph, model.Loss,
			r.model.Optimizer(),
			[]metrics.Interface{r.lossMetric, r.accuracyMetric},
			[]metrics.Interface{r.valLossMetric, r.valAccuracyMetric})
		r.loop = train.NewLoop(r.trainer)
	})
}

func (r *runner) fit(ctx context.Context) (*Report, error) {
	if err := r.createTrainer(); err != nil {
		return nil, stageError(StageSetup, errors.WithMessage(err, "creating trainer"))
	}
	report := &Report{}
	stopper := newEarlyStopper(r.cfg.patience)
	if stopper != nil && r.valDS == nil {
		klog.Warningf("early stopping needs a validation split, it is disabled")
		stopper = nil
	}
	scheduler := r.cfg.plateau
	if scheduler != nil && r.valDS == nil {
		klog.Warningf("learning rate plateau needs a validation split, it is disabled")
		scheduler = nil
	}
	for epoch := range r.hparams.Epochs {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Stage: StageFit, Epoch: epoch, Err: err}
		}
		event, err := r.runEpoch(epoch)
		if err != nil {
			return nil, err
		}
		report.add(event)
		klog.V(1).Infof("epoch %d: loss=%.4f accuracy=%.4f val_loss=%.4f val_accuracy=%.4f (%s)",
			epoch, event.Loss, event.Accuracy, event.ValLoss, event.ValAccuracy, event.Duration)
		for _, l := range r.cfg.listeners {
			l.OnEpochEnd(event)
		}
		if stopper != nil {
			stop := stopper.stop(event.ValLoss)
			if stopper.improved() {
				if err := r.saveBest(epoch); err != nil {
					return nil, err
				}
				report.BestEpoch = epoch
			}
			if stop {
				klog.V(1).Infof("stopping early after epoch %d: validation loss did not improve for %d epochs",
					epoch, r.cfg.patience)
				report.StoppedEarly = true
				if r.best != nil {
					klog.V(1).Infof("restoring the weights of epoch %d", report.BestEpoch)
					if err := r.best.restore(r.model.Context()); err != nil {
						return nil, &Error{Stage: StageFit, Epoch: epoch, Err: err}
					}
					report.RestoredBest = true
				}
				break
			}
		}
		if scheduler != nil {
			if lr, changed := scheduler.update(event.ValLoss, r.learningRate); changed {
				if err := setLearningRate(r.model.Context(), lr); err != nil {
					return nil, &Error{Stage: StageFit, Epoch: epoch, Err: err}
				}
				klog.V(1).Infof("validation loss did not improve for %d epochs, learning rate reduced from %g to %g",
					scheduler.patience, r.learningRate, lr)
				r.learningRate = lr
			}
		}
	}
	return report, nil
}

// saveBest replaces the saved weights with the current ones.
func (r *runner) saveBest(epoch int) error {
	w, err := copyWeights(r.model.Context())
	if err != nil {
		return &Error{Stage: StageFit, Epoch: epoch, Err: err}
	}
	r.best.finalize()
	r.best = w
	return nil
}

func (r *runner) runEpoch(epoch int) (event EpochEvent, err error) {
	start := time.Now()
	event = EpochEvent{Epoch: epoch, LearningRate: r.learningRate}
	metricsT, err := r.loop.RunEpochs(r.trainDS, 1)
	if err != nil {
		return event, &Error{Stage: StageFit, Epoch: epoch, Err: err}
	}
	values, err := readMetrics(r.trainer.TrainMetrics(), metricsT, r.lossMetric, r.accuracyMetric)
	if err != nil {
		return event, &Error{Stage: StageFit, Epoch: epoch, Err: err}
	}
	event.Loss, event.Accuracy = values[0], values[1]

	if r.valDS != nil {
		metricsT, err = r.trainer.Eval(r.valDS)
		r.valDS.Reset()
		if err != nil {
			return event, &Error{Stage: StageEvaluate, Epoch: epoch, Err: err}
		}
		values, err = readMetrics(r.trainer.EvalMetrics(), metricsT, r.valLossMetric, r.valAccuracyMetric)
		if err != nil {
			return event, &Error{Stage: StageEvaluate, Epoch: epoch, Err: err}
		}
		event.ValLoss, event.ValAccuracy = values[0], values[1]
		event.HasValidation = true
	}
	event.Duration = time.Since(start)
	return event, nil
}

// readMetrics returns the values of the wanted metrics, found by identity in all, and frees
// every tensor in values.
func readMetrics(all []metrics.Interface, values []*tensors.Tensor, wanted ...metrics.Interface) ([]float64, error) {
	defer func() {
		for _, t := range values {
			if t != nil {
				_ = t.FinalizeAll()
			}
		}
	}()
	if len(values) != len(all) {
		return nil, errors.Errorf("got %d metric values for %d metrics", len(values), len(all))
	}
	results := make([]float64, len(wanted))
	for i, w := range wanted {
		idx := -1
		for j, m := range all {
			if m == w {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, errors.Errorf("metric %q not computed", w.Name())
		}
		results[i] = model.ScalarValue(values[idx])
	}
	return results, nil
}
