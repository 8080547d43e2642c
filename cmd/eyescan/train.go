// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/vedant-zeus/eye1/internal/config"
	"github.com/vedant-zeus/eye1/pkg/dataset"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/model"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"github.com/vedant-zeus/eye1/pkg/training"
	"k8s.io/klog/v2"
)

type trainFlags struct {
	data, out, plot, history string
	patience, lrPatience     int
	overwrite, quiet         bool
	seed                     int64

	filters         []int
	kernelSize      int
	activation      string
	denseUnits      int
	dropoutRate     float64
	learningRate    float64
	batchSize       int
	epochs          int
	validationSplit float64
}

func newTrainCmd() *cobra.Command {
	return newTrainCmdWith(&trainFlags{})
}

// newTrainCmdWith creates the train command, parsing its flags into f.
func newTrainCmdWith(f *trainFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on a dataset directory and save it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd.Flags(), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.data, "data", "", "Dataset root, with one sub-directory per class. Defaults to data_dir of the configuration.")
	flags.StringVar(&f.out, "out", "", "Directory where to save the trained model. Defaults to model_dir of the configuration.")
	flags.BoolVar(&f.overwrite, "overwrite", false, "Remove the contents of --out before saving.")
	flags.StringVar(&f.plot, "plot", "", "Write a PNG chart of the loss and accuracy per epoch to this file.")
	flags.StringVar(&f.history, "history", "", "Write the metrics per epoch as CSV to this file.")
	flags.IntVar(&f.patience, "patience", 0, "Stop when the validation loss doesn't improve for this many epochs, "+
		"and keep the weights of the best epoch. 0 disables it. Defaults to training.patience of the configuration.")
	flags.IntVar(&f.lrPatience, "lr-patience", 0, "Reduce the learning rate when the validation loss doesn't improve for "+
		"this many epochs. 0 disables it. Defaults to training.lr_patience of the configuration.")
	flags.Int64Var(&f.seed, "seed", 0, "Seed for shuffling the training examples. 0 uses a random seed.")
	flags.BoolVar(&f.quiet, "quiet", false, "Don't display the preprocessing progress bar.")

	flags.IntSliceVar(&f.filters, "filters", nil, "Filters of each of the 3 convolution blocks, e.g. 32,64,128.")
	flags.IntVar(&f.kernelSize, "kernel-size", 0, "Convolution kernel size: 2, 3 or 5.")
	flags.StringVar(&f.activation, "activation", "", "Convolution activation: relu, elu, selu or tanh.")
	flags.IntVar(&f.denseUnits, "dense-units", 0, "Units of the hidden dense layer.")
	flags.Float64Var(&f.dropoutRate, "dropout", 0, "Dropout rate.")
	flags.Float64Var(&f.learningRate, "learning-rate", 0, "Adam learning rate.")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Batch size: 16, 32, 64 or 128.")
	flags.IntVar(&f.epochs, "epochs", 0, "Number of epochs.")
	flags.Float64Var(&f.validationSplit, "validation-split", 0, "Fraction of the examples held out for validation.")
	return cmd
}

// hyperparamsUpdate collects the hyperparameter flags set in the command line.
func (f *trainFlags) hyperparamsUpdate(flags *pflag.FlagSet) hyperparams.Update {
	var u hyperparams.Update
	changed := flags.Changed
	if changed("filters") || changed("kernel-size") || changed("activation") {
		u.ConvLayers = &hyperparams.ConvLayersUpdate{}
		if changed("filters") {
			u.ConvLayers.Filters = f.filters
		}
		if changed("kernel-size") {
			u.ConvLayers.KernelSize = &f.kernelSize
		}
		if changed("activation") {
			u.ConvLayers.Activation = &f.activation
		}
	}
	if changed("dense-units") {
		u.DenseUnits = &f.denseUnits
	}
	if changed("dropout") {
		u.DropoutRate = &f.dropoutRate
	}
	if changed("learning-rate") {
		u.LearningRate = &f.learningRate
	}
	if changed("batch-size") {
		u.BatchSize = &f.batchSize
	}
	if changed("epochs") {
		u.Epochs = &f.epochs
	}
	if changed("validation-split") {
		u.ValidationSplit = &f.validationSplit
	}
	return u
}

func runTrain(flags *pflag.FlagSet, f *trainFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hp, err := cfg.Hyperparameters.Merge(f.hyperparamsUpdate(flags))
	if err != nil {
		return err
	}
	dataDir, outDir := orDefault(f.data, cfg.DataDir), orDefault(f.out, cfg.ModelDir)
	trainingCfg := cfg.Training
	if flags.Changed("patience") {
		trainingCfg.Patience = f.patience
	}
	if flags.Changed("lr-patience") {
		trainingCfg.LRPatience = f.lrPatience
	}

	if f.overwrite {
		klog.Infof("removing %q", outDir)
		if err := os.RemoveAll(outDir); err != nil {
			return errors.Wrapf(err, "removing %q", outDir)
		}
	}
	if err := checkEmptyDir(outDir); err != nil {
		return err
	}

	ds, err := dataset.Load(dataDir, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Dataset %s\n", ds)
	fmt.Printf("Hyperparameters %s\n", hp)

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	preprocessor, err := trainPreprocessor(cfg, ds.Len(), f.quiet)
	if err != nil {
		return err
	}
	m, err := model.Build(backend, hp)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	opts := append(trainingCfg.Options(),
		training.WithPreprocessor(preprocessor),
		training.WithCheckpointDir(outDir),
		training.WithListener(training.ListenerFunc(printEpoch)),
	)
	if f.seed != 0 {
		opts = append(opts, training.WithSeed(f.seed))
	}
	report, err := training.Train(ctx, m, ds, hp, opts...)
	if err != nil {
		return err
	}

	printReport(report)
	if f.history != "" {
		if err := writeHistory(report, f.history); err != nil {
			return err
		}
		fmt.Printf("History written to %q\n", f.history)
	}
	if f.plot != "" {
		if err := report.PlotHistory(f.plot); err != nil {
			return err
		}
		fmt.Printf("Plot written to %q\n", f.plot)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// checkEmptyDir fails early if dir has files, since the model can't be saved there.
func checkEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "checking output directory %q", dir)
	}
	if len(entries) > 0 {
		return errors.WithMessagef(model.ErrDirNotEmpty, "output directory %q (use --overwrite to replace it)", dir)
	}
	return nil
}

// trainPreprocessor returns the configured preprocessor, with a progress bar over numImages.
func trainPreprocessor(cfg config.Config, numImages int, quiet bool) (*preprocess.Preprocessor, error) {
	p, err := cfg.Preprocessor()
	if err != nil {
		return nil, err
	}
	if quiet {
		return p, nil
	}
	bar := progressbar.NewOptions(numImages,
		progressbar.OptionSetDescription("Preprocessing"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
	return p.WithProgress(func() { _ = bar.Add(1) }), nil
}

func printEpoch(e training.EpochEvent) {
	fmt.Printf("Epoch %3d: loss=%.4f accuracy=%s", e.Epoch+1, e.Loss, percent(e.Accuracy))
	if e.HasValidation {
		fmt.Printf(" val_loss=%.4f val_accuracy=%s", e.ValLoss, percent(e.ValAccuracy))
	}
	fmt.Printf(" lr=%.2g (%s)\n", e.LearningRate, e.Duration.Round(1e6))
}

func printReport(r *training.Report) {
	printTitle("Training history")
	headers := []string{"epoch", "loss", "accuracy"}
	if r.HasValidation() {
		headers = append(headers, "val loss", "val accuracy")
	}
	bestEpoch := -1
	bestLoss := 0.0
	for i, e := range r.Epochs {
		loss := e.Loss
		if e.HasValidation {
			loss = e.ValLoss
		}
		if bestEpoch < 0 || loss < bestLoss {
			bestEpoch, bestLoss = i, loss
		}
	}
	t := newTable(headers, lipgloss.Right)
	for i, e := range r.Epochs {
		row := []string{fmt.Sprint(e.Epoch + 1), fmt.Sprintf("%.4f", e.Loss), percent(e.Accuracy)}
		if e.HasValidation {
			row = append(row, fmt.Sprintf("%.4f", e.ValLoss), percent(e.ValAccuracy))
		}
		t.Add(i == bestEpoch, row...)
	}
	fmt.Println(t.Render())
	if r.StoppedEarly {
		fmt.Println("Stopped early: the validation loss stopped improving.")
	}
	if r.RestoredBest {
		fmt.Printf("Kept the weights of epoch %d.\n", r.BestEpoch+1)
	}
	fmt.Printf("Final accuracy %s, loss %.4f\n", percent(r.FinalAccuracy), r.FinalLoss)
	if r.ModelDir != "" {
		fmt.Printf("Model saved to %q\n", r.ModelDir)
	}
}

func writeHistory(r *training.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	if err := r.WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "closing %q", path)
}
