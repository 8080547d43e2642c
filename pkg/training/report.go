// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package training

import (
	"io"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Report summarizes a successful training run.
type Report struct {
	FinalLoss        float64      `json:"finalLoss"`
	FinalAccuracy    float64      `json:"finalAccuracy"`
	FinalValLoss     float64      `json:"finalValLoss,omitempty"`
	FinalValAccuracy float64      `json:"finalValAccuracy,omitempty"`
	Epochs           []EpochEvent `json:"epochs"`
	StoppedEarly     bool         `json:"stoppedEarly"`

	// BestEpoch has the lowest validation loss. It is only tracked with early stopping.
	BestEpoch int `json:"bestEpoch"`

	// RestoredBest is set when training stopped early and the model was reset to the weights of
	// BestEpoch.
	RestoredBest bool `json:"restoredBest"`

	// ModelDir is where the trained model was saved, if WithCheckpointDir was given.
	ModelDir string `json:"modelDir,omitempty"`
}

func (r *Report) add(event EpochEvent) {
	r.Epochs = append(r.Epochs, event)
	r.FinalLoss, r.FinalAccuracy = event.Loss, event.Accuracy
	r.FinalValLoss, r.FinalValAccuracy = event.ValLoss, event.ValAccuracy
}

// HasValidation returns whether the epochs were evaluated on a validation split.
func (r *Report) HasValidation() bool {
	return len(r.Epochs) > 0 && r.Epochs[0].HasValidation
}

// Column names of the history CSV.
const (
	ColEpoch        = "epoch"
	ColLoss         = "loss"
	ColAccuracy     = "accuracy"
	ColValLoss      = "val_loss"
	ColValAccuracy  = "val_accuracy"
	ColDurationSecs = "duration_secs"
)

// DataFrame returns the epoch history, one row per epoch. Validation columns are NaN when there
// is no validation split.
func (r *Report) DataFrame() dataframe.DataFrame {
	n := len(r.Epochs)
	epochs := make([]int, n)
	cols := map[string][]float64{
		ColLoss: make([]float64, n), ColAccuracy: make([]float64, n),
		ColValLoss: make([]float64, n), ColValAccuracy: make([]float64, n),
		ColDurationSecs: make([]float64, n),
	}
	for i, e := range r.Epochs {
		epochs[i] = e.Epoch
		cols[ColLoss][i] = e.Loss
		cols[ColAccuracy][i] = e.Accuracy
		cols[ColValLoss][i], cols[ColValAccuracy][i] = math.NaN(), math.NaN()
		if e.HasValidation {
			cols[ColValLoss][i], cols[ColValAccuracy][i] = e.ValLoss, e.ValAccuracy
		}
		cols[ColDurationSecs][i] = e.Duration.Seconds()
	}
	return dataframe.New(
		series.New(epochs, series.Int, ColEpoch),
		series.New(cols[ColLoss], series.Float, ColLoss),
		series.New(cols[ColAccuracy], series.Float, ColAccuracy),
		series.New(cols[ColValLoss], series.Float, ColValLoss),
		series.New(cols[ColValAccuracy], series.Float, ColValAccuracy),
		series.New(cols[ColDurationSecs], series.Float, ColDurationSecs),
	)
}

// WriteCSV writes the epoch history as CSV, with a header row.
func (r *Report) WriteCSV(w io.Writer) error {
	df := r.DataFrame()
	if df.Err != nil {
		return errors.Wrap(df.Err, "building training history")
	}
	return errors.Wrap(df.WriteCSV(w), "writing training history")
}

// PlotHistory writes a PNG chart to path with the loss (left) and the accuracy (right) per epoch,
// for the training and, if present, the validation examples.
func (r *Report) PlotHistory(path string) error {
	if len(r.Epochs) == 0 {
		return errors.New("no epochs to plot")
	}
	lossPlot, err := r.historyPlot("Loss", func(e EpochEvent) (float64, float64) { return e.Loss, e.ValLoss })
	if err != nil {
		return err
	}
	accPlot, err := r.historyPlot("Accuracy", func(e EpochEvent) (float64, float64) { return e.Accuracy, e.ValAccuracy })
	if err != nil {
		return err
	}
	accPlot.Y.Min, accPlot.Y.Max = 0, 1

	plots := [][]*plot.Plot{{lossPlot, accPlot}}
	img := vgimg.New(12*vg.Inch, 5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: 1, Cols: 2,
		PadX: vg.Millimeter * 5, PadY: vg.Millimeter * 5,
		PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2,
		PadLeft: vg.Millimeter * 2, PadRight: vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for row := range plots {
		for col, p := range plots[row] {
			p.Draw(canvases[row][col])
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating plot file %q", path)
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err = png.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing plot to %q", path)
	}
	return errors.Wrapf(f.Close(), "closing plot file %q", path)
}

func (r *Report) historyPlot(title string, values func(EpochEvent) (train, val float64)) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = title
	p.Legend.Top = true

	trainXYs := make(plotter.XYs, len(r.Epochs))
	valXYs := make(plotter.XYs, 0, len(r.Epochs))
	for i, e := range r.Epochs {
		train, val := values(e)
		trainXYs[i] = plotter.XY{X: float64(e.Epoch), Y: train}
		if e.HasValidation {
			valXYs = append(valXYs, plotter.XY{X: float64(e.Epoch), Y: val})
		}
	}
	lines := []any{"train", trainXYs}
	if len(valXYs) > 0 {
		lines = append(lines, "validation", valXYs)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, errors.Wrapf(err, "plotting %s", title)
	}
	return p, nil
}

// earlyStopper tracks the validation loss for early stopping.
type earlyStopper struct {
	patience  int
	best      float64
	sinceBest int
}

// newEarlyStopper returns nil if patience <= 0.
func newEarlyStopper(patience int) *earlyStopper {
	if patience <= 0 {
		return nil
	}
	return &earlyStopper{patience: patience, best: math.Inf(1)}
}

// stop records the loss of one more epoch and returns whether training should stop.
func (s *earlyStopper) stop(loss float64) bool {
	if loss < s.best {
		s.best = loss
		s.sinceBest = 0
		return false
	}
	s.sinceBest++
	return s.sinceBest >= s.patience
}

// improved returns whether the last loss given to stop was the best so far.
func (s *earlyStopper) improved() bool {
	return s.sinceBest == 0
}
