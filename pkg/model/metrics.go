// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
)

// Loss is the categorical cross-entropy between the one-hot labels and the logits, averaged over
// the batch.
func Loss(labels, logits []*graph.Node) *graph.Node {
	return graph.ReduceAllMean(losses.CategoricalCrossEntropyLogits(labels, logits))
}

// CategoricalAccuracyGraph returns the fraction of examples whose highest logit is the class
// marked in the one-hot labels. It implements metrics.BaseMetricGraph.
func CategoricalAccuracyGraph(ctx *context.Context, labels, logits []*graph.Node) *graph.Node {
	sparseLabels := graph.ExpandAxes(graph.ArgMax(labels[0], -1, dtypes.Int32), -1)
	return metrics.SparseCategoricalAccuracyGraph(ctx, []*graph.Node{sparseLabels}, logits)
}

func lossGraph(_ *context.Context, labels, logits []*graph.Node) *graph.Node {
	return Loss(labels, logits)
}

// NewAccuracyMetric returns a metric with the mean categorical accuracy over the examples seen
// since its last reset.
func NewAccuracyMetric(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.AccuracyMetricType, CategoricalAccuracyGraph, percentPPrint)
}

// NewLossMetric returns a metric with the mean loss over the examples seen since its last reset.
func NewLossMetric(name, shortName string) *metrics.MeanMetric {
	return metrics.NewMeanMetric(name, shortName, metrics.LossMetricType, lossGraph, nil)
}

func percentPPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", 100.0*ScalarValue(value))
}

// ScalarValue returns the value of a scalar float tensor as float64.
func ScalarValue(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
