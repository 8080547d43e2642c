// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/hyperparams"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
)

// Graph implements train.ModelFn and returns the logits for the batch of images in inputs[0],
// shaped [batchSize, classes.NumClasses].
//
// The hyperparameters are read from the context (see hyperparams.Set.SetContextParams):
//
//   - 3 blocks of: convolution (same padding) -> activation -> 2x2 max-pooling -> dropout.
//   - Flatten, dense layer with denseUnits and relu, dropout.
//   - Dense layer with one logit per class.
//
// Dropout is only active during training. The softmax is left to the callers: the loss uses
// the logits directly, and inference applies the softmax.
func Graph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec // Not used.
	images := inputs[0]
	g := images.Graph()
	dtype := images.DType()
	if images.Rank() != 4 {
		exceptions.Panicf("model expects images shaped [batchSize, %d, %d, %d], got %s",
			preprocess.ImageSize, preprocess.ImageSize, preprocess.NumChannels, images.Shape())
	}
	batchSize := images.Shape().Dimensions[0]
	images.AssertDims(batchSize, preprocess.ImageSize, preprocess.ImageSize, preprocess.NumChannels)

	hp, err := hyperparams.FromContext(ctx)
	if err != nil {
		panic(err)
	}
	ctx = ctx.In(Scope)
	dropoutRate := graph.Scalar(g, dtype, hp.DropoutRate)

	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		newCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return newCtx
	}

	logits := images
	spatial := preprocess.ImageSize
	for _, filters := range hp.ConvLayers.Filters {
		logits = layers.Convolution(nextCtx("conv"), logits).
			Channels(filters).
			KernelSize(hp.ConvLayers.KernelSize).
			PadSame().
			Done()
		logits.AssertDims(batchSize, spatial, spatial, filters)
		logits = applyActivation(hp.ConvLayers.Activation, logits)
		logits = graph.MaxPool(logits).Window(2).Done()
		spatial /= 2
		logits.AssertDims(batchSize, spatial, spatial, filters)
		logits = layers.DropoutNormalize(nextCtx("dropout"), logits, dropoutRate, true)
	}

	logits = graph.Reshape(logits, batchSize, -1)
	logits = layers.Dense(nextCtx("dense"), logits, true, hp.DenseUnits)
	logits = activations.Relu(logits)
	logits = layers.DropoutNormalize(nextCtx("dropout"), logits, dropoutRate, true)
	logits = layers.Dense(nextCtx("dense"), logits, true, classes.NumClasses)
	logits.AssertDims(batchSize, classes.NumClasses)
	return []*graph.Node{logits}
}

// applyActivation applies one of the activations in hyperparams.ActivationOptions.
func applyActivation(name string, x *graph.Node) *graph.Node {
	switch name {
	case "relu":
		return activations.Relu(x)
	case "elu":
		return Elu(x)
	case "selu":
		return activations.Selu(x)
	case "tanh":
		return graph.Tanh(x)
	}
	exceptions.Panicf("unknown activation %q, valid values are %q", name, hyperparams.ActivationOptions)
	return nil
}

// Elu is the exponential linear unit: x if x > 0, e^x - 1 otherwise.
func Elu(x *graph.Node) *graph.Node {
	g := x.Graph()
	// The exponential only sees non-positive values, so its gradient is never inf*0 for large x.
	negative := graph.MinusOne(graph.Exp(graph.MinScalar(x, 0)))
	return graph.Where(graph.GreaterThan(x, graph.ScalarZero(g, x.DType())), x, negative)
}

// Probabilities is the inference graph: the softmax over the logits of Graph.
func Probabilities(ctx *context.Context, images *graph.Node) *graph.Node {
	logits := Graph(ctx, nil, []*graph.Node{images})[0]
	return graph.Softmax(logits, -1)
}
