// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package preprocess converts image sources into the normalized tensors fed to the model.
//
// Images are decoded, resized to ImageSize x ImageSize with a single resampling filter (the same
// one is used for training and inference) and converted to float32 values in [0, 1].
package preprocess

import (
	"context"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/internal/workerspool"
	"k8s.io/klog/v2"
)

const (
	// ImageSize is the height and width of the images fed to the model.
	ImageSize = 224

	// NumChannels is the number of color channels (RGB) fed to the model.
	NumChannels = 3
)

// DType of the generated tensors.
var DType = dtypes.Float32

// DefaultFilter is the resampling filter used to resize images.
var DefaultFilter = imaging.NearestNeighbor

// Preprocessor decodes and resizes images, and converts them to tensors.
//
// It is safe for concurrent use, as long as its configuration is not changed.
type Preprocessor struct {
	size     int
	filter   imaging.ResampleFilter
	pool     *workerspool.Pool
	progress func()
}

// New returns a Preprocessor with the default filter and parallelism (runtime.NumCPU()).
func New() *Preprocessor {
	return &Preprocessor{
		size:   ImageSize,
		filter: DefaultFilter,
		pool:   workerspool.New(),
	}
}

// WithFilter sets the resampling filter used to resize images.
func (p *Preprocessor) WithFilter(filter imaging.ResampleFilter) *Preprocessor {
	p.filter = filter
	return p
}

// WithParallelism sets the maximum number of images preprocessed in parallel in batch calls.
// 0 preprocesses sequentially.
func (p *Preprocessor) WithParallelism(n int) *Preprocessor {
	p.pool.SetMaxParallelism(n)
	return p
}

// WithProgress sets a function called after each image of a batch is preprocessed. It may be
// called concurrently.
func (p *Preprocessor) WithProgress(fn func()) *Preprocessor {
	p.progress = fn
	return p
}

// Size returns the height and width of the resized images.
func (p *Preprocessor) Size() int { return p.size }

// Image decodes src and resizes it to Size() x Size().
func (p *Preprocessor) Image(src Source) (image.Image, error) {
	img, err := Decode(src)
	if err != nil {
		return nil, err
	}
	return p.Resize(img), nil
}

// Resize returns img resized to Size() x Size(), with its bounds starting at (0, 0).
func (p *Preprocessor) Resize(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == p.size && bounds.Dy() == p.size {
		if bounds.Min == (image.Point{}) {
			return img
		}
		// Tensor conversion reads pixels starting at (0, 0).
		return imaging.Clone(img)
	}
	return imaging.Resize(img, p.size, p.size, p.filter)
}

// Images decodes and resizes every source, in parallel. The image at position i of the result
// always comes from sources[i].
//
// The first failure aborts the batch and is returned as a *BatchError.
func (p *Preprocessor) Images(ctx context.Context, sources []Source) ([]image.Image, error) {
	imgs := make([]image.Image, len(sources))
	err := p.pool.ForEach(ctx, len(sources), func(i int) error {
		img, err := p.Image(sources[i])
		if err != nil {
			return &BatchError{Index: i, Err: err}
		}
		imgs[i] = img
		if p.progress != nil {
			p.progress()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	klog.V(2).Infof("preprocessed %d images", len(imgs))
	return imgs, nil
}

// Tensor preprocesses a single image into a tensor shaped [1, Size(), Size(), 3].
//
// The caller owns the returned tensor, and should finalize it when done.
func (p *Preprocessor) Tensor(src Source) (*tensors.Tensor, error) {
	img, err := p.Image(src)
	if err != nil {
		return nil, err
	}
	return ToTensor([]image.Image{img})
}

// Batch preprocesses the sources into a tensor shaped [len(sources), Size(), Size(), 3].
//
// The caller owns the returned tensor, and should finalize it when done.
func (p *Preprocessor) Batch(ctx context.Context, sources []Source) (*tensors.Tensor, error) {
	if len(sources) == 0 {
		return nil, errors.New("cannot preprocess an empty batch")
	}
	imgs, err := p.Images(ctx, sources)
	if err != nil {
		return nil, err
	}
	return ToTensor(imgs)
}

// ToTensor converts images, all of the same size, to a float32 tensor shaped
// [len(imgs), height, width, 3], with values divided by 255.
func ToTensor(imgs []image.Image) (t *tensors.Tensor, err error) {
	if len(imgs) == 0 {
		return nil, errors.New("no images to convert")
	}
	size := imgs[0].Bounds().Size()
	for i, img := range imgs[1:] {
		if img.Bounds().Size() != size {
			return nil, errors.Errorf("image #%d has size %s, but image #0 has size %s", i+1, img.Bounds().Size(), size)
		}
	}
	err = exceptions.TryCatch[error](func() {
		t = timage.ToTensor(DType).Batch(imgs)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "converting images to tensor")
	}
	if t == nil {
		return nil, errors.Errorf("failed to convert images to %s tensor", DType)
	}
	return t, nil
}

// Preprocess converts src to a [1, ImageSize, ImageSize, 3] tensor using the default
// Preprocessor configuration.
func Preprocess(src Source) (*tensors.Tensor, error) {
	return New().WithParallelism(0).Tensor(src)
}

var filtersByName = map[string]imaging.ResampleFilter{
	"nearest":    imaging.NearestNeighbor,
	"bilinear":   imaging.Linear,
	"box":        imaging.Box,
	"catmullrom": imaging.CatmullRom,
	"lanczos":    imaging.Lanczos,
}

// FilterFromName returns the resampling filter with the given name: one of "nearest",
// "bilinear", "box", "catmullrom" or "lanczos".
func FilterFromName(name string) (imaging.ResampleFilter, error) {
	filter, found := filtersByName[strings.ToLower(name)]
	if !found {
		return imaging.ResampleFilter{}, errors.Errorf("unknown resize filter %q", name)
	}
	return filter, nil
}
