// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Source is an image source. The accepted types are:
//
//   - []byte: an encoded image (JPEG, PNG, GIF, BMP, TIFF or WebP).
//   - string: a data URI ("data:image/png;base64,...") or a file path.
//   - File: a file path.
//   - io.Reader: a stream with an encoded image.
//   - image.Image: an already decoded image.
type Source any

// File is the path to an image file.
type File string

// String implements fmt.Stringer.
func (f File) String() string { return string(f) }

// Describe returns a short description of src, used in error messages.
func Describe(src Source) string {
	switch s := src.(type) {
	case File:
		return string(s)
	case string:
		if strings.HasPrefix(s, "data:") {
			return "data URI"
		}
		return s
	case []byte:
		return fmt.Sprintf("%d encoded bytes", len(s))
	case image.Image:
		return fmt.Sprintf("in-memory %T", s)
	case io.Reader:
		return fmt.Sprintf("reader %T", s)
	case nil:
		return "nil source"
	default:
		return fmt.Sprintf("source of type %T", s)
	}
}

// Decode decodes src into an image.
//
// It returns a *DecodeError if the source data is not a valid image, or an
// *UnsupportedFormatError if src is of an unsupported type, is a data URI with a non-image
// media type, or holds an empty image.
func Decode(src Source) (img image.Image, err error) {
	desc := Describe(src)
	switch s := src.(type) {
	case image.Image:
		img = s
	case []byte:
		img, err = decodeReader(bytes.NewReader(s), desc)
	case io.Reader:
		img, err = decodeReader(s, desc)
	case File:
		img, err = decodeFile(string(s))
	case string:
		if strings.HasPrefix(s, "data:") {
			img, err = decodeDataURI(s)
		} else {
			img, err = decodeFile(s)
		}
	default:
		return nil, &UnsupportedFormatError{Source: desc, Reason: "unknown image source type"}
	}
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &UnsupportedFormatError{Source: desc, Reason: "nil image"}
	}
	if size := img.Bounds().Size(); size.X <= 0 || size.Y <= 0 {
		return nil, &UnsupportedFormatError{Source: desc, Reason: fmt.Sprintf("empty image of size %dx%d", size.X, size.Y)}
	}
	return img, nil
}

func decodeReader(r io.Reader, desc string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, &DecodeError{Source: desc, Err: err}
	}
	return img, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	return decodeReader(f, path)
}

// decodeDataURI decodes URIs of the form "data:[<media type>][;base64],<data>".
func decodeDataURI(uri string) (image.Image, error) {
	const desc = "data URI"
	header, payload, found := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !found {
		return nil, &DecodeError{Source: desc, Err: errors.New("missing ',' separating header and data")}
	}
	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if mediaType != "" && !strings.HasPrefix(mediaType, "image/") {
		return nil, &UnsupportedFormatError{Source: desc, Reason: fmt.Sprintf("media type %q is not an image", mediaType)}
	}
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders drop the padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var unescaped string
		unescaped, err = url.PathUnescape(payload)
		data = []byte(unescaped)
	}
	if err != nil {
		return nil, &DecodeError{Source: desc, Err: errors.Wrap(err, "decoding payload")}
	}
	return decodeReader(bytes.NewReader(data), desc)
}
