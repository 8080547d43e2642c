// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset assembles labeled image sets from a directory-per-class layout:
//
//	<root>/<ClassName>/<image>.jpg
//	<root>/<ClassName>/<image>.png
//
// where ClassName is one of classes.Names(). Files with other extensions are ignored.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
	"k8s.io/klog/v2"
)

// Extensions lists the accepted image file extensions. Matching ignores case.
var Extensions = []string{".jpg", ".png"}

// LabeledImageSet holds images and their labels: Labels[i] is the class of Images[i].
//
// It should be treated as immutable once created.
type LabeledImageSet struct {
	// Root is the directory the set was loaded from, if any.
	Root string

	Images []preprocess.Source
	Labels []classes.Label
}

// New creates a LabeledImageSet from in-memory images and labels. It checks that both have the
// same length and that all labels are valid.
func New(images []preprocess.Source, labels []classes.Label) (*LabeledImageSet, error) {
	if len(images) != len(labels) {
		return nil, errors.Errorf("%d images but %d labels given", len(images), len(labels))
	}
	for i, l := range labels {
		if !l.IsValid() {
			return nil, errors.Errorf("label #%d is invalid (%d)", i, int(l))
		}
	}
	return &LabeledImageSet{Images: slices.Clone(images), Labels: slices.Clone(labels)}, nil
}

// Len returns the number of examples.
func (s *LabeledImageSet) Len() int {
	return len(s.Labels)
}

// Counts returns the number of examples of each class, indexed by classes.Label.
func (s *LabeledImageSet) Counts() []int {
	counts := make([]int, classes.NumClasses)
	for _, l := range s.Labels {
		counts[l]++
	}
	return counts
}

// String implements fmt.Stringer.
func (s *LabeledImageSet) String() string {
	counts := s.Counts()
	parts := make([]string, 0, len(counts))
	for l, c := range counts {
		if c > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", classes.Label(l), c))
		}
	}
	return fmt.Sprintf("LabeledImageSet(%d examples: %s)", s.Len(), strings.Join(parts, ", "))
}

// PathError is returned when the dataset root or one of the category directories is missing or
// unreadable.
type PathError struct {
	Path string

	// Category is the name of the category whose directory failed, empty if it is the root.
	Category string
	Err      error
}

// Error implements error.
func (e *PathError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("dataset root %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("dataset category %s at %q: %v", e.Category, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PathError) Unwrap() error { return e.Err }

// ErrNotDirectory is the cause of a PathError when the path exists but is not a directory.
var ErrNotDirectory = errors.New("not a directory")

func checkDir(path, category string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &PathError{Path: path, Category: category, Err: err}
	}
	if !info.IsDir() {
		return &PathError{Path: path, Category: category, Err: ErrNotDirectory}
	}
	return nil
}

func isImageFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// ListCategory returns the paths of the image files directly under root/<category>, sorted by
// file name.
func ListCategory(root string, category classes.Label) ([]string, error) {
	dir := filepath.Join(root, category.String())
	if err := checkDir(dir, category.String()); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PathError{Path: dir, Category: category.String(), Err: err}
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

// checkCategories returns classes.All() if categories is empty, and fails on invalid or
// repeated categories.
func checkCategories(categories []classes.Label) ([]classes.Label, error) {
	if len(categories) == 0 {
		return classes.All(), nil
	}
	seen := make(map[classes.Label]bool, len(categories))
	for _, c := range categories {
		if !c.IsValid() {
			return nil, errors.Errorf("invalid category %s", c)
		}
		if seen[c] {
			return nil, errors.Errorf("category %s given more than once", c)
		}
		seen[c] = true
	}
	return categories, nil
}

// Load lists the images of each category, in the order given, into a LabeledImageSet. Within a
// category the files are sorted by name. If categories is empty, all classes are loaded.
//
// Images are referenced by path (as preprocess.File) and are only read when preprocessed.
//
// If root or any category directory is missing or unreadable it returns a *PathError and no
// partial set.
func Load(root string, categories []classes.Label) (*LabeledImageSet, error) {
	categories, err := checkCategories(categories)
	if err != nil {
		return nil, err
	}
	if err := checkDir(root, ""); err != nil {
		return nil, err
	}
	set := &LabeledImageSet{Root: root}
	for _, category := range categories {
		paths, err := ListCategory(root, category)
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("dataset %q: %d images of %s", root, len(paths), category)
		for _, path := range paths {
			set.Images = append(set.Images, preprocess.File(path))
			set.Labels = append(set.Labels, category)
		}
	}
	return set, nil
}

// Entry is one image of the dataset manifest.
type Entry struct {
	Path  string        `json:"path"`
	Label classes.Label `json:"label"`
}

// Manifest lists the images of each category, in the same order Load does. Paths are relative
// to root, with forward slashes.
func Manifest(root string, categories []classes.Label) ([]Entry, error) {
	set, err := Load(root, categories)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, set.Len())
	for i, src := range set.Images {
		path := string(src.(preprocess.File))
		if rel, err := filepath.Rel(root, path); err == nil {
			path = rel
		}
		entries[i] = Entry{Path: filepath.ToSlash(path), Label: set.Labels[i]}
	}
	return entries, nil
}
