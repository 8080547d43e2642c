// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedant-zeus/eye1/pkg/classes"
	"github.com/vedant-zeus/eye1/pkg/preprocess"
)

// createTree creates root/<dir>/<file> for each dir and file given, with dummy contents.
func createTree(t *testing.T, root string, files map[string][]string) {
	for dir, names := range files {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(root, dir, name), []byte("x"), 0o644))
		}
	}
}

func fullTree(t *testing.T) string {
	root := t.TempDir()
	createTree(t, root, map[string][]string{
		"Bulging_Eyes": {"b2.jpg", "b1.png", "notes.txt"},
		"Cataracts":    {"c.JPG"},
		"Crossed_Eyes": {},
		"Glaucoma":     {"g3.png", "g10.png", "g1.png", "g.jpeg"},
		"Uveitis":      {"u.png"},
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Glaucoma", "nested.png"), 0o755))
	return root
}

func TestLoad(t *testing.T) {
	root := fullTree(t)
	set, err := Load(root, classes.All())
	require.NoError(t, err)
	require.Equal(t, len(set.Images), len(set.Labels))
	for _, l := range set.Labels {
		require.True(t, l >= 0 && l < classes.NumClasses)
	}

	var names []string
	for _, src := range set.Images {
		names = append(names, filepath.Base(string(src.(preprocess.File))))
	}
	assert.Equal(t, []string{"b1.png", "b2.jpg", "c.JPG", "g1.png", "g10.png", "g3.png", "u.png"}, names)
	assert.Equal(t, []classes.Label{
		classes.BulgingEyes, classes.BulgingEyes, classes.Cataracts,
		classes.Glaucoma, classes.Glaucoma, classes.Glaucoma, classes.Uveitis,
	}, set.Labels)
	assert.Equal(t, []int{2, 1, 0, 3, 1}, set.Counts())
	assert.Equal(t, root, set.Root)
	assert.Contains(t, set.String(), "Glaucoma=3")

	// Loading is reproducible.
	again, err := Load(root, nil)
	require.NoError(t, err)
	assert.Equal(t, set.Images, again.Images)

	// Only a subset of categories, in the order given.
	subset, err := Load(root, []classes.Label{classes.Uveitis, classes.Cataracts})
	require.NoError(t, err)
	assert.Equal(t, []classes.Label{classes.Uveitis, classes.Cataracts}, subset.Labels)

	_, err = Load(root, []classes.Label{classes.Uveitis, classes.Uveitis})
	require.Error(t, err)
}

func TestLoadMissingCategories(t *testing.T) {
	root := t.TempDir()
	createTree(t, root, map[string][]string{
		"Cataracts": {"1.jpg", "2.jpg"},
		"Glaucoma":  {"1.png", "2.png", "3.png"},
	})
	set, err := Load(root, classes.All())
	require.Error(t, err)
	assert.Nil(t, set)
	var pathErr *PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "Bulging_Eyes", pathErr.Category)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadPathErrors(t *testing.T) {
	var pathErr *PathError
	_, err := Load(filepath.Join(t.TempDir(), "nowhere"), nil)
	require.True(t, errors.As(err, &pathErr))
	assert.Empty(t, pathErr.Category)

	root := fullTree(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "Uveitis")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Uveitis"), []byte("not a dir"), 0o644))
	_, err = Load(root, nil)
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "Uveitis", pathErr.Category)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestManifest(t *testing.T) {
	root := fullTree(t)
	entries, err := Manifest(root, nil)
	require.NoError(t, err)
	require.Len(t, entries, 7)
	assert.Equal(t, Entry{Path: "Bulging_Eyes/b1.png", Label: classes.BulgingEyes}, entries[0])
	assert.Equal(t, Entry{Path: "Uveitis/u.png", Label: classes.Uveitis}, entries[6])
}

func TestNew(t *testing.T) {
	set, err := New([]preprocess.Source{[]byte{1}, []byte{2}}, []classes.Label{classes.Glaucoma, classes.Uveitis})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	_, err = New([]preprocess.Source{[]byte{1}}, nil)
	require.Error(t, err)
	_, err = New([]preprocess.Source{[]byte{1}}, []classes.Label{7})
	require.Error(t, err)
}
