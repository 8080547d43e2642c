// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package classes

import (
	"encoding/json"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogue(t *testing.T) {
	assert.Equal(t, []string{"Bulging_Eyes", "Cataracts", "Crossed_Eyes", "Glaucoma", "Uveitis"}, Names())
	all := All()
	require.Len(t, all, NumClasses)
	for i, l := range all {
		assert.Equal(t, Label(i), l)
		assert.True(t, l.IsValid())
		got, err := FromName(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	assert.Equal(t, Glaucoma, must.M1(FromName("glaucoma")))
	_, err := FromName("Conjunctivitis")
	require.Error(t, err)
	assert.False(t, Label(NumClasses).IsValid())
	assert.Equal(t, "Label(7)", Label(7).String())
}

func TestLabelJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Label{"disease": CrossedEyes})
	require.NoError(t, err)
	assert.JSONEq(t, `{"disease":"Crossed_Eyes"}`, string(data))

	var decoded map[string]Label
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, CrossedEyes, decoded["disease"])
	require.Error(t, json.Unmarshal([]byte(`{"disease":"Pinkeye"}`), &decoded))
}

func TestNamesIsACopy(t *testing.T) {
	names := Names()
	names[0] = "Conjunctivitis"
	assert.Equal(t, "Bulging_Eyes", BulgingEyes.String())
	assert.Equal(t, BulgingEyes, must.M1(FromName("Bulging_Eyes")))
	assert.Equal(t, "Bulging_Eyes", Names()[0])
}
