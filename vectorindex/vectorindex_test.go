// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		v := []float32{0.5, -0.3, 0.8}
		assert.InDelta(t, 1.0, CosineSimilarity(v, v), 0.0001)
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 0.0, CosineSimilarity(a, b), 0.0001)
	})

	t.Run("opposite vectors score -1", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{-1, -2, -3}
		assert.InDelta(t, -1.0, CosineSimilarity(a, b), 0.0001)
	})

	t.Run("scaling does not change the score", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{2, 4, 6}
		assert.InDelta(t, 1.0, CosineSimilarity(a, b), 0.0001)
	})

	t.Run("mismatched lengths score 0", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	})

	t.Run("empty vectors score 0", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity(nil, nil))
	})

	t.Run("zero-magnitude vectors score 0", func(t *testing.T) {
		assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})
}
