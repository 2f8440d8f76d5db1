// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("identical inputs embed identically", func(t *testing.T) {
		provider := NewMockProvider(64)

		first, err := provider.CreateEmbedding(ctx, "コートの予約方法は？")
		require.NoError(t, err)
		second, err := provider.CreateEmbedding(ctx, "コートの予約方法は？")
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("distinct inputs embed distinctly", func(t *testing.T) {
		provider := NewMockProvider(64)

		first, err := provider.CreateEmbedding(ctx, "one question")
		require.NoError(t, err)
		second, err := provider.CreateEmbedding(ctx, "a different question")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("respects the configured dimensions", func(t *testing.T) {
		provider := NewMockProvider(32)
		assert.Equal(t, 32, provider.Dimensions())

		embedding, err := provider.CreateEmbedding(ctx, "text")
		require.NoError(t, err)
		assert.Len(t, embedding, 32)
	})

	t.Run("defaults the dimensions when unset", func(t *testing.T) {
		provider := NewMockProvider(0)
		assert.Equal(t, defaultMockDimensions, provider.Dimensions())
	})

	t.Run("batch matches the single path", func(t *testing.T) {
		provider := NewMockProvider(16)

		single, err := provider.CreateEmbedding(ctx, "text")
		require.NoError(t, err)

		batch, err := provider.BatchCreateEmbeddings(ctx, []string{"text", "other"})
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, single, batch[0])
	})
}
