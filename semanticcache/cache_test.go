// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package semanticcache

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/qacache/embeddings"
	"github.com/mattermost/qacache/enhancer"
	"github.com/mattermost/qacache/vectorindex"
	"github.com/mattermost/qacache/vectorindex/memindex"
)

// stubEnhancer enhances without a model call: the summary is the question
// itself and the alternatives are whatever the test configured.
type stubEnhancer struct {
	alternatives map[string][]string
	failing      bool
}

func (s *stubEnhancer) Enhance(_ context.Context, question, answer string) enhancer.Enhanced {
	if s.failing {
		return enhancer.Fallback(question, answer)
	}

	return enhancer.Enhanced{
		QuestionSummary:      question,
		AnswerSummary:        answer,
		Keywords:             []string{"test"},
		Category:             "equipment",
		Difficulty:           enhancer.DifficultyBeginner,
		AlternativeQuestions: s.alternatives[question],
	}
}

type failingProvider struct{}

func (failingProvider) CreateEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding provider unavailable")
}

func (failingProvider) BatchCreateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding provider unavailable")
}

func (failingProvider) Dimensions() int { return 8 }

type emptyVectorProvider struct{}

func (emptyVectorProvider) CreateEmbedding(context.Context, string) ([]float32, error) {
	return []float32{}, nil
}

func (emptyVectorProvider) BatchCreateEmbeddings(context.Context, []string) ([][]float32, error) {
	return [][]float32{}, nil
}

func (emptyVectorProvider) Dimensions() int { return 8 }

type failingIndex struct{}

func (failingIndex) Upsert(context.Context, []vectorindex.Entry) error {
	return fmt.Errorf("index unreachable")
}

func (failingIndex) Query(context.Context, []float32, int, map[string]string) ([]vectorindex.Match, error) {
	return nil, fmt.Errorf("index unreachable")
}

func (failingIndex) Stats(context.Context) (vectorindex.Stats, error) {
	return vectorindex.Stats{}, fmt.Errorf("index unreachable")
}

func newTestCache(t *testing.T, index vectorindex.Index, enh Enhancer) *Cache {
	t.Helper()
	if index == nil {
		index = memindex.New()
	}
	if enh == nil {
		enh = &stubEnhancer{}
	}

	return New(index, embeddings.NewMockProvider(64), enh, Config{}, nil)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips a stored answer", func(t *testing.T) {
		cache := newTestCache(t, nil, nil)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		result := cache.Lookup(ctx, "ラケットの選び方は？")
		assert.True(t, result.Found)
		assert.Equal(t, "初心者は軽量ラケットがおすすめです。", result.Answer)
		assert.InDelta(t, 1.0, result.Score, 0.001)
		assert.NotEmpty(t, result.ID)
		assert.Equal(t, "equipment", result.Category)
		assert.NotEmpty(t, result.CachedAt)
	})

	t.Run("matches a stored paraphrase and returns the canonical answer", func(t *testing.T) {
		enh := &stubEnhancer{alternatives: map[string][]string{
			"ラケットの選び方は？": {"ラケットはどう選べばいい？"},
		}}
		cache := newTestCache(t, nil, enh)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		result := cache.Lookup(ctx, "ラケットはどう選べばいい？")
		assert.True(t, result.Found)
		assert.Equal(t, "初心者は軽量ラケットがおすすめです。", result.Answer)
		assert.Contains(t, result.ID, "-alt-")
	})

	t.Run("misses when the nearest neighbor scores below threshold", func(t *testing.T) {
		cache := newTestCache(t, nil, nil)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		result := cache.Lookup(ctx, "明日の天気はどうですか？")
		assert.False(t, result.Found)
		assert.Empty(t, result.Answer)
		assert.Empty(t, result.ID)
	})

	t.Run("misses on an empty question", func(t *testing.T) {
		cache := newTestCache(t, nil, nil)

		result := cache.Lookup(ctx, "   ")
		assert.False(t, result.Found)
	})

	t.Run("misses on an empty index", func(t *testing.T) {
		cache := newTestCache(t, nil, nil)

		result := cache.Lookup(ctx, "practice schedule?")
		assert.False(t, result.Found)
	})

	t.Run("degrades to a miss when the index is unreachable", func(t *testing.T) {
		cache := newTestCache(t, failingIndex{}, nil)

		result := cache.Lookup(ctx, "practice schedule?")
		assert.False(t, result.Found)
	})

	t.Run("degrades to a miss when embedding fails", func(t *testing.T) {
		cache := New(memindex.New(), failingProvider{}, &stubEnhancer{}, Config{}, nil)

		result := cache.Lookup(ctx, "practice schedule?")
		assert.False(t, result.Found)
	})

	t.Run("treats an empty embedding vector as a failure", func(t *testing.T) {
		cache := New(memindex.New(), emptyVectorProvider{}, &stubEnhancer{}, Config{}, nil)

		result := cache.Lookup(ctx, "practice schedule?")
		assert.False(t, result.Found)
	})

	t.Run("consults the fallback index when the primary is empty", func(t *testing.T) {
		fallback := memindex.New()
		primary := memindex.New()

		// Seed only the fallback
		seedCache := newTestCache(t, fallback, nil)
		require.True(t, seedCache.Store(ctx, "ガットの張り替え時期は？", "3ヶ月ごとが目安です。"))

		cache := newTestCache(t, primary, nil).WithFallbackIndex(fallback)

		result := cache.Lookup(ctx, "ガットの張り替え時期は？")
		assert.True(t, result.Found)
		assert.Equal(t, "3ヶ月ごとが目安です。", result.Answer)
	})

	t.Run("does not consult the fallback index when the primary has entries", func(t *testing.T) {
		fallback := memindex.New()
		primary := memindex.New()

		seedFallback := newTestCache(t, fallback, nil)
		require.True(t, seedFallback.Store(ctx, "ガットの張り替え時期は？", "fallback answer"))

		seedPrimary := newTestCache(t, primary, nil)
		require.True(t, seedPrimary.Store(ctx, "シャトルの保管方法は？", "primary answer"))

		cache := newTestCache(t, primary, nil).WithFallbackIndex(fallback)

		result := cache.Lookup(ctx, "ガットの張り替え時期は？")
		assert.False(t, result.Found, "populated primary must not fall through to the fallback index")
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("persists one canonical entry plus one per accepted paraphrase", func(t *testing.T) {
		index := memindex.New()
		enh := &stubEnhancer{alternatives: map[string][]string{
			"自家歯牙移植のメリットは?": {"自家歯の移植の利点は?", "歯の移植は何が良い?"},
		}}
		cache := newTestCache(t, index, enh)

		require.True(t, cache.Store(ctx, "自家歯牙移植のメリットは?", "天然歯を保存できます。"))

		stats, err := index.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, stats.TotalVectors)
	})

	t.Run("paraphrase entries carry parent id and shared answer metadata", func(t *testing.T) {
		index := memindex.New()
		enh := &stubEnhancer{alternatives: map[string][]string{
			"ラケットの選び方は？": {"ラケットはどう選べばいい？"},
		}}
		cache := newTestCache(t, index, enh)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		vector, err := embeddings.NewMockProvider(64).CreateEmbedding(ctx, "ラケットはどう選べばいい？")
		require.NoError(t, err)

		matches, err := index.Query(ctx, vector, 1, nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)

		match := matches[0]
		assert.True(t, strings.HasSuffix(match.ID, "-alt-0"))
		assert.Equal(t, EntryKindParaphrase, match.Metadata[metaEntryKind])
		assert.Equal(t, strings.TrimSuffix(match.ID, "-alt-0"), match.Metadata[metaParentID])
		assert.Equal(t, "初心者は軽量ラケットがおすすめです。", match.Metadata[metaAnswer])
		assert.Contains(t, match.Metadata, metaParaphraseScore)
	})

	t.Run("rejects trivially short paraphrases", func(t *testing.T) {
		index := memindex.New()
		enh := &stubEnhancer{alternatives: map[string][]string{
			"ラケットの選び方は？": {"短い", "", "  ", "ラケットはどう選べばいい？"},
		}}
		cache := newTestCache(t, index, enh)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		stats, err := index.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.TotalVectors, "only the canonical entry and the one long paraphrase")
	})

	t.Run("skips a near-duplicate write but reports success", func(t *testing.T) {
		index := memindex.New()
		cache := newTestCache(t, index, nil)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))
		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "別の回答です。"))

		stats, err := index.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.TotalVectors, "second write must be deduplicated")

		// The original answer wins
		result := cache.Lookup(ctx, "ラケットの選び方は？")
		require.True(t, result.Found)
		assert.Equal(t, "初心者は軽量ラケットがおすすめです。", result.Answer)
	})

	t.Run("still stores when enhancement degrades to the fallback", func(t *testing.T) {
		index := memindex.New()
		cache := newTestCache(t, index, &stubEnhancer{failing: true})

		require.True(t, cache.Store(ctx, "天気は?", "晴れです"))

		result := cache.Lookup(ctx, "天気は?")
		require.True(t, result.Found)
		assert.Equal(t, "晴れです", result.Answer)
		assert.Equal(t, enhancer.CategoryFallback, result.Category)
	})

	t.Run("returns false on empty inputs", func(t *testing.T) {
		cache := newTestCache(t, nil, nil)

		assert.False(t, cache.Store(ctx, "", "answer"))
		assert.False(t, cache.Store(ctx, "question", ""))
	})

	t.Run("returns false when the index is unreachable", func(t *testing.T) {
		cache := newTestCache(t, failingIndex{}, nil)

		assert.False(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))
	})

	t.Run("returns false when embedding fails", func(t *testing.T) {
		cache := New(memindex.New(), failingProvider{}, &stubEnhancer{}, Config{}, nil)

		assert.False(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))
	})

	t.Run("entries are scoped to the configured system type", func(t *testing.T) {
		index := memindex.New()
		cache := newTestCache(t, index, nil)

		require.True(t, cache.Store(ctx, "ラケットの選び方は？", "初心者は軽量ラケットがおすすめです。"))

		vector, err := embeddings.NewMockProvider(64).CreateEmbedding(ctx, "ラケットの選び方は？")
		require.NoError(t, err)

		matches, err := index.Query(ctx, vector, 5, map[string]string{metaSystemType: "unrelated"})
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestConfigDefaults(t *testing.T) {
	cache := newTestCache(t, nil, nil)

	assert.InDelta(t, defaultSimilarityThreshold, cache.config.SimilarityThreshold, 0.0001)
	assert.InDelta(t, defaultDuplicateThreshold, cache.config.DuplicateThreshold, 0.0001)
	assert.Equal(t, defaultTopK, cache.config.TopK)
	assert.Equal(t, defaultMinParaphraseLength, cache.config.MinParaphraseLength)
	assert.Equal(t, defaultSystemType, cache.config.SystemType)
}
