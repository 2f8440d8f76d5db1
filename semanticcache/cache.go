// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package semanticcache answers questions from previously stored, sufficiently
// similar question/answer pairs before a fresh model call is paid for.
//
// The cache is stateless and reentrant: all state lives in the vector index,
// entries are immutable and inserted under fresh ids. A lookup failure always
// degrades to a miss and a store failure to a false return; neither ever
// propagates an error into the chat-turn path.
package semanticcache

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/qacache/embeddings"
	"github.com/mattermost/qacache/enhancer"
	"github.com/mattermost/qacache/metrics"
	"github.com/mattermost/qacache/vectorindex"
)

const (
	defaultSimilarityThreshold = 0.80
	defaultDuplicateThreshold  = 0.95
	defaultTopK                = 5
	defaultMinParaphraseLength = 5
	defaultSystemType          = "chatbot_response"
)

// Enhancer is what the cache needs from question enrichment. Implementations
// must never fail; they degrade to a deterministic fallback instead.
type Enhancer interface {
	Enhance(ctx context.Context, question, answer string) enhancer.Enhanced
}

type Config struct {
	// SimilarityThreshold is the minimum score for a lookup hit.
	SimilarityThreshold float32
	// DuplicateThreshold is the higher score above which a write is skipped
	// as a near-duplicate. Distinct from the lookup threshold.
	DuplicateThreshold float32
	// TopK is how many neighbors each index query asks for.
	TopK int
	// MinParaphraseLength rejects trivially short paraphrases, in runes.
	MinParaphraseLength int
	// SystemType scopes entries within a shared index.
	SystemType string
}

func (c *Config) setDefaults() {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = defaultSimilarityThreshold
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = defaultDuplicateThreshold
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.MinParaphraseLength <= 0 {
		c.MinParaphraseLength = defaultMinParaphraseLength
	}
	if c.SystemType == "" {
		c.SystemType = defaultSystemType
	}
}

// Cache is the lookup engine and writer over an external vector index.
type Cache struct {
	index    vectorindex.Index
	fallback vectorindex.Index
	embedder embeddings.Provider
	enhancer Enhancer
	metrics  metrics.Metrics
	log      *logrus.Logger
	config   Config
}

// New creates a cache. The fallback index and metrics may be nil.
func New(index vectorindex.Index, embedder embeddings.Provider, enh Enhancer, config Config, log *logrus.Logger) *Cache {
	config.setDefaults()
	if log == nil {
		log = logrus.New()
	}

	return &Cache{
		index:    index,
		embedder: embedder,
		enhancer: enh,
		config:   config,
		log:      log,
	}
}

// WithFallbackIndex configures a secondary index consulted once when the
// primary holds no vectors at all (cold index resiliency).
func (c *Cache) WithFallbackIndex(index vectorindex.Index) *Cache {
	c.fallback = index
	return c
}

// WithMetrics attaches a metrics collector.
func (c *Cache) WithMetrics(m metrics.Metrics) *Cache {
	c.metrics = m
	return c
}

// Lookup searches for a cached answer to the question. Any internal failure
// degrades to a miss; the caller then generates a fresh answer.
func (c *Cache) Lookup(ctx context.Context, question string) LookupResult {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveLookupDuration(time.Since(start).Seconds())
		}
	}()

	if strings.TrimSpace(question) == "" {
		return c.miss()
	}

	enhanced := c.enhancer.Enhance(ctx, question, "")

	vector, err := c.embedQuestion(ctx, enhanced, question)
	if err != nil {
		c.log.WithError(err).Warn("Failed to embed lookup question")
		return c.miss()
	}

	matches := c.queryWithFallback(ctx, vector)
	if len(matches) == 0 {
		return c.miss()
	}

	// The index contract returns matches best-first; no resort.
	best := matches[0]
	c.log.WithFields(logrus.Fields{
		"score":     best.Score,
		"threshold": c.config.SimilarityThreshold,
		"id":        best.ID,
	}).Debug("Best cache candidate")

	if best.Score < c.config.SimilarityThreshold {
		return c.miss()
	}

	if c.metrics != nil {
		c.metrics.IncrementCacheHits()
	}

	return resultFromMatch(best)
}

// Store persists a freshly generated answer, its enrichment metadata, and one
// sibling entry per accepted paraphrase. It returns true when the answer was
// persisted or intentionally skipped as a near-duplicate, false on a hard
// index failure. Enhancement failures never block the write.
func (c *Cache) Store(ctx context.Context, question, answer string) bool {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveStoreDuration(time.Since(start).Seconds())
		}
	}()

	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return false
	}

	enhanced := c.enhancer.Enhance(ctx, question, answer)

	vector, err := c.embedQuestion(ctx, enhanced, question)
	if err != nil {
		c.log.WithError(err).Error("Failed to embed question for storage")
		c.incrementStoreFailures()
		return false
	}

	if c.isNearDuplicate(ctx, vector) {
		if c.metrics != nil {
			c.metrics.IncrementDuplicateSkips()
		}
		c.log.Debug("Skipping near-duplicate cache write")
		return true
	}

	id := uuid.NewString()
	metadata := c.entryMetadata(question, answer, enhanced, time.Now().UTC())

	err = c.index.Upsert(ctx, []vectorindex.Entry{{
		ID:       id,
		Vector:   vector,
		Metadata: metadata,
	}})
	if err != nil {
		c.log.WithError(err).Error("Failed to store canonical cache entry")
		c.incrementStoreFailures()
		return false
	}

	if c.metrics != nil {
		c.metrics.IncrementCacheStores()
	}
	c.log.WithField("id", id).Debug("Stored canonical cache entry")

	c.storeParaphrases(ctx, id, vector, metadata, enhanced.AlternativeQuestions)

	return true
}

// Stats reports the size of the backing index.
func (c *Cache) Stats(ctx context.Context) (vectorindex.Stats, error) {
	return c.index.Stats(ctx)
}

// embedQuestion embeds the enhancer summary. Both the read and write paths go
// through here: embedding different representations of the same question on
// the two sides silently breaks recall against existing entries.
func (c *Cache) embedQuestion(ctx context.Context, enhanced enhancer.Enhanced, question string) ([]float32, error) {
	text := enhanced.QuestionSummary
	if text == "" {
		text = question
	}

	if c.metrics != nil {
		c.metrics.IncrementEmbeddingRequests()
	}

	vector, err := c.embedder.CreateEmbedding(ctx, text)
	if err == nil && len(vector) == 0 {
		err = embeddings.ErrEmptyEmbedding
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrementEmbeddingErrors()
		}
		return nil, err
	}

	return vector, nil
}

func (c *Cache) queryWithFallback(ctx context.Context, vector []float32) []vectorindex.Match {
	filter := map[string]string{metaSystemType: c.config.SystemType}

	matches, err := c.index.Query(ctx, vector, c.config.TopK, filter)
	if err != nil {
		c.log.WithError(err).Warn("Cache index query failed")
		return nil
	}

	if len(matches) == 0 {
		// Entries written before namespacing carry no system_type tag;
		// retry once unfiltered before giving up on this index.
		matches, err = c.index.Query(ctx, vector, c.config.TopK, nil)
		if err != nil {
			c.log.WithError(err).Warn("Unfiltered cache index query failed")
			return nil
		}
	}

	if len(matches) > 0 || c.fallback == nil {
		return matches
	}

	stats, err := c.index.Stats(ctx)
	if err != nil || stats.TotalVectors > 0 {
		return nil
	}

	c.log.Debug("Primary index is empty, retrying against fallback index")
	matches, err = c.fallback.Query(ctx, vector, c.config.TopK, filter)
	if err != nil {
		c.log.WithError(err).Warn("Fallback index query failed")
		return nil
	}

	return matches
}

func (c *Cache) isNearDuplicate(ctx context.Context, vector []float32) bool {
	filter := map[string]string{metaSystemType: c.config.SystemType}

	matches, err := c.index.Query(ctx, vector, c.config.TopK, filter)
	if err != nil {
		// Guard is best-effort; if the index is down the upsert below will
		// surface the hard failure.
		c.log.WithError(err).Warn("Duplicate-guard query failed")
		return false
	}

	return len(matches) > 0 && matches[0].Score >= c.config.DuplicateThreshold
}

// storeParaphrases fans the canonical answer out under each accepted
// alternative phrasing. Paraphrases are accepted regardless of how similar
// they score against the canonical embedding; the similarity is recorded for
// observability only, since the point of the fan-out is recall breadth.
// Failures here are logged and swallowed: the canonical entry is already
// persisted.
func (c *Cache) storeParaphrases(ctx context.Context, parentID string, canonicalVector []float32, canonicalMetadata map[string]any, alternatives []string) {
	stored := 0
	for i, alternative := range alternatives {
		alternative = strings.TrimSpace(alternative)
		if utf8.RuneCountInString(alternative) <= c.config.MinParaphraseLength {
			continue
		}

		if c.metrics != nil {
			c.metrics.IncrementEmbeddingRequests()
		}
		vector, err := c.embedder.CreateEmbedding(ctx, alternative)
		if err != nil || len(vector) == 0 {
			if c.metrics != nil {
				c.metrics.IncrementEmbeddingErrors()
			}
			c.log.WithError(err).WithField("paraphrase", alternative).Warn("Failed to embed paraphrase")
			continue
		}

		similarity := vectorindex.CosineSimilarity(canonicalVector, vector)
		entryID := fmt.Sprintf("%s-alt-%d", parentID, i)

		err = c.index.Upsert(ctx, []vectorindex.Entry{{
			ID:       entryID,
			Vector:   vector,
			Metadata: paraphraseMetadata(canonicalMetadata, parentID, alternative, similarity),
		}})
		if err != nil {
			c.log.WithError(err).WithField("id", entryID).Warn("Failed to store paraphrase entry")
			continue
		}

		c.log.WithFields(logrus.Fields{
			"id":         entryID,
			"similarity": similarity,
		}).Debug("Stored paraphrase entry")
		stored++
	}

	if c.metrics != nil {
		c.metrics.AddParaphrasesStored(stored)
	}
}

func (c *Cache) incrementStoreFailures() {
	if c.metrics != nil {
		c.metrics.IncrementStoreFailures()
	}
}

func (c *Cache) miss() LookupResult {
	if c.metrics != nil {
		c.metrics.IncrementCacheMisses()
	}

	return LookupResult{Found: false}
}
