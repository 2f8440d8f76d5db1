// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package vectorindex defines the nearest-neighbor store the cache persists into.
// Backends own all persisted vectors and metadata; callers hold no state.
package vectorindex

import (
	"context"
	"math"
)

// Entry is a single vector with its attached metadata.
type Entry struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is one ranked query result. Scores are cosine similarity, best first.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Stats describes the current size of an index.
type Stats struct {
	TotalVectors int64 `json:"totalVectors"`
}

// Index is a nearest-neighbor store with atomic per-entry upsert.
// Query results are returned sorted by score descending. The filter, when
// non-nil, restricts matches to entries whose metadata values equal the
// given strings.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]Match, error)
	Stats(ctx context.Context) (Stats, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
