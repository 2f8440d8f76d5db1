// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package memindex provides an in-memory vectorindex.Index backed by an exact
// cosine scan. It is intended for tests and development mode, not production.
package memindex

import (
	"context"
	"sort"
	"sync"

	"github.com/mattermost/qacache/vectorindex"
)

type MemIndex struct {
	mu      sync.RWMutex
	entries map[string]vectorindex.Entry
}

func New() *MemIndex {
	return &MemIndex{
		entries: make(map[string]vectorindex.Entry),
	}
}

func (m *MemIndex) Upsert(_ context.Context, entries []vectorindex.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range entries {
		// Copy the vector so callers can't mutate stored state
		vec := make([]float32, len(entry.Vector))
		copy(vec, entry.Vector)
		entry.Vector = vec
		m.entries[entry.ID] = entry
	}

	return nil
}

func (m *MemIndex) Query(_ context.Context, vector []float32, topK int, filter map[string]string) ([]vectorindex.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]vectorindex.Match, 0, len(m.entries))
	for _, entry := range m.entries {
		if !metadataMatches(entry.Metadata, filter) {
			continue
		}

		matches = append(matches, vectorindex.Match{
			ID:       entry.ID,
			Score:    vectorindex.CosineSimilarity(vector, entry.Vector),
			Metadata: entry.Metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (m *MemIndex) Stats(_ context.Context) (vectorindex.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return vectorindex.Stats{TotalVectors: int64(len(m.entries))}, nil
}

func metadataMatches(metadata map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := metadata[key].(string)
		if !ok || got != want {
			return false
		}
	}

	return true
}
