// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package semanticcache

import (
	"time"

	"github.com/mattermost/qacache/enhancer"
	"github.com/mattermost/qacache/vectorindex"
)

const (
	EntryKindCanonical  = "canonical"
	EntryKindParaphrase = "paraphrase"
)

// Metadata keys stored alongside each vector. The index owns the persisted
// copies; these constants are the only coupling between writer and reader.
const (
	metaQuestion        = "question"
	metaAnswer          = "answer"
	metaQuestionSummary = "question_summary"
	metaAnswerSummary   = "answer_summary"
	metaKeywords        = "keywords"
	metaCategory        = "category"
	metaDifficulty      = "difficulty"
	metaCreatedAt       = "created_at"
	metaEntryKind       = "entry_kind"
	metaParentID        = "parent_id"
	metaSystemType      = "system_type"
	metaParaphraseText  = "paraphrase_text"
	metaParaphraseScore = "paraphrase_similarity"
)

// LookupResult is the decision record for one cache lookup. When Found is
// false no other field is populated.
type LookupResult struct {
	Found      bool    `json:"found"`
	Answer     string  `json:"answer,omitempty"`
	Score      float32 `json:"score,omitempty"`
	ID         string  `json:"id,omitempty"`
	Question   string  `json:"question,omitempty"`
	Category   string  `json:"category,omitempty"`
	Difficulty string  `json:"difficulty,omitempty"`
	CachedAt   string  `json:"cachedAt,omitempty"`
}

func resultFromMatch(match vectorindex.Match) LookupResult {
	return LookupResult{
		Found:      true,
		Answer:     metaString(match.Metadata, metaAnswer),
		Score:      match.Score,
		ID:         match.ID,
		Question:   metaString(match.Metadata, metaQuestion),
		Category:   metaString(match.Metadata, metaCategory),
		Difficulty: metaString(match.Metadata, metaDifficulty),
		CachedAt:   metaString(match.Metadata, metaCreatedAt),
	}
}

// entryMetadata builds the metadata persisted with a canonical entry. The
// answer and enrichment travel with every vector so a match on any sibling
// returns the full decision record without a second lookup.
func (c *Cache) entryMetadata(question, answer string, enhanced enhancer.Enhanced, createdAt time.Time) map[string]any {
	return map[string]any{
		metaQuestion:        question,
		metaAnswer:          answer,
		metaQuestionSummary: enhanced.QuestionSummary,
		metaAnswerSummary:   enhanced.AnswerSummary,
		metaKeywords:        enhanced.Keywords,
		metaCategory:        enhanced.Category,
		metaDifficulty:      enhanced.Difficulty,
		metaCreatedAt:       createdAt.Format(time.RFC3339),
		metaEntryKind:       EntryKindCanonical,
		metaSystemType:      c.config.SystemType,
	}
}

// paraphraseMetadata derives a sibling entry's metadata from the canonical
// one. The answer fields are shared so any paraphrase match returns the same
// answer; only the identity fields differ.
func paraphraseMetadata(canonical map[string]any, parentID, text string, similarity float32) map[string]any {
	metadata := make(map[string]any, len(canonical)+3)
	for key, value := range canonical {
		metadata[key] = value
	}
	metadata[metaEntryKind] = EntryKindParaphrase
	metadata[metaParentID] = parentID
	metadata[metaParaphraseText] = text
	metadata[metaParaphraseScore] = similarity

	return metadata
}

func metaString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return value
}
