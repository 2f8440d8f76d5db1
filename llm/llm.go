// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package llm defines the generative-text provider contract: a single-turn
// completion taking a system and user message pair.
package llm

import "context"

// CompletionRequest is one single-turn completion call.
type CompletionRequest struct {
	System string
	User   string
}

// LanguageModel produces free text for a completion request.
type LanguageModel interface {
	ChatCompletionNoStream(ctx context.Context, request CompletionRequest) (string, error)
}
