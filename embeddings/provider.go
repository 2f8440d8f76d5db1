// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package embeddings defines the embedding provider contract shared by the
// cache and its backends.
package embeddings

import (
	"context"

	"github.com/pkg/errors"
)

// ErrEmptyEmbedding is returned when a provider produces no vector for a
// non-empty input. Providers must fail loudly rather than return zeros, so
// callers can distinguish "no signal" from a valid zero vector.
var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// Provider converts text to fixed-length numeric vectors.
type Provider interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
