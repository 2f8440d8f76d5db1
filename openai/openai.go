// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package openai implements the embedding and language model providers on the
// OpenAI API. NewCompatible and NewCompatibleEmbeddings work against any
// OpenAI-compatible endpoint (Ollama, vLLM, etc.).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/mattermost/qacache/llm"
)

type Config struct {
	APIKey              string        `json:"apiKey"`
	APIURL              string        `json:"apiURL"`
	OrgID               string        `json:"orgID"`
	DefaultModel        string        `json:"defaultModel"`
	Temperature         float64       `json:"temperature"`
	MaxTokens           int           `json:"maxTokens"`
	RequestTimeout      time.Duration `json:"requestTimeout"`
	EmbeddingModel      string        `json:"embeddingModel"`
	EmbeddingDimensions int           `json:"embeddingDimensions"`
}

type OpenAI struct {
	client openai.Client
	config Config
}

func New(config Config, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
	}

	if config.OrgID != "" {
		opts = append(opts, option.WithOrganization(config.OrgID))
	}

	client := openai.NewClient(opts...)

	return &OpenAI{
		client: client,
		config: config,
	}
}

func NewCompatible(config Config, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithBaseURL(strings.TrimSuffix(config.APIURL, "/")),
	}

	client := openai.NewClient(opts...)

	return &OpenAI{
		client: client,
		config: config,
	}
}

// NewEmbeddings creates a new OpenAI client configured only for embeddings functionality
func NewEmbeddings(config Config, httpClient *http.Client) *OpenAI {
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
		config.EmbeddingDimensions = 1536
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
	}

	client := openai.NewClient(opts...)

	return &OpenAI{
		client: client,
		config: config,
	}
}

// NewCompatibleEmbeddings creates a new OpenAI client configured only for embeddings functionality
func NewCompatibleEmbeddings(config Config, httpClient *http.Client) *OpenAI {
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = openai.EmbeddingModelTextEmbedding3Small
		config.EmbeddingDimensions = 1536
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithBaseURL(strings.TrimSuffix(config.APIURL, "/")),
	}

	client := openai.NewClient(opts...)

	return &OpenAI{
		client: client,
		config: config,
	}
}

// ChatCompletionNoStream performs one single-turn completion and returns the
// raw message text.
func (s *OpenAI) ChatCompletionNoStream(ctx context.Context, request llm.CompletionRequest) (string, error) {
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	model := s.config.DefaultModel
	if model == "" {
		model = openai.ChatModelGPT4o
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}
	messages = append(messages, openai.UserMessage(request.User))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if s.config.Temperature > 0 {
		params.Temperature = openai.Float(s.config.Temperature)
	}
	if s.config.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.config.MaxTokens))
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAI) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: getEmbeddingModelConstant(s.config.EmbeddingModel),
	}

	// Only set dimensions if it's explicitly configured (> 0)
	if s.config.EmbeddingDimensions > 0 {
		params.Dimensions = openai.Int(int64(s.config.EmbeddingDimensions))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	// Convert float64 to float32
	embedding := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// BatchCreateEmbeddings generates embeddings for multiple texts in a single API call
func (s *OpenAI) BatchCreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: getEmbeddingModelConstant(s.config.EmbeddingModel),
	}

	if s.config.EmbeddingDimensions > 0 {
		params.Dimensions = openai.Int(int64(s.config.EmbeddingDimensions))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings batch: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("no embedding data returned for input %d", i)
		}

		embedding := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			embedding[j] = float32(v)
		}
		embeddings[i] = embedding
	}

	return embeddings, nil
}

// getEmbeddingModelConstant converts string model names to the SDK's embedding model constants
func getEmbeddingModelConstant(model string) openai.EmbeddingModel {
	switch model {
	case "text-embedding-3-large":
		return openai.EmbeddingModelTextEmbedding3Large
	case "text-embedding-3-small":
		return openai.EmbeddingModelTextEmbedding3Small
	case "text-embedding-ada-002":
		return openai.EmbeddingModelTextEmbeddingAda002
	default:
		// For custom models, use the string as-is
		return model
	}
}

func (s *OpenAI) Dimensions() int {
	return s.config.EmbeddingDimensions
}
