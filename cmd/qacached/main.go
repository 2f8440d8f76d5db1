// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mattermost/qacache/api"
	"github.com/mattermost/qacache/audit"
	"github.com/mattermost/qacache/config"
	"github.com/mattermost/qacache/embeddings"
	"github.com/mattermost/qacache/enhancer"
	"github.com/mattermost/qacache/llm"
	"github.com/mattermost/qacache/metrics"
	"github.com/mattermost/qacache/openai"
	"github.com/mattermost/qacache/semanticcache"
	"github.com/mattermost/qacache/vectorindex"
	"github.com/mattermost/qacache/vectorindex/memindex"
	"github.com/mattermost/qacache/vectorindex/pgvector"
)

const version = "0.1.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:     "qacached",
		Short:   "Semantic answer cache service",
		Long:    `qacached serves embedding-based cache lookups and writes for question/answer pairs in front of an LLM answer-generation call.`,
		Version: version,
		RunE:    runServer,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (settings also come from QACACHE_* env vars)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	m := metrics.NewMetrics(version)

	embedder, model, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	index, fallbackIndex, err := buildIndexes(cfg, embedder)
	if err != nil {
		return err
	}

	enh := enhancer.New(model, log).WithMetrics(m)

	cache := semanticcache.New(index, embedder, enh, semanticcache.Config{
		SimilarityThreshold: float32(cfg.Cache.SimilarityThreshold),
		DuplicateThreshold:  float32(cfg.Cache.DuplicateThreshold),
		TopK:                cfg.Cache.TopK,
		MinParaphraseLength: cfg.Cache.MinParaphraseLength,
		SystemType:          cfg.Cache.SystemType,
	}, log).WithMetrics(m)
	if fallbackIndex != nil {
		cache.WithFallbackIndex(fallbackIndex)
	}

	handler := api.New(cache, audit.NewLogRecorder(log), m, log)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("Starting qacached")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	return server.Shutdown(ctx)
}

func buildProviders(cfg *config.Config) (embeddings.Provider, llm.LanguageModel, error) {
	if cfg.DevMode {
		return embeddings.NewMockProvider(cfg.OpenAI.EmbeddingDimensions), nil, nil
	}

	openaiConfig := openai.Config{
		APIKey:              cfg.OpenAI.APIKey,
		APIURL:              cfg.OpenAI.APIURL,
		OrgID:               cfg.OpenAI.OrgID,
		DefaultModel:        cfg.OpenAI.Model,
		Temperature:         cfg.OpenAI.Temperature,
		MaxTokens:           cfg.OpenAI.MaxTokens,
		RequestTimeout:      cfg.OpenAI.RequestTimeout,
		EmbeddingModel:      cfg.OpenAI.EmbeddingModel,
		EmbeddingDimensions: cfg.OpenAI.EmbeddingDimensions,
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	var embedder embeddings.Provider
	var model llm.LanguageModel
	if cfg.OpenAI.APIURL != "" {
		embedder = openai.NewCompatibleEmbeddings(openaiConfig, httpClient)
		model = openai.NewCompatible(openaiConfig, httpClient)
	} else {
		embedder = openai.NewEmbeddings(openaiConfig, httpClient)
		model = openai.New(openaiConfig, httpClient)
	}

	return embedder, model, nil
}

func buildIndexes(cfg *config.Config, embedder embeddings.Provider) (vectorindex.Index, vectorindex.Index, error) {
	if cfg.DevMode {
		return memindex.New(), nil, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	index, err := pgvector.New(db, pgvector.Config{
		Table:      cfg.Postgres.Table,
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		return nil, nil, err
	}

	var fallbackIndex vectorindex.Index
	if cfg.Postgres.FallbackTable != "" {
		fallback, err := pgvector.New(db, pgvector.Config{
			Table:      cfg.Postgres.FallbackTable,
			Dimensions: embedder.Dimensions(),
		})
		if err != nil {
			return nil, nil, err
		}
		fallbackIndex = fallback
	}

	return index, fallbackIndex, nil
}
