// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package pgvector implements vectorindex.Index on Postgres with the pgvector
// extension. Similarity is cosine: the score returned by Query is
// 1 - cosine distance, so identical vectors score 1.0.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/mattermost/qacache/vectorindex"
)

const defaultTable = "qa_cache"

// Table and index names cannot be parameterized in PostgreSQL, so they are
// validated against this pattern before being interpolated into DDL.
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Config struct {
	Table      string
	Dimensions int
}

type Store struct {
	db     *sqlx.DB
	config Config
}

// New creates a pgvector-backed index and bootstraps its schema.
func New(db *sqlx.DB, config Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if config.Table == "" {
		config.Table = defaultTable
	}
	if !identifierPattern.MatchString(config.Table) {
		return nil, errors.Errorf("invalid table name %q", config.Table)
	}
	if config.Dimensions <= 0 {
		return nil, errors.New("embedding dimensions must be positive")
	}

	store := &Store{
		db:     db,
		config: config,
	}

	if err := store.ensureSchema(); err != nil {
		return nil, errors.Wrap(err, "failed to set up vector schema")
	}

	return store, nil
}

func (s *Store) Upsert(ctx context.Context, entries []vectorindex.Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_at = NOW()`, s.config.Table)

	for _, entry := range entries {
		if len(entry.Vector) != s.config.Dimensions {
			return errors.Errorf("entry %s has %d dimensions, index expects %d", entry.ID, len(entry.Vector), s.config.Dimensions)
		}

		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to encode metadata for entry %s", entry.ID)
		}

		if _, err := s.db.ExecContext(ctx, query, entry.ID, pgvector.NewVector(entry.Vector), metadata); err != nil {
			return errors.Wrapf(err, "failed to upsert entry %s", entry.ID)
		}
	}

	return nil
}

func (s *Store) Query(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]vectorindex.Match, error) {
	if topK <= 0 {
		topK = 5
	}

	query := fmt.Sprintf(`
		SELECT id, 1 - (embedding <=> $1) AS score, metadata
		FROM %s`, s.config.Table)
	args := []any{pgvector.NewVector(vector)}

	// Keys and values are both parameterized; only the validated table name
	// is interpolated.
	where := ""
	for key, value := range filter {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		args = append(args, key, value)
		where += fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args))
	}

	args = append(args, topK)
	query += where + fmt.Sprintf(" ORDER BY embedding <=> $1 ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "vector query failed")
	}
	defer rows.Close()

	var matches []vectorindex.Match
	for rows.Next() {
		var match vectorindex.Match
		var metadata []byte
		if err := rows.Scan(&match.ID, &match.Score, &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to scan match")
		}
		if err := json.Unmarshal(metadata, &match.Metadata); err != nil {
			return nil, errors.Wrapf(err, "failed to decode metadata for match %s", match.ID)
		}
		matches = append(matches, match)
	}

	return matches, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (vectorindex.Stats, error) {
	var stats vectorindex.Stats
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.config.Table)
	if err := s.db.GetContext(ctx, &stats.TotalVectors, query); err != nil {
		return vectorindex.Stats{}, errors.Wrap(err, "failed to count vectors")
	}

	return stats, nil
}

// ensureSchema creates the extension, table and indexes. If a table already
// exists with the wrong vector dimensions it is dropped and recreated, since
// embeddings from different models are not comparable anyway.
func (s *Store) ensureSchema() error {
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "failed to create vector extension")
	}

	var currentDimensions int
	err := s.db.GetContext(ctx, &currentDimensions, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		JOIN pg_type t ON a.atttypid = t.oid
		WHERE c.relname = $1
		AND a.attname = 'embedding'
		AND t.typname = 'vector'
	`, s.config.Table)

	if err == nil && currentDimensions != s.config.Dimensions {
		if _, dropErr := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", s.config.Table)); dropErr != nil {
			return errors.Wrap(dropErr, "failed to drop table with stale dimensions")
		}
	} else if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to inspect existing schema")
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		embedding VECTOR(%[2]d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
		ON %[1]s USING hnsw (embedding vector_cosine_ops);
	CREATE INDEX IF NOT EXISTS %[1]s_system_type_idx
		ON %[1]s ((metadata->>'system_type'));
	`, s.config.Table, s.config.Dimensions)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}

	return nil
}
