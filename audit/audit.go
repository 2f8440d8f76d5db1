// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package audit records completed chat turns for later analysis. Recording is
// strictly best-effort: it runs off the response path and its failures are
// logged, never surfaced.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one completed chat turn.
type Record struct {
	Question       string        `json:"question"`
	Answer         string        `json:"answer"`
	CacheHit       bool          `json:"cacheHit"`
	Score          float32       `json:"score,omitempty"`
	VectorID       string        `json:"vectorId,omitempty"`
	ProcessingTime time.Duration `json:"processingTime"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Recorder persists turn records. Implementations decide the destination
// (log stream, database, message queue).
type Recorder interface {
	Record(ctx context.Context, record Record) error
}

const dispatchTimeout = 10 * time.Second

// Dispatch records asynchronously. It never blocks the caller and swallows
// every failure, including panics in the recorder.
func Dispatch(recorder Recorder, log *logrus.Logger, record Record) {
	if recorder == nil {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Audit recorder panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		if err := recorder.Record(ctx, record); err != nil {
			log.WithError(err).Warn("Failed to record audit entry")
		}
	}()
}

// logRecorder writes records to the structured log.
type logRecorder struct {
	log *logrus.Logger
}

func NewLogRecorder(log *logrus.Logger) Recorder {
	return &logRecorder{log: log}
}

func (r *logRecorder) Record(_ context.Context, record Record) error {
	r.log.WithFields(logrus.Fields{
		"cacheHit":         record.CacheHit,
		"score":            record.Score,
		"vectorId":         record.VectorID,
		"processingTimeMs": record.ProcessingTime.Milliseconds(),
		"timestamp":        record.Timestamp.Format(time.RFC3339),
	}).Info("Chat turn completed")

	return nil
}
