package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"imgbatch/internal/pipeline"
	"imgbatch/internal/progress"
)

// runBatch drives batch to the end, publishing every progress state and the
// results gathered so far into s. The caller holds a semaphore slot.
func (m *Manager) runBatch(ctx context.Context, s *session, batch *pipeline.Batch, summary *Summary) {
	if ctx == nil {
		ctx = context.Background()
	}
	for batch.Next(ctx) {
		state := batch.State()
		results := batch.Results()
		m.mu.Lock()
		s.progress = state
		s.results = results
		markConverted(summary, results)
		m.mu.Unlock()
	}

	if err := batch.Err(); err != nil {
		m.failBatch(s, batch, summary, err)
		return
	}

	now := time.Now()
	m.mu.Lock()
	s.results = batch.Results()
	s.progress = batch.State()
	s.status = StatusDone
	s.lastUsed = now
	s.files.Clear()
	summary.Status = StatusDone
	summary.FinishedAt = &now
	m.mu.Unlock()

	m.persistBatch(summary)
	log.Info().Str("session_id", s.id).Str("batch_id", summary.ID).Int("converted", len(summary.Files)).Msg("batch done")
}

// failBatch keeps the working set and the partial results so the user can
// retry or download what was converted.
func (m *Manager) failBatch(s *session, batch *pipeline.Batch, summary *Summary, cause error) {
	now := time.Now()
	msg := cause.Error()
	failed := ""
	if result, ok := batch.Failure(); ok {
		failed = result.OriginalName
	}

	results := batch.Results()
	m.mu.Lock()
	s.results = results
	s.status = StatusFailed
	s.lastErr = msg
	s.lastUsed = now
	state := batch.State()
	if !state.Failed {
		// abandoned on cancellation; the pipeline did not emit a terminal state
		state = progress.Failed(len(results), state.Total, state.Current, msg)
	}
	s.progress = state
	summary.Status = StatusFailed
	summary.Error = msg
	summary.FinishedAt = &now
	markConverted(summary, results)
	for i := range summary.Files {
		if summary.Files[i].State != FilePending {
			continue
		}
		if summary.Files[i].Name == failed {
			summary.Files[i].State = FileFailed
			if result, ok := batch.Failure(); ok {
				summary.Files[i].Error = result.Detail
			}
			failed = ""
		}
	}
	m.mu.Unlock()

	m.persistBatch(summary)
	event := log.Warn()
	if errors.Is(cause, context.Canceled) {
		event = log.Info()
	}
	event.Str("session_id", s.id).Str("batch_id", summary.ID).Err(cause).Int("converted", len(results)).Msg("batch failed")
}

// markConverted must be called with m.mu held. Results arrive in working-set
// order, so result i belongs to file i.
func markConverted(summary *Summary, results pipeline.ResultSet) {
	for i, r := range results {
		if i >= len(summary.Files) || r.Failed {
			continue
		}
		summary.Files[i].State = FileOK
		summary.Files[i].Output = r.OutputName
	}
}
