package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
)

// LoadHistory reads batch summaries from the store. A summary still marked
// converting was left by a previous run and is marked failed.
func (m *Manager) LoadHistory() error {
	if m.store == nil {
		return nil
	}
	loaded, err := m.store.LoadBatches(context.Background())
	if err != nil {
		return fmt.Errorf("load batches: %w", err)
	}
	for _, summary := range loaded {
		if summary.Status == StatusConverting {
			now := time.Now()
			summary.Status = StatusFailed
			summary.Error = "interrupted by restart"
			summary.FinishedAt = &now
			for i := range summary.Files {
				if summary.Files[i].State == FilePending {
					summary.Files[i].State = FileFailed
				}
			}
			if err := m.store.SaveBatch(context.Background(), summary); err != nil {
				log.Warn().Str("batch_id", summary.ID).Err(err).Msg("persist interrupted batch failed")
			}
		}
		m.mu.Lock()
		m.history[summary.ID] = summary
		m.mu.Unlock()
	}
	return nil
}

// History returns copies of all known batch summaries, newest first.
func (m *Manager) History() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.history))
	for _, summary := range m.history {
		out = append(out, cloneSummary(summary))
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Summary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return out
}

func cloneSummary(s *Summary) Summary {
	c := *s
	c.Files = append([]FileOutcome(nil), s.Files...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
