package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	fileutil "imgbatch/internal/file"
)

// BatchStore persists batch summaries. The default implementation is
// file-based under dataDir/batches.
type BatchStore interface {
	SaveBatch(ctx context.Context, s *Summary) error
	LoadBatches(ctx context.Context) ([]*Summary, error)
}

type fileStore struct {
	dataDir string
}

func NewFileStore(dataDir string) BatchStore { //nolint:ireturn
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	return &fileStore{dataDir: dataDir}
}

func (s *fileStore) root() string {
	return filepath.Join(s.dataDir, "batches")
}

func (s *fileStore) summaryPath(batchID string) string {
	return filepath.Join(s.root(), batchID, "summary.json")
}

func (s *fileStore) SaveBatch(_ context.Context, summary *Summary) error {
	return fileutil.WriteJSONAtomic(s.summaryPath(summary.ID), summary) //nolint:wrapcheck
}

func (s *fileStore) LoadBatches(_ context.Context) ([]*Summary, error) {
	entries, err := os.ReadDir(s.root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}
	summaries := make([]*Summary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var summary Summary
		if err := fileutil.ReadJSON(s.summaryPath(e.Name()), &summary); err != nil {
			log.Debug().Str("batch_id", e.Name()).Err(err).Msg("skip unreadable summary")
			continue
		}
		summaries = append(summaries, &summary)
	}
	return summaries, nil
}
