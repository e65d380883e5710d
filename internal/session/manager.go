package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imgbatch/internal/bundle"
	"imgbatch/internal/convert"
	"imgbatch/internal/fileset"
	"imgbatch/internal/format"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/progress"
	"imgbatch/internal/resize"
)

type session struct {
	id        string
	createdAt time.Time
	files     *fileset.WorkingSet
	policy    *resize.Policy
	results   pipeline.ResultSet
	progress  progress.State
	status    Status
	lastErr   string
	batchID   string
	lastUsed  time.Time
}

// Manager owns every session's working set, resize policy and result set.
// Clients only read snapshots; all mutation goes through its methods.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	history   map[string]*Summary
	semaphore chan struct{}
	converter convert.Converter
	bundler   *bundle.Bundler
	workersWG sync.WaitGroup
	baseCtx   context.Context
	store     BatchStore
}

// NewManager creates a manager that converts through converter.
func NewManager(converter convert.Converter, opts Options) *Manager {
	if opts.MaxConcurrentBatches <= 0 {
		opts.MaxConcurrentBatches = defaultMaxConcurrent
	}
	if opts.DataDir == "" {
		opts.DataDir = defaultDataDir
	}
	return &Manager{
		sessions:  make(map[string]*session),
		history:   make(map[string]*Summary),
		semaphore: make(chan struct{}, opts.MaxConcurrentBatches),
		converter: converter,
		bundler:   bundle.New(bundle.Options{ArchiveName: opts.ArchiveName}),
		baseCtx:   context.Background(),
		store:     NewFileStore(opts.DataDir),
	}
}

// IsBusy reports whether every batch slot is taken.
func (m *Manager) IsBusy() bool {
	return len(m.semaphore) >= cap(m.semaphore)
}

// Create starts an empty session.
func (m *Manager) Create() Snapshot {
	s := &session{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		files:     fileset.New(),
		policy:    resize.NewPolicy(),
		progress:  progress.Idle(),
		status:    StatusIdle,
	}
	s.lastUsed = s.createdAt
	m.mu.Lock()
	m.sessions[s.id] = s
	snap := s.snapshot()
	m.mu.Unlock()
	log.Info().Str("session_id", s.id).Msg("session created")
	return snap
}

// Get returns a snapshot of the session.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Snapshot is Get with an error for unknown sessions.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	snap, ok := m.Get(id)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return snap, nil
}

// AddFiles validates candidates against filter and appends the accepted
// ones to the session's working set.
func (m *Manager) AddFiles(id string, candidates []fileset.CandidateFile, filter format.Filter) (fileset.AddResult, error) {
	var res fileset.AddResult
	err := m.mutate(id, func(s *session) error {
		if s.status == StatusConverting {
			return ErrBatchRunning
		}
		var err error
		res, err = s.files.Add(candidates, filter)
		return err
	})
	if err == nil {
		log.Info().Str("session_id", id).Int("accepted", len(res.Accepted)).Int("rejected", res.Rejected).
			Int("duplicates", res.Duplicates).Str("filter", filter.String()).Msg("files added")
	}
	return res, err
}

// RemoveFile removes the file at index from the working set.
func (m *Manager) RemoveFile(id string, index int) (fileset.CandidateFile, error) {
	var removed fileset.CandidateFile
	err := m.mutate(id, func(s *session) error {
		if s.status == StatusConverting {
			return ErrBatchRunning
		}
		var err error
		removed, err = s.files.Remove(index)
		return err
	})
	return removed, err
}

// SetResize switches to r's mode and applies its parameters atomically.
func (m *Manager) SetResize(id string, r resize.Resize) error {
	return m.mutate(id, func(s *session) error {
		return s.policy.Apply(r)
	})
}

func (m *Manager) SelectResizeMode(id string, mode resize.Mode) error {
	return m.mutate(id, func(s *session) error {
		s.policy.Select(mode)
		return nil
	})
}

func (m *Manager) SetPercentage(id string, value *int) error {
	return m.mutate(id, func(s *session) error {
		return s.policy.SetPercentage(value)
	})
}

func (m *Manager) SetDimensions(id string, width, height *int, maintainAspectRatio bool) error {
	return m.mutate(id, func(s *session) error {
		return s.policy.SetDimensions(width, height, maintainAspectRatio)
	})
}

// Progress returns the latest progress state of the session.
func (m *Manager) Progress(id string) (progress.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return progress.State{}, ErrSessionNotFound
	}
	return s.progress, nil
}

// DismissResults clears the result set and returns the session to idle.
func (m *Manager) DismissResults(id string) error {
	return m.mutate(id, func(s *session) error {
		if s.status == StatusConverting {
			return ErrBatchRunning
		}
		s.results = nil
		s.progress = progress.Idle()
		s.status = StatusIdle
		s.lastErr = ""
		return nil
	})
}

// DownloadAll bundles the session's successful results.
func (m *Manager) DownloadAll(ctx context.Context, id string) (bundle.Download, error) {
	rs, err := m.finishedResults(id)
	if err != nil {
		return bundle.Download{}, err
	}
	return m.bundler.RetrieveAll(ctx, rs)
}

// DownloadOne returns one result of the session.
func (m *Manager) DownloadOne(id string, index int) (bundle.Download, error) {
	rs, err := m.finishedResults(id)
	if err != nil {
		return bundle.Download{}, err
	}
	return m.bundler.RetrieveOne(rs, index)
}

// Submit starts converting the session's working set in the background and
// returns the batch id. The result set is cleared first.
func (m *Manager) Submit(id string, target format.Format, quality int) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return "", ErrSessionNotFound
	}
	if s.status == StatusConverting {
		m.mu.Unlock()
		return "", ErrBatchRunning
	}
	settings := pipeline.Settings{Target: target, Quality: quality, Resize: s.policy.Parameters()}
	batch, err := pipeline.New(s.files.Files(), settings, m.converter)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}

	// acquire a slot synchronously so IsBusy reflects it immediately
	select {
	case m.semaphore <- struct{}{}:
	default:
		m.mu.Unlock()
		return "", ErrServerBusy
	}

	summary := &Summary{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Target:    target,
		Quality:   quality,
		Resize:    settings.Resize,
		Status:    StatusConverting,
		StartedAt: time.Now(),
	}
	for _, f := range s.files.Files() {
		summary.Files = append(summary.Files, FileOutcome{Name: f.Name, State: FilePending})
	}
	s.results = nil
	s.lastErr = ""
	s.status = StatusConverting
	s.progress = batch.State()
	s.batchID = summary.ID
	s.lastUsed = time.Now()
	m.history[summary.ID] = summary
	ctx := m.baseCtx
	m.mu.Unlock()

	m.persistBatch(summary)
	log.Info().Str("session_id", id).Str("batch_id", summary.ID).Int("files", len(summary.Files)).
		Str("target", target.String()).Int("quality", quality).Msg("batch submitted")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.runBatch(ctx, s, batch, summary)
	}()
	return summary.ID, nil
}

// SetBaseContext sets the context batches run under. Cancelling it stops
// running batches between files.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all batch workers finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseConverter swaps the conversion backend. Intended for test setup only.
func (m *Manager) UseConverter(c convert.Converter) {
	m.mu.Lock()
	m.converter = c
	m.mu.Unlock()
}

// UseBundler swaps the result bundler. Intended for test setup only.
func (m *Manager) UseBundler(b *bundle.Bundler) {
	m.mu.Lock()
	m.bundler = b
	m.mu.Unlock()
}

// Delete drops a session and everything it holds. A session with a running
// batch cannot be deleted.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.status == StatusConverting {
		return ErrBatchRunning
	}
	delete(m.sessions, id)
	log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// EvictIdle drops sessions not modified since now-ttl. Sessions with a
// running batch are kept. It returns the number of sessions dropped.
func (m *Manager) EvictIdle(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if s.status == StatusConverting || s.lastUsed.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		evicted++
	}
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("remaining", len(m.sessions)).Dur("ttl", ttl).Msg("idle sessions evicted")
	}
	return evicted
}

// RunJanitor evicts idle sessions every ttl/4 until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(max(ttl/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.EvictIdle(now, ttl)
		}
	}
}

func (m *Manager) mutate(id string, fn func(s *session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.lastUsed = time.Now()
	return fn(s)
}

func (m *Manager) finishedResults(id string) (pipeline.ResultSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.status == StatusConverting {
		return nil, ErrBatchRunning
	}
	return append(pipeline.ResultSet(nil), s.results...), nil
}

func (m *Manager) persistBatch(summary *Summary) {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	snapshot := cloneSummary(summary)
	m.mu.RUnlock()
	if err := m.store.SaveBatch(context.Background(), &snapshot); err != nil {
		log.Warn().Str("batch_id", summary.ID).Err(err).Msg("persist batch failed")
	}
}

// snapshot must be called with m.mu held.
func (s *session) snapshot() Snapshot {
	files := s.files.Files()
	views := make([]FileView, 0, len(files))
	for _, f := range files {
		v := FileView{Name: f.Name, Size: f.Size, MediaType: f.MediaType}
		if size, ok := s.files.AspectRatio(f.Name); ok {
			v.Width, v.Height, v.AspectRatio = size.Width, size.Height, size.Ratio()
		}
		views = append(views, v)
	}
	results := make([]ResultView, 0, len(s.results))
	for _, r := range s.results {
		results = append(results, ResultView{
			OriginalName: r.OriginalName,
			OutputName:   r.OutputName,
			Size:         len(r.Data),
			Error:        r.Detail,
		})
	}
	return Snapshot{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		Status:     s.status,
		Error:      s.lastErr,
		BatchID:    s.batchID,
		Files:      views,
		TotalBytes: s.files.TotalBytes(),
		Resize:     resizeView(s.policy.Current()),
		Progress:   ProgressView{State: s.progress, Percent: s.progress.Percent()},
		Results:    results,
	}
}

func resizeView(r resize.Resize) ResizeView {
	v := ResizeView{Mode: r.Mode().String()}
	switch r := r.(type) {
	case resize.None:
	case resize.Percentage:
		v.Percent = r.Value
	case resize.Dimensions:
		v.Width, v.Height, v.MaintainAspectRatio = r.Width, r.Height, r.MaintainAspectRatio
	default:
		panic(fmt.Sprintf("session: unhandled resize variant %T", r))
	}
	return v
}
