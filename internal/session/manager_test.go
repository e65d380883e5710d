package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"imgbatch/internal/convert"
	"imgbatch/internal/fileset"
	"imgbatch/internal/format"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/progress"
	"imgbatch/internal/resize"
)

type converterFunc func(ctx context.Context, req convert.Request) (convert.Response, error)

func (f converterFunc) Convert(ctx context.Context, req convert.Request) (convert.Response, error) {
	return f(ctx, req)
}

func echoConverter() convert.Converter {
	return converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		return convert.Response{Data: append([]byte("out:"), req.Data...)}, nil
	})
}

func failOn(name, detail string) convert.Converter {
	return converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		if req.Filename == name {
			return convert.Response{}, &convert.ServiceError{StatusCode: 400, Detail: detail}
		}
		return convert.Response{Data: []byte("ok")}, nil
	})
}

func newTestManager(t *testing.T, conv convert.Converter, slots int) *Manager {
	t.Helper()
	return NewManager(conv, Options{DataDir: t.TempDir(), MaxConcurrentBatches: slots})
}

func candidates(names ...string) []fileset.CandidateFile {
	out := make([]fileset.CandidateFile, 0, len(names))
	for _, n := range names {
		out = append(out, fileset.NewCandidate(n, "image/png", []byte("data-"+n)))
	}
	return out
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !m.WaitAll(ctx) {
		t.Fatalf("workers did not finish in time")
	}
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager(t, echoConverter(), 1)
	created := m.Create()
	be.Equal(t, created.Status, StatusIdle)
	be.Equal(t, created.Resize.Mode, "none")
	be.Equal(t, created.Progress.Status, progress.Idle().Status)

	got, ok := m.Get(created.ID)
	be.True(t, ok)
	be.Equal(t, got.ID, created.ID)

	_, err := m.Snapshot("missing")
	be.Err(t, err, ErrSessionNotFound)
	_, err = m.AddFiles("missing", candidates("a.png"), format.Filter{})
	be.Err(t, err, ErrSessionNotFound)
}

func TestAddFilesDeduplicatesAndRejects(t *testing.T) {
	m := newTestManager(t, echoConverter(), 1)
	id := m.Create().ID

	res, err := m.AddFiles(id, candidates("a.png", "a.png"), format.Filter{})
	be.Err(t, err, nil)
	be.Equal(t, len(res.Accepted), 1)
	be.Equal(t, res.Duplicates, 1)

	jpgOnly, _ := format.ParseFilter("jpg")
	_, err = m.AddFiles(id, candidates("b.png"), jpgOnly)
	be.Err(t, err, fileset.ErrNoValidFiles)

	snap, _ := m.Snapshot(id)
	be.Equal(t, len(snap.Files), 1)
	be.Equal(t, snap.Files[0].Name, "a.png")

	_, err = m.RemoveFile(id, 3)
	be.Err(t, err, fileset.ErrIndexOutOfRange)
	removed, err := m.RemoveFile(id, 0)
	be.Err(t, err, nil)
	be.Equal(t, removed.Name, "a.png")
}

func TestResizePolicyThroughManager(t *testing.T) {
	m := newTestManager(t, echoConverter(), 1)
	id := m.Create().ID

	be.Err(t, m.SetPercentage(id, nil), resize.ErrModeMismatch)
	be.Err(t, m.SelectResizeMode(id, resize.ModeDimensions), nil)
	w := 640
	be.Err(t, m.SetDimensions(id, &w, nil, true), nil)

	snap, _ := m.Snapshot(id)
	be.Equal(t, snap.Resize.Mode, "dimensions")
	be.Equal(t, *snap.Resize.Width, 640)
	be.True(t, snap.Resize.Height == nil)

	be.Err(t, m.SelectResizeMode(id, resize.ModePercentage), nil)
	be.Err(t, m.SelectResizeMode(id, resize.ModeDimensions), nil)
	snap, _ = m.Snapshot(id)
	be.True(t, snap.Resize.Width == nil)
}

func TestSetResizeSwitchesModeAndValuesTogether(t *testing.T) {
	m := newTestManager(t, echoConverter(), 1)
	id := m.Create().ID
	w, h := 800, 600

	be.Err(t, m.SetResize(id, resize.Dimensions{Width: &w, Height: &h, MaintainAspectRatio: false}), nil)
	snap, _ := m.Snapshot(id)
	be.Equal(t, snap.Resize.Mode, "dimensions")
	be.Equal(t, *snap.Resize.Width, 800)
	be.Equal(t, *snap.Resize.Height, 600)

	pct := 25
	be.Err(t, m.SetResize(id, resize.Percentage{Value: &pct}), nil)
	snap, _ = m.Snapshot(id)
	be.Equal(t, snap.Resize.Mode, "percentage")
	be.Equal(t, *snap.Resize.Percent, 25)
	be.True(t, snap.Resize.Width == nil)

	be.Err(t, m.SetResize("missing", resize.None{}), ErrSessionNotFound)
}

func TestSubmitSuccessClearsWorkingSet(t *testing.T) {
	var seen []convert.Request
	conv := converterFunc(func(_ context.Context, req convert.Request) (convert.Response, error) {
		seen = append(seen, req)
		return convert.Response{Data: []byte("jpg")}, nil
	})
	m := newTestManager(t, conv, 1)
	id := m.Create().ID
	_, err := m.AddFiles(id, candidates("x.png", "y.png"), format.Filter{})
	be.Err(t, err, nil)
	be.Err(t, m.SelectResizeMode(id, resize.ModePercentage), nil)

	batchID, err := m.Submit(id, format.JPG, 80)
	be.Err(t, err, nil)
	waitIdle(t, m)

	snap, _ := m.Snapshot(id)
	be.Equal(t, snap.Status, StatusDone)
	be.Equal(t, snap.BatchID, batchID)
	be.Equal(t, len(snap.Files), 0)
	be.Equal(t, len(snap.Results), 2)
	be.Equal(t, snap.Results[0].OutputName, "x.jpg")
	be.Equal(t, snap.Results[1].OutputName, "y.jpg")
	be.Equal(t, snap.Progress.Counter(), "2 / 2")
	be.Equal(t, snap.Progress.Status, progress.TerminalMessage)
	be.Equal(t, snap.Progress.Percent, 100.0)

	be.Equal(t, len(seen), 2)
	be.Equal(t, seen[0].Quality, 80)
	be.Equal(t, *seen[0].Resize.ResizePercent, 100)

	history := m.History()
	be.Equal(t, len(history), 1)
	be.Equal(t, history[0].Status, StatusDone)
	be.Equal(t, history[0].Files[1].Output, "y.jpg")

	dl, err := m.DownloadAll(context.Background(), id)
	be.Err(t, err, nil)
	be.True(t, dl.Archived)
	be.Equal(t, dl.Filename, "converted_images.zip")
}

func TestSubmitFailureKeepsWorkingSetAndPartialResults(t *testing.T) {
	m := newTestManager(t, failOn("y.png", "unsupported"), 1)
	id := m.Create().ID
	_, _ = m.AddFiles(id, candidates("x.png", "y.png", "z.png"), format.Filter{})

	_, err := m.Submit(id, format.JPG, 85)
	be.Err(t, err, nil)
	waitIdle(t, m)

	snap, _ := m.Snapshot(id)
	be.Equal(t, snap.Status, StatusFailed)
	be.Equal(t, snap.Error, "Error converting y.png: unsupported")
	be.Equal(t, len(snap.Files), 3)
	be.Equal(t, len(snap.Results), 1)
	be.True(t, snap.Progress.Terminal)
	be.True(t, snap.Progress.Failed)

	dl, err := m.DownloadAll(context.Background(), id)
	be.Err(t, err, nil)
	be.True(t, !dl.Archived)
	be.Equal(t, dl.Filename, "x.jpg")
	be.Equal(t, string(dl.Data), "ok")

	summary := m.History()[0]
	be.Equal(t, summary.Files[0].State, FileOK)
	be.Equal(t, summary.Files[1].State, FileFailed)
	be.Equal(t, summary.Files[1].Error, "unsupported")
	be.Equal(t, summary.Files[2].State, FilePending)

	be.Err(t, m.DismissResults(id), nil)
	snap, _ = m.Snapshot(id)
	be.Equal(t, snap.Status, StatusIdle)
	be.Equal(t, len(snap.Results), 0)
	be.Equal(t, snap.Error, "")
}

func TestSubmitValidation(t *testing.T) {
	m := newTestManager(t, echoConverter(), 1)
	id := m.Create().ID

	_, err := m.Submit(id, format.JPG, 85)
	be.Err(t, err, pipeline.ErrEmptyWorkingSet)

	_, _ = m.AddFiles(id, candidates("x.png"), format.Filter{})
	_, err = m.Submit(id, format.JPG, 101)
	be.Err(t, err, pipeline.ErrInvalidQuality)
	_, err = m.Submit(id, format.HEIC, 85)
	be.Err(t, err, format.ErrUnknownFormat)
	_, err = m.Submit("missing", format.JPG, 85)
	be.Err(t, err, ErrSessionNotFound)
}

func TestBusyAndRunning(t *testing.T) {
	release := make(chan struct{})
	conv := converterFunc(func(ctx context.Context, _ convert.Request) (convert.Response, error) {
		select {
		case <-release:
			return convert.Response{Data: []byte("ok")}, nil
		case <-ctx.Done():
			return convert.Response{}, ctx.Err()
		}
	})
	m := newTestManager(t, conv, 1)
	first := m.Create().ID
	second := m.Create().ID
	_, _ = m.AddFiles(first, candidates("a.png"), format.Filter{})
	_, _ = m.AddFiles(second, candidates("b.png"), format.Filter{})

	_, err := m.Submit(first, format.WEBP, 85)
	be.Err(t, err, nil)
	be.True(t, m.IsBusy())

	_, err = m.Submit(first, format.WEBP, 85)
	be.Err(t, err, ErrBatchRunning)
	_, err = m.Submit(second, format.WEBP, 85)
	be.Err(t, err, ErrServerBusy)
	_, err = m.AddFiles(first, candidates("c.png"), format.Filter{})
	be.Err(t, err, ErrBatchRunning)
	_, err = m.DownloadAll(context.Background(), first)
	be.Err(t, err, ErrBatchRunning)

	close(release)
	waitIdle(t, m)
	be.True(t, !m.IsBusy())

	_, err = m.Submit(second, format.WEBP, 85)
	be.Err(t, err, nil)
	waitIdle(t, m)
	snap, _ := m.Snapshot(second)
	be.Equal(t, snap.Status, StatusDone)
	be.Equal(t, snap.Results[0].OutputName, "b.webp")
}

func TestDeleteSession(t *testing.T) {
	release := make(chan struct{})
	conv := converterFunc(func(ctx context.Context, _ convert.Request) (convert.Response, error) {
		select {
		case <-release:
			return convert.Response{Data: []byte("ok")}, nil
		case <-ctx.Done():
			return convert.Response{}, ctx.Err()
		}
	})
	m := newTestManager(t, conv, 1)
	id := m.Create().ID
	_, _ = m.AddFiles(id, candidates("a.png"), format.Filter{})
	_, err := m.Submit(id, format.JPG, 85)
	be.Err(t, err, nil)

	be.Err(t, m.Delete(id), ErrBatchRunning)

	close(release)
	waitIdle(t, m)
	be.Err(t, m.Delete(id), nil)
	_, ok := m.Get(id)
	be.True(t, !ok)
	be.Err(t, m.Delete(id), ErrSessionNotFound)
	be.Equal(t, len(m.History()), 1)
}

func TestEvictIdleKeepsRecentAndRunningSessions(t *testing.T) {
	release := make(chan struct{})
	conv := converterFunc(func(ctx context.Context, _ convert.Request) (convert.Response, error) {
		select {
		case <-release:
			return convert.Response{Data: []byte("ok")}, nil
		case <-ctx.Done():
			return convert.Response{}, ctx.Err()
		}
	})
	m := newTestManager(t, conv, 1)
	idle := m.Create().ID
	running := m.Create().ID
	_, _ = m.AddFiles(running, candidates("a.png"), format.Filter{})
	_, err := m.Submit(running, format.JPG, 85)
	be.Err(t, err, nil)

	be.Equal(t, m.EvictIdle(time.Now(), time.Hour), 0)

	later := time.Now().Add(2 * time.Hour)
	be.Equal(t, m.EvictIdle(later, time.Hour), 1)
	_, ok := m.Get(idle)
	be.True(t, !ok)
	_, ok = m.Get(running)
	be.True(t, ok)

	close(release)
	waitIdle(t, m)
	be.Equal(t, m.EvictIdle(later, time.Hour), 1)
}

func TestCancelBaseContextFailsBatch(t *testing.T) {
	started := make(chan struct{})
	conv := converterFunc(func(ctx context.Context, _ convert.Request) (convert.Response, error) {
		close(started)
		<-ctx.Done()
		return convert.Response{}, ctx.Err()
	})
	m := newTestManager(t, conv, 1)
	ctx, cancel := context.WithCancel(context.Background())
	m.SetBaseContext(ctx)

	id := m.Create().ID
	_, _ = m.AddFiles(id, candidates("a.png", "b.png"), format.Filter{})
	_, err := m.Submit(id, format.PNG, 85)
	be.Err(t, err, nil)

	<-started
	cancel()
	waitIdle(t, m)

	snap, _ := m.Snapshot(id)
	be.Equal(t, snap.Status, StatusFailed)
	be.True(t, snap.Progress.Terminal)
	be.Equal(t, len(snap.Files), 2)
	be.Equal(t, snap.Error, context.Canceled.Error())
}

func TestLoadHistoryMarksInterruptedBatchesFailed(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	started := time.Now().Add(-time.Minute)
	be.Err(t, store.SaveBatch(context.Background(), &Summary{
		ID:        "b-1",
		SessionID: "s-1",
		Target:    format.JPG,
		Status:    StatusConverting,
		Files:     []FileOutcome{{Name: "a.png", State: FileOK, Output: "a.jpg"}, {Name: "b.png", State: FilePending}},
		StartedAt: started,
	}), nil)
	// stray files are ignored
	be.Err(t, os.WriteFile(filepath.Join(dir, "batches", "notes.txt"), []byte("x"), 0o600), nil)

	m := NewManager(echoConverter(), Options{DataDir: dir})
	be.Err(t, m.LoadHistory(), nil)

	history := m.History()
	be.Equal(t, len(history), 1)
	be.Equal(t, history[0].Status, StatusFailed)
	be.Equal(t, history[0].Files[1].State, FileFailed)
	be.True(t, history[0].FinishedAt != nil)

	reloaded, err := store.LoadBatches(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, reloaded[0].Status, StatusFailed)
}
