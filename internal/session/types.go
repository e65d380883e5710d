package session

import (
	"time"

	"imgbatch/internal/format"
	"imgbatch/internal/progress"
	"imgbatch/internal/resize"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConverting Status = "converting"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

type FileState string

const (
	FilePending FileState = "pending"
	FileOK      FileState = "ok"
	FileFailed  FileState = "failed"
)

// FileView is one working-set entry as shown to clients.
type FileView struct {
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	MediaType   string  `json:"type,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	AspectRatio float64 `json:"aspect_ratio,omitempty"`
}

type ResizeView struct {
	Mode                string `json:"mode"`
	Percent             *int   `json:"percent,omitempty"`
	Width               *int   `json:"width,omitempty"`
	Height              *int   `json:"height,omitempty"`
	MaintainAspectRatio bool   `json:"maintain_aspect_ratio"`
}

type ProgressView struct {
	progress.State
	Percent float64 `json:"percent"`
}

type ResultView struct {
	OriginalName string `json:"original_name"`
	OutputName   string `json:"output_name,omitempty"`
	Size         int    `json:"size,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Snapshot is a read-only copy of a session. Mutations go through Manager.
type Snapshot struct {
	ID         string       `json:"session_id"`
	CreatedAt  time.Time    `json:"created_at"`
	Status     Status       `json:"status"`
	Error      string       `json:"error,omitempty"`
	BatchID    string       `json:"batch_id,omitempty"`
	Files      []FileView   `json:"files"`
	TotalBytes int64        `json:"total_bytes"`
	Resize     ResizeView   `json:"resize"`
	Progress   ProgressView `json:"progress"`
	Results    []ResultView `json:"results"`
}

// FileOutcome records what happened to one file of a batch.
type FileOutcome struct {
	Name   string    `json:"name"`
	Output string    `json:"output,omitempty"`
	State  FileState `json:"state"`
	Error  string    `json:"error,omitempty"`
}

// Summary is the persisted record of one batch. It never carries image bytes.
type Summary struct {
	ID         string            `json:"batch_id"`
	SessionID  string            `json:"session_id"`
	Target     format.Format     `json:"target_format"`
	Quality    int               `json:"quality"`
	Resize     resize.Parameters `json:"resize"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	Files      []FileOutcome     `json:"files"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

type Options struct {
	DataDir              string
	MaxConcurrentBatches int
	ArchiveName          string
}

const (
	defaultMaxConcurrent = 3
	defaultDataDir       = "data"
)
