// Package bundle turns a result set into something downloadable: the file
// itself when there is one, a zip archive when there are several. It never
// goes back to the conversion service.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"imgbatch/internal/archive"
	"imgbatch/internal/pipeline"
)

const (
	DefaultArchiveName = "converted_images.zip"
	ArchiveContentType = "application/zip"
)

var (
	ErrNoResults          = errors.New("no converted files")
	ErrIndexOutOfRange    = errors.New("result index out of range")
	ErrNotConverted       = errors.New("file was not converted")
	ErrArchiveUnavailable = errors.New("archive capability unavailable")
)

// Download is a single retrievable unit.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
	Archived    bool
}

// Archiver packs named files into one compressed blob.
type Archiver interface {
	Archive(ctx context.Context, entries []archive.Entry) ([]byte, error)
}

// ArchiverFunc adapts a function to Archiver.
type ArchiverFunc func(ctx context.Context, entries []archive.Entry) ([]byte, error)

func (f ArchiverFunc) Archive(ctx context.Context, entries []archive.Entry) ([]byte, error) {
	return f(ctx, entries)
}

// Loader initialises the archive capability. It runs at most once, on the
// first multi-file retrieval.
type Loader func() (Archiver, error)

// ZipLoader provides the zip archiver.
func ZipLoader() (Archiver, error) {
	return ArchiverFunc(func(ctx context.Context, entries []archive.Entry) ([]byte, error) {
		var buf bytes.Buffer
		if _, err := archive.Build(ctx, &buf, entries); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}), nil
}

type Options struct {
	ArchiveName string
	Load        Loader
}

// Bundler is safe for concurrent use.
type Bundler struct {
	archiveName string
	load        Loader

	once     sync.Once
	archiver Archiver
	loadErr  error
}

func New(opts Options) *Bundler {
	if opts.ArchiveName == "" {
		opts.ArchiveName = DefaultArchiveName
	}
	if opts.Load == nil {
		opts.Load = ZipLoader
	}
	return &Bundler{archiveName: opts.ArchiveName, load: opts.Load}
}

// RetrieveAll returns the only successful output as is, or an archive of
// every successful output when there are several. A missing archive
// capability fails this call only; RetrieveOne keeps working.
func (b *Bundler) RetrieveAll(ctx context.Context, rs pipeline.ResultSet) (Download, error) {
	ok := rs.Successes()
	switch len(ok) {
	case 0:
		return Download{}, ErrNoResults
	case 1:
		return single(ok[0]), nil
	}

	archiver, err := b.archiverOnce()
	if err != nil {
		return Download{}, err
	}

	entries := make([]archive.Entry, 0, len(ok))
	for _, r := range ok {
		entries = append(entries, archive.Entry{Name: r.OutputName, Data: r.Data})
	}
	data, err := archiver.Archive(ctx, entries)
	if err != nil {
		return Download{}, fmt.Errorf("build archive: %w", err)
	}
	log.Debug().Int("files", len(entries)).Int("bytes", len(data)).Msg("archive built")
	return Download{
		Filename:    b.archiveName,
		ContentType: ArchiveContentType,
		Data:        data,
		Archived:    true,
	}, nil
}

// RetrieveOne returns the output at index of rs.
func (b *Bundler) RetrieveOne(rs pipeline.ResultSet, index int) (Download, error) {
	if index < 0 || index >= len(rs) {
		return Download{}, ErrIndexOutOfRange
	}
	r := rs[index]
	if r.Failed {
		return Download{}, fmt.Errorf("%w: %s", ErrNotConverted, r.OriginalName)
	}
	return single(r), nil
}

func (b *Bundler) archiverOnce() (Archiver, error) {
	b.once.Do(func() {
		archiver, err := b.load()
		switch {
		case err != nil:
			b.loadErr = fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
		case archiver == nil:
			b.loadErr = ErrArchiveUnavailable
		default:
			b.archiver = archiver
		}
		if b.loadErr != nil {
			log.Error().Err(b.loadErr).Msg("archive capability failed to load")
		}
	})
	return b.archiver, b.loadErr
}

func single(r pipeline.Result) Download {
	return Download{Filename: r.OutputName, ContentType: r.ContentType, Data: r.Data}
}
