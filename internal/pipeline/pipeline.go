// Package pipeline converts a working set one file at a time. A Batch is an
// explicit iterator: every call to Next performs at most one step and
// exposes the resulting progress state, so ordering and abort-on-failure
// follow from the structure rather than from callback timing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"

	"imgbatch/internal/convert"
	"imgbatch/internal/fileset"
	"imgbatch/internal/format"
	"imgbatch/internal/progress"
	"imgbatch/internal/resize"
)

const (
	MinQuality     = 0
	MaxQuality     = 100
	DefaultQuality = 85
)

var (
	ErrEmptyWorkingSet = errors.New("no files to convert")
	ErrInvalidQuality  = errors.New("quality must be between 0 and 100")
)

// Settings apply to every file of a batch.
type Settings struct {
	Target  format.Format
	Quality int
	Resize  resize.Parameters
}

func (s Settings) Validate() error {
	if !s.Target.IsOutput() {
		return fmt.Errorf("%w: %q is not an output format", format.ErrUnknownFormat, s.Target)
	}
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return ErrInvalidQuality
	}
	return nil
}

type phase int

const (
	phaseAnnounce phase = iota // next step names the upcoming file
	phaseSubmit                // next step converts it
	phaseComplete              // next step emits the terminal message
	phaseFinished
)

// Batch walks a snapshot of the working set strictly in order with one
// request in flight. It is not safe for concurrent use.
type Batch struct {
	files     []fileset.CandidateFile
	settings  Settings
	converter convert.Converter

	phase   phase
	next    int
	state   progress.State
	results ResultSet
	err     error
}

// New prepares a batch over files. Nothing is sent until Next is called.
func New(files []fileset.CandidateFile, settings Settings, converter convert.Converter) (*Batch, error) {
	if len(files) == 0 {
		return nil, ErrEmptyWorkingSet
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Batch{
		files:     append([]fileset.CandidateFile(nil), files...),
		settings:  settings,
		converter: converter,
		state:     progress.Starting(len(files)),
		results:   make(ResultSet, 0, len(files)),
	}, nil
}

// Next advances the batch by one step and reports whether a new progress
// state is available from State. It returns false once the terminal state
// has been delivered, or when ctx is cancelled; Err tells the two apart.
func (b *Batch) Next(ctx context.Context) bool {
	total := len(b.files)
	switch b.phase {
	case phaseAnnounce:
		if err := ctx.Err(); err != nil {
			b.abandon(err)
			return false
		}
		name := b.files[b.next].Name
		log.Debug().Str("file", name).Int("index", b.next).Int("total", total).Msg("converting")
		b.state = progress.Converting(b.next, total, name)
		b.phase = phaseSubmit
		return true

	case phaseSubmit:
		file := b.files[b.next]
		resp, err := b.converter.Convert(ctx, convert.Request{
			Filename: file.Name,
			Data:     file.Data,
			Target:   b.settings.Target,
			Quality:  b.settings.Quality,
			Resize:   b.settings.Resize,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				b.abandon(ctxErr)
				return false
			}
			failure := &ConversionFailedError{Name: file.Name, Detail: failureDetail(err)}
			log.Warn().Str("file", file.Name).Str("detail", failure.Detail).Int("completed", b.next).Msg("conversion failed, aborting batch")
			b.err = failure
			b.state = progress.Failed(b.next, total, file.Name, failure.Error())
			b.phase = phaseFinished
			return true
		}

		outputName := resp.Filename
		if outputName == "" {
			outputName = ReplaceExtension(file.Name, b.settings.Target.Extension())
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = b.settings.Target.MIMEType()
		}
		b.results = append(b.results, Success(file.Name, outputName, contentType, resp.Data))
		b.next++
		log.Info().Str("file", file.Name).Str("output", outputName).Int("completed", b.next).Int("total", total).Msg("converted")

		b.state = progress.Converted(b.next, total, file.Name)
		if b.next == total {
			b.phase = phaseComplete
		} else {
			b.phase = phaseAnnounce
		}
		return true

	case phaseComplete:
		b.state = progress.Done(total)
		b.phase = phaseFinished
		return true

	default:
		return false
	}
}

// Progress exposes the batch as a lazy sequence of states. Breaking out of
// the loop abandons the batch; no further requests are sent.
func (b *Batch) Progress(ctx context.Context) iter.Seq[progress.State] {
	return func(yield func(progress.State) bool) {
		for b.Next(ctx) {
			if !yield(b.state) {
				return
			}
		}
	}
}

// State returns the most recent progress state.
func (b *Batch) State() progress.State { return b.state }

// Results returns the results collected so far. Successes gathered before a
// failure are kept.
func (b *Batch) Results() ResultSet { return append(ResultSet(nil), b.results...) }

// Err returns the error that ended the batch: *ConversionFailedError or a
// context error. It is nil while running and after full success.
func (b *Batch) Err() error { return b.err }

// Done reports whether the batch has finished, successfully or not.
func (b *Batch) Done() bool { return b.phase == phaseFinished }

// Failure returns the failed result that aborted the batch, if any.
func (b *Batch) Failure() (Result, bool) {
	var cf *ConversionFailedError
	if errors.As(b.err, &cf) {
		return cf.Result(), true
	}
	return Result{}, false
}

func (b *Batch) abandon(err error) {
	log.Info().Err(err).Int("completed", b.next).Int("total", len(b.files)).Msg("batch abandoned")
	b.err = err
	b.phase = phaseFinished
}

// Run drives a batch to the end, calling observe for every state.
func Run(ctx context.Context, files []fileset.CandidateFile, settings Settings, converter convert.Converter, observe func(progress.State)) (ResultSet, error) {
	b, err := New(files, settings, converter)
	if err != nil {
		return nil, err
	}
	for state := range b.Progress(ctx) {
		if observe != nil {
			observe(state)
		}
	}
	return b.Results(), b.Err()
}

func failureDetail(err error) string {
	var svcErr *convert.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Detail != "" {
			return svcErr.Detail
		}
		return convert.DefaultDetail
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return convert.DefaultDetail
}
