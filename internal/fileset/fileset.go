// Package fileset maintains the working set: the validated, de-duplicated
// queue of image files waiting for conversion.
package fileset

import (
	"errors"

	"imgbatch/internal/format"
	"imgbatch/internal/imageinfo"
)

var (
	ErrNoValidFiles    = errors.New("no valid image files")
	ErrIndexOutOfRange = errors.New("file index out of range")
)

// CandidateFile is a user-selected input. It is immutable once accepted.
type CandidateFile struct {
	Name      string
	Size      int64
	MediaType string
	Data      []byte
}

// Key identifies a candidate inside a working set.
type Key struct {
	Name string
	Size int64
}

// NewCandidate builds a candidate from raw content. When mediaType is empty
// it is sniffed from the content signature.
func NewCandidate(name, mediaType string, data []byte) CandidateFile {
	if mediaType == "" {
		mediaType = imageinfo.SniffMediaType(data)
	}
	return CandidateFile{
		Name:      name,
		Size:      int64(len(data)),
		MediaType: mediaType,
		Data:      data,
	}
}

func (f CandidateFile) Key() Key { return Key{Name: f.Name, Size: f.Size} }

// AddResult reports what happened to each candidate passed to Add.
// Duplicates are counted apart from format rejections.
type AddResult struct {
	Accepted   []CandidateFile
	Rejected   int
	Duplicates int
}

// WorkingSet is an ordered sequence of candidates unique by (name, size).
// It is not safe for concurrent use; the owning session serialises access.
type WorkingSet struct {
	files  []CandidateFile
	keys   map[Key]struct{}
	ratios map[string]imageinfo.Size
}

func New() *WorkingSet {
	return &WorkingSet{
		keys:   make(map[Key]struct{}),
		ratios: make(map[string]imageinfo.Size),
	}
}

// Add appends every candidate accepted by filter that is not already present.
// If candidates is non-empty and none of them passes the filter, Add returns
// ErrNoValidFiles and leaves the set untouched. Accepted files get their
// aspect ratio recorded when their dimensions can be measured.
func (ws *WorkingSet) Add(candidates []CandidateFile, filter format.Filter) (AddResult, error) {
	var res AddResult
	valid := make([]CandidateFile, 0, len(candidates))
	for _, c := range candidates {
		if !filter.Accepts(c.Name, c.MediaType) {
			res.Rejected++
			continue
		}
		valid = append(valid, c)
	}
	if len(candidates) > 0 && len(valid) == 0 {
		return res, ErrNoValidFiles
	}

	for _, c := range valid {
		if _, exists := ws.keys[c.Key()]; exists {
			res.Duplicates++
			continue
		}
		ws.keys[c.Key()] = struct{}{}
		ws.files = append(ws.files, c)
		res.Accepted = append(res.Accepted, c)

		if size, err := imageinfo.Measure(c.Data); err == nil {
			ws.ratios[c.Name] = size
		}
	}
	return res, nil
}

// Remove deletes the file at index and forgets its recorded aspect ratio.
func (ws *WorkingSet) Remove(index int) (CandidateFile, error) {
	if index < 0 || index >= len(ws.files) {
		return CandidateFile{}, ErrIndexOutOfRange
	}
	removed := ws.files[index]
	ws.files = append(ws.files[:index], ws.files[index+1:]...)
	delete(ws.keys, removed.Key())
	delete(ws.ratios, removed.Name)
	return removed, nil
}

// Files returns a copy of the queue in insertion order.
func (ws *WorkingSet) Files() []CandidateFile {
	return append([]CandidateFile(nil), ws.files...)
}

func (ws *WorkingSet) Len() int { return len(ws.files) }

// TotalBytes sums the sizes of all queued files.
func (ws *WorkingSet) TotalBytes() int64 {
	var total int64
	for _, f := range ws.files {
		total += f.Size
	}
	return total
}

// Clear empties the queue together with the aspect-ratio cache.
func (ws *WorkingSet) Clear() {
	ws.files = nil
	ws.keys = make(map[Key]struct{})
	ws.ratios = make(map[string]imageinfo.Size)
}

// AspectRatio returns the size recorded for name when it was added.
func (ws *WorkingSet) AspectRatio(name string) (imageinfo.Size, bool) {
	size, ok := ws.ratios[name]
	return size, ok
}

// RecordAspectRatio stores size for name, replacing any earlier entry.
func (ws *WorkingSet) RecordAspectRatio(name string, size imageinfo.Size) {
	if !size.Valid() {
		return
	}
	ws.ratios[name] = size
}
