package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is one file to place into the archive.
type Entry struct {
	Name string
	Data []byte
}

// Result describes where an entry ended up inside the zip. Filename differs
// from the entry name when the name collided with an earlier entry.
type Result struct {
	Filename string
	Err      string
}

// Build writes entries as a deflate-compressed zip into w, in order.
// It always returns a results slice of the same length as entries.
// Entries with the same name are kept apart as "name(1).ext", "name(2).ext".
func Build(ctx context.Context, w io.Writer, entries []Entry) ([]Result, error) {
	if len(entries) == 0 {
		return nil, errors.New("no entries provided")
	}

	zipWriter := zip.NewWriter(w)
	defer func() { _ = zipWriter.Close() }()

	modified := time.Now()
	results := make([]Result, len(entries))
	usedNames := make(map[string]int, len(entries))
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		filename := uniqueName(usedNames, entryName(entry.Name, i))
		results[i] = Result{Filename: filename}

		if err := writeEntry(zipWriter, filename, entry.Data, modified); err != nil {
			results[i].Err = err.Error()
			log.Warn().Str("file", filename).Err(err).Msg("zip entry write failed")
			return results, fmt.Errorf("write %s: %w", filename, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return results, fmt.Errorf("close zip writer: %w", err)
	}
	return results, nil
}

func writeEntry(zipWriter *zip.Writer, filename string, data []byte, modified time.Time) error {
	entryWriter, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     filename,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if _, err := entryWriter.Write(data); err != nil {
		return fmt.Errorf("copy into zip: %w", err)
	}
	return nil
}

// entryName keeps only the base name, falling back to index-based naming.
func entryName(name string, index int) string {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "/" || base == "." || base == "" {
		return fmt.Sprintf("file-%d", index+1)
	}
	return base
}

func uniqueName(usedNames map[string]int, base string) string {
	count, taken := usedNames[base]
	if !taken {
		usedNames[base] = 0
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for {
		count++
		candidate := fmt.Sprintf("%s(%d)%s", stem, count, ext)
		if _, clash := usedNames[candidate]; !clash {
			usedNames[base] = count
			usedNames[candidate] = 0
			return candidate
		}
	}
}
