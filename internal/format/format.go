// Package format knows which image formats the converter accepts and
// produces, and which file extensions belong to each of them.
package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an upper-case format name as the conversion service spells it.
type Format string

const (
	PNG  Format = "PNG"
	JPG  Format = "JPG"
	JPEG Format = "JPEG"
	GIF  Format = "GIF"
	WEBP Format = "WEBP"
	HEIC Format = "HEIC"
	RAW  Format = "RAW"
)

// FilterAll is the source filter value accepting any known image.
const FilterAll = "all"

var ErrUnknownFormat = errors.New("unknown format")

type formatInfo struct {
	extensions []string
	mimeType   string
	output     bool
}

var rawExtensions = []string{
	"cr2", "cr3", // Canon
	"nef", "nrw", // Nikon
	"arw", "srf", "sr2", // Sony
	"orf",        // Olympus
	"rw2",        // Panasonic
	"dng",        // Adobe
	"raw", "rwl", // Leica
	"raf",        // Fuji
	"pef", "ptx", // Pentax
	"x3f", // Sigma
	"srw", // Samsung
	"erf", // Epson
	"mrw", // Minolta
	"3fr", // Hasselblad
	"mef", // Mamiya
	"mos", // Leaf
	"kdc", "dcr", // Kodak
}

var formats = map[Format]formatInfo{
	PNG:  {extensions: []string{"png"}, mimeType: "image/png", output: true},
	JPG:  {extensions: []string{"jpg", "jpeg"}, mimeType: "image/jpeg", output: true},
	JPEG: {extensions: []string{"jpg", "jpeg"}, mimeType: "image/jpeg", output: true},
	GIF:  {extensions: []string{"gif"}, mimeType: "image/gif", output: true},
	WEBP: {extensions: []string{"webp"}, mimeType: "image/webp", output: true},
	HEIC: {extensions: []string{"heic", "heif"}, mimeType: "image/heic"},
	RAW:  {extensions: rawExtensions, mimeType: "image/x-raw"},
}

var (
	inputOrder  = []Format{PNG, JPG, JPEG, GIF, WEBP, HEIC, RAW}
	outputOrder = []Format{PNG, JPG, JPEG, GIF, WEBP}
)

// knownExtensions is the union of every input format's extensions.
var knownExtensions = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range inputOrder {
		for _, ext := range formats[f].extensions {
			set[ext] = struct{}{}
		}
	}
	return set
}()

// Parse resolves a format name case-insensitively.
func Parse(name string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return f, nil
}

// ParseOutput resolves a format name and checks it can be produced.
func ParseOutput(name string) (Format, error) {
	f, err := Parse(name)
	if err != nil {
		return "", err
	}
	if !f.IsOutput() {
		return "", fmt.Errorf("%w: %s is not an output format", ErrUnknownFormat, f)
	}
	return f, nil
}

// InputFormats lists the formats accepted as conversion sources.
func InputFormats() []Format { return append([]Format(nil), inputOrder...) }

// OutputFormats lists the formats the conversion service can produce.
func OutputFormats() []Format { return append([]Format(nil), outputOrder...) }

func (f Format) String() string { return string(f) }

// IsOutput reports whether f can be used as a conversion target.
func (f Format) IsOutput() bool { return formats[f].output }

// Extension returns the canonical file extension (without dot).
// JPG and JPEG both map to "jpg".
func (f Format) Extension() string {
	exts := formats[f].extensions
	if len(exts) == 0 {
		return strings.ToLower(string(f))
	}
	return exts[0]
}

// Extensions returns every extension (without dot) belonging to f.
func (f Format) Extensions() []string {
	return append([]string(nil), formats[f].extensions...)
}

// MIMEType returns the media type of files in this format.
func (f Format) MIMEType() string {
	if m := formats[f].mimeType; m != "" {
		return m
	}
	return "application/octet-stream"
}

// HasExtension reports whether ext (with or without dot, any case) belongs to f.
func (f Format) HasExtension(ext string) bool {
	ext = normalizeExt(ext)
	for _, e := range formats[f].extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ExtensionOf returns the lower-case extension of name without the dot.
func ExtensionOf(name string) string {
	return normalizeExt(filepath.Ext(name))
}

// IsKnownImage reports whether a file looks like an image either by its
// declared media type or by its extension.
func IsKnownImage(name, mediaType string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return true
	}
	_, ok := knownExtensions[ExtensionOf(name)]
	return ok
}

func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}
