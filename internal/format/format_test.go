package format

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestParse(t *testing.T) {
	f, err := Parse(" jpeg ")
	be.Err(t, err, nil)
	be.Equal(t, f, JPEG)

	_, err = Parse("bmp")
	be.Err(t, err, ErrUnknownFormat)

	_, err = ParseOutput("heic")
	be.Err(t, err, ErrUnknownFormat)

	f, err = ParseOutput("webp")
	be.Err(t, err, nil)
	be.Equal(t, f, WEBP)
}

func TestExtension(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{PNG, "png"},
		{JPG, "jpg"},
		{JPEG, "jpg"},
		{GIF, "gif"},
		{WEBP, "webp"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			be.Equal(t, tt.format.Extension(), tt.want)
		})
	}
	be.Equal(t, JPEG.MIMEType(), "image/jpeg")
}

func TestFilterAccepts(t *testing.T) {
	tests := []struct {
		name      string
		filter    string
		file      string
		mediaType string
		want      bool
	}{
		{"all_by_extension", "all", "a.PNG", "", true},
		{"all_by_media_type", "all", "blob", "image/avif", true},
		{"all_raw", "", "shot.CR2", "", true},
		{"all_rejects_text", "all", "notes.txt", "text/plain", false},
		{"specific_match", "png", "a.png", "", true},
		{"specific_case_insensitive", "jpg", "b.JPEG", "", true},
		{"specific_ignores_media_type", "png", "a.jpg", "image/png", false},
		{"heic_alias", "heic", "c.heif", "", true},
		{"raw_filter", "raw", "d.nef", "", true},
		{"raw_filter_rejects_png", "raw", "d.png", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl, err := ParseFilter(tt.filter)
			be.Err(t, err, nil)
			be.Equal(t, fl.Accepts(tt.file, tt.mediaType), tt.want)
		})
	}
}

func TestParseFilterUnknown(t *testing.T) {
	_, err := ParseFilter("tiff")
	be.Err(t, err, ErrUnknownFormat)
}
