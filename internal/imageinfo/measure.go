package imageinfo

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif" // register decoders for DecodeConfig
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
)

var ErrNoDimensions = errors.New("image dimensions not found")

// Size is the pixel size of an image.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

// Ratio returns width/height, or 0 for an invalid size.
func (s Size) Ratio() float64 {
	if !s.Valid() {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// HeightFor returns the height matching width at this aspect ratio.
func (s Size) HeightFor(width int) int {
	if !s.Valid() || width <= 0 {
		return 0
	}
	return width * s.Height / s.Width
}

// WidthFor returns the width matching height at this aspect ratio.
func (s Size) WidthFor(height int) int {
	if !s.Valid() || height <= 0 {
		return 0
	}
	return height * s.Width / s.Height
}

// Measure determines the pixel size of an encoded image. PNG, JPEG and GIF
// headers are read directly; other containers fall back to the EXIF
// dimension tags.
func Measure(data []byte) (Size, error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		size := Size{Width: cfg.Width, Height: cfg.Height}
		if size.Valid() {
			return size, nil
		}
	}
	return measureExif(data)
}

func measureExif(data []byte) (Size, error) {
	tags, _, err := exif.GetFlatExifDataUniversalSearchWithReadSeeker(bytes.NewReader(data), nil, true)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no exif") {
			return Size{}, ErrNoDimensions
		}
		return Size{}, err
	}

	var pixel, plain Size
	for _, tag := range tags {
		v, ok := tagInt(tag)
		if !ok {
			continue
		}
		switch tag.TagName {
		case "PixelXDimension":
			pixel.Width = v
		case "PixelYDimension":
			pixel.Height = v
		case "ImageWidth":
			plain.Width = v
		case "ImageLength":
			plain.Height = v
		}
	}
	switch {
	case pixel.Valid():
		return pixel, nil
	case plain.Valid():
		return plain, nil
	}
	return Size{}, ErrNoDimensions
}

func tagInt(tag exif.ExifTag) (int, bool) {
	s := strings.Trim(strings.TrimSpace(tag.FormattedFirst), "[]")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
