package imageinfo

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/nalgeon/be"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetect(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	var gf bytes.Buffer
	if err := gif.Encode(&gf, image.NewPaletted(image.Rect(0, 0, 2, 2), []color.Color{color.Black}), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"png", encodePNG(t, 2, 2), KindPNG},
		{"jpeg", jpg.Bytes(), KindJPEG},
		{"gif", gf.Bytes(), KindGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), KindWEBP},
		{"tiff_le", []byte{0x49, 0x49, 0x2a, 0x00, 0, 0, 0, 0}, KindTIFF},
		{"heic", []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"), KindHEIC},
		{"text", []byte("hello world"), KindUnknown},
		{"empty", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be.Equal(t, Detect(tt.data), tt.want)
		})
	}
	be.Equal(t, SniffMediaType(encodePNG(t, 1, 1)), "image/png")
	be.Equal(t, SniffMediaType([]byte("nope")), "")
}

func TestMeasure(t *testing.T) {
	size, err := Measure(encodePNG(t, 40, 20))
	be.Err(t, err, nil)
	be.Equal(t, size, Size{Width: 40, Height: 20})
	be.Equal(t, size.Ratio(), 2.0)
	be.Equal(t, size.HeightFor(100), 50)
	be.Equal(t, size.WidthFor(10), 20)
}

func TestMeasureUnknown(t *testing.T) {
	_, err := Measure([]byte("definitely not an image"))
	be.Err(t, err)
}

func TestSizeInvalid(t *testing.T) {
	var s Size
	be.True(t, !s.Valid())
	be.Equal(t, s.Ratio(), 0.0)
	be.Equal(t, s.HeightFor(10), 0)
}
