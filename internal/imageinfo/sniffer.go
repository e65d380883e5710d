// Package imageinfo inspects raw image bytes: it recognises container
// signatures and measures pixel dimensions without decoding the whole image.
package imageinfo

import "bytes"

// Kind identifies an image container recognised by its signature.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindGIF
	KindWEBP
	KindTIFF
	KindHEIC
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindGIF:
		return "gif"
	case KindWEBP:
		return "webp"
	case KindTIFF:
		return "tiff"
	case KindHEIC:
		return "heic"
	default:
		return "unknown"
	}
}

// MediaType returns the declared media type for k, or "" when unknown.
// TIFF-based containers are reported as image/tiff; most camera RAW
// formats use that layout.
func (k Kind) MediaType() string {
	switch k {
	case KindJPEG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindGIF:
		return "image/gif"
	case KindWEBP:
		return "image/webp"
	case KindTIFF:
		return "image/tiff"
	case KindHEIC:
		return "image/heic"
	default:
		return ""
	}
}

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	gifSig    = []byte("GIF8")
	riffSig   = []byte("RIFF")
	webpSig   = []byte("WEBP")
	tiffSigLE = []byte{0x49, 0x49, 0x2a, 0x00}
	tiffSigBE = []byte{0x4d, 0x4d, 0x00, 0x2a}
	ftypSig   = []byte("ftyp")
)

var heicBrands = [][]byte{
	[]byte("heic"), []byte("heix"), []byte("hevc"), []byte("hevx"),
	[]byte("mif1"), []byte("msf1"),
}

// Detect inspects the leading bytes of a file for a known signature.
func Detect(header []byte) Kind {
	switch {
	case bytes.HasPrefix(header, jpegSig):
		return KindJPEG
	case bytes.HasPrefix(header, pngSig):
		return KindPNG
	case bytes.HasPrefix(header, gifSig):
		return KindGIF
	case len(header) >= 12 && bytes.HasPrefix(header, riffSig) && bytes.Equal(header[8:12], webpSig):
		return KindWEBP
	case bytes.HasPrefix(header, tiffSigLE), bytes.HasPrefix(header, tiffSigBE):
		return KindTIFF
	case len(header) >= 12 && bytes.Equal(header[4:8], ftypSig):
		brand := header[8:12]
		for _, b := range heicBrands {
			if bytes.Equal(brand, b) {
				return KindHEIC
			}
		}
	}
	return KindUnknown
}

// SniffMediaType returns the media type implied by the content signature,
// or "" when nothing matches.
func SniffMediaType(data []byte) string {
	return Detect(data).MediaType()
}
