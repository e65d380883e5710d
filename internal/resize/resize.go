// Package resize models the user's resize choice as a closed set of
// variants and turns the active one into per-request parameters.
package resize

import (
	"errors"
	"fmt"
	"strings"

	"imgbatch/internal/imageinfo"
)

// IdentityPercent is the percentage that leaves an image unchanged.
const IdentityPercent = 100

var (
	ErrUnknownMode  = errors.New("unknown resize mode")
	ErrModeMismatch = errors.New("resize mode does not accept these parameters")
)

type Mode int

const (
	ModeNone Mode = iota
	ModePercentage
	ModeDimensions
)

func (m Mode) String() string {
	switch m {
	case ModePercentage:
		return "percentage"
	case ModeDimensions:
		return "dimensions"
	default:
		return "none"
	}
}

// ParseMode accepts the names produced by Mode.String; "" means none.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModeNone, nil
	case "percentage", "percent":
		return ModePercentage, nil
	case "dimensions":
		return ModeDimensions, nil
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Resize is the active resize variant: None, Percentage or Dimensions.
// The interface is sealed so a type switch over those three is complete.
type Resize interface {
	Mode() Mode
	sealed()
}

type None struct{}

type Percentage struct {
	Value *int
}

type Dimensions struct {
	Width               *int
	Height              *int
	MaintainAspectRatio bool
}

func (None) Mode() Mode       { return ModeNone }
func (Percentage) Mode() Mode { return ModePercentage }
func (Dimensions) Mode() Mode { return ModeDimensions }

func (None) sealed()       {}
func (Percentage) sealed() {}
func (Dimensions) sealed() {}

// Parameters are the resize fields sent with one conversion request.
// Nil fields are omitted from the request.
type Parameters struct {
	ResizePercent       *int  `json:"resize_percent,omitempty"`
	Width               *int  `json:"width,omitempty"`
	Height              *int  `json:"height,omitempty"`
	MaintainAspectRatio *bool `json:"maintain_aspect_ratio,omitempty"`
}

// IsZero reports whether no resize parameter is set.
func (p Parameters) IsZero() bool {
	return p.ResizePercent == nil && p.Width == nil && p.Height == nil && p.MaintainAspectRatio == nil
}

// BuildRequestParameters translates a variant into request parameters.
// No clamping happens here; the conversion service owns bounds checks, and
// a missing dimension is left for the service to derive.
func BuildRequestParameters(r Resize) Parameters {
	switch v := r.(type) {
	case None:
		return Parameters{}
	case Percentage:
		return Parameters{ResizePercent: cloneInt(v.Value)}
	case Dimensions:
		keep := v.MaintainAspectRatio
		return Parameters{
			Width:               cloneInt(v.Width),
			Height:              cloneInt(v.Height),
			MaintainAspectRatio: &keep,
		}
	case nil:
		return Parameters{}
	default:
		panic(fmt.Sprintf("resize: unexpected variant %T", r))
	}
}

// Preview estimates the output size of an image of size original under d.
// It is informational only: when the aspect ratio is kept and one side is
// missing, the other is derived from original. ok is false when nothing
// can be computed.
func Preview(d Dimensions, original imageinfo.Size) (imageinfo.Size, bool) {
	var w, h int
	if d.Width != nil {
		w = *d.Width
	}
	if d.Height != nil {
		h = *d.Height
	}
	switch {
	case w > 0 && h > 0:
		if d.MaintainAspectRatio && original.Valid() {
			return fitWithin(original, w, h), true
		}
		return imageinfo.Size{Width: w, Height: h}, true
	case w > 0:
		if d.MaintainAspectRatio {
			if !original.Valid() {
				return imageinfo.Size{}, false
			}
			return imageinfo.Size{Width: w, Height: original.HeightFor(w)}, true
		}
		return imageinfo.Size{Width: w, Height: original.Height}, original.Height > 0
	case h > 0:
		if d.MaintainAspectRatio {
			if !original.Valid() {
				return imageinfo.Size{}, false
			}
			return imageinfo.Size{Width: original.WidthFor(h), Height: h}, true
		}
		return imageinfo.Size{Width: original.Width, Height: h}, original.Width > 0
	}
	return imageinfo.Size{}, false
}

// fitWithin scales original down to fit a w x h box keeping its ratio.
// Images already inside the box are left as they are.
func fitWithin(original imageinfo.Size, w, h int) imageinfo.Size {
	if original.Width <= w && original.Height <= h {
		return original
	}
	if original.Width*h > original.Height*w {
		return imageinfo.Size{Width: w, Height: original.HeightFor(w)}
	}
	return imageinfo.Size{Width: original.WidthFor(h), Height: h}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
