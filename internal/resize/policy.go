package resize

import "fmt"

// Policy is the resize state machine. Exactly one mode is active; leaving
// a mode resets that mode's parameters to their defaults. Transitions only
// happen through Select.
type Policy struct {
	mode       Mode
	percent    *int
	width      *int
	height     *int
	keepAspect bool
}

// NewPolicy starts in ModeNone with the percentage at 100% and the aspect
// ratio kept.
func NewPolicy() *Policy {
	p := &Policy{keepAspect: true}
	p.resetPercentage()
	return p
}

func (p *Policy) Mode() Mode { return p.mode }

// Select switches to mode m. Selecting the active mode changes nothing.
func (p *Policy) Select(m Mode) {
	if m == p.mode {
		return
	}
	switch p.mode {
	case ModePercentage:
		p.resetPercentage()
	case ModeDimensions:
		p.width, p.height = nil, nil
	case ModeNone:
	}
	p.mode = m
}

// SetPercentage sets the percentage value; nil clears it.
func (p *Policy) SetPercentage(value *int) error {
	if p.mode != ModePercentage {
		return ErrModeMismatch
	}
	p.percent = cloneInt(value)
	return nil
}

// SetDimensions sets the target width and height (either may be nil) and
// whether the aspect ratio is kept.
func (p *Policy) SetDimensions(width, height *int, maintainAspectRatio bool) error {
	if p.mode != ModeDimensions {
		return ErrModeMismatch
	}
	p.width = cloneInt(width)
	p.height = cloneInt(height)
	p.keepAspect = maintainAspectRatio
	return nil
}

// Current returns the active variant with a copy of its parameters.
func (p *Policy) Current() Resize {
	switch p.mode {
	case ModePercentage:
		return Percentage{Value: cloneInt(p.percent)}
	case ModeDimensions:
		return Dimensions{
			Width:               cloneInt(p.width),
			Height:              cloneInt(p.height),
			MaintainAspectRatio: p.keepAspect,
		}
	default:
		return None{}
	}
}

// Parameters is shorthand for BuildRequestParameters(p.Current()).
func (p *Policy) Parameters() Parameters {
	return BuildRequestParameters(p.Current())
}

func (p *Policy) resetPercentage() {
	v := IdentityPercent
	p.percent = &v
}

// Apply selects r's mode and sets its parameters in one step. A nil
// percentage keeps the current value. On error the policy is unchanged.
func (p *Policy) Apply(r Resize) error {
	next := *p
	next.Select(r.Mode())
	var err error
	switch r := r.(type) {
	case None:
	case Percentage:
		if r.Value != nil {
			err = next.SetPercentage(r.Value)
		}
	case Dimensions:
		err = next.SetDimensions(r.Width, r.Height, r.MaintainAspectRatio)
	default:
		panic(fmt.Sprintf("resize: unhandled variant %T", r))
	}
	if err != nil {
		return err
	}
	*p = next
	return nil
}
