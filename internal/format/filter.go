package format

import "strings"

// Filter selects which candidate files are eligible for conversion.
// The zero value accepts every known image.
type Filter struct {
	format Format
}

// ParseFilter accepts "all" (or an empty string) or any input format name.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, FilterAll) {
		return Filter{}, nil
	}
	f, err := Parse(s)
	if err != nil {
		return Filter{}, err
	}
	return Filter{format: f}, nil
}

// FilterFor returns a filter restricted to f.
func FilterFor(f Format) Filter { return Filter{format: f} }

// IsAll reports whether the filter accepts every known image.
func (fl Filter) IsAll() bool { return fl.format == "" }

func (fl Filter) String() string {
	if fl.IsAll() {
		return FilterAll
	}
	return strings.ToLower(string(fl.format))
}

// Accepts applies the filter to a file name and its declared media type.
// A specific filter only looks at the extension.
func (fl Filter) Accepts(name, mediaType string) bool {
	if fl.IsAll() {
		return IsKnownImage(name, mediaType)
	}
	return fl.format.HasExtension(ExtensionOf(name))
}
