package convert

import (
	"strings"
	"unicode"
)

const (
	defaultFileName = "unnamed"
	maxBaseNameLen  = 100
	maxExtLen       = 10
)

// problem characters replaced with '-'
const asciiProblem = `<>:"/\|?*~;#$%&'(){}[]!` + "`"

// fullwidth look-alikes of the characters above
const fullwidthProblem = "＜＞：＂／＼｜？＊～；＃＄％＆＇（）｛｝［］！"

// SanitizeFilename makes a service-provided filename safe to use as an
// output or archive entry name:
//
//   - any directory part is dropped;
//   - control and non-printable characters are removed;
//   - whitespace and problem characters become '-', runs of '-' collapse;
//   - the extension is kept when it is short and alphanumeric.
//
// Examples:
//
//	"../../etc/x.jpg" -> "x.jpg"
//	"my photo.webp"   -> "my-photo.webp"
//	""                -> "unnamed"
func SanitizeFilename(name string) string {
	if p := strings.LastIndexAny(name, `/\`); p != -1 {
		name = name[p+1:]
	}
	name = strings.TrimSpace(name)

	base, ext := name, ""
	if p := strings.LastIndexByte(name, '.'); p > 0 {
		base, ext = name[:p], strings.ToLower(name[p+1:])
	}
	if !validExt(ext) {
		base, ext = name, ""
	}

	clean := sanitizeBase(strings.Trim(base, "."), maxBaseNameLen)
	if ext == "" {
		return clean
	}
	return clean + "." + ext
}

func validExt(ext string) bool {
	if ext == "" || len(ext) > maxExtLen {
		return false
	}
	for _, r := range ext {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func sanitizeBase(s string, maxLen int) string {
	var sb strings.Builder
	sb.Grow(len(s))

	prev := '-' // suppresses a leading '-'
	n := 0
	for _, r := range s {
		if n >= maxLen {
			break
		}
		switch {
		case unicode.IsSpace(r):
			r = '-'
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			continue
		case strings.ContainsRune(asciiProblem, r), strings.ContainsRune(fullwidthProblem, r):
			r = '-'
		}
		if r == '-' && prev == '-' {
			continue
		}
		sb.WriteRune(r)
		prev = r
		n++
	}

	name := strings.TrimRight(sb.String(), "-")
	if name == "" {
		return defaultFileName
	}
	return name
}
