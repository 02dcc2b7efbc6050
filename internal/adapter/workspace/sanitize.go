package workspace

import (
	"strings"
	"unicode"
)

const (
	fallbackSegment = "unnamed"
	maxSegmentLen   = 200
)

// Windows device names cannot be used as path segments even with an
// extension appended.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true,
	"COM4": true, "COM5": true, "COM6": true,
	"COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true,
	"LPT4": true, "LPT5": true, "LPT6": true,
	"LPT7": true, "LPT8": true, "LPT9": true,
}

// Characters that are illegal or problematic in at least one common
// filesystem.
const hostileChars = `<>:"/\|?*`

// sanitizeSegment makes a single path segment safe for local
// filesystems:
//
//   - control and non-printable runes are removed;
//   - illegal characters are replaced with '-';
//   - consecutive '-' collapse to one;
//   - leading/trailing '-', ' ' and '.' are trimmed;
//   - reserved Windows device names get a '_' suffix;
//   - the result is bounded to maxSegmentLen runes.
//
// An empty result falls back to "unnamed". Sanitization is strictly
// per segment; it never sees a path separator it should preserve.
func sanitizeSegment(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	prev := rune(0)
	n := 0
	for _, r := range s {
		if n >= maxSegmentLen {
			break
		}

		switch {
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			continue
		case strings.ContainsRune(hostileChars, r):
			r = '-'
		}

		if r == '-' && prev == '-' {
			continue
		}

		sb.WriteRune(r)
		prev = r
		n++
	}

	name := strings.Trim(sb.String(), "-. ")
	if name == "" {
		return fallbackSegment
	}

	base, ext := name, ""
	if p := strings.LastIndexByte(name, '.'); p > 0 {
		base, ext = name[:p], name[p:]
	}
	if reservedNames[strings.ToUpper(base)] {
		name = base + "_" + ext
	}

	return name
}
