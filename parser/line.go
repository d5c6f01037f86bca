package parser

import (
	"strings"
)

// LineLayout splits delimited lines whose single free-text field may itself
// contain the delimiter. Leading and Trailing count the fixed fields on
// each side of the free-text field.
type LineLayout struct {
	Delimiter string
	Leading   int
	Trailing  int
}

// Fields returns the number of fields a line yields.
func (l LineLayout) Fields() int {
	return l.Leading + 1 + l.Trailing
}

// Split anchors on the fixed fields from both ends and joins whatever is
// left in the middle back into the free-text field.
func (l LineLayout) Split(line string) ([]string, error) {
	delim := l.Delimiter
	if delim == "" {
		delim = ","
	}
	line = strings.TrimRight(line, "\r\n")

	parts := strings.Split(line, delim)
	want := l.Fields()
	if len(parts) == want {
		return parts, nil
	}
	if len(parts) < want {
		return nil, &MalformedRowError{Reason: "too few fields", Got: len(parts), Want: want}
	}

	out := make([]string, 0, want)
	out = append(out, parts[:l.Leading]...)
	out = append(out, strings.Join(parts[l.Leading:len(parts)-l.Trailing], delim))
	out = append(out, parts[len(parts)-l.Trailing:]...)
	return out, nil
}
