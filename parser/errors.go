package parser

import (
	"fmt"
)

// MalformedRowError reports a row that could not be split into the
// expected fields. The row is dropped; the period continues.
type MalformedRowError struct {
	Line   int
	Reason string
	Got    int
	Want   int
}

func (e *MalformedRowError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("malformed row %d: %s (got %d fields, want %d)", e.Line, e.Reason, e.Got, e.Want)
	}
	return fmt.Sprintf("malformed row %d: %s", e.Line, e.Reason)
}

// NumericParseError reports a numeric field that is not a valid integer
// once grouping separators are removed.
type NumericParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *NumericParseError) Error() string {
	return fmt.Errorf("row %d: parse %s %q: %w", e.Line, e.Field, e.Value, e.Err).Error()
}

func (e *NumericParseError) Unwrap() error {
	return e.Err
}
