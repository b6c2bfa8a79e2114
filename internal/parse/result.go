package parse

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Reason classifies a skipped row.
type Reason string

const (
	ReasonMissingField     Reason = "missing_field"
	ReasonUnparseableValue Reason = "unparseable_value"
	ReasonOutOfRange       Reason = "out_of_range"
)

// SkippedRow describes an input row that could not be mapped. It is a value,
// not an error: skipped rows are tallied and never stop a stream.
type SkippedRow struct {
	Line   string `json:"line"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail"`
}

func (s SkippedRow) String() string {
	return fmt.Sprintf("line %s: %s: %s", s.Line, s.Reason, s.Detail)
}

// Result is the outcome for one input row: either a record or a skip.
type Result[T any] struct {
	Record  T
	Skipped *SkippedRow
}

// OK reports whether the row produced a record.
func (r Result[T]) OK() bool { return r.Skipped == nil }

// Stream is a lazy, single-pass sequence of parse results.
//
//	for s.Next() {
//		res := s.Result()
//	}
//	if err := s.Err(); err != nil { ... }
type Stream[T any] interface {
	Next() bool
	Result() Result[T]
	// Err returns the payload-level failure that ended the stream, if any.
	Err() error
	Close() error
}

// ParseError is a payload-level failure that stops the whole source.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// decodeText returns a UTF-8 reader over r. A UTF-8 or UTF-16 byte order
// mark selects the encoding, otherwise UTF-8 is assumed. Invalid bytes decode
// to utf8.RuneError.
func decodeText(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

func skip(line string, reason Reason, format string, args ...any) *SkippedRow {
	return &SkippedRow{Line: line, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
