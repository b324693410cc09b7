package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLine matches every *ParseError.
	ErrMalformedLine = errors.New("malformed transcript line")

	// ErrIO wraps failures reading the underlying source.
	ErrIO = errors.New("transcript read failed")
)

// ParseError reports a transcript line that cannot be turned into a turn.
type ParseError struct {
	Line    int    // 1-based
	Content string // raw line, without the trailing newline
	Reason  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Content)
}

// Is makes errors.Is(err, ErrMalformedLine) hold for parse errors.
func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedLine
}

// HeadError reports a turn whose head does not point at an earlier turn of
// the same conversation.
type HeadError struct {
	Turn   int // 0-based turn index within the conversation
	Parent uint
}

func (e *HeadError) Error() string {
	return fmt.Sprintf("turn %d: head %d does not reference an earlier turn", e.Turn, e.Parent)
}
