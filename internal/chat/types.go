// Package chat holds the nested conversation data model and the line-oriented
// transcript reader that produces it.
package chat

import (
	"fmt"
	"strconv"
)

// Token is one element of a turn's tokenized text.
type Token struct {
	Text   string
	Offset int // byte offset into the turn text
}

// Turn is the tokenized text of one transcript line.
type Turn []Token

// Text joins the turn's tokens with single spaces.
func (t Turn) Text() string {
	n := 0
	for _, tok := range t {
		n += len(tok.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, tok := range t {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, tok.Text...)
	}
	return string(buf)
}

// RootMarker is the head field value of a conversation-initial turn.
const RootMarker = "root"

// HeadLabel identifies the earlier turn a turn responds to, or root.
// The zero value is root.
type HeadLabel struct {
	parent uint
	child  bool // false means root
}

// RootHead returns the label of a turn with no parent.
func RootHead() HeadLabel { return HeadLabel{} }

// ParentHead returns the label of a turn responding to turn idx.
func ParentHead(idx uint) HeadLabel { return HeadLabel{parent: idx, child: true} }

// ParseHeadLabel parses a raw head field: the literal "root" or a
// non-negative decimal turn index.
func ParseHeadLabel(raw string) (HeadLabel, error) {
	if raw == RootMarker {
		return RootHead(), nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return HeadLabel{}, fmt.Errorf("head %q is neither %q nor a turn index", raw, RootMarker)
	}
	return ParentHead(uint(n)), nil
}

// IsRoot reports whether the turn starts the conversation.
func (h HeadLabel) IsRoot() bool { return !h.child }

// Parent returns the parent turn index; ok is false for root.
func (h HeadLabel) Parent() (idx uint, ok bool) { return h.parent, h.child }

func (h HeadLabel) String() string {
	if !h.child {
		return RootMarker
	}
	return strconv.FormatUint(uint64(h.parent), 10)
}

// Label is the conversation-level gold class.
type Label int

const (
	LabelNegative Label = 0
	LabelPositive Label = 1
)

// ParseLabel accepts "0" or "1".
func ParseLabel(raw string) (Label, error) {
	switch raw {
	case "0":
		return LabelNegative, nil
	case "1":
		return LabelPositive, nil
	default:
		return 0, fmt.Errorf("label %q: want 0 or 1", raw)
	}
}

// Record is one parsed conversation: index-aligned turns and head labels,
// plus an optional gold label. A Record is immutable; accessors return copies.
type Record struct {
	index     int
	startLine int
	turns     []Turn
	heads     []HeadLabel
	label     Label
	hasLabel  bool
}

// RecordOption configures NewRecord.
type RecordOption func(*Record)

// WithLabel attaches a gold classification label.
func WithLabel(l Label) RecordOption {
	return func(r *Record) {
		r.label = l
		r.hasLabel = true
	}
}

// WithPosition records where the conversation sits in its source:
// its ordinal and the 1-based line number of its first turn.
func WithPosition(index, startLine int) RecordOption {
	return func(r *Record) {
		r.index = index
		r.startLine = startLine
	}
}

// NewRecord builds a Record, deep-copying turns and heads. It rejects
// misaligned inputs. Zero turns is allowed here; classifiers reject it.
func NewRecord(turns []Turn, heads []HeadLabel, opts ...RecordOption) (*Record, error) {
	if len(turns) != len(heads) {
		return nil, fmt.Errorf("record has %d turns but %d head labels", len(turns), len(heads))
	}
	r := &Record{
		turns: make([]Turn, len(turns)),
		heads: make([]HeadLabel, len(heads)),
	}
	for i, t := range turns {
		r.turns[i] = append(Turn(nil), t...)
	}
	copy(r.heads, heads)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Len returns the number of turns.
func (r *Record) Len() int { return len(r.turns) }

// Index is the record's ordinal within its source, starting at 0.
func (r *Record) Index() int { return r.index }

// StartLine is the 1-based source line of the first turn, or 0 if unknown.
func (r *Record) StartLine() int { return r.startLine }

// Turn returns a copy of turn i.
func (r *Record) Turn(i int) Turn { return append(Turn(nil), r.turns[i]...) }

// Text returns the space-joined text of turn i.
func (r *Record) Text(i int) string { return r.turns[i].Text() }

// Turns returns a copy of every turn.
func (r *Record) Turns() []Turn {
	out := make([]Turn, len(r.turns))
	for i := range r.turns {
		out[i] = r.Turn(i)
	}
	return out
}

// Head returns the head label of turn i.
func (r *Record) Head(i int) HeadLabel { return r.heads[i] }

// Heads returns a copy of the head labels.
func (r *Record) Heads() []HeadLabel { return append([]HeadLabel(nil), r.heads...) }

// Label returns the gold label, if one was attached.
func (r *Record) Label() (Label, bool) { return r.label, r.hasLabel }

// ValidateHeads checks that every parent index points at an earlier turn.
// The first offender is returned as a *HeadError.
func (r *Record) ValidateHeads() error {
	for i, h := range r.heads {
		p, ok := h.Parent()
		if ok && int(p) >= i {
			return &HeadError{Turn: i, Parent: p}
		}
	}
	return nil
}
