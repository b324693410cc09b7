package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
)

const (
	defaultInitialLineBuf = 64 * 1024
	defaultMaxLineBytes   = 10 * 1024 * 1024
)

// Reader turns a tab-separated transcript into conversation records.
//
// Each non-blank line is "<head>\t<turn text>"; a blank line ends the current
// conversation and end of input ends the last one. Records are produced lazily,
// one per Next call, and the source is read exactly once.
type Reader struct {
	scanner *bufio.Scanner
	tok     Tokenizer
	logger  *slog.Logger
	labelFn func(index int) (Label, bool)
	strict  bool

	line    int
	emitted int
	rec     *Record
	err     error
	done    bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	logger       *slog.Logger
	labelFn      func(index int) (Label, bool)
	strict       bool
	maxLineBytes int
}

// WithLogger sets the sink for debug output. The default discards.
func WithLogger(l *slog.Logger) ReaderOption {
	return func(c *readerConfig) { c.logger = l }
}

// WithLabelFunc attaches gold labels by record ordinal.
func WithLabelFunc(fn func(index int) (Label, bool)) ReaderOption {
	return func(c *readerConfig) { c.labelFn = fn }
}

// WithStrictHeads rejects head indices that do not point at an earlier turn
// of the same conversation.
func WithStrictHeads() ReaderOption {
	return func(c *readerConfig) { c.strict = true }
}

// WithMaxLineBytes bounds the length of a single transcript line.
func WithMaxLineBytes(n int) ReaderOption {
	return func(c *readerConfig) { c.maxLineBytes = n }
}

// ConstantLabel labels every record with l.
func ConstantLabel(l Label) func(int) (Label, bool) {
	return func(int) (Label, bool) { return l, true }
}

// LabelSlice labels record i with labels[i]; records past the end stay unlabelled.
func LabelSlice(labels []Label) func(int) (Label, bool) {
	return func(i int) (Label, bool) {
		if i < 0 || i >= len(labels) {
			return 0, false
		}
		return labels[i], true
	}
}

// NewReader creates a Reader over src. tok must not be nil.
func NewReader(src io.Reader, tok Tokenizer, opts ...ReaderOption) *Reader {
	cfg := readerConfig{maxLineBytes: defaultMaxLineBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	scanner := bufio.NewScanner(src)
	initial := defaultInitialLineBuf
	if initial > cfg.maxLineBytes {
		initial = cfg.maxLineBytes
	}
	scanner.Buffer(make([]byte, 0, initial), cfg.maxLineBytes)

	return &Reader{
		scanner: scanner,
		tok:     tok,
		logger:  cfg.logger,
		labelFn: cfg.labelFn,
		strict:  cfg.strict,
	}
}

// pending accumulates one conversation. It lives only inside a single Next call.
type pending struct {
	startLine int
	raw       []string
	turns     []Turn
	heads     []HeadLabel
}

// Next advances to the next conversation. It returns false at end of input or
// on the first error; check Err afterwards.
func (r *Reader) Next() bool {
	r.rec = nil
	if r.done {
		return false
	}

	var acc pending
	for r.scanner.Scan() {
		r.line++
		raw := strings.TrimRight(r.scanner.Text(), "\r")

		if strings.TrimSpace(raw) == "" {
			if len(acc.turns) == 0 {
				continue
			}
			return r.emit(&acc)
		}

		if err := r.addTurn(&acc, raw); err != nil {
			return r.fail(err)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return r.fail(fmt.Errorf("%w: after line %d: %w", ErrIO, r.line, err))
	}

	r.done = true
	if len(acc.turns) == 0 {
		return false
	}
	return r.emit(&acc)
}

// Record returns the conversation produced by the last successful Next.
func (r *Reader) Record() *Record { return r.rec }

// Err returns the error that stopped the Reader, if any.
func (r *Reader) Err() error { return r.err }

// Line returns the number of source lines consumed so far.
func (r *Reader) Line() int { return r.line }

// All returns the remaining records as a single-use sequence. An error, if
// any, is yielded last with a nil record.
func (r *Reader) All() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for r.Next() {
			if !yield(r.rec, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

func (r *Reader) addTurn(acc *pending, raw string) error {
	tab := strings.IndexByte(raw, '\t')
	if tab < 0 {
		return &ParseError{Line: r.line, Content: raw, Reason: "missing tab separator"}
	}

	head, err := ParseHeadLabel(strings.TrimSpace(raw[:tab]))
	if err != nil {
		return &ParseError{Line: r.line, Content: raw, Reason: err.Error()}
	}
	toks := r.tok.Tokenize(strings.TrimSpace(raw[tab+1:]))
	if len(toks) == 0 {
		return &ParseError{Line: r.line, Content: raw, Reason: "empty turn text"}
	}

	if len(acc.turns) == 0 {
		acc.startLine = r.line
	}
	acc.raw = append(acc.raw, raw)
	acc.turns = append(acc.turns, toks)
	acc.heads = append(acc.heads, head)
	return nil
}

func (r *Reader) emit(acc *pending) bool {
	opts := []RecordOption{WithPosition(r.emitted, acc.startLine)}
	if r.labelFn != nil {
		if l, ok := r.labelFn(r.emitted); ok {
			opts = append(opts, WithLabel(l))
		}
	}

	rec, err := NewRecord(acc.turns, acc.heads, opts...)
	if err != nil {
		return r.fail(err)
	}
	if r.strict {
		var he *HeadError
		if err := rec.ValidateHeads(); errors.As(err, &he) {
			// Turns of one conversation sit on consecutive lines.
			return r.fail(&ParseError{
				Line:    acc.startLine + he.Turn,
				Content: acc.raw[he.Turn],
				Reason:  fmt.Sprintf("head %d does not reference an earlier turn", he.Parent),
			})
		}
	}

	r.logger.Debug("conversation parsed",
		"index", r.emitted,
		"turns", rec.Len(),
		"start_line", acc.startLine,
	)

	r.emitted++
	r.rec = rec
	return true
}

func (r *Reader) fail(err error) bool {
	r.err = err
	r.done = true
	return false
}

// ReadAll drains src into a slice of records.
func ReadAll(src io.Reader, tok Tokenizer, opts ...ReaderOption) ([]*Record, error) {
	rd := NewReader(src, tok, opts...)
	var recs []*Record
	for rd.Next() {
		recs = append(recs, rd.Record())
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadLabels reads one gold label ("0" or "1") per non-blank line.
func ReadLabels(src io.Reader) ([]Label, error) {
	var labels []Label
	scanner := bufio.NewScanner(src)
	n := 0
	for scanner.Scan() {
		n++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		l, err := ParseLabel(raw)
		if err != nil {
			return nil, fmt.Errorf("labels line %d: %w", n, err)
		}
		labels = append(labels, l)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return labels, nil
}
