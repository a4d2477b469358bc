package testutils

import (
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/mcuadros/go-defaults"
)

type TextAssertOptions struct {
	TrimSpace        bool `default:"true"`
	IgnoreEmptyLines bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter
type TextOption func(*TextAssertOptions)

// WithTrimSpace sets whether each line is trimmed before comparison
func WithTrimSpace(trim bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = trim }
}

// WithIgnoreEmptyLines sets whether blank lines are dropped before comparison
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(o *TextAssertOptions) { o.IgnoreEmptyLines = ignore }
}

// TextAsserter compares multi-line output and reports a unified diff.
type TextAsserter struct {
	t       TestingT
	options TextAssertOptions
}

// NewTextAsserter creates a new TextAsserter with default options
func NewTextAsserter(t TestingT) *TextAsserter {
	opts := TextAssertOptions{}
	defaults.SetDefaults(&opts)
	return &TextAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the TextAsserter
func (ta *TextAsserter) WithOptions(opts ...TextOption) *TextAsserter {
	for _, opt := range opts {
		opt(&ta.options)
	}
	return ta
}

// Assert compares actual against expected
func (ta *TextAsserter) Assert(actual, expected string) bool {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return true
	}
	edits := myers.ComputeEdits(span.URIFromPath("expected"), e, a)
	diff := gotextdiff.ToUnified("expected", "actual", e, edits)
	ta.t.Errorf("Text assertion failed:\n%v", diff)
	return false
}

func (ta *TextAsserter) normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, line := range lines {
		if ta.options.TrimSpace {
			line = strings.TrimSpace(line)
		}
		if ta.options.IgnoreEmptyLines && line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
}
