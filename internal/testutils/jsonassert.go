package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as
// the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"true"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string `default:""`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// WithIgnoreExtraKeys sets whether keys missing from expected are dropped from actual
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoreArrayOrder sets whether arrays are compared as multisets
func WithIgnoreArrayOrder(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields drops the named keys at every depth on both sides
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents and reports a readable diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

// WithOptions applies functional options to the JSONAsserter
func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if diff := ja.Diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertValue marshals actual and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(actual interface{}, expectedJSON string) bool {
	return ja.Assert(MustJSON(actual), expectedJSON)
}

// Diff returns an empty string when the documents match.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	expected = map[string]interface{}{"root": expected}
	actual = map[string]interface{}{"root": actual}

	dropFields(expected, ja.options.IgnoredFields)
	dropFields(actual, ja.options.IgnoredFields)
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	actual = ja.align(expected, actual)

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// align resolves presence placeholders and, when enabled, prunes actual keys
// the expected document does not mention.
func (ja *JSONAsserter) align(expected, actual interface{}) interface{} {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return actual
		}
		out := make(map[string]interface{}, len(act))
		for k, v := range act {
			e, known := exp[k]
			switch {
			case !known && ja.options.IgnoreExtraKeys:
				continue
			case known && e == PresencePlaceholder:
				out[k] = PresencePlaceholder
			case known:
				out[k] = ja.align(e, v)
			default:
				out[k] = v
			}
		}
		return out
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return actual
		}
		out := make([]interface{}, len(act))
		for i := range act {
			if i < len(exp) {
				out[i] = ja.align(exp[i], act[i])
			} else {
				out[i] = act[i]
			}
		}
		return out
	}
	return actual
}

func dropFields(v interface{}, fields []string) {
	if len(fields) == 0 {
		return
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			delete(t, f)
		}
		for _, child := range t {
			dropFields(child, fields)
		}
	case []interface{}:
		for _, child := range t {
			dropFields(child, fields)
		}
	}
}

func sortArrays(v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			sortArrays(child)
		}
	case []interface{}:
		for _, child := range t {
			sortArrays(child)
		}
		sort.Slice(t, func(i, j int) bool {
			return MustJSON(t[i]) < MustJSON(t[j])
		})
	}
}
