package key

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, `null`},
		{"bool", true, `true`},
		{"int", 1000, `1000`},
		{"negative int", int64(-42), `-42`},
		{"integral float", 1000.0, `1000`},
		{"fraction", 12.5, `12.5`},
		{"large uint", uint64(math.MaxUint64), `18446744073709551615`},
		{"string", "hello", `"hello"`},
		{"empty object", map[string]any{}, `{}`},
		{"empty array", []any{}, `[]`},
		{"sorted keys", map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"nested sorted keys", map[string]any{"z": map[string]any{"y": 1, "x": 2}, "a": []any{3, 2}}, `{"a":[3,2],"z":{"x":2,"y":1}}`},
		{"no html escaping", "<a> & <b>", `"<a> & <b>"`},
		{"control characters", "line\nbreak\ttab\x01", `"line\nbreak\ttab\u0001"`},
		{"quote and backslash", `say "hi" \o/`, `"say \"hi\" \\o/"`},
		{"line separator kept literal", "a\u2028b", "\"a\u2028b\""},
		{"typed map", map[string]int{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"struct uses json tags", struct {
			Amount   int    `json:"amount"`
			Currency string `json:"currency"`
		}{1000, "USD"}, `{"amount":1000,"currency":"USD"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	a, err := Canonicalize(map[string]any{"amount": 1000, "currency": "USD", "meta": map[string]any{"k1": "v1", "k2": "v2"}})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"meta": map[string]any{"k2": "v2", "k1": "v1"}, "currency": "USD", "amount": 1000})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalize_NFCNormalization(t *testing.T) {
	// "é" composed (U+00E9) and decomposed (e + U+0301) must serialize identically.
	composed, err := Canonicalize(map[string]any{"name": "caf\u00e9"})
	require.NoError(t, err)
	decomposed, err := Canonicalize(map[string]any{"name": "cafe\u0301"})
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestCanonicalize_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 byte order but after it in UTF-16
	// because the emoji is encoded as a surrogate pair starting 0xD83D.
	got, err := Canonicalize(map[string]any{"\uff61": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uff61\":1}", string(got))
}

func TestCanonicalize_Rejects(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	deep := any("leaf")
	for i := 0; i < maxDepth+2; i++ {
		deep = []any{deep}
	}

	tests := []struct {
		name  string
		input any
	}{
		{"nan", math.NaN()},
		{"infinity", math.Inf(1)},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"cycle", cyclic},
		{"too deep", deep},
		{"duplicate after normalization", map[string]any{"caf\u00e9": 1, "cafe\u0301": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestLessUTF16(t *testing.T) {
	assert.True(t, lessUTF16("a", "b"))
	assert.True(t, lessUTF16("a", "ab"))
	assert.False(t, lessUTF16("b", "a"))
	assert.False(t, lessUTF16("same", "same"))
}
