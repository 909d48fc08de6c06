package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", "hello", `"hello"`},
		{"int", 42, "42"},
		{"negative int", -7, "-7"},
		{"int64", int64(1<<40 + 3), "1099511627779"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"array", []any{1, "two", true}, `[1,"two",true]`},
		{"empty object", map[string]any{}, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_ObjectKeysSorted(t *testing.T) {
	got, err := Marshal(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mango": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mango":3,"zebra":1}`, string(got))
}

func TestMarshal_KeysSortedByUTF16CodeUnits(t *testing.T) {
	// U+10000 encodes as a surrogate pair whose first unit is 0xD800,
	// so it sorts before U+FF61 (single unit) in UTF-16 order. UTF-8
	// byte order would reverse the two (EF BD A1 before F0 90 80 80).
	got, err := Marshal(map[string]any{
		"\U00010000": 1,
		"\uFF61":     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":1,\"\uFF61\":2}", string(got))
}

func TestMarshal_StringsNFCNormalized(t *testing.T) {
	// e + combining acute accent normalizes to precomposed é.
	decomposed := "e\u0301"
	precomposed := "\u00E9"

	a, err := Marshal(decomposed)
	require.NoError(t, err)
	b, err := Marshal(precomposed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a), "equal NFC forms must canonicalize identically")
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	got, err := Marshal("<a>&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(got))
}

func TestMarshal_RejectsFloats(t *testing.T) {
	_, err := Marshal(3.14)
	require.Error(t, err)

	_, err = Marshal(float32(1.0))
	require.Error(t, err)

	_, err = Marshal([]any{1, 2.5})
	require.Error(t, err, "floats are rejected anywhere in the structure")
}

func TestMarshal_RejectsNull(t *testing.T) {
	_, err := Marshal(nil)
	require.Error(t, err)

	_, err = Marshal(map[string]any{"k": nil})
	require.Error(t, err)
}

func TestMarshal_RejectsUnsupportedTypes(t *testing.T) {
	_, err := Marshal(struct{}{})
	require.Error(t, err)

	_, err = Marshal(map[int]any{1: "x"})
	require.Error(t, err)
}

func TestMarshal_Deterministic(t *testing.T) {
	input := map[string]any{
		"b": []any{1, 2, 3},
		"a": map[string]any{"nested": true, "also": "yes"},
		"c": "value",
	}

	first, err := Marshal(input)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(input)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestHashWithDomain_SeparatesDomains(t *testing.T) {
	data := []byte(`{"x":1}`)

	h1 := HashWithDomain(DomainBinding, data)
	h2 := HashWithDomain(DomainFact, data)

	assert.NotEqual(t, h1, h2, "same payload under different domains must differ")
	assert.Len(t, h1, 64, "hex-encoded SHA-256")

	assert.Equal(t, h1, HashWithDomain(DomainBinding, data))
}

func TestHashWithDomain_NullSeparatorPreventsAmbiguity(t *testing.T) {
	// Without the separator, domain "ab" + data "c" and domain "a" +
	// data "bc" would collide.
	assert.NotEqual(t,
		HashWithDomain("ab", []byte("c")),
		HashWithDomain("a", []byte("bc")),
	)
}

func TestBindingKey_IdentityByAssignment(t *testing.T) {
	k1, err := BindingKey(map[string]int64{"x": 1, "y": 2})
	require.NoError(t, err)
	k2, err := BindingKey(map[string]int64{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "key is independent of construction order")

	k3, err := BindingKey(map[string]int64{"x": 1, "y": 3})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := BindingKey(map[string]int64{"x": 2, "y": 1})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "swapped assignments are distinct bindings")
}

func TestMustBindingKey(t *testing.T) {
	assert.NotPanics(t, func() {
		key := MustBindingKey(map[string]int64{"n": 7})
		assert.Len(t, key, 64)
	})

	empty := MustBindingKey(map[string]int64{})
	assert.Equal(t, HashWithDomain(DomainBinding, []byte("{}")), empty)
}
