package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringify(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "strap-1", "strap-1"},
		{"int", 42, "42"},
		{"int64", int64(9000000000), "9000000000"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"bytes", []byte("raw"), "raw"},
		{"map as json", map[string]string{"slug": "ana"}, `{"slug":"ana"}`},
		{"slice as json", []int{1, 2}, "[1,2]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := stringify(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStringifyFloatKeepsNumericForm(t *testing.T) {
	got, err := stringify(118.5)
	require.NoError(t, err)
	assert.Equal(t, "118.500000", got)
}

func TestStringifyRejectsUnserializable(t *testing.T) {
	_, err := stringify(make(chan int))
	assert.Error(t, err)
}
