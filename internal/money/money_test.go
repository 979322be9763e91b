package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCents(t *testing.T) {
	cases := map[string]int64{
		"10":      1000,
		"10.5":    1050,
		"10,50":   1050,
		" 4.50 ":  450,
		"$ 12.00": 1200,
		"0":       0,
		"0.005":   1,
		"19.994":  1999,
	}
	for in, want := range cases {
		got, err := ParseCents(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseCentsRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2.3"} {
		_, err := ParseCents(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "20.00", FormatCents(2000))
	assert.Equal(t, "0.05", FormatCents(5))
	assert.Equal(t, "1234.56", FormatCents(123456))
	assert.Equal(t, "0.00", FormatCents(0))
}
