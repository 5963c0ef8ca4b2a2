package common_test

import (
	"testing"

	. "matchbook/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in    string
		scale int32
		want  Price
	}{
		{"101.25", 2, 10125},
		{"101.2", 2, 10120},
		{"100", 0, 100},
		{"-0.5", 1, -5},
		{"0.001", 3, 1},
	}
	for _, tt := range tests {
		got, err := ParsePrice(tt.in, tt.scale)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParsePrice_Invalid(t *testing.T) {
	_, err := ParsePrice("101.255", 2)
	assert.ErrorIs(t, err, ErrPriceOffTick)

	_, err = ParsePrice("30000000", 2)
	assert.ErrorIs(t, err, ErrPriceOutOfBounds)

	_, err = ParsePrice("ten", 2)
	assert.Error(t, err)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "101.25", FormatPrice(10125, 2))
	assert.Equal(t, "-0.50", FormatPrice(-50, 2))
	assert.Equal(t, "7", FormatPrice(7, 0))

	p, err := ParsePrice(FormatPrice(123456, 3), 3)
	require.NoError(t, err)
	assert.Equal(t, Price(123456), p)
}
