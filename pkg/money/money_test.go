package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCents(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "whole units", input: "12", want: 1200},
		{name: "two decimals", input: "12.34", want: 1234},
		{name: "one decimal", input: "0.5", want: 50},
		{name: "zero", input: "0", want: 0},
		{name: "large amount", input: "99999.99", want: 9999999},
		{name: "sub-cent precision", input: "1.005", wantErr: true},
		{name: "not a number", input: "twelve", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToCents(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromCents(t *testing.T) {
	assert.Equal(t, "12.34", FromCents(1234))
	assert.Equal(t, "0.05", FromCents(5))
	assert.Equal(t, "0.00", FromCents(0))
	assert.Equal(t, "-3.00", FromCents(-300))
}

func TestFromDecimal(t *testing.T) {
	got, err := FromDecimal(decimal.RequireFromString("45.67"))
	require.NoError(t, err)
	assert.Equal(t, int64(4567), got)

	_, err = FromDecimal(decimal.RequireFromString("45.678"))
	require.Error(t, err)
}
