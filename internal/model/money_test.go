package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCents(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "whole", in: "50", want: 5000},
		{name: "two places", in: "10.55", want: 1055},
		{name: "negative", in: "-3.1", want: -310},
		{name: "trailing zeros", in: "1.500", want: 150},
		{name: "too precise", in: "0.001", wantErr: true},
		{name: "max int64 cents", in: "92233720368547758.07", want: 9223372036854775807},
		{name: "wraps past int64", in: "184467440737095516.17", wantErr: true},
		{name: "below min int64", in: "-92233720368547758.09", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCents(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromCents(t *testing.T) {
	assert.True(t, FromCents(1055).Equal(decimal.RequireFromString("10.55")))
	assert.True(t, FromCents(-40).Equal(decimal.RequireFromString("-0.4")))
}
