package marketmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScaleQuantity(t *testing.T) {
	cases := []struct {
		name            string
		qty, mult, step string
		want            string
	}{
		{"floors to step", "0.3", "1.5", "0.1", "0.4"},
		{"exact multiple", "2", "0.5", "0.001", "1"},
		{"below one step", "0.001", "0.5", "0.001", "0"},
		{"no step keeps precision", "0.0034", "1", "0", "0.0034"},
		{"zero multiplier means one", "3", "0", "1", "3"},
		{"negative master size uses magnitude", "-0.25", "2", "0.1", "0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ScaleQuantity(d(tc.qty), d(tc.mult), d(tc.step))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestSlippage(t *testing.T) {
	assert.True(t, Slippage(d("100"), d("101")).Equal(d("0.01")))
	assert.True(t, Slippage(d("0"), d("101")).IsZero())

	assert.True(t, WithinSlippage(d("100"), d("100.5"), d("0.005")), "boundary is inclusive")
	assert.False(t, WithinSlippage(d("100"), d("101"), d("0.005")))
	assert.True(t, WithinSlippage(d("0"), d("101"), d("0.005")), "no reference disables the check")
	assert.True(t, WithinSlippage(d("100"), d("150"), d("0")), "no limit disables the check")
}

func TestApproxEqual(t *testing.T) {
	eps := d("1e-10")
	assert.True(t, ApproxEqual(d("1.00000000001"), d("1"), eps))
	assert.False(t, ApproxEqual(d("1.001"), d("1"), eps))
}
