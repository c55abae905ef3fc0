package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringDecodesAnyScalar(t *testing.T) {
	var v struct {
		Code   String `json:"code"`
		Num    String `json:"num"`
		Flag   String `json:"flag"`
		Quoted String `json:"quoted"`
		Null   String `json:"null"`
	}
	err := json.Unmarshal([]byte(`{"code":"0","num":12.5,"flag":true,"quoted":"false","null":null}`), &v)
	require.NoError(t, err)

	assert.Equal(t, "0", v.Code.String())
	assert.Equal(t, "12.5", v.Num.Decimal().String())
	assert.True(t, v.Flag.Bool())
	assert.False(t, v.Quoted.Bool())
	assert.Equal(t, "", v.Null.String())
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, 10, ParseInt("10"))
	assert.Equal(t, 10, ParseInt("10.00"))
	assert.Equal(t, 20, ParseInt("20x"))
	assert.Equal(t, 0, ParseInt(""))
	assert.Equal(t, 0, ParseInt("abc"))
}

func TestFirstDecimal(t *testing.T) {
	assert.Equal(t, "101.5", FirstDecimal("", "0", "101.5", "99").String())
	assert.True(t, FirstDecimal("", "bad").IsZero())
}
