// Package wire 交易所适配器共用的 JSON 辅助类型
package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// String 将 JSON 字符串、数字或布尔值解码为文本。
// 各交易所对 code、id、标志位是否加引号不统一
type String string

func (s *String) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = String(v)
		return nil
	}
	*s = String(b)
	return nil
}

func (s String) String() string { return string(s) }

// Decimal 解析为 decimal，为空或格式错误时返回 0
func (s String) Decimal() decimal.Decimal {
	return ParseDecimal(string(s))
}

// Int 解析为整数，"10.00" 和 "10x" 都得到 10
func (s String) Int() int {
	return ParseInt(string(s))
}

// Bool 兼容带引号或不带引号的 true/false
func (s String) Bool() bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(string(s)))
	return b
}

// ParseDecimal 解析失败时返回 0 的 decimal.NewFromString
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ParseInt(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "x"))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return int(ParseDecimal(s).IntPart())
}

// FirstDecimal 返回第一个非零值，
// 用于交易所在多个字段中返回同一价格的情况
func FirstDecimal(vals ...String) decimal.Decimal {
	for _, v := range vals {
		if d := v.Decimal(); !d.IsZero() {
			return d
		}
	}
	return decimal.Zero
}
