package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Credential 单个账户的 API 凭证及跟单参数
// 加载后只读，在各分发 goroutine 之间共享
type Credential struct {
	AccountID      string
	Name           string
	Exchange       string
	APIKey         string
	APISecret      string
	Passphrase     string
	Username       string
	Password       string
	ClientSecret   string
	SizeMultiplier decimal.Decimal
	SlippageLimit  decimal.Decimal
	Leverage       int
}

// Label 日志和结果中使用的账户名称
func (c Credential) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.AccountID != "" {
		return c.AccountID
	}
	if c.Username != "" {
		return c.Username
	}
	if len(c.APIKey) > 6 {
		return c.APIKey[:6] + "..."
	}
	return c.APIKey
}

// SameAccount 判断两个凭证是否对应同一账户
func (c Credential) SameAccount(o Credential) bool {
	if !strings.EqualFold(c.Exchange, o.Exchange) {
		return false
	}
	if c.APIKey != "" && c.APIKey == o.APIKey {
		return true
	}
	if c.Username != "" && strings.EqualFold(c.Username, o.Username) {
		return true
	}
	return false
}

// Multiplier 未配置时默认为 1
func (c Credential) Multiplier() decimal.Decimal {
	if c.SizeMultiplier.IsPositive() {
		return c.SizeMultiplier
	}
	return decimal.NewFromInt(1)
}
