// Package marketmath 跟单数量计算与价格检查使用的 decimal 运算
package marketmath

import (
	"github.com/shopspring/decimal"
)

// FloorToStep 将 q 向下取整到 step 的整数倍，
// step 非正时原样返回
func FloorToStep(q, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return q
	}
	return q.Div(step).Floor().Mul(step)
}

// ScaleQuantity 主账户数量乘以跟单倍数，
// 再按下单步长向下取整
func ScaleQuantity(masterQty, multiplier, step decimal.Decimal) decimal.Decimal {
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	return FloorToStep(masterQty.Abs().Mul(multiplier), step)
}

// Slippage 计算 |follower - ref| / ref，ref 非正时返回 0
func Slippage(ref, follower decimal.Decimal) decimal.Decimal {
	if !ref.IsPositive() {
		return decimal.Zero
	}
	return follower.Sub(ref).Abs().Div(ref)
}

// WithinSlippage follower 相对 ref 的偏离是否在 limit 以内，
// ref 或 limit 非正时不检查
func WithinSlippage(ref, follower, limit decimal.Decimal) bool {
	if !ref.IsPositive() || !limit.IsPositive() {
		return true
	}
	return Slippage(ref, follower).LessThanOrEqual(limit)
}

// ApproxEqual 按容差 eps 比较绝对值
func ApproxEqual(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}
