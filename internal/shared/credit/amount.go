// Package credit 信用点的十进制运算
//
// 所有金额以 6 位小数的十进制字符串在系统内流转（TON 手续费为 9 位），
// 运算统一经由 shopspring/decimal，任何路径都不允许 float64 参与金额计算。
package credit

import (
	"github.com/shopspring/decimal"

	"nervix-hub/internal/shared/errdefs"
)

// Amount 信用点金额
type Amount = decimal.Decimal

// 小数位约定
const (
	// Places 信用点金额的小数位数
	Places = 6

	// TONPlaces TON 计价金额的小数位数
	TONPlaces = 9
)

// Zero 零金额
func Zero() Amount {
	return decimal.Zero
}

// Parse 解析十进制字符串
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errdefs.Invalidf("invalid amount %q", s)
	}
	return d, nil
}

// MustParse 解析十进制字符串，失败时 panic（仅用于常量和测试）
func MustParse(s string) Amount {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParsePositive 解析并要求严格为正
func ParsePositive(s string) (Amount, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, errdefs.Invalidf("amount must be positive, got %q", s)
	}
	return d, nil
}

// Format 格式化为 6 位小数的规范字符串
func Format(a Amount) string {
	return a.StringFixed(Places)
}

// FormatTON 格式化为 9 位小数的规范字符串
func FormatTON(a Amount) string {
	return a.StringFixed(TONPlaces)
}

// FromInt 由整数构造金额
func FromInt(n int64) Amount {
	return decimal.NewFromInt(n)
}

// Percent 计算 amount 的 pct%（pct 为百分数，如 2.5 表示 2.5%）
func Percent(amount, pct Amount) Amount {
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}

// Min 返回较小值
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max 返回较大值
func Max(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Clamp 将 v 截断到 [lo, hi]
func Clamp(v, lo, hi Amount) Amount {
	return Min(Max(v, lo), hi)
}
