// Package money 提供以最小貨幣單位(分)表示金額的值型別，所有金額運算皆為整數運算。
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents 代表以分為單位的金額
type Cents int64

// Zero 零元
const Zero Cents = 0

// Int64 回傳原始的分值
func (c Cents) Int64() int64 {
	return int64(c)
}

// IsNegative 判斷金額是否為負數
func (c Cents) IsNegative() bool {
	return c < 0
}

// IsPositive 判斷金額是否為正數
func (c Cents) IsPositive() bool {
	return c > 0
}

// Decimal 轉換成以分為單位的 decimal
func (c Cents) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(c))
}

// MulRate 以比例(例如 0.1 代表 10%)乘上金額，並四捨五入(遠離零)到整數分
func (c Cents) MulRate(rate decimal.Decimal) Cents {
	return Cents(c.Decimal().Mul(rate).Round(0).IntPart())
}

// String 以 "12.34" 的格式輸出
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Sum 加總多筆金額
func Sum(values ...Cents) Cents {
	var total Cents
	for _, v := range values {
		total += v
	}
	return total
}

// Ptr 回傳金額的指標，用於可為 null 的欄位
func Ptr(c Cents) *Cents {
	return &c
}
