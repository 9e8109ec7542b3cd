package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marketplace/money"
)

// Commission 為平台抽成設定
type Commission struct {
	// Pct 抽成比例，例如 0.1 代表 10%
	Pct decimal.Decimal
	// MinFee 每筆(訂單, 賣家)的最低手續費，只有 PerOrderMinimum 會使用
	MinFee money.Cents
}

// Validate 檢查抽成設定
func (c Commission) Validate() error {
	if c.Pct.IsNegative() || c.Pct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission pct must be between 0 and 1, got %s", c.Pct)
	}
	if c.MinFee.IsNegative() {
		return fmt.Errorf("commission minimum fee must not be negative, got %s", c.MinFee)
	}
	return nil
}

// VendorShare 為單一賣家在一筆訂單中的金額
type VendorShare struct {
	Lines     []money.Cents
	LineTotal money.Cents
	Shipping  money.Cents
}

// Gross 品項金額加上分攤的運費
func (s VendorShare) Gross() money.Cents {
	return s.LineTotal + s.Shipping
}

// FeeRule 計算平台手續費的規則
type FeeRule interface {
	Name() string
	Fee(share VendorShare, c Commission) money.Cents
}

const (
	FeeRulePerOrder = "per-order"
	FeeRulePerLine  = "per-line"
)

// PerOrderMinimum 以 (品項 + 運費) 計算抽成，並以最低手續費為下限
type PerOrderMinimum struct{}

func (PerOrderMinimum) Name() string { return FeeRulePerOrder }

func (PerOrderMinimum) Fee(share VendorShare, c Commission) money.Cents {
	return max(share.Gross().MulRate(c.Pct), c.MinFee)
}

// PerLineSnapshot 逐一品項計算抽成後加總，不再套用最低手續費，運費不抽成
type PerLineSnapshot struct{}

func (PerLineSnapshot) Name() string { return FeeRulePerLine }

func (PerLineSnapshot) Fee(share VendorShare, c Commission) money.Cents {
	var fee money.Cents
	for _, line := range share.Lines {
		fee += line.MulRate(c.Pct)
	}
	return fee
}

// ParseFeeRule 依名稱取得手續費規則
func ParseFeeRule(name string) (FeeRule, error) {
	switch name {
	case "", FeeRulePerOrder:
		return PerOrderMinimum{}, nil
	case FeeRulePerLine:
		return PerLineSnapshot{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFeeRule, name)
}
