package settlement

import (
	"fmt"

	"marketplace/money"
)

// SplitShipping 依各賣家品項金額的比例拆分整筆訂單的運費
// 除了最後一個賣家取無條件捨去的份額外，剩下的餘數都給最後一個賣家，總和必定等於原本的運費。
// 品項金額總和為 0 時平均分配。
func SplitShipping(lineTotals []money.Cents, shipping money.Cents) ([]money.Cents, error) {
	if len(lineTotals) == 0 {
		if shipping != 0 {
			return nil, fmt.Errorf("%w: no vendor to carry shipping %s", ErrUnbalancedShipping, shipping)
		}
		return nil, nil
	}
	if shipping.IsNegative() {
		return nil, fmt.Errorf("%w: negative shipping %s", ErrUnbalancedShipping, shipping)
	}

	subtotal := money.Sum(lineTotals...)
	for _, total := range lineTotals {
		if total.IsNegative() {
			return nil, fmt.Errorf("%w: negative line total %s", ErrUnbalancedShipping, total)
		}
	}

	shares := make([]money.Cents, len(lineTotals))
	var allocated money.Cents
	last := len(lineTotals) - 1
	for i, total := range lineTotals[:last] {
		var share money.Cents
		if subtotal == 0 {
			share = shipping / money.Cents(len(lineTotals))
		} else {
			quotient, _ := shipping.Decimal().Mul(total.Decimal()).QuoRem(subtotal.Decimal(), 0)
			share = money.Cents(quotient.IntPart())
		}
		shares[i] = share
		allocated += share
	}
	shares[last] = shipping - allocated

	if money.Sum(shares...) != shipping || shares[last].IsNegative() {
		return nil, fmt.Errorf("%w: %v for %s", ErrUnbalancedShipping, shares, shipping)
	}
	return shares, nil
}
