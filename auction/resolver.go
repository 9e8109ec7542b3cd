package auction

import (
	"marketplace/money"
)

// Winner 代表代理出價競爭的勝出方
type Winner int

const (
	// WinnerPrevious 原本的領先者
	WinnerPrevious Winner = iota
	// WinnerChallenger 新的挑戰者
	WinnerChallenger
)

func (w Winner) String() string {
	if w == WinnerChallenger {
		return "challenger"
	}
	return "previous"
}

// Outcome 為代理出價競爭的結果
type Outcome struct {
	Winner        Winner
	ClearingPrice money.Cents
}

// ResolveProxy 解析兩個代理出價上限的競爭結果
// 勝出者最多只需付出比落敗上限高一個級距的價格，且不會超過自己的上限。
// 上限相同時由原本的領先者勝出。
func ResolveProxy(previousCeiling, challengerCeiling money.Cents, ladder Ladder) Outcome {
	increment := ladder.IncrementAt(min(previousCeiling, challengerCeiling))
	if challengerCeiling <= previousCeiling {
		return Outcome{
			Winner:        WinnerPrevious,
			ClearingPrice: min(previousCeiling, challengerCeiling+increment),
		}
	}
	return Outcome{
		Winner:        WinnerChallenger,
		ClearingPrice: min(challengerCeiling, previousCeiling+increment),
	}
}
