package auction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"marketplace/models"
	"marketplace/money"
)

// Tier 代表加價階梯中的一個級距
type Tier = models.LadderTier

// Ladder 為依 UpTo 遞增排序的加價階梯，最後一個級距的 UpTo 為 nil
type Ladder []Tier

var (
	ErrEmptyLadder   = errors.New("ladder has no tiers")
	ErrInvalidLadder = errors.New("invalid ladder")
)

// DefaultLadder 未設定時使用的預設加價階梯
var DefaultLadder = Ladder{
	{UpTo: money.Ptr(1000), Increment: 50},
	{UpTo: money.Ptr(5000), Increment: 100},
	{UpTo: money.Ptr(25000), Increment: 250},
	{UpTo: money.Ptr(100000), Increment: 500},
	{UpTo: nil, Increment: 1000},
}

// IncrementAt 回傳在指定價格下的最小加價幅度
// 取第一個 UpTo 大於價格的級距，都不符合時使用最後一個級距
func (l Ladder) IncrementAt(price money.Cents) money.Cents {
	if len(l) == 0 {
		return 0
	}
	for _, tier := range l {
		if tier.UpTo != nil && *tier.UpTo > price {
			return tier.Increment
		}
	}
	return l[len(l)-1].Increment
}

// Validate 檢查階梯是否有效：至少一個級距、UpTo 嚴格遞增、加價幅度為正且不遞減、只有最後一個級距可以沒有上限
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return ErrEmptyLadder
	}
	var prevUpTo, prevIncrement money.Cents
	for i, tier := range l {
		if !tier.Increment.IsPositive() {
			return fmt.Errorf("%w: tier %d increment must be positive", ErrInvalidLadder, i)
		}
		if tier.Increment < prevIncrement {
			return fmt.Errorf("%w: tier %d increment decreases", ErrInvalidLadder, i)
		}
		prevIncrement = tier.Increment
		if tier.UpTo == nil {
			if i != len(l)-1 {
				return fmt.Errorf("%w: only the last tier may be unbounded", ErrInvalidLadder)
			}
			continue
		}
		if i > 0 && *tier.UpTo <= prevUpTo {
			return fmt.Errorf("%w: tier %d upTo must be ascending", ErrInvalidLadder, i)
		}
		prevUpTo = *tier.UpTo
	}
	return nil
}

// String 以 ParseLadder 可以解析的格式輸出
func (l Ladder) String() string {
	parts := make([]string, len(l))
	for i, tier := range l {
		upTo := ""
		if tier.UpTo != nil {
			upTo = strconv.FormatInt(tier.UpTo.Int64(), 10)
		}
		parts[i] = upTo + ":" + strconv.FormatInt(tier.Increment.Int64(), 10)
	}
	return strings.Join(parts, ",")
}

// ParseLadder 解析 "1000:50,5000:100,:500" 格式的階梯設定(以分為單位)，上限留空代表無上限
func ParseLadder(s string) (Ladder, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmptyLadder
	}
	var ladder Ladder
	for _, part := range strings.Split(s, ",") {
		upToStr, incStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%w: tier %q is not in upTo:increment form", ErrInvalidLadder, part)
		}
		increment, err := strconv.ParseInt(strings.TrimSpace(incStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid increment %q", ErrInvalidLadder, incStr)
		}
		tier := Tier{Increment: money.Cents(increment)}
		if upToStr = strings.TrimSpace(upToStr); upToStr != "" {
			upTo, err := strconv.ParseInt(upToStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid upTo %q", ErrInvalidLadder, upToStr)
			}
			tier.UpTo = money.Ptr(money.Cents(upTo))
		}
		ladder = append(ladder, tier)
	}
	if err := ladder.Validate(); err != nil {
		return nil, err
	}
	return ladder, nil
}

// Ladders 為加價階梯的單一設定來源：拍賣本身有設定時使用拍賣的，否則使用具名的預設階梯
type Ladders struct {
	Default Ladder
}

// NewLadders 建立設定來源，預設階梯為空時使用 DefaultLadder
func NewLadders(defaultLadder Ladder) Ladders {
	if len(defaultLadder) == 0 {
		defaultLadder = DefaultLadder
	}
	return Ladders{Default: defaultLadder}
}

// For 回傳指定拍賣適用的加價階梯
func (l Ladders) For(a *models.Auction) Ladder {
	if tiers := a.Ladder.Data(); len(tiers) > 0 {
		return Ladder(tiers)
	}
	if len(l.Default) == 0 {
		return DefaultLadder
	}
	return l.Default
}
