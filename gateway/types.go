package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/adamoates/Trade-Engine-sub001/market"
)

// ErrAuthRejected 表示认证/权限被拒，属不可重试的致命错误。
var ErrAuthRejected = errors.New("gateway: authentication rejected")

// DepthSnapshot 对应快照接口响应。
type DepthSnapshot struct {
	SequenceID int64            `json:"lastUpdateId"`
	Bids       [][2]json.Number `json:"bids"`
	Asks       [][2]json.Number `json:"asks"`
}

// DepthDelta 对应深度增量流消息。
type DepthDelta struct {
	EventType       string           `json:"e"`
	EventTime       int64            `json:"E"`
	Symbol          string           `json:"s"`
	FirstSequenceID int64            `json:"U"`
	FinalSequenceID int64            `json:"u"`
	BidChanges      [][2]json.Number `json:"b"`
	AskChanges      [][2]json.Number `json:"a"`
}

// Levels 把 [price, qty] 数字对转换为精确小数档位。
func Levels(pairs [][2]json.Number) ([]market.PriceLevel, error) {
	out := make([]market.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		price, err := decimal.NewFromString(p[0].String())
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", p[0], err)
		}
		qty, err := decimal.NewFromString(p[1].String())
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", p[1], err)
		}
		out = append(out, market.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}
