package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CombinedMessage 对应 combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// ErrNotDepthUpdate 表示消息不是深度增量（心跳回执、订阅确认等），
// 调用方可以安静地忽略。
var ErrNotDepthUpdate = errors.New("gateway: not a depth update")

// ParseDepthDelta 解析一条流消息为深度增量。
// 同时接受 combined 包装与裸消息两种形态。
func ParseDepthDelta(raw []byte) (DepthDelta, error) {
	var delta DepthDelta
	payload := raw

	var wrapped CombinedMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 {
		payload = wrapped.Data
	}
	if err := json.Unmarshal(payload, &delta); err != nil {
		return DepthDelta{}, fmt.Errorf("parse depth delta: %w", err)
	}
	if delta.EventType != "depthUpdate" {
		return DepthDelta{}, ErrNotDepthUpdate
	}
	if delta.Symbol == "" || delta.FinalSequenceID == 0 {
		return DepthDelta{}, fmt.Errorf("parse depth delta: missing symbol or sequence")
	}
	return delta, nil
}
