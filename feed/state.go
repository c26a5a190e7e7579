package feed

// State 是行情会话状态机的命名状态。
// 正常流转 Disconnected → Connecting → AwaitingSnapshot → Streaming，
// 任何可重试故障进入 Reconnecting 再回到 Streaming；
// 认证失败或重连次数耗尽进入终态 Failed；
// Disconnected 只能由显式 Disconnect 到达。
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSnapshot
	StateStreaming
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingSnapshot:
		return "AWAITING_SNAPSHOT"
	case StateStreaming:
		return "STREAMING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
