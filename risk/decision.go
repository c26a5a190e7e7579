package risk

// DenyReason 标识拒单原因，作为结构化结果返回，不走 error 路径。
type DenyReason string

const (
	DenyKillSwitchActive    DenyReason = "KillSwitchActive"
	DenyDailyLossExceeded   DenyReason = "DailyLossExceeded"
	DenyMaxDrawdownExceeded DenyReason = "MaxDrawdownExceeded"
	DenyPositionTooLarge    DenyReason = "PositionTooLarge"
	DenyThrottleExceeded    DenyReason = "ThrottleExceeded"
	DenyOutsideTradingHours DenyReason = "OutsideTradingHours"
)

// Decision 是授权结果。拒单是高频的正常业务结果，因此建模为值而非错误。
type Decision struct {
	Allowed bool
	Reason  DenyReason
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }
