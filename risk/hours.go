package risk

import (
	"fmt"
	"time"
)

// TradingHours 表示每日交易时间窗（UTC，分钟粒度），两端闭区间。
// Start > End 表示跨午夜窗口，例如 22:00 到次日 02:00。
type TradingHours struct {
	Start int // 当日第几分钟
	End   int
}

// ParseTradingHours 解析 "HH:MM" 形式的起止时间。
func ParseTradingHours(start, end string) (TradingHours, error) {
	s, err := parseMinuteOfDay(start)
	if err != nil {
		return TradingHours{}, fmt.Errorf("trading hours start: %w", err)
	}
	e, err := parseMinuteOfDay(end)
	if err != nil {
		return TradingHours{}, fmt.Errorf("trading hours end: %w", err)
	}
	return TradingHours{Start: s, End: e}, nil
}

func parseMinuteOfDay(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains 判断 t 是否落在窗口内。
// Start <= End 时窗口为 [Start, End]；
// Start > End（跨午夜）时窗口为 [Start, 24:00) 加上 [00:00, End]。
func (w TradingHours) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}
