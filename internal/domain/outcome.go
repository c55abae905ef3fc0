package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DispatchOutcome 单个跟单账户执行一个动作的结果。
// 业务跳过时 Error 为简短原因，否则为错误文本
type DispatchOutcome struct {
	FollowerID string          `json:"followerId"`
	Follower   string          `json:"follower"`
	OK         bool            `json:"ok"`
	Skipped    bool            `json:"skipped,omitempty"`
	HTTPStatus int             `json:"httpStatus,omitempty"`
	OrderID    string          `json:"orderId,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// StepReport 一个动作在所有跟单账户上的结果
type StepReport struct {
	Action   Action            `json:"action"`
	Outcomes []DispatchOutcome `json:"outcomes"`
}

// DispatchReport 一次仓位变动事件的全部步骤汇总
type DispatchReport struct {
	EventID string          `json:"eventId"`
	Event   TransitionEvent `json:"event"`
	Steps   []StepReport    `json:"steps"`
	At      time.Time       `json:"at"`
}

// Counts 统计成功与失败数量
func (r DispatchReport) Counts() (ok, failed int) {
	for _, s := range r.Steps {
		for _, o := range s.Outcomes {
			if o.OK {
				ok++
			} else {
				failed++
			}
		}
	}
	return ok, failed
}
