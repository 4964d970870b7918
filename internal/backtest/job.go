package backtest

import "time"

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次数据拉取请求。
type FetchParams struct {
	Exchange  string `json:"exchange,omitempty"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// Gap 表示本地数据缺失的连续区间（open_time 闭区间）。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 汇总区间内本地数据的完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps,omitempty"`
}

// Complete 表示区间内没有任何缺口。
func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

// FetchJob 跟踪一次拉取任务的进度。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Missing   []Gap       `json:"missing,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Warnings = append([]string{}, j.Warnings...)
	out.Missing = append([]Gap{}, j.Missing...)
	return out
}
