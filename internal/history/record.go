package history

import (
	"time"

	"alphaforge/internal/validate"
)

// Run 是一次完整的研究循环。
type Run struct {
	ID        string         `json:"id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// IterationRecord 是一轮迭代的完整留痕：候选来源、源码、
// 校验各层结果、回测指标与得分。JSONL 与 SQLite 各存一份。
type IterationRecord struct {
	RunID       string `json:"run_id"`
	Iteration   int    `json:"iteration"`
	CandidateID string `json:"candidate_id"`
	Source      string `json:"source"`
	Template    string `json:"template,omitempty"`
	Provider    string `json:"provider,omitempty"`

	Params map[string]any `json:"params,omitempty"`
	Code   string         `json:"code"`

	Valid         bool                   `json:"valid"`
	FailedLayer   string                 `json:"failed_layer,omitempty"`
	FailureDetail string                 `json:"failure_detail,omitempty"`
	Layers        []validate.LayerResult `json:"layers,omitempty"`

	Score    float64            `json:"score"`
	Stats    map[string]float64 `json:"stats,omitempty"`
	Champion bool               `json:"champion"`

	CreatedAt time.Time `json:"created_at"`
}

// Summary 汇总一次运行的整体情况。
type Summary struct {
	RunID      string    `json:"run_id"`
	Iterations int       `json:"iterations"`
	Valid      int       `json:"valid"`
	BestScore  float64   `json:"best_score"`
	BySource   map[string]int `json:"by_source"`
	StartedAt  time.Time `json:"started_at"`
}
