package generate

import (
	"context"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 候选策略的来源标识。
const (
	SourceLLM   = "llm"
	SourceGraph = "graph"
	SourceSeed  = "seed"
)

// Candidate 是一份待校验的策略源码及其元数据。
type Candidate struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Template string         `json:"template,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Code     string         `json:"code"`

	// Schema 仅模板候选携带，用于校验流水线的参数层
	Schema *jsonschema.Schema `json:"-"`
}

func NewCandidate(source, code string) *Candidate {
	return &Candidate{ID: uuid.NewString(), Source: source, Code: code}
}

// Feedback 是喂给生成器的迭代上下文：当前冠军与最近的失败原因。
type Feedback struct {
	Iteration     int
	ChampionCode  string
	ChampionScore float64
	ChampionStats map[string]float64
	RecentErrors  []string
}

// Generator 产出下一个候选策略。
type Generator interface {
	Name() string
	Generate(ctx context.Context, fb Feedback) (*Candidate, error)
}
