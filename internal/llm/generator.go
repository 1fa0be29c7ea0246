package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/generate"
	"alphaforge/internal/logger"
	"alphaforge/internal/pkg/circuit"
	"alphaforge/internal/pkg/codeutil"
)

// ChatModel 抽象一个可对话的模型端点，便于测试替身。
type ChatModel interface {
	ID() string
	Chat(ctx context.Context, system, user string) (string, error)
}

// Generator 轮询多个模型端点产出候选策略。
// 每个端点配一个熔断器，连续失败的端点会被跳过一段时间；
// 所有端点共享一个速率限制器。
type Generator struct {
	models   []ChatModel
	breakers map[string]*circuit.CircuitBreaker
	limiter  *rate.Limiter
	system   string
}

func NewGenerator(cfg config.LLMConfig, catalog *dataset.Catalog) *Generator {
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 10
	}
	g := &Generator{
		breakers: make(map[string]*circuit.CircuitBreaker),
		limiter:  rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin),
		system:   BuildSystemPrompt(catalog.Keys()),
	}
	for _, mc := range cfg.Models {
		if !mc.Enabled {
			continue
		}
		c := NewClient(mc, cfg.Temperature)
		g.models = append(g.models, c)
		g.breakers[c.ID()] = circuit.NewCircuitBreaker("llm-"+c.ID(), threshold, cooldown)
	}
	return g
}

// NewGeneratorWithModels 直接注入模型实现，测试用。
func NewGeneratorWithModels(models []ChatModel, catalog *dataset.Catalog) *Generator {
	g := &Generator{
		breakers: make(map[string]*circuit.CircuitBreaker),
		limiter:  rate.NewLimiter(rate.Inf, 1),
		system:   BuildSystemPrompt(catalog.Keys()),
	}
	for _, m := range models {
		g.models = append(g.models, m)
		g.breakers[m.ID()] = circuit.NewCircuitBreaker("llm-"+m.ID(), 3, 2*time.Minute)
	}
	return g
}

func (g *Generator) Name() string { return "llm" }

// Available 返回是否还有端点可用。全部熔断时上层应切换到模板生成。
func (g *Generator) Available() bool {
	for _, m := range g.models {
		if g.breakers[m.ID()].Allow() {
			return true
		}
	}
	return false
}

// Generate 按配置顺序尝试各端点，第一个产出合法 Go 代码的即返回。
func (g *Generator) Generate(ctx context.Context, fb generate.Feedback) (*generate.Candidate, error) {
	if len(g.models) == 0 {
		return nil, fmt.Errorf("llm: 未配置任何模型")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	user := BuildUserPrompt(fb)

	var lastErr error
	for _, m := range g.models {
		br := g.breakers[m.ID()]
		if !br.Allow() {
			logger.Debugf("[llm] %s 处于熔断状态，跳过", m.ID())
			continue
		}
		logger.LogLLMRequest(m.ID(), g.system, user)
		raw, err := m.Chat(ctx, g.system, user)
		if err != nil {
			br.RecordFailure()
			lastErr = err
			logger.Warnf("[llm] %s 生成失败: %v", m.ID(), err)
			continue
		}
		logger.LogLLMResponse(m.ID(), raw)
		code, ok := codeutil.ExtractGo(raw)
		if !ok {
			br.RecordFailure()
			lastErr = fmt.Errorf("llm: %s 的回复中没有 Go 代码块", m.ID())
			logger.Warnf("%v", lastErr)
			continue
		}
		br.RecordSuccess()
		logger.LogLLMCode(m.ID(), code)
		c := generate.NewCandidate(generate.SourceLLM, code)
		c.Provider = m.ID()
		return c, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("llm: 所有端点均处于熔断状态")
	}
	return nil, lastErr
}
