package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"alphaforge/internal/backtest"
	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/generate"
	"alphaforge/internal/graph"
	"alphaforge/internal/history"
	"alphaforge/internal/logger"
	"alphaforge/internal/sandbox"
	"alphaforge/internal/validate"
	"alphaforge/sdk"
)

// Recorder 落盘迭代记录，SQLite 与 JSONL 都实现它。
type Recorder interface {
	SaveRun(*history.Run) error
	SaveIteration(*history.IterationRecord) error
}

// Backtester 回测一份仓位矩阵。
type Backtester interface {
	Run(ctx context.Context, positions *dataset.Frame) (*backtest.Report, error)
}

// LLMSource 是可能熔断的候选来源。
type LLMSource interface {
	generate.Generator
	Available() bool
}

// Engine 驱动 生成 → 校验 → 执行 → 回测 → 留痕 的研究循环。
// 候选来源按 LLM → 模板 → 种子 的顺序退化，保证每轮都有产出。
type Engine struct {
	cfg       config.LoopConfig
	objective config.ObjectiveConfig

	llm       LLMSource
	graph     *graph.Registry
	pipeline  *validate.Pipeline
	executor  *sandbox.Executor
	loader    dataset.Loader
	backtester Backtester
	recorders []Recorder

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	status   Status
	champion *champion
	errRing  []string
}

type champion struct {
	record *history.IterationRecord
	report *backtest.Report
}

type Options struct {
	Config    config.LoopConfig
	Objective config.ObjectiveConfig
	LLM       LLMSource
	Graph     *graph.Registry
	Pipeline  *validate.Pipeline
	Loader    dataset.Loader
	Backtester Backtester
	Recorders []Recorder
}

func NewEngine(opts Options) *Engine {
	timeout := time.Duration(opts.Config.SandboxTimeoutSeconds) * time.Second
	return &Engine{
		status:     Status{State: StateIdle},
		cfg:        opts.Config,
		objective:  opts.Objective,
		llm:        opts.LLM,
		graph:      opts.Graph,
		pipeline:   opts.Pipeline,
		executor:   sandbox.New(timeout),
		loader:     opts.Loader,
		backtester: opts.Backtester,
		recorders:  opts.Recorders,
	}
}

// Start 启动一次研究循环，已在运行时报错。
func (e *Engine) Start(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return "", fmt.Errorf("loop: 已有运行中的循环 %s", e.status.RunID)
	}
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status = Status{RunID: runID, State: StateRunning, StartedAt: time.Now().UTC()}
	e.champion = nil
	e.errRing = nil

	go func() {
		defer close(e.done)
		err := e.run(runCtx, runID)
		e.mu.Lock()
		e.running = false
		if err != nil && runCtx.Err() == nil {
			e.status.State = StateFailed
			e.status.Error = err.Error()
		} else if runCtx.Err() != nil {
			e.status.State = StateStopped
		} else {
			e.status.State = StateFinished
		}
		e.mu.Unlock()
		cancel()
	}()
	return runID, nil
}

// Stop 取消当前循环并等待其退出。
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	cancel()
	<-done
	return true
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Run 同步跑完整个循环，cmd 的一次性模式使用。
func (e *Engine) Run(ctx context.Context) error {
	runID, err := e.Start(ctx)
	if err != nil {
		return err
	}
	<-e.done
	st := e.Status()
	if st.State == StateFailed {
		return fmt.Errorf("loop: 运行 %s 失败: %s", runID, st.Error)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, runID string) error {
	run := &history.Run{ID: runID, StartedAt: time.Now().UTC()}
	for _, r := range e.recorders {
		if err := r.SaveRun(run); err != nil {
			return err
		}
	}
	logger.Infof("[loop] 运行 %s 开始，共 %d 轮，每轮 %d 个候选", runID, e.cfg.MaxIterations, e.cfg.Candidates)

	for i := 1; i <= e.cfg.MaxIterations; i++ {
		if ctx.Err() != nil {
			logger.Infof("[loop] 运行 %s 在第 %d 轮被取消", runID, i)
			return nil
		}
		e.setIteration(i)
		if err := e.iterate(ctx, runID, i); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("[loop] 第 %d 轮失败: %v", i, err)
		}
	}

	now := time.Now().UTC()
	run.EndedAt = &now
	for _, r := range e.recorders {
		if err := r.SaveRun(run); err != nil {
			logger.Warnf("[loop] 收尾更新运行记录失败: %v", err)
		}
	}
	if c := e.currentChampion(); c != nil {
		logger.Infof("[loop] 运行 %s 结束，冠军 %s 得分 %.4f", runID, c.record.CandidateID, c.record.Score)
	} else {
		logger.Warnf("[loop] 运行 %s 结束，没有产生任何有效策略", runID)
	}
	return nil
}

// iterate 跑一轮：并行处理本轮全部候选，然后统一记账与冠军晋级。
func (e *Engine) iterate(ctx context.Context, runID string, iter int) error {
	fb := e.feedback(iter)
	candidates := e.generateBatch(ctx, fb)
	if len(candidates) == 0 {
		return fmt.Errorf("本轮没有生成任何候选")
	}

	results := make([]*history.IterationRecord, len(candidates))
	reports := make([]*backtest.Report, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	parallel := e.cfg.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	g.SetLimit(parallel)
	for idx, cand := range candidates {
		idx, cand := idx, cand
		g.Go(func() error {
			rec, report := e.process(gctx, runID, iter, cand)
			results[idx] = rec
			reports[idx] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var best int = -1
	for idx, rec := range results {
		if rec == nil {
			continue
		}
		if rec.Valid && (best == -1 || rec.Score > results[best].Score) {
			best = idx
		}
		if !rec.Valid {
			e.pushError(fmt.Sprintf("%s 层: %s", rec.FailedLayer, rec.FailureDetail))
		}
	}

	if best >= 0 {
		cur := e.currentChampion()
		if cur == nil || results[best].Score > cur.record.Score {
			results[best].Champion = true
			e.setChampion(&champion{record: results[best], report: reports[best]})
			logger.Infof("[loop] 第 %d 轮产生新冠军 %s (来源 %s，得分 %.4f)",
				iter, results[best].CandidateID, results[best].Source, results[best].Score)
		}
	}

	for _, rec := range results {
		if rec == nil {
			continue
		}
		for _, r := range e.recorders {
			if err := r.SaveIteration(rec); err != nil {
				logger.Warnf("[loop] 记录迭代失败: %v", err)
			}
		}
	}
	e.bumpCounts(results)
	return nil
}

// generateBatch 产出本轮候选。第一个名额优先给 LLM，
// 其余走模板采样；来源失败时逐级退化，最后兜底种子策略。
func (e *Engine) generateBatch(ctx context.Context, fb generate.Feedback) []*generate.Candidate {
	n := e.cfg.Candidates
	if n <= 0 {
		n = 1
	}
	out := make([]*generate.Candidate, 0, n)
	for slot := 0; slot < n; slot++ {
		c := e.generateOne(ctx, fb, slot == 0)
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) generateOne(ctx context.Context, fb generate.Feedback, preferLLM bool) *generate.Candidate {
	retries := e.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	if preferLLM && e.llm != nil && e.llm.Available() {
		for attempt := 0; attempt < retries; attempt++ {
			c, err := e.llm.Generate(ctx, fb)
			if err == nil {
				return c
			}
			logger.Warnf("[loop] LLM 生成失败 (第 %d 次): %v", attempt+1, err)
			if ctx.Err() != nil {
				return nil
			}
			if !e.llm.Available() {
				break
			}
		}
	}
	if e.graph != nil {
		if c, err := e.graph.Generate(ctx, fb); err == nil {
			return c
		} else {
			logger.Warnf("[loop] 模板生成失败: %v", err)
		}
		if c, err := e.graph.Seed(e.cfg.SeedTemplate); err == nil {
			logger.Infof("[loop] 退化到种子策略 %s", e.cfg.SeedTemplate)
			return c
		} else {
			logger.Errorf("[loop] 种子策略生成失败: %v", err)
		}
	}
	return nil
}

// process 完整处理一个候选：校验、全量执行、回测、打分。
func (e *Engine) process(ctx context.Context, runID string, iter int, cand *generate.Candidate) (*history.IterationRecord, *backtest.Report) {
	rec := &history.IterationRecord{
		RunID:       runID,
		Iteration:   iter,
		CandidateID: cand.ID,
		Source:      cand.Source,
		Template:    cand.Template,
		Provider:    cand.Provider,
		Params:      cand.Params,
		Code:        cand.Code,
		CreatedAt:   time.Now().UTC(),
	}

	vres := e.pipeline.Validate(ctx, validate.Input{Code: cand.Code, Params: cand.Params, Schema: cand.Schema})
	rec.Layers = vres.Layers
	if !vres.OK {
		layer, detail := vres.FailedLayer()
		rec.FailedLayer = string(layer)
		rec.FailureDetail = detail
		return rec, nil
	}
	rec.Code = vres.Code

	positions, err := e.executor.Run(ctx, vres.Code, sdk.NewContext(ctx, e.loader, cand.Params))
	if err != nil {
		rec.FailedLayer = "execute"
		rec.FailureDetail = err.Error()
		return rec, nil
	}

	report, err := e.backtester.Run(ctx, positions)
	if err != nil {
		rec.FailedLayer = "backtest"
		rec.FailureDetail = err.Error()
		return rec, nil
	}

	rec.Valid = true
	rec.Score = report.Score(e.objective)
	rec.Stats = report.Stats()
	logger.Infof("[loop] 候选 %s (来源 %s) 得分 %.4f cagr=%.4f sharpe=%.4f mdd=%.4f",
		cand.ID[:8], cand.Source, rec.Score, report.CAGR, report.Sharpe, report.MaxDrawdown)
	return rec, report
}

func (e *Engine) feedback(iter int) generate.Feedback {
	e.mu.Lock()
	defer e.mu.Unlock()
	fb := generate.Feedback{Iteration: iter}
	if e.champion != nil {
		fb.ChampionCode = e.champion.record.Code
		fb.ChampionScore = e.champion.record.Score
		fb.ChampionStats = e.champion.record.Stats
	}
	fb.RecentErrors = append([]string(nil), e.errRing...)
	return fb
}

// Champion 返回当前冠军记录与其回测报告。
func (e *Engine) Champion() (*history.IterationRecord, *backtest.Report) {
	c := e.currentChampion()
	if c == nil {
		return nil, nil
	}
	return c.record, c.report
}

func (e *Engine) currentChampion() *champion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.champion
}

func (e *Engine) setChampion(c *champion) {
	e.mu.Lock()
	e.champion = c
	e.status.ChampionID = c.record.CandidateID
	e.status.ChampionScore = c.record.Score
	e.mu.Unlock()
}

func (e *Engine) setIteration(i int) {
	e.mu.Lock()
	e.status.Iteration = i
	e.mu.Unlock()
}

func (e *Engine) bumpCounts(recs []*history.IterationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		e.status.Candidates++
		if rec.Valid {
			e.status.Valid++
		}
	}
}

const errRingSize = 5

func (e *Engine) pushError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errRing = append(e.errRing, msg)
	if len(e.errRing) > errRingSize {
		e.errRing = e.errRing[len(e.errRing)-errRingSize:]
	}
}
