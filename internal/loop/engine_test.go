package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphaforge/internal/backtest"
	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/generate"
	"alphaforge/internal/graph"
	"alphaforge/internal/history"
	"alphaforge/internal/validate"
)

type memRecorder struct {
	mu   sync.Mutex
	runs []*history.Run
	recs []*history.IterationRecord
}

func (m *memRecorder) SaveRun(r *history.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memRecorder) SaveIteration(rec *history.IterationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memRecorder) records() []*history.IterationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*history.IterationRecord(nil), m.recs...)
}

type stubLLM struct {
	mu        sync.Mutex
	code      string
	err       error
	available bool
	calls     int
}

func (s *stubLLM) Name() string { return "llm" }

func (s *stubLLM) Available() bool { return s.available }

func (s *stubLLM) Generate(_ context.Context, _ generate.Feedback) (*generate.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c := generate.NewCandidate(generate.SourceLLM, s.code)
	c.Provider = "stub"
	return c, nil
}

const llmStrategy = `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("price:收盤價")
	return close.Pct(10).Rank().TopN(3).Weight(), nil
}
`

// 覆盖全部内置骨架并把窗口收在合成数据长度内，保证采样出的候选都能通过校验
func safeTemplatesYAML() string {
	const entry = `  - name: %s
    weight: 1
    params:
      window:
        type: int
        min: 5
        max: 30
        step: 5
      top_n:
        type: choice
        choices: [3, 5]
    source: |
      package strategy

      import "alphaforge/sdk"

      func Build(ctx *sdk.Context) (*sdk.Frame, error) {
      	close := ctx.Data("price:收盤價")
      	return close.Pct({{.window}}).Rank().TopN({{.top_n}}).Weight(), nil
      }
`
	var b strings.Builder
	b.WriteString("templates:\n")
	for _, name := range []string{"turtle", "mastiff", "factor", "momentum", "mini"} {
		fmt.Fprintf(&b, entry, name)
	}
	return b.String()
}

func newTestEngine(t *testing.T, llm LLMSource) (*Engine, *memRecorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(safeTemplatesYAML()), 0o644))
	registry, err := graph.NewRegistry(path, 42)
	require.NoError(t, err)

	loader := dataset.NewStaticLoader(dataset.SyntheticFrames(120, 8))
	btCfg := config.BacktestConfig{
		StartDate:    "2023-01-02",
		EndDate:      "2023-06-30",
		FeeRate:      0.001425,
		FeeDiscount:  0.6,
		TaxRate:      0.003,
		InitialFunds: 1_000_000,
	}

	rec := &memRecorder{}
	engine := NewEngine(Options{
		Config: config.LoopConfig{
			MaxIterations:         2,
			Candidates:            2,
			MaxRetries:            1,
			Parallel:              2,
			SandboxTimeoutSeconds: 30,
			SeedTemplate:          "mini",
		},
		Objective:  config.ObjectiveConfig{CAGRWeight: 1, SharpeWeight: 0.5, DrawdownWeight: 1},
		LLM:        llm,
		Graph:      registry,
		Pipeline:   validate.NewPipeline(dataset.NewCatalog(), 20*time.Second),
		Loader:     loader,
		Backtester: backtest.NewEngine(loader, btCfg),
		Recorders:  []Recorder{rec},
	})
	return engine, rec
}

func TestRunGraphOnly(t *testing.T) {
	engine, rec := newTestEngine(t, nil)

	require.NoError(t, engine.Run(context.Background()))

	st := engine.Status()
	assert.Equal(t, StateFinished, st.State)
	assert.Equal(t, 2, st.Iteration)
	assert.Equal(t, 4, st.Candidates)
	assert.Equal(t, 4, st.Valid)

	champ, report := engine.Champion()
	require.NotNil(t, champ)
	require.NotNil(t, report)
	assert.True(t, champ.Champion)
	assert.Equal(t, generate.SourceGraph, champ.Source)

	recs := rec.records()
	require.Len(t, recs, 4)
	for _, r := range recs {
		assert.NotEmpty(t, r.Template)
		assert.True(t, r.Valid, "候选 %s 失败于 %s: %s", r.CandidateID, r.FailedLayer, r.FailureDetail)
		assert.Len(t, r.Layers, 7)
		assert.NotEmpty(t, r.Stats)
	}
}

func TestRunWithLLMCandidate(t *testing.T) {
	llm := &stubLLM{code: llmStrategy, available: true}
	engine, rec := newTestEngine(t, llm)

	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, 2, llm.calls)
	var llmRecs int
	for _, r := range rec.records() {
		if r.Source == generate.SourceLLM {
			llmRecs++
			assert.Equal(t, "stub", r.Provider)
			assert.True(t, r.Valid)
		}
	}
	assert.Equal(t, 2, llmRecs)
}

func TestRunInvalidLLMCodeRecorded(t *testing.T) {
	llm := &stubLLM{code: "package strategy\nfunc Build( {", available: true}
	engine, rec := newTestEngine(t, llm)

	require.NoError(t, engine.Run(context.Background()))

	var invalid *history.IterationRecord
	for _, r := range rec.records() {
		if r.Source == generate.SourceLLM {
			invalid = r
			break
		}
	}
	require.NotNil(t, invalid)
	assert.False(t, invalid.Valid)
	assert.Equal(t, string(validate.LayerSyntax), invalid.FailedLayer)

	// 模板候选不受影响，冠军仍应产生
	champ, _ := engine.Champion()
	require.NotNil(t, champ)
	assert.Equal(t, generate.SourceGraph, champ.Source)
}

func TestLLMFailureFallsBackToGraph(t *testing.T) {
	llm := &stubLLM{err: errors.New("网关超时"), available: true}
	engine, rec := newTestEngine(t, llm)

	require.NoError(t, engine.Run(context.Background()))

	for _, r := range rec.records() {
		assert.Equal(t, generate.SourceGraph, r.Source)
	}
	assert.Equal(t, 4, len(rec.records()))
}

func TestStartTwiceRejected(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Start(context.Background())
	require.NoError(t, err)
	_, err = engine.Start(context.Background())
	assert.Error(t, err)

	engine.Stop()
}

func TestStopCancelsRun(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, engine.Stop())
	assert.False(t, engine.Stop())

	st := engine.Status()
	assert.Contains(t, []State{StateStopped, StateFinished}, st.State)
}
