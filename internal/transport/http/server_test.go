package loophttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidwall/gjson"

	"alphaforge/internal/backtest"
	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/graph"
	"alphaforge/internal/history"
	"alphaforge/internal/loop"
	"alphaforge/internal/validate"
)

const testTemplates = `templates:
  - name: mini
    weight: 1
    params:
      window:
        type: int
        min: 5
        max: 30
        step: 5
    source: |
      package strategy

      import "alphaforge/sdk"

      func Build(ctx *sdk.Context) (*sdk.Frame, error) {
      	close := ctx.Data("price:收盤價")
      	return close.Pct({{.window}}).Rank().TopN(3).Weight(), nil
      }
`

func newTestServer(t *testing.T) (*Server, *history.Store) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTemplates), 0o644))
	registry, err := graph.NewRegistry(path, 7)
	require.NoError(t, err)

	loader := dataset.NewStaticLoader(dataset.SyntheticFrames(120, 8))
	engine := loop.NewEngine(loop.Options{
		Config: config.LoopConfig{
			MaxIterations:         1,
			Candidates:            1,
			Parallel:              1,
			SandboxTimeoutSeconds: 30,
			SeedTemplate:          "mini",
		},
		Objective: config.ObjectiveConfig{CAGRWeight: 1, SharpeWeight: 0.5, DrawdownWeight: 1},
		Graph:     registry,
		Pipeline:  validate.NewPipeline(dataset.NewCatalog(), 20*time.Second),
		Loader:    loader,
		Backtester: backtest.NewEngine(loader, config.BacktestConfig{
			StartDate:    "2023-01-02",
			EndDate:      "2023-06-30",
			FeeRate:      0.001425,
			FeeDiscount:  0.6,
			TaxRate:      0.003,
			InitialFunds: 1_000_000,
		}),
	})

	store, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv, err := NewServer(Config{Addr: ":0", Engine: engine, Store: store})
	require.NoError(t, err)
	return srv, store
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusIdle(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/api/loop/status")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", gjson.Get(w.Body.String(), "status.state").String())
}

func TestChampionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/api/champion")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoopStartAccepted(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodPost, "/api/loop/start")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "run_id").String())
	srv.engine.Stop()
}

func TestIterationsFromStore(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveRun(&history.Run{ID: "run-x", StartedAt: time.Now().UTC()}))
	require.NoError(t, store.SaveIteration(&history.IterationRecord{
		RunID: "run-x", Iteration: 1, CandidateID: "c1", Source: "graph",
		Code: "package strategy", Valid: true, Score: 0.7, CreatedAt: time.Now().UTC(),
	}))

	w := do(t, srv, http.MethodGet, "/api/iterations?run_id=run-x")
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Iterations []*history.IterationRecord `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Iterations, 1)
	assert.Equal(t, "c1", body.Iterations[0].CandidateID)

	w = do(t, srv, http.MethodGet, "/api/iterations/1?run_id=run-x")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/iterations/9?run_id=run-x")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodGet, "/api/runs/run-x/summary")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, gjson.Get(w.Body.String(), "summary.iterations").Int())
}

func TestChampionFromStore(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveRun(&history.Run{ID: "run-x", StartedAt: time.Now().UTC()}))
	require.NoError(t, store.SaveIteration(&history.IterationRecord{
		RunID: "run-x", Iteration: 1, CandidateID: "c1", Source: "graph",
		Code: "package strategy", Valid: true, Score: 0.7, CreatedAt: time.Now().UTC(),
	}))

	w := do(t, srv, http.MethodGet, "/api/champion?run_id=run-x")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", gjson.Get(w.Body.String(), "champion.candidate_id").String())

	w = do(t, srv, http.MethodGet, "/api/champion?run_id=不存在")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
