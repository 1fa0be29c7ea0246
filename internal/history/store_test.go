package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphaforge/internal/validate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(runID string, iter int, candID string, valid bool, score float64) *IterationRecord {
	return &IterationRecord{
		RunID:       runID,
		Iteration:   iter,
		CandidateID: candID,
		Source:      "graph",
		Template:    "momentum",
		Params:      map[string]any{"lookback": 60},
		Code:        "package strategy",
		Valid:       valid,
		Score:       score,
		Stats:       map[string]float64{"cagr": score},
		Layers: []validate.LayerResult{
			{Layer: validate.LayerSyntax, Passed: true},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveAndQueryIterations(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(&Run{ID: "run-1", StartedAt: time.Now().UTC()}))

	require.NoError(t, s.SaveIteration(record("run-1", 1, "c1", true, 0.5)))
	require.NoError(t, s.SaveIteration(record("run-1", 2, "c2", false, 0)))
	require.NoError(t, s.SaveIteration(record("run-1", 3, "c3", true, 0.9)))

	recs, err := s.Iterations("run-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 1, recs[0].Iteration)
	assert.Equal(t, "momentum", recs[0].Template)
	assert.EqualValues(t, 60, recs[0].Params["lookback"])
	require.Len(t, recs[0].Layers, 1)
	assert.Equal(t, validate.LayerSyntax, recs[0].Layers[0].Layer)
}

func TestChampionPicksBestValid(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(&Run{ID: "run-1", StartedAt: time.Now().UTC()}))

	require.NoError(t, s.SaveIteration(record("run-1", 1, "c1", true, 0.5)))
	require.NoError(t, s.SaveIteration(record("run-1", 2, "c2", false, 9.9)))
	require.NoError(t, s.SaveIteration(record("run-1", 3, "c3", true, 0.9)))

	champ, err := s.Champion("run-1")
	require.NoError(t, err)
	require.NotNil(t, champ)
	assert.Equal(t, "c3", champ.CandidateID)
	assert.InDelta(t, 0.9, champ.Score, 1e-9)
}

func TestChampionNoneValid(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(&Run{ID: "run-1", StartedAt: time.Now().UTC()}))
	require.NoError(t, s.SaveIteration(record("run-1", 1, "c1", false, 0)))

	champ, err := s.Champion("run-1")
	require.NoError(t, err)
	assert.Nil(t, champ)
}

func TestSaveIterationUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(&Run{ID: "run-1", StartedAt: time.Now().UTC()}))

	rec := record("run-1", 1, "c1", false, 0)
	require.NoError(t, s.SaveIteration(rec))
	rec.Valid = true
	rec.Score = 1.2
	require.NoError(t, s.SaveIteration(rec))

	recs, err := s.Iterations("run-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Valid)
	assert.InDelta(t, 1.2, recs[0].Score, 1e-9)
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveRun(&Run{ID: "run-1", StartedAt: time.Now().UTC()}))

	require.NoError(t, s.SaveIteration(record("run-1", 1, "c1", true, 0.5)))
	rec := record("run-1", 2, "c2", false, 0)
	rec.Source = "llm"
	require.NoError(t, s.SaveIteration(rec))

	sum, err := s.Summarize("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Iterations)
	assert.Equal(t, 1, sum.Valid)
	assert.InDelta(t, 0.5, sum.BestScore, 1e-9)
	assert.Equal(t, 1, sum.BySource["graph"])
	assert.Equal(t, 1, sum.BySource["llm"])
}

func TestJSONLMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iterations.jsonl")
	w, err := OpenJSONL(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(record("run-1", 1, "c1", true, 0.5)))
	require.NoError(t, w.Append(record("run-1", 2, "c2", false, 0)))
	require.NoError(t, w.Close())

	recs, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c1", recs[0].CandidateID)
	assert.False(t, recs[1].Valid)
}
