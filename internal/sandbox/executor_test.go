package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphaforge/internal/dataset"
	"alphaforge/sdk"
)

func newTestContext(t *testing.T) *sdk.Context {
	t.Helper()
	loader := dataset.NewStaticLoader(dataset.SyntheticFrames(60, 4))
	return sdk.NewContext(context.Background(), loader, map[string]any{"window": 10})
}

func TestRunMomentumStrategy(t *testing.T) {
	code := `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("price:收盤價")
	mom := close.Pct(ctx.ParamInt("window", 5))
	return mom.TopN(2).Weight(), nil
}
`
	exec := New(10 * time.Second)
	f, err := exec.Run(context.Background(), code, newTestContext(t))

	require.NoError(t, err)
	assert.Equal(t, 60, len(f.Dates))
	assert.Equal(t, 4, len(f.Stocks))
}

func TestRunIndicatorHelpers(t *testing.T) {
	code := `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("price:收盤價")
	trend := close.GtF(sdk.SMA(close, 10))
	calm := sdk.RSI(close, 14).Lt(80)
	return trend.And(calm).Weight(), nil
}
`
	exec := New(10 * time.Second)
	f, err := exec.Run(context.Background(), code, newTestContext(t))

	require.NoError(t, err)
	assert.Equal(t, 60, len(f.Dates))
	assert.Equal(t, 4, len(f.Stocks))
}

func TestRunAllowsMathAndSort(t *testing.T) {
	code := `package strategy

import (
	"math"
	"sort"

	"alphaforge/sdk"
)

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	xs := []float64{3, 1, 2}
	sort.Float64s(xs)
	_ = math.Sqrt(xs[0])
	return ctx.Data("price:收盤價").Rank(), nil
}
`
	exec := New(10 * time.Second)
	_, err := exec.Run(context.Background(), code, newTestContext(t))
	require.NoError(t, err)
}

func TestRunRejectsDisallowedImport(t *testing.T) {
	code := `package strategy

import (
	"os"

	"alphaforge/sdk"
)

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	os.Exit(1)
	return nil, nil
}
`
	exec := New(10 * time.Second)
	_, err := exec.Run(context.Background(), code, newTestContext(t))
	require.Error(t, err)
}

func TestRunRecoversPanic(t *testing.T) {
	code := `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	_ = ctx.Data("完全不存在的键")
	return nil, nil
}
`
	exec := New(10 * time.Second)
	_, err := exec.Run(context.Background(), code, newTestContext(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestRunBadSignature(t *testing.T) {
	code := `package strategy

func Build() int { return 0 }
`
	exec := New(10 * time.Second)
	_, err := exec.Run(context.Background(), code, newTestContext(t))
	require.Error(t, err)
}
