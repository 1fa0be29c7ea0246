package dataset

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFrame(stocks []string, rows [][]float64) *Frame {
	dates := make([]time.Time, len(rows))
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	f := NewFrame(dates, stocks)
	for i, row := range rows {
		copy(f.Values[i], row)
	}
	return f
}

func TestFrameShift(t *testing.T) {
	f := newTestFrame([]string{"2330"}, [][]float64{{100}, {110}, {120}})
	s := f.Shift(1)

	assert.True(t, math.IsNaN(s.Values[0][0]))
	assert.Equal(t, 100.0, s.Values[1][0])
	assert.Equal(t, 110.0, s.Values[2][0])

	assert.Panics(t, func() { f.Shift(-1) })
}

func TestFramePct(t *testing.T) {
	f := newTestFrame([]string{"2330"}, [][]float64{{100}, {110}, {99}})
	p := f.Pct(1)

	assert.True(t, math.IsNaN(p.Values[0][0]))
	assert.InDelta(t, 0.1, p.Values[1][0], 1e-12)
	assert.InDelta(t, -0.1, p.Values[2][0], 1e-12)
}

func TestFrameRollingMax(t *testing.T) {
	f := newTestFrame([]string{"2330"}, [][]float64{{3}, {1}, {5}, {2}})
	m := f.RollingMax(2)

	assert.True(t, math.IsNaN(m.Values[0][0]))
	assert.Equal(t, 3.0, m.Values[1][0])
	assert.Equal(t, 5.0, m.Values[2][0])
	assert.Equal(t, 5.0, m.Values[3][0])
}

func TestFrameRank(t *testing.T) {
	f := newTestFrame([]string{"a", "b", "c"}, [][]float64{{3, 1, 2}})
	r := f.Rank()

	assert.InDelta(t, 1.0, r.Values[0][0], 1e-12)
	assert.InDelta(t, 1.0/3, r.Values[0][1], 1e-12)
	assert.InDelta(t, 2.0/3, r.Values[0][2], 1e-12)
}

func TestFrameRankSkipsNaN(t *testing.T) {
	f := newTestFrame([]string{"a", "b", "c"}, [][]float64{{5, math.NaN(), 1}})
	r := f.Rank()

	assert.InDelta(t, 1.0, r.Values[0][0], 1e-12)
	assert.True(t, math.IsNaN(r.Values[0][1]))
	assert.InDelta(t, 0.5, r.Values[0][2], 1e-12)
}

func TestFrameTopNAndWeight(t *testing.T) {
	f := newTestFrame([]string{"a", "b", "c", "d"}, [][]float64{{4, 2, 3, math.NaN()}})
	mask := f.TopN(2)

	assert.Equal(t, 1.0, mask.Values[0][0])
	assert.Equal(t, 0.0, mask.Values[0][1])
	assert.Equal(t, 1.0, mask.Values[0][2])
	assert.True(t, math.IsNaN(mask.Values[0][3]))

	w := mask.Weight()
	assert.InDelta(t, 0.5, w.Values[0][0], 1e-12)
	assert.Equal(t, 0.0, w.Values[0][1])
	assert.InDelta(t, 0.5, w.Values[0][2], 1e-12)
}

func TestFrameWeightAllZeroRow(t *testing.T) {
	f := newTestFrame([]string{"a", "b"}, [][]float64{{0, 0}})
	w := f.Weight()

	assert.Equal(t, 0.0, w.Values[0][0])
	assert.Equal(t, 0.0, w.Values[0][1])
}

func TestFrameBinaryAlignsIntersection(t *testing.T) {
	a := newTestFrame([]string{"a", "b"}, [][]float64{{1, 2}, {3, 4}})
	b := newTestFrame([]string{"b", "c"}, [][]float64{{10, 20}, {30, 40}})

	sum := a.Add(b)
	require.Equal(t, []string{"b"}, sum.Stocks)
	require.Equal(t, 2, sum.Rows())
	assert.Equal(t, 12.0, sum.Values[0][0])
	assert.Equal(t, 34.0, sum.Values[1][0])
}

func TestFrameGtFAndMask(t *testing.T) {
	a := newTestFrame([]string{"a", "b"}, [][]float64{{2, 1}})
	b := newTestFrame([]string{"a", "b"}, [][]float64{{1, 3}})

	gt := a.GtF(b)
	assert.Equal(t, 1.0, gt.Values[0][0])
	assert.Equal(t, 0.0, gt.Values[0][1])

	both := gt.And(a.Gt(0))
	assert.Equal(t, 1.0, both.Values[0][0])
	assert.Equal(t, 0.0, both.Values[0][1])
}

func TestFrameDivByZero(t *testing.T) {
	a := newTestFrame([]string{"a"}, [][]float64{{1}})
	b := newTestFrame([]string{"a"}, [][]float64{{0}})

	q := a.Div(b)
	assert.True(t, math.IsNaN(q.Values[0][0]))
}
