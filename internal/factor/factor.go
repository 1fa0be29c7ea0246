package factor

import (
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"alphaforge/internal/dataset"
)

// 把 talib 的单序列指标提升到 Frame 级别：逐列计算，列内 NaN 先前向填充，
// 暖机区间（talib 输出为 0 的前缀）回写为 NaN。

func mapColumns(f *dataset.Frame, warmup int, fn func(col []float64) []float64) *dataset.Frame {
	out := dataset.NewFrame(f.Dates, f.Stocks)
	col := make([]float64, len(f.Dates))
	for j := range f.Stocks {
		last := math.NaN()
		firstValid := -1
		for i := range f.Dates {
			v := f.Values[i][j]
			if !math.IsNaN(v) {
				last = v
				if firstValid < 0 {
					firstValid = i
				}
			}
			col[i] = last
		}
		if firstValid < 0 {
			continue
		}
		res := fn(col[firstValid:])
		for i := firstValid; i < len(f.Dates); i++ {
			k := i - firstValid
			if k < warmup || k >= len(res) {
				continue
			}
			out.Values[i][j] = res[k]
		}
	}
	return out
}

func SMA(f *dataset.Frame, period int) *dataset.Frame {
	return mapColumns(f, period-1, func(col []float64) []float64 {
		if len(col) < period {
			return nil
		}
		return talib.Sma(col, period)
	})
}

func EMA(f *dataset.Frame, period int) *dataset.Frame {
	return mapColumns(f, period-1, func(col []float64) []float64 {
		if len(col) < period {
			return nil
		}
		return talib.Ema(col, period)
	})
}

func RSI(f *dataset.Frame, period int) *dataset.Frame {
	return mapColumns(f, period, func(col []float64) []float64 {
		if len(col) <= period {
			return nil
		}
		return talib.Rsi(col, period)
	})
}

// ATR 逐列做真实波幅。三个矩阵先对齐到日期与股票的交集。
func ATR(high, low, close *dataset.Frame, period int) *dataset.Frame {
	hIdx := frameIndex(high)
	lIdx := frameIndex(low)
	cIdx := frameIndex(close)
	var dates []time.Time
	for _, d := range close.Dates {
		if _, ok := hIdx.rows[d.Unix()]; !ok {
			continue
		}
		if _, ok := lIdx.rows[d.Unix()]; !ok {
			continue
		}
		dates = append(dates, d)
	}
	var stocks []string
	for _, s := range close.Stocks {
		if _, ok := hIdx.cols[s]; !ok {
			continue
		}
		if _, ok := lIdx.cols[s]; !ok {
			continue
		}
		stocks = append(stocks, s)
	}
	out := dataset.NewFrame(dates, stocks)
	if len(out.Dates) <= period {
		return out
	}
	hc := make([]float64, len(out.Dates))
	lc := make([]float64, len(out.Dates))
	cc := make([]float64, len(out.Dates))
	for j, stock := range out.Stocks {
		valid := true
		for i, d := range out.Dates {
			hc[i] = hIdx.at(high, d, stock)
			lc[i] = lIdx.at(low, d, stock)
			cc[i] = cIdx.at(close, d, stock)
			if math.IsNaN(hc[i]) || math.IsNaN(lc[i]) || math.IsNaN(cc[i]) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		res := talib.Atr(hc, lc, cc, period)
		for i := period; i < len(res); i++ {
			out.Values[i][j] = res[i]
		}
	}
	return out
}

type frameIdx struct {
	rows map[int64]int
	cols map[string]int
}

func frameIndex(f *dataset.Frame) frameIdx {
	idx := frameIdx{rows: make(map[int64]int, len(f.Dates)), cols: make(map[string]int, len(f.Stocks))}
	for i, d := range f.Dates {
		idx.rows[d.Unix()] = i
	}
	for j, s := range f.Stocks {
		idx.cols[s] = j
	}
	return idx
}

func (idx frameIdx) at(f *dataset.Frame, d time.Time, stock string) float64 {
	i, ok := idx.rows[d.Unix()]
	if !ok {
		return math.NaN()
	}
	j, ok := idx.cols[stock]
	if !ok {
		return math.NaN()
	}
	return f.Values[i][j]
}

// Momentum 返回 n 日收益率。
func Momentum(close *dataset.Frame, n int) *dataset.Frame {
	return close.Pct(n)
}

// Winsorize 把每个交易日的横截面裁剪到 [lower, upper] 分位之间。
func Winsorize(f *dataset.Frame, lower, upper float64) *dataset.Frame {
	if lower < 0 || upper > 1 || lower >= upper {
		panic("factor: winsorize 分位区间非法")
	}
	out := f.Clone()
	for i := range out.Dates {
		vals := make([]float64, 0, len(out.Stocks))
		for _, v := range out.Values[i] {
			if !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		lo := quantile(vals, lower)
		hi := quantile(vals, upper)
		for j, v := range out.Values[i] {
			if math.IsNaN(v) {
				continue
			}
			if v < lo {
				out.Values[i][j] = lo
			} else if v > hi {
				out.Values[i][j] = hi
			}
		}
	}
	return out
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
