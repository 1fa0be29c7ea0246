package dataset

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Frame 是日期×股票的稠密矩阵，缺值以 NaN 表示。
// 所有运算返回新 Frame，不修改接收者；二元运算先对齐两侧的日期与股票交集。
type Frame struct {
	Dates  []time.Time
	Stocks []string
	Values [][]float64 // Values[i][j] 对应 Dates[i] × Stocks[j]
}

// NewFrame 构造全 NaN 的矩阵。
func NewFrame(dates []time.Time, stocks []string) *Frame {
	f := &Frame{
		Dates:  append([]time.Time(nil), dates...),
		Stocks: append([]string(nil), stocks...),
		Values: make([][]float64, len(dates)),
	}
	for i := range f.Values {
		row := make([]float64, len(stocks))
		for j := range row {
			row[j] = math.NaN()
		}
		f.Values[i] = row
	}
	return f
}

func (f *Frame) Rows() int { return len(f.Dates) }
func (f *Frame) Cols() int { return len(f.Stocks) }

func (f *Frame) Empty() bool {
	return f == nil || len(f.Dates) == 0 || len(f.Stocks) == 0
}

func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{
		Dates:  append([]time.Time(nil), f.Dates...),
		Stocks: append([]string(nil), f.Stocks...),
		Values: make([][]float64, len(f.Values)),
	}
	for i, row := range f.Values {
		out.Values[i] = append([]float64(nil), row...)
	}
	return out
}

// Shift 将每列向后平移 n 个交易日（第 i 天取第 i-n 天的值）。
// n 必须非负：负数意味着引用未来数据。
func (f *Frame) Shift(n int) *Frame {
	if n < 0 {
		panic(fmt.Sprintf("dataset: Shift(%d) 引用未来数据", n))
	}
	out := NewFrame(f.Dates, f.Stocks)
	for i := n; i < len(f.Dates); i++ {
		copy(out.Values[i], f.Values[i-n])
	}
	return out
}

// Pct 计算 n 日变化率 (v[i]-v[i-n])/v[i-n]。
func (f *Frame) Pct(n int) *Frame {
	if n <= 0 {
		panic(fmt.Sprintf("dataset: Pct 窗口必须为正，收到 %d", n))
	}
	out := NewFrame(f.Dates, f.Stocks)
	for i := n; i < len(f.Dates); i++ {
		for j := range f.Stocks {
			prev := f.Values[i-n][j]
			cur := f.Values[i][j]
			if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
				continue
			}
			out.Values[i][j] = (cur - prev) / prev
		}
	}
	return out
}

func (f *Frame) rolling(window int, agg func([]float64) float64) *Frame {
	if window <= 0 {
		panic(fmt.Sprintf("dataset: 滚动窗口必须为正，收到 %d", window))
	}
	out := NewFrame(f.Dates, f.Stocks)
	buf := make([]float64, 0, window)
	for j := range f.Stocks {
		for i := window - 1; i < len(f.Dates); i++ {
			buf = buf[:0]
			for k := i - window + 1; k <= i; k++ {
				v := f.Values[k][j]
				if !math.IsNaN(v) {
					buf = append(buf, v)
				}
			}
			if len(buf) == 0 {
				continue
			}
			out.Values[i][j] = agg(buf)
		}
	}
	return out
}

func (f *Frame) RollingMean(window int) *Frame {
	return f.rolling(window, func(vs []float64) float64 {
		sum := 0.0
		for _, v := range vs {
			sum += v
		}
		return sum / float64(len(vs))
	})
}

func (f *Frame) RollingStd(window int) *Frame {
	return f.rolling(window, func(vs []float64) float64 {
		if len(vs) < 2 {
			return math.NaN()
		}
		mean := 0.0
		for _, v := range vs {
			mean += v
		}
		mean /= float64(len(vs))
		acc := 0.0
		for _, v := range vs {
			acc += (v - mean) * (v - mean)
		}
		return math.Sqrt(acc / float64(len(vs)-1))
	})
}

func (f *Frame) RollingMax(window int) *Frame {
	return f.rolling(window, func(vs []float64) float64 {
		m := vs[0]
		for _, v := range vs[1:] {
			if v > m {
				m = v
			}
		}
		return m
	})
}

func (f *Frame) RollingMin(window int) *Frame {
	return f.rolling(window, func(vs []float64) float64 {
		m := vs[0]
		for _, v := range vs[1:] {
			if v < m {
				m = v
			}
		}
		return m
	})
}

// Rank 对每个交易日做横截面百分位排名，结果落在 (0,1]。
func (f *Frame) Rank() *Frame {
	out := NewFrame(f.Dates, f.Stocks)
	type entry struct {
		idx int
		val float64
	}
	for i := range f.Dates {
		entries := make([]entry, 0, len(f.Stocks))
		for j, v := range f.Values[i] {
			if !math.IsNaN(v) {
				entries = append(entries, entry{j, v})
			}
		}
		if len(entries) == 0 {
			continue
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].val < entries[b].val })
		n := float64(len(entries))
		for rank, e := range entries {
			out.Values[i][e.idx] = float64(rank+1) / n
		}
	}
	return out
}

// ZScore 对每个交易日做横截面标准化。
func (f *Frame) ZScore() *Frame {
	out := NewFrame(f.Dates, f.Stocks)
	for i := range f.Dates {
		sum, n := 0.0, 0
		for _, v := range f.Values[i] {
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n < 2 {
			continue
		}
		mean := sum / float64(n)
		acc := 0.0
		for _, v := range f.Values[i] {
			if !math.IsNaN(v) {
				acc += (v - mean) * (v - mean)
			}
		}
		std := math.Sqrt(acc / float64(n-1))
		if std == 0 {
			continue
		}
		for j, v := range f.Values[i] {
			if !math.IsNaN(v) {
				out.Values[i][j] = (v - mean) / std
			}
		}
	}
	return out
}

func (f *Frame) mapUnary(fn func(float64) float64) *Frame {
	out := NewFrame(f.Dates, f.Stocks)
	for i := range f.Values {
		for j, v := range f.Values[i] {
			if !math.IsNaN(v) {
				out.Values[i][j] = fn(v)
			}
		}
	}
	return out
}

func (f *Frame) Gt(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return b2f(v > x) }) }
func (f *Frame) Ge(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return b2f(v >= x) }) }
func (f *Frame) Lt(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return b2f(v < x) }) }
func (f *Frame) Le(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return b2f(v <= x) }) }

func (f *Frame) AddS(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return v + x }) }
func (f *Frame) MulS(x float64) *Frame { return f.mapUnary(func(v float64) float64 { return v * x }) }

func (f *Frame) FillNA(x float64) *Frame {
	out := f.Clone()
	for i := range out.Values {
		for j, v := range out.Values[i] {
			if math.IsNaN(v) {
				out.Values[i][j] = x
			}
		}
	}
	return out
}

func (f *Frame) mapBinary(o *Frame, fn func(a, b float64) float64) *Frame {
	left, right := alignPair(f, o)
	out := NewFrame(left.Dates, left.Stocks)
	for i := range left.Values {
		for j := range left.Stocks {
			a, b := left.Values[i][j], right.Values[i][j]
			if math.IsNaN(a) || math.IsNaN(b) {
				continue
			}
			out.Values[i][j] = fn(a, b)
		}
	}
	return out
}

func (f *Frame) Add(o *Frame) *Frame { return f.mapBinary(o, func(a, b float64) float64 { return a + b }) }
func (f *Frame) Sub(o *Frame) *Frame { return f.mapBinary(o, func(a, b float64) float64 { return a - b }) }
func (f *Frame) Mul(o *Frame) *Frame { return f.mapBinary(o, func(a, b float64) float64 { return a * b }) }

func (f *Frame) Div(o *Frame) *Frame {
	return f.mapBinary(o, func(a, b float64) float64 {
		if b == 0 {
			return math.NaN()
		}
		return a / b
	})
}

func (f *Frame) GtF(o *Frame) *Frame {
	return f.mapBinary(o, func(a, b float64) float64 { return b2f(a > b) })
}

func (f *Frame) LtF(o *Frame) *Frame {
	return f.mapBinary(o, func(a, b float64) float64 { return b2f(a < b) })
}

// And / Or 把两侧视作掩码（非零即真）。
func (f *Frame) And(o *Frame) *Frame {
	return f.mapBinary(o, func(a, b float64) float64 { return b2f(a != 0 && b != 0) })
}

func (f *Frame) Or(o *Frame) *Frame {
	return f.mapBinary(o, func(a, b float64) float64 { return b2f(a != 0 || b != 0) })
}

// TopN 每个交易日保留数值最大的 n 只股票，输出掩码。
func (f *Frame) TopN(n int) *Frame {
	if n <= 0 {
		panic(fmt.Sprintf("dataset: TopN 需要正数，收到 %d", n))
	}
	out := NewFrame(f.Dates, f.Stocks)
	type entry struct {
		idx int
		val float64
	}
	for i := range f.Dates {
		entries := make([]entry, 0, len(f.Stocks))
		for j, v := range f.Values[i] {
			if !math.IsNaN(v) {
				entries = append(entries, entry{j, v})
			}
		}
		sort.Slice(entries, func(a, b int) bool { return entries[a].val > entries[b].val })
		keep := n
		if keep > len(entries) {
			keep = len(entries)
		}
		for j := range f.Stocks {
			if !math.IsNaN(f.Values[i][j]) {
				out.Values[i][j] = 0
			}
		}
		for _, e := range entries[:keep] {
			out.Values[i][e.idx] = 1
		}
	}
	return out
}

// Weight 把掩码（或任意非负分值）按行归一化为仓位权重；全零行保持全零。
func (f *Frame) Weight() *Frame {
	out := NewFrame(f.Dates, f.Stocks)
	for i := range f.Dates {
		sum := 0.0
		for _, v := range f.Values[i] {
			if !math.IsNaN(v) && v > 0 {
				sum += v
			}
		}
		for j, v := range f.Values[i] {
			if math.IsNaN(v) {
				continue
			}
			if sum == 0 || v <= 0 {
				out.Values[i][j] = 0
				continue
			}
			out.Values[i][j] = v / sum
		}
	}
	return out
}

// alignPair 把两个 Frame 投影到日期与股票的有序交集上。
func alignPair(a, b *Frame) (*Frame, *Frame) {
	if sameAxes(a, b) {
		return a, b
	}
	dates := intersectDates(a.Dates, b.Dates)
	stocks := intersectStrings(a.Stocks, b.Stocks)
	return a.project(dates, stocks), b.project(dates, stocks)
}

func sameAxes(a, b *Frame) bool {
	if len(a.Dates) != len(b.Dates) || len(a.Stocks) != len(b.Stocks) {
		return false
	}
	for i := range a.Dates {
		if !a.Dates[i].Equal(b.Dates[i]) {
			return false
		}
	}
	for i := range a.Stocks {
		if a.Stocks[i] != b.Stocks[i] {
			return false
		}
	}
	return true
}

func (f *Frame) project(dates []time.Time, stocks []string) *Frame {
	dateIdx := make(map[int64]int, len(f.Dates))
	for i, d := range f.Dates {
		dateIdx[d.Unix()] = i
	}
	stockIdx := make(map[string]int, len(f.Stocks))
	for j, s := range f.Stocks {
		stockIdx[s] = j
	}
	out := NewFrame(dates, stocks)
	for i, d := range dates {
		si, ok := dateIdx[d.Unix()]
		if !ok {
			continue
		}
		for j, s := range stocks {
			sj, ok := stockIdx[s]
			if !ok {
				continue
			}
			out.Values[i][j] = f.Values[si][sj]
		}
	}
	return out
}

func intersectDates(a, b []time.Time) []time.Time {
	set := make(map[int64]bool, len(b))
	for _, d := range b {
		set[d.Unix()] = true
	}
	var out []time.Time
	for _, d := range a {
		if set[d.Unix()] {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func intersectStrings(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var out []string
	for _, s := range a {
		if set[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
