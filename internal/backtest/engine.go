package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"alphaforge/internal/config"
	"alphaforge/internal/dataset"
	"alphaforge/internal/logger"
)

// Engine 对仓位矩阵做逐日再平衡回测。
// 收益按还原股价计算，费用遵循台股规则：
// 买卖各收 0.1425% 手续费（乘以券商折扣），卖出另收 0.3% 证交税。
type Engine struct {
	loader dataset.Loader
	cfg    config.BacktestConfig
}

func NewEngine(loader dataset.Loader, cfg config.BacktestConfig) *Engine {
	return &Engine{loader: loader, cfg: cfg}
}

const tradingDaysPerYear = 252

// Run 回测一份仓位矩阵。权重在 T 日收盘生成，T+1 日生效，
// 避免用当日收盘价成交的前视偏差。
func (e *Engine) Run(ctx context.Context, positions *dataset.Frame) (*Report, error) {
	if positions == nil || positions.Empty() {
		return nil, fmt.Errorf("backtest: 仓位矩阵为空")
	}
	close, err := e.loader.Load(ctx, "etl:adj_close")
	if err != nil {
		return nil, fmt.Errorf("backtest: 加载还原股价失败: %w", err)
	}

	start, err := time.Parse("2006-01-02", e.cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("backtest: 起始日期非法: %w", err)
	}
	// 结束日期留空表示回测到数据末尾
	var end time.Time
	if e.cfg.EndDate != "" {
		end, err = time.Parse("2006-01-02", e.cfg.EndDate)
		if err != nil {
			return nil, fmt.Errorf("backtest: 结束日期非法: %w", err)
		}
	}

	returns := close.Pct(1)
	weights, rets := clipRange(positions, returns, start, end)
	if len(weights.Dates) < 2 {
		return nil, fmt.Errorf("backtest: 回测区间内交易日不足 (%d)", len(weights.Dates))
	}

	buyFee := decimal.NewFromFloat(e.cfg.FeeRate * e.cfg.FeeDiscount)
	sellFee := decimal.NewFromFloat(e.cfg.FeeRate*e.cfg.FeeDiscount + e.cfg.TaxRate)

	initial := decimal.NewFromFloat(e.cfg.InitialFunds)
	equity := initial
	one := decimal.NewFromInt(1)

	n := len(weights.Dates)
	cols := len(weights.Stocks)
	report := &Report{
		Start:  weights.Dates[0],
		End:    weights.Dates[n-1],
		Equity: make([]Point, 0, n),
	}

	prev := make([]float64, cols)
	dailyReturns := make([]float64, 0, n-1)
	totalTurnover := 0.0

	// 第 0 日收盘按首行权重建仓，建仓成本当日入账
	openTurn := 0.0
	for j := 0; j < cols; j++ {
		w := weights.Values[0][j]
		if math.IsNaN(w) {
			w = 0
		}
		prev[j] = w
		openTurn += w
	}
	if openTurn > 1e-9 {
		totalTurnover += openTurn
		report.Trades++
		equity = equity.Sub(equity.Mul(decimal.NewFromFloat(openTurn).Mul(buyFee)))
	}

	report.Equity = append(report.Equity, Point{Date: weights.Dates[0], Value: mustFloat(equity)})
	for i := 1; i < n; i++ {
		// 昨日生效的权重吃今日收益
		gross := 0.0
		for j := 0; j < cols; j++ {
			w := prev[j]
			if w == 0 {
				continue
			}
			r := rets.Values[i][j]
			if math.IsNaN(r) {
				continue
			}
			gross += w * r
		}

		target := weights.Values[i]
		buyTurn, sellTurn := 0.0, 0.0
		for j := 0; j < cols; j++ {
			tw := target[j]
			if math.IsNaN(tw) {
				tw = 0
			}
			delta := tw - prev[j]
			if delta > 0 {
				buyTurn += delta
			} else {
				sellTurn -= delta
			}
			prev[j] = tw
		}
		turnover := buyTurn + sellTurn
		totalTurnover += turnover
		if turnover > 1e-9 {
			report.Trades++
		}

		// 先吃当日收益，再按收盘后的权益计费
		equity = equity.Mul(one.Add(decimal.NewFromFloat(gross)))
		cost := equity.Mul(decimal.NewFromFloat(buyTurn).Mul(buyFee).
			Add(decimal.NewFromFloat(sellTurn).Mul(sellFee)))
		equity = equity.Sub(cost)
		if equity.IsNegative() {
			logger.Warnf("[backtest] 第 %s 日权益转负，提前终止", weights.Dates[i].Format("2006-01-02"))
			equity = decimal.Zero
		}

		ev := mustFloat(equity)
		last := report.Equity[len(report.Equity)-1].Value
		if last > 0 {
			dailyReturns = append(dailyReturns, ev/last-1)
		}
		report.Equity = append(report.Equity, Point{Date: weights.Dates[i], Value: ev})
		if equity.IsZero() {
			break
		}
	}

	report.finalize(mustFloat(initial), dailyReturns, totalTurnover)
	return report, nil
}

// clipRange 把仓位与收益投影到回测区间内的共同日期轴上。
func clipRange(positions, returns *dataset.Frame, start, end time.Time) (*dataset.Frame, *dataset.Frame) {
	w, r := positions.Add(returns.MulS(0)), returns.Add(positions.MulS(0))
	lo, hi := 0, len(w.Dates)
	for lo < hi && w.Dates[lo].Before(start) {
		lo++
	}
	for hi > lo && !end.IsZero() && w.Dates[hi-1].After(end) {
		hi--
	}
	return slice(w, lo, hi), slice(r, lo, hi)
}

func slice(f *dataset.Frame, lo, hi int) *dataset.Frame {
	out := dataset.NewFrame(f.Dates[lo:hi], f.Stocks)
	for i := lo; i < hi; i++ {
		copy(out.Values[i-lo], f.Values[i])
	}
	return out
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
