package backtest

import (
	"math"
	"time"

	"alphaforge/internal/config"
)

type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Report 是一次回测的完整结果。
type Report struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TotalReturn float64 `json:"total_return"`
	CAGR        float64 `json:"cagr"`
	AnnualVol   float64 `json:"annual_vol"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"` // 负数，如 -0.23
	WinRate     float64 `json:"win_rate"`
	Turnover    float64 `json:"turnover"` // 日均换手
	Trades      int     `json:"trades"`

	Equity []Point `json:"equity"`
}

func (r *Report) finalize(initial float64, dailyReturns []float64, totalTurnover float64) {
	if len(r.Equity) == 0 || initial <= 0 {
		return
	}
	final := r.Equity[len(r.Equity)-1].Value
	r.TotalReturn = final/initial - 1

	days := len(r.Equity) - 1
	if days > 0 && final > 0 {
		r.CAGR = math.Pow(final/initial, tradingDaysPerYear/float64(days)) - 1
		r.Turnover = totalTurnover / float64(days)
	}

	if len(dailyReturns) >= 2 {
		mean, std := meanStd(dailyReturns)
		r.AnnualVol = std * math.Sqrt(tradingDaysPerYear)
		if std > 0 {
			r.Sharpe = mean / std * math.Sqrt(tradingDaysPerYear)
		}
		wins := 0
		for _, v := range dailyReturns {
			if v > 0 {
				wins++
			}
		}
		r.WinRate = float64(wins) / float64(len(dailyReturns))
	}

	peak := r.Equity[0].Value
	for _, p := range r.Equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd := p.Value/peak - 1
			if dd < r.MaxDrawdown {
				r.MaxDrawdown = dd
			}
		}
	}
}

// DrawdownCurve 返回逐日回撤序列，画图用。
func (r *Report) DrawdownCurve() []Point {
	out := make([]Point, 0, len(r.Equity))
	peak := 0.0
	for _, p := range r.Equity {
		if p.Value > peak {
			peak = p.Value
		}
		dd := 0.0
		if peak > 0 {
			dd = p.Value/peak - 1
		}
		out = append(out, Point{Date: p.Date, Value: dd})
	}
	return out
}

// Score 按目标函数给回测结果打分，用于冠军选拔。
func (r *Report) Score(obj config.ObjectiveConfig) float64 {
	return r.CAGR*obj.CAGRWeight + r.Sharpe*obj.SharpeWeight - math.Abs(r.MaxDrawdown)*obj.DrawdownWeight
}

// Stats 摊平成指标表，写入迭代记录与喂给 LLM 反馈。
func (r *Report) Stats() map[string]float64 {
	return map[string]float64{
		"total_return": r.TotalReturn,
		"cagr":         r.CAGR,
		"annual_vol":   r.AnnualVol,
		"sharpe":       r.Sharpe,
		"max_drawdown": r.MaxDrawdown,
		"win_rate":     r.WinRate,
		"turnover":     r.Turnover,
		"trades":       float64(r.Trades),
	}
}

func meanStd(xs []float64) (float64, float64) {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	acc := 0.0
	for _, x := range xs {
		acc += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(acc / float64(len(xs)-1))
}
