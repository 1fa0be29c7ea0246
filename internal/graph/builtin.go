package graph

// 内置的四个策略骨架。configs/templates.yaml 存在时以文件为准，
// 文件缺失或解析失败时退回这份编译进二进制的版本。

func builtinTemplates() []*Template {
	return []*Template{
		{
			Name:   "turtle",
			Weight: 1,
			Params: map[string]ParamSpec{
				"entry_window": {Type: "int", Min: 10, Max: 60, Step: 5},
				"rank_window":  {Type: "int", Min: 5, Max: 40, Step: 5},
				"top_n":        {Type: "choice", Choices: []float64{3, 5, 8, 10}},
			},
			Source: `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("price:收盤價")
	volume := ctx.Data("price:成交股數")
	breakout := close.GtF(close.Shift(1).RollingMax({{.entry_window}}))
	active := volume.GtF(volume.Shift(1).RollingMean({{.entry_window}}))
	score := breakout.And(active).Mul(close.Pct({{.rank_window}}).Rank())
	return score.TopN({{.top_n}}).Weight(), nil
}
`,
		},
		{
			Name:   "mastiff",
			Weight: 1,
			Params: map[string]ParamSpec{
				"rev_window":    {Type: "int", Min: 2, Max: 12},
				"growth_weight": {Type: "float", Min: 0.3, Max: 0.8, Step: 0.05},
				"value_weight":  {Type: "float", Min: 0.2, Max: 0.7, Step: 0.05},
				"top_n":         {Type: "choice", Choices: []float64{5, 8, 10, 15}},
			},
			Source: `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	revenue := ctx.Data("monthly_revenue:當月營收")
	pb := ctx.Data("price_earning_ratio:股價淨值比")
	growth := revenue.Pct({{.rev_window}}).Rank()
	cheap := pb.Rank().MulS(-1).AddS(1)
	score := growth.MulS({{.growth_weight}}).Add(cheap.MulS({{.value_weight}}))
	return score.TopN({{.top_n}}).Weight(), nil
}
`,
		},
		{
			Name:   "factor",
			Weight: 1.5,
			Params: map[string]ParamSpec{
				"momentum_window": {Type: "int", Min: 10, Max: 120, Step: 10},
				"momentum_weight": {Type: "float", Min: 0.2, Max: 0.8, Step: 0.1},
				"quality_weight":  {Type: "float", Min: 0.2, Max: 0.8, Step: 0.1},
				"top_n":           {Type: "choice", Choices: []float64{5, 10, 15, 20}},
			},
			Source: `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("etl:adj_close")
	eps := ctx.Data("financial_statement:每股盈餘")
	momentum := close.Pct({{.momentum_window}}).ZScore().Rank()
	quality := eps.Rank()
	score := momentum.MulS({{.momentum_weight}}).Add(quality.MulS({{.quality_weight}}))
	return score.TopN({{.top_n}}).Weight(), nil
}
`,
		},
		{
			Name:   "momentum",
			Weight: 1,
			Params: map[string]ParamSpec{
				"lookback":     {Type: "int", Min: 20, Max: 120, Step: 10},
				"trend_window": {Type: "int", Min: 10, Max: 60, Step: 10},
				"top_n":        {Type: "choice", Choices: []float64{3, 5, 8, 10}},
			},
			Source: `package strategy

import "alphaforge/sdk"

func Build(ctx *sdk.Context) (*sdk.Frame, error) {
	close := ctx.Data("price:收盤價")
	score := close.Pct({{.lookback}}).Rank()
	uptrend := close.GtF(sdk.SMA(close, {{.trend_window}}).Shift(1))
	return score.Mul(uptrend).TopN({{.top_n}}).Weight(), nil
}
`,
		},
	}
}
