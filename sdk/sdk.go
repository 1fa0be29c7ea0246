// Package sdk 是注入到策略沙箱里的唯一 API 面。
// 生成的策略代码只允许 import 这个包（外加少量标准库），
// 通过 Context.Data 取数，用 Frame 上的算子表达因子逻辑。
package sdk

import (
	"context"
	"fmt"

	"alphaforge/internal/dataset"
	"alphaforge/internal/factor"
)

// Frame 即数据集矩阵，别名保证沙箱内外是同一套方法集。
type Frame = dataset.Frame

// 技术指标提升到 Frame 级别暴露给策略代码：逐列计算，暖机区间为 NaN。

func SMA(f *Frame, period int) *Frame { return factor.SMA(f, period) }
func EMA(f *Frame, period int) *Frame { return factor.EMA(f, period) }
func RSI(f *Frame, period int) *Frame { return factor.RSI(f, period) }

// ATR 需要高、低、收三个矩阵，先对齐到共同的日期与股票。
func ATR(high, low, close *Frame, period int) *Frame {
	return factor.ATR(high, low, close, period)
}

// Winsorize 把每日横截面裁剪到 [lower, upper] 分位之间，压制极端值。
func Winsorize(f *Frame, lower, upper float64) *Frame {
	return factor.Winsorize(f, lower, upper)
}

type Context struct {
	ctx    context.Context
	loader dataset.Loader
	params map[string]any
}

func NewContext(ctx context.Context, loader dataset.Loader, params map[string]any) *Context {
	if params == nil {
		params = map[string]any{}
	}
	return &Context{ctx: ctx, loader: loader, params: params}
}

// Data 加载一个数据集矩阵。键非法或加载失败直接 panic，
// 由沙箱统一 recover 成执行错误，生成的代码不必层层传 error。
func (c *Context) Data(key string) *Frame {
	f, err := c.loader.Load(c.ctx, key)
	if err != nil {
		panic(fmt.Sprintf("data %q: %v", key, err))
	}
	return f
}

// ParamFloat 读取一个调参值，缺失或类型不符时返回默认值。
func (c *Context) ParamFloat(name string, def float64) float64 {
	v, ok := c.params[name]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return def
	}
}

func (c *Context) ParamInt(name string, def int) int {
	v, ok := c.params[name]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return def
	}
}
