package llm

import (
	"fmt"
	"strings"

	"alphaforge/internal/generate"
	"alphaforge/internal/sandbox"
)

// 提示词模板。系统提示描述沙箱里可用的 API 面与硬性约束，
// 用户提示携带当前冠军与最近失败，引导模型做定向改进。

const systemPromptTemplate = `你是一名台股量化策略研究员。你的任务是编写一个 Go 策略文件，它将在受限的解释器沙箱里运行。

## 硬性约束
1. 文件必须是 package strategy。
2. 必须定义且只定义一个入口:
   func Build(ctx *sdk.Context) (*sdk.Frame, error)
3. 只允许 import 以下包: %s。
4. 禁止 go 语句、channel、select、cgo。
5. 数据集键必须是字符串字面量，Shift 参数必须非负。
6. 最终返回的 Frame 是仓位权重矩阵: 每格落在 [0,1]，单日合计不超过 1。

## 可用 API
ctx.Data(key string) *sdk.Frame      加载数据集矩阵（日期 × 股票代码）
ctx.ParamInt / ctx.ParamFloat        读取调参值
Frame 算子（全部返回新 Frame）:
  Shift(n) Pct(n) RollingMean(w) RollingStd(w) RollingMax(w) RollingMin(w)
  Rank() ZScore() FillNA(x)
  Gt(x) Ge(x) Lt(x) Le(x) AddS(x) MulS(x)          与标量比较/运算
  Add(o) Sub(o) Mul(o) Div(o) GtF(o) LtF(o) And(o) Or(o)   与另一 Frame 运算
  TopN(n) 保留每日分值最高的 n 只股票，Weight() 按行归一化为权重
指标函数（包级，逐列计算，暖机区间为 NaN）:
  sdk.SMA(f, n) sdk.EMA(f, n) sdk.RSI(f, n)
  sdk.ATR(high, low, close, n)
  sdk.Winsorize(f, lower, upper)   横截面分位裁剪，如 (f, 0.05, 0.95)

## 可用数据集键
%s

## 输出格式
只输出一个 Go 代码块，用 %s 围栏包裹，不要输出其他解释文字。`

func BuildSystemPrompt(datasetKeys []string) string {
	return fmt.Sprintf(systemPromptTemplate,
		strings.Join(sandbox.AllowedImports, ", "),
		strings.Join(datasetKeys, "\n"),
		"```go ... ```")
}

func BuildUserPrompt(fb generate.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "当前是第 %d 轮迭代。\n\n", fb.Iteration)

	if fb.ChampionCode == "" {
		b.WriteString("目前还没有冠军策略。请给出一个稳健的首发策略，优先考虑动量与基本面结合的多因子选股。\n")
	} else {
		fmt.Fprintf(&b, "## 当前冠军策略（得分 %.4f）\n```go\n%s\n```\n\n", fb.ChampionScore, fb.ChampionCode)
		if len(fb.ChampionStats) > 0 {
			b.WriteString("## 冠军回测指标\n")
			for _, k := range []string{"cagr", "sharpe", "max_drawdown", "win_rate", "turnover"} {
				if v, ok := fb.ChampionStats[k]; ok {
					fmt.Fprintf(&b, "- %s: %.4f\n", k, v)
				}
			}
			b.WriteString("\n")
		}
		b.WriteString("请在冠军的基础上做一处有方向性的改进（换因子、调窗口、加过滤条件），不要推倒重写。\n")
	}

	if len(fb.RecentErrors) > 0 {
		b.WriteString("\n## 最近失败的候选及原因（避免重蹈覆辙）\n")
		for _, e := range fb.RecentErrors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
