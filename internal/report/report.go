package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"alphaforge/internal/backtest"
	"alphaforge/internal/config"
	"alphaforge/internal/history"
	"alphaforge/internal/logger"
)

// Builder 把一次运行渲染成 HTML 报告：冠军权益曲线、回撤曲线、
// 各轮得分散点。配置开启 snapshot 时再用 headless chrome 截 PNG。
type Builder struct {
	cfg config.ReportConfig
}

func NewBuilder(cfg config.ReportConfig) *Builder {
	return &Builder{cfg: cfg}
}

const (
	chartWidthPx  = 1200
	chartHeightPx = 420

	colorEquity   = "#3b82f6"
	colorDrawdown = "#f87171"
	colorScore    = "#34d399"
)

type Input struct {
	RunID    string
	Champion *history.IterationRecord
	Report   *backtest.Report
	Records  []*history.IterationRecord
}

// Result 指向落盘的报告文件。
type Result struct {
	HTMLPath string `json:"html_path"`
	PNGPath  string `json:"png_path,omitempty"`
}

func (b *Builder) Build(ctx context.Context, in Input) (*Result, error) {
	if in.Report == nil || len(in.Report.Equity) == 0 {
		return nil, fmt.Errorf("report: 没有可渲染的回测结果")
	}
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}

	html, err := b.buildHTML(in)
	if err != nil {
		return nil, err
	}
	htmlPath := filepath.Join(b.cfg.OutputDir, fmt.Sprintf("run_%s.html", in.RunID))
	if err := os.WriteFile(htmlPath, html, 0o644); err != nil {
		return nil, err
	}
	res := &Result{HTMLPath: htmlPath}

	if b.cfg.Snapshot {
		png, err := renderHTMLToPNG(ctx, html, chartWidthPx, chartHeightPx*3+120)
		if err != nil {
			logger.Warnf("[report] 截图失败，仅保留 HTML: %v", err)
			return res, nil
		}
		pngPath := filepath.Join(b.cfg.OutputDir, fmt.Sprintf("run_%s.png", in.RunID))
		if err := os.WriteFile(pngPath, png, 0o644); err != nil {
			return nil, err
		}
		res.PNGPath = pngPath
	}
	return res, nil
}

func (b *Builder) buildHTML(in Input) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	subtitle := ""
	if in.Champion != nil {
		subtitle = fmt.Sprintf("冠军 %s (来源 %s) 得分 %.4f", in.Champion.CandidateID, in.Champion.Source, in.Champion.Score)
	}
	page.AddCharts(
		equityChart(in.Report, subtitle),
		drawdownChart(in.Report),
	)
	if len(in.Records) > 0 {
		page.AddCharts(scoreChart(in.Records))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func chartInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:  types.ThemeWesteros,
		Width:  fmt.Sprintf("%dpx", chartWidthPx),
		Height: fmt.Sprintf("%dpx", height),
	}
}

func equityChart(rep *backtest.Report, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "权益曲线", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
	)
	x, y := pointSeries(rep.Equity)
	line.SetXAxis(x)
	line.AddSeries("equity", y, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity}))
	return line
}

func drawdownChart(rep *backtest.Report) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "回撤", Subtitle: fmt.Sprintf("最大回撤 %.2f%%", rep.MaxDrawdown*100)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	x, y := pointSeries(rep.DrawdownCurve())
	line.SetXAxis(x)
	line.AddSeries("drawdown", y,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}),
	)
	return line
}

func scoreChart(recs []*history.IterationRecord) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "各轮候选得分"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	maxIter := 0
	for _, r := range recs {
		if r.Iteration > maxIter {
			maxIter = r.Iteration
		}
	}
	x := make([]int, maxIter)
	for i := range x {
		x[i] = i + 1
	}
	scatter.SetXAxis(x)

	bySource := map[string][]opts.ScatterData{}
	for _, r := range recs {
		if !r.Valid {
			continue
		}
		bySource[r.Source] = append(bySource[r.Source], opts.ScatterData{
			Value: []any{r.Iteration, r.Score},
		})
	}
	for source, data := range bySource {
		scatter.AddSeries(source, data)
	}
	return scatter
}

func pointSeries(points []backtest.Point) ([]string, []opts.LineData) {
	x := make([]string, len(points))
	y := make([]opts.LineData, len(points))
	for i, p := range points {
		x[i] = p.Date.Format("2006-01-02")
		y[i] = opts.LineData{Value: p.Value}
	}
	return x, y
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测本机是否能拉起 headless chrome，只测一次。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return nil, err
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks); err != nil {
		return nil, fmt.Errorf("report: 渲染 PNG 失败: %w", err)
	}
	return screenshot, nil
}
