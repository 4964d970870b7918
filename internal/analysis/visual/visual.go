package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"backsim/internal/engine"
)

// EquityPoint 是渲染用的资金曲线采样点。
type EquityPoint struct {
	TS       int64
	Equity   float64
	Drawdown float64
}

// ChartInput 描述一次资金曲线渲染。
type ChartInput struct {
	Title    string
	RunID    string
	Points   []EquityPoint
	Result   *engine.BacktestResult
	Timezone string
}

// ImageResult 是 PNG 渲染结果。
type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"

	chartWidthPx     = 1600
	equityHeightPx   = 600
	drawdownHeightPx = 260
)

// EquityChartHTML 渲染资金曲线 + 回撤曲线的 HTML 页面。
func EquityChartHTML(input ChartInput) ([]byte, error) {
	if len(input.Points) == 0 {
		return nil, fmt.Errorf("没有可渲染的资金曲线数据")
	}
	loc := time.UTC
	if input.Timezone != "" {
		if l, err := time.LoadLocation(input.Timezone); err == nil {
			loc = l
		}
	}
	xAxis := make([]string, len(input.Points))
	equity := make([]opts.LineData, len(input.Points))
	drawdown := make([]opts.LineData, len(input.Points))
	for i, p := range input.Points {
		xAxis[i] = time.UnixMilli(p.TS).In(loc).Format("2006-01-02")
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		drawdown[i] = opts.LineData{Value: round(-p.Drawdown*100, 2)}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildEquityChart(input, xAxis, equity),
		buildDrawdownChart(xAxis, drawdown),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildEquityChart(input ChartInput, xAxis []string, equity []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         input.Title,
			Subtitle:      resultSubtitle(input.Result),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownChart(xAxis []string, drawdown []opts.LineData) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.2)}),
	)
	return line
}

func resultSubtitle(result *engine.BacktestResult) string {
	if result == nil {
		return ""
	}
	return fmt.Sprintf("收益率 %.2f%% | 年化 %.2f%% | 最大回撤 %.2f%% | 夏普 %.2f | 胜率 %.1f%% | 成交 %d",
		result.TotalReturnPct*100, result.AnnualizedReturn*100, result.MaxDrawdown*100,
		result.SharpeRatio, result.WinRate*100, result.TotalTrades)
}

// RenderPNG 将资金曲线页面渲染为 PNG，依赖本机 headless Chrome。
func RenderPNG(ctx context.Context, input ChartInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, err := EquityChartHTML(input)
	if err != nil {
		return ImageResult{}, err
	}
	height := equityHeightPx + drawdownHeightPx + 80
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_equity.png", input.RunID),
		Description: input.Title,
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
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
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
