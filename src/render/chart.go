// Package render draws the static aggregates as PNG charts.
package render

import (
	"errors"
	"fmt"
	"io"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"KSIDashboard/src/processor"
)

var ErrEmptyAggregate = errors.New("aggregate has no data")

const (
	defaultWidth  = 1024
	defaultHeight = 512

	barWidth   = 40
	barSpacing = 12
)

// Render 按统计表的 chart 字段选择折线图或柱状图
func Render(agg processor.Aggregate, w io.Writer) error {
	if agg.Chart == "bar" {
		return BarChart(agg, w)
	}
	return LineChart(agg, w)
}

// LineChart draws agg.Pairs as a line with point markers, one x tick per category.
func LineChart(agg processor.Aggregate, w io.Writer) error {
	if len(agg.Pairs) == 0 {
		return fmt.Errorf("%s: %w", agg.Name, ErrEmptyAggregate)
	}

	xs := make([]float64, len(agg.Pairs))
	ys := make([]float64, len(agg.Pairs))
	ticks := make([]chart.Tick, len(agg.Pairs))
	for i, p := range agg.Pairs {
		xs[i] = float64(i)
		ys[i] = float64(p.Count)
		ticks[i] = chart.Tick{Value: xs[i], Label: p.Category}
	}

	ch := chart.Chart{
		Title:      agg.Title,
		Width:      defaultWidth,
		Height:     defaultHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 28}},
		// 两侧各留半格, 单点时 x 范围也不为零
		XAxis: chart.XAxis{
			Name:  agg.XLabel,
			Ticks: ticks,
			Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(agg.Pairs)) - 0.5},
		},
		YAxis: chart.YAxis{
			Name:  agg.YLabel,
			Range: &chart.ContinuousRange{Min: 0, Max: upper(agg.Pairs)},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    agg.YLabel,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeWidth: 2,
					StrokeColor: chart.ColorBlue,
					DotWidth:    4,
					DotColor:    chart.ColorBlue,
				},
			},
		},
	}
	return ch.Render(chart.PNG, w)
}

// BarChart draws agg.Pairs as one bar per category.
func BarChart(agg processor.Aggregate, w io.Writer) error {
	if len(agg.Pairs) == 0 {
		return fmt.Errorf("%s: %w", agg.Name, ErrEmptyAggregate)
	}

	bars := make([]chart.Value, len(agg.Pairs))
	for i, p := range agg.Pairs {
		bars[i] = chart.Value{
			Value: float64(p.Count),
			Label: p.Category,
			Style: chart.Style{FillColor: drawing.ColorFromHex("636efa"), StrokeWidth: 0},
		}
	}

	width := len(bars)*(barWidth+barSpacing) + 160
	if width < defaultWidth {
		width = defaultWidth
	}

	bc := chart.BarChart{
		Title:      agg.Title,
		Width:      width,
		Height:     defaultHeight,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 28}},
		YAxis: chart.YAxis{
			Name:  agg.YLabel,
			Range: &chart.ContinuousRange{Min: 0, Max: upper(agg.Pairs)},
		},
		Bars: bars,
	}
	return bc.Render(chart.PNG, w)
}

// upper 纵轴上限, 留 10% 余量, 至少为 1
func upper(pairs []processor.Pair) float64 {
	top := 0
	for _, p := range pairs {
		if p.Count > top {
			top = p.Count
		}
	}
	if top == 0 {
		return 1
	}
	return float64(top) * 1.1
}
