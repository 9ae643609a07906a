package graph

import (
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Group selects which three channels a rendering shows.
type Group string

const (
	GroupAccel       Group = "accel"
	GroupOrientation Group = "orientation"
)

func ParseGroup(s string) (Group, error) {
	switch Group(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupAccel:
		return GroupAccel, nil
	case GroupOrientation:
		return GroupOrientation, nil
	}
	return "", fmt.Errorf("graph: unknown group %q", s)
}

func (g Group) channels() [3]Channel {
	if g == GroupOrientation {
		return [3]Channel{Pitch, Roll, Azimuth}
	}
	return [3]Channel{AccelX, AccelY, AccelZ}
}

func (g Group) title() (title, unit string) {
	if g == GroupOrientation {
		return "Orientation", "deg"
	}
	return "Smoothed acceleration", "m/s^2"
}

var palette = [3]color.RGBA{
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
}

func lineChart(s BoardSnapshot, g Group) *charts.Line {
	title, unit := g.title()
	chs := g.channels()

	n := 0
	for _, ch := range chs {
		if l := len(s.Series[ch]); l > n {
			n = l
		}
	}
	x := make([]int, n)
	for i := range x {
		x[i] = i - n + 1
	}

	line := charts.NewLine()
	yAxis := opts.YAxis{Name: unit}
	if g == GroupOrientation {
		yAxis.Min = 0
		yAxis.Max = 360
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "accelgraph", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("rate=%s ms accuracy=%s", s.RateText, s.AccuracyText)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(yAxis),
	)
	line.SetXAxis(x)
	for _, ch := range chs {
		vals := s.Series[ch]
		data := make([]opts.LineData, 0, n)
		for i := 0; i < n-len(vals); i++ {
			data = append(data, opts.LineData{Value: nil})
		}
		for _, v := range vals {
			data = append(data, opts.LineData{Value: v})
		}
		line.AddSeries(ch.String(), data)
	}
	return line
}

// RenderHTML writes an ECharts page with the acceleration and orientation
// graphs.
func RenderHTML(w io.Writer, s BoardSnapshot) error {
	page := components.NewPage()
	page.AddCharts(lineChart(s, GroupAccel), lineChart(s, GroupOrientation))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("graph: render html: %w", err)
	}
	return nil
}

// RenderPNG writes one group of series as a PNG line plot.
func RenderPNG(w io.Writer, s BoardSnapshot, g Group) error {
	title, unit := g.title()
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "sample"
	p.Y.Label.Text = unit
	if g == GroupOrientation {
		p.Y.Min = 0
		p.Y.Max = 360
	}

	for i, ch := range g.channels() {
		vals := s.Series[ch]
		if len(vals) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(vals))
		for j, v := range vals {
			pts[j] = plotter.XY{X: float64(j - len(vals) + 1), Y: v}
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("graph: %s line: %w", ch, err)
		}
		l.Color = palette[i]
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(ch.String(), l)
	}
	p.Legend.Top = true

	wt, err := p.WriterTo(8*vg.Inch, 3*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("graph: png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("graph: write png: %w", err)
	}
	return nil
}
