package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderTrajectories writes an HTML page with one X/Y scatter per fused
// node, coloured by cycle, followed by a calibration uncertainty chart.
func (r *Recorder) RenderTrajectories(w io.Writer) error {
	page := components.NewPage()
	page.SetPageTitle("Pose fusion run")

	for _, node := range r.Nodes() {
		track := r.Track(node)
		data := make([]opts.ScatterData, 0, len(track))
		pad := 0.0
		for _, s := range track {
			data = append(data, opts.ScatterData{Value: []interface{}{s.Position.X, s.Position.Y, s.Cycle}})
			pad = math.Max(pad, math.Max(math.Abs(s.Position.X), math.Abs(s.Position.Y)))
		}
		pad = math.Ceil(pad*10+1) / 10

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "700px", Height: "700px"}),
			charts.WithTitleOpts(opts.Title{Title: string(node), Subtitle: fmt.Sprintf("samples=%d", len(data))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
			charts.WithVisualMapOpts(opts.VisualMap{
				Show:       opts.Bool(true),
				Calculable: opts.Bool(true),
				Dimension:  "2",
				Min:        0,
				Max:        float32(r.Cycles()),
				InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
			}),
		)
		scatter.AddSeries(string(node), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))
		page.AddCharts(scatter)
	}

	if pairs := r.Pairs(); len(pairs) > 0 {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{Title: "Calibration uncertainty"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "Cycle"}),
			charts.WithYAxisOpts(opts.YAxis{Name: "m"}),
		)
		cycles := make([]string, r.Cycles())
		for i := range cycles {
			cycles[i] = strconv.Itoa(i + 1)
		}
		line.SetXAxis(cycles)
		for _, pair := range pairs {
			series := make([]opts.LineData, r.Cycles())
			for i := range series {
				series[i] = opts.LineData{Value: "-"}
			}
			for _, s := range r.Calibration(pair) {
				if s.Cycle >= 1 && s.Cycle <= len(series) && isFinite(s.Uncertainty) {
					series[s.Cycle-1] = opts.LineData{Value: s.Uncertainty}
				}
			}
			line.AddSeries(fmt.Sprintf("%s->%s", pair[0], pair[1]), series)
		}
		page.AddCharts(line)
	}

	return page.Render(w)
}

func isFinite(v float64) bool { return !math.IsInf(v, 0) && !math.IsNaN(v) }
