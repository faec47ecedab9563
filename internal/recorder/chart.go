package recorder

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tandem-aerosol/tandemscan/internal/scan"
)

// WriteChart renders a session's concentration sweep as a standalone HTML
// scatter chart: concentration against the classifier-1 setpoint on a log
// axis, with the bypass baseline points as their own series.
func WriteChart(w io.Writer, title string, points []scan.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("recorder: no points to chart")
	}

	sweep := make([]opts.ScatterData, 0, len(points))
	baseline := make([]opts.ScatterData, 0, 2)
	for _, p := range points {
		d := opts.ScatterData{Value: []interface{}{p.Classifier1, p.Concentration}}
		if p.Bypass {
			baseline = append(baseline, d)
		} else {
			sweep = append(sweep, d)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("points=%d", len(points))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "log", Name: "classifier 1 setpoint"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "concentration (#/cc)"}),
	)

	scatter.AddSeries("sweep", sweep, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if len(baseline) > 0 {
		scatter.AddSeries("bypass baseline", baseline, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("recorder: render chart: %w", err)
	}
	return nil
}
