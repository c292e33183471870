// Package report renders a session into a human-readable compliance report:
// an HTML page with interactive charts plus a PNG of the mean 1/3-octave
// spectrum. Reports are derived views; the sealed records stay the evidence.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/rules"
)

// Input is everything a report is built from.
type Input struct {
	Title     string
	SessionID string
	DeviceID  string
	Locale    string
	Records   []minute.Record
	// Evaluation is optional; without it the report carries charts only.
	Evaluation *rules.Result
	// Verification is optional chain/signature status for the header.
	Verification *integrity.VerifyResult
	// Profile supplies the risk curve drawn under the flicker scatter and
	// the noise limit markline.
	Profile *rules.Profile
}

// RenderHTML writes the full report page.
func RenderHTML(w io.Writer, in Input) error {
	page := components.NewPage()
	page.PageTitle = pageTitle(in)
	page.AddCharts(laeqTimeline(in))
	if sc := flickerScatter(in); sc != nil {
		page.AddCharts(sc)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("report: render charts: %w", err)
	}

	header, err := headerHTML(in)
	if err != nil {
		return err
	}
	// The summary block goes at the top of the rendered page body.
	out := bytes.Replace(buf.Bytes(), []byte("<body>"), append([]byte("<body>"), header...), 1)
	_, err = w.Write(out)
	return err
}

func pageTitle(in Input) string {
	if in.Title != "" {
		return in.Title
	}
	return "AV-SAFE session report"
}

var headerTemplate = template.Must(template.New("header").Parse(`
<div style="font-family:sans-serif;max-width:900px;margin:20px auto">
<h1>{{.Title}}</h1>
<p>
Session <code>{{.SessionID}}</code>{{if .DeviceID}} · device <code>{{.DeviceID}}</code>{{end}}
 · locale <b>{{.Locale}}</b> · {{.NMinutes}} minutes
</p>
{{if .ChainLine}}<p>{{.ChainLine}}</p>{{end}}
{{if .Flags}}
<table border="1" cellpadding="6" style="border-collapse:collapse">
<tr><th>Rule</th><th>Severity</th><th>Detail</th><th>Minutes</th></tr>
{{range .Flags}}
<tr><td><code>{{.RuleID}}</code></td><td>{{.Severity}}</td><td>{{.Detail}}</td><td>{{.NIndices}}</td></tr>
{{end}}
</table>
{{else if .Evaluated}}<p>No rule flags raised.</p>{{end}}
</div>
`))

type headerFlag struct {
	RuleID   string
	Severity string
	Detail   string
	NIndices int
}

func headerHTML(in Input) ([]byte, error) {
	data := struct {
		Title     string
		SessionID string
		DeviceID  string
		Locale    string
		NMinutes  int
		ChainLine string
		Evaluated bool
		Flags     []headerFlag
	}{
		Title:     pageTitle(in),
		SessionID: in.SessionID,
		DeviceID:  in.DeviceID,
		Locale:    in.Locale,
		NMinutes:  len(in.Records),
	}
	if in.Verification != nil {
		data.ChainLine = chainLine(*in.Verification)
	}
	if in.Evaluation != nil {
		data.Evaluated = true
		for _, f := range in.Evaluation.Flags {
			data.Flags = append(data.Flags, headerFlag{
				RuleID:   f.RuleID,
				Severity: string(f.Severity),
				Detail:   f.Detail,
				NIndices: len(f.Evidence.Indices),
			})
		}
	}

	var buf bytes.Buffer
	if err := headerTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("report: header: %w", err)
	}
	return buf.Bytes(), nil
}

func chainLine(vr integrity.VerifyResult) string {
	valid, invalid := 0, 0
	for _, s := range vr.Signatures {
		switch s {
		case integrity.SignatureValid:
			valid++
		case integrity.SignatureInvalid:
			invalid++
		}
	}
	if vr.ChainIntact() {
		return fmt.Sprintf("Hash chain intact over %d records (%d signatures valid, %d invalid).",
			vr.Records, valid, invalid)
	}
	return fmt.Sprintf("Hash chain BROKEN at record %d (%d signatures valid, %d invalid).",
		vr.BrokenIndex, valid, invalid)
}

// laeqTimeline draws per-minute LAeq with the locale limit as a markline.
func laeqTimeline(in Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "LAeq per minute"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dB(A)"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "minute"}),
	)

	x := make([]string, 0, len(in.Records))
	y := make([]opts.LineData, 0, len(in.Records))
	for _, rec := range in.Records {
		if rec.Audio == nil {
			continue
		}
		x = append(x, strconv.Itoa(rec.Idx))
		y = append(y, opts.LineData{Value: rec.Audio.LAeqDB})
	}

	series := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false)}),
	}
	if limit, ok := noiseLimit(in); ok {
		series = append(series,
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
				Name:  "night limit",
				YAxis: limit,
			}),
		)
	}
	line.SetXAxis(x).AddSeries("laeq_db", y, series...)
	return line
}

func noiseLimit(in Input) (float64, bool) {
	if in.Profile == nil {
		return 0, false
	}
	loc, err := in.Profile.Locale(in.Locale)
	if err != nil {
		return 0, false
	}
	return loc.LAeqLimitDB, true
}

// flickerScatter plots modulation against frequency with the low-risk
// ceiling drawn over it. Records without detected flicker (f = 0) are
// omitted; a log frequency axis cannot carry them.
func flickerScatter(in Input) *charts.Scatter {
	data := make([]opts.ScatterData, 0, len(in.Records))
	for _, rec := range in.Records {
		if rec.Light == nil || rec.Light.TLMFreqHz <= 0 {
			continue
		}
		data = append(data, opts.ScatterData{
			Value: []interface{}{rec.Light.TLMFreqHz, rec.Light.TLMModPercent},
		})
	}
	if len(data) == 0 {
		return nil
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Flicker: modulation vs frequency"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hz", Type: "log"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mod %"}),
	)
	scatter.AddSeries("minutes", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))

	if in.Profile != nil {
		scatter.Overlap(riskCurve(in.Profile))
	}
	return scatter
}

// riskCurve samples the low-risk ceiling on a log frequency grid.
func riskCurve(p *rules.Profile) *charts.Line {
	line := charts.NewLine()
	data := make([]opts.LineData, 0, 128)
	for _, seg := range p.FlickerLowRisk {
		lo := math.Max(seg.FreqMin, 0.1)
		for i := 0; i < 32; i++ {
			f := lo * math.Pow(seg.FreqMax/lo, float64(i)/31)
			if f >= seg.FreqMax {
				f = math.Nextafter(seg.FreqMax, 0)
			}
			data = append(data, opts.LineData{Value: []interface{}{f, seg.Ceiling(f)}})
		}
	}
	line.AddSeries("low-risk ceiling", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), ShowSymbol: opts.Bool(false)}))
	return line
}

// MeanSpectrum energy-averages each 1/3-octave band across the session.
// Bands are returned in ascending frequency order.
func MeanSpectrum(records []minute.Record) (labels []string, levels []float64) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, rec := range records {
		if rec.Audio == nil {
			continue
		}
		for band, db := range rec.Audio.ThirdOctaveDB {
			sums[band] += math.Pow(10, db/10)
			counts[band]++
		}
	}
	labels = make([]string, 0, len(sums))
	for band := range sums {
		labels = append(labels, band)
	}
	sort.Slice(labels, func(i, j int) bool {
		fi, _ := strconv.ParseFloat(labels[i], 64)
		fj, _ := strconv.ParseFloat(labels[j], 64)
		return fi < fj
	})
	levels = make([]float64, len(labels))
	for i, band := range labels {
		levels[i] = 10 * math.Log10(sums[band]/float64(counts[band]))
	}
	return labels, levels
}
