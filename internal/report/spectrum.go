package report

import (
	"bytes"
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/avsafe-data/avsafe.report/internal/minute"
)

// SpectrumPNG renders the session-mean 1/3-octave spectrum as a PNG.
func SpectrumPNG(records []minute.Record) ([]byte, error) {
	labels, levels := MeanSpectrum(records)
	if len(labels) == 0 {
		return nil, fmt.Errorf("report: no band data in %d records", len(records))
	}

	p := plot.New()
	p.Title.Text = "Mean 1/3-octave spectrum"
	p.Y.Label.Text = "dB"
	p.X.Label.Text = "band (Hz)"
	p.NominalX(labels...)

	pts := make(plotter.XYs, len(levels))
	for i, db := range levels {
		pts[i] = plotter.XY{X: float64(i), Y: db}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("report: spectrum line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(line, plotter.NewGrid())

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("report: render spectrum: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: render spectrum: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteSpectrumPNG renders the spectrum straight to a file.
func WriteSpectrumPNG(path string, records []minute.Record) error {
	png, err := SpectrumPNG(records)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}
