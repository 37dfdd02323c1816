package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotCalibrationConvergence writes one PNG per recorded system pair into
// dir, plotting uncertainty and residual RMSE against cycle. threshold,
// if positive, is drawn as a horizontal reference line. It returns the
// number of files written.
func (r *Recorder) PlotCalibrationConvergence(dir string, threshold float64) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create plot dir: %w", err)
	}

	written := 0
	for _, pair := range r.Pairs() {
		samples := r.Calibration(pair)
		if len(samples) == 0 {
			continue
		}
		file := filepath.Join(dir, fmt.Sprintf("calibration_%s_%s.png", fileSafe(string(pair[0])), fileSafe(string(pair[1]))))
		if err := plotPair(pair, samples, threshold, file); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func plotPair(pair Pair, samples []CalibrationSample, threshold float64, file string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Calibration %s -> %s", pair[0], pair[1])
	p.X.Label.Text = "Cycle"
	p.Y.Label.Text = "Metres"

	uncPts := make(plotter.XYs, 0, len(samples))
	rmsePts := make(plotter.XYs, 0, len(samples))
	for _, s := range samples {
		// Unbounded uncertainty (collinear pairs) would flatten the plot.
		if !isFinite(s.Uncertainty) {
			continue
		}
		uncPts = append(uncPts, plotter.XY{X: float64(s.Cycle), Y: s.Uncertainty})
		rmsePts = append(rmsePts, plotter.XY{X: float64(s.Cycle), Y: s.Quality})
	}

	colors := generateColors(3)
	if len(uncPts) > 0 {
		uncLine, err := plotter.NewLine(uncPts)
		if err != nil {
			return err
		}
		uncLine.Color = colors[0]
		uncLine.Width = vg.Points(1)
		p.Add(uncLine)
		p.Legend.Add("uncertainty", uncLine)

		rmseLine, err := plotter.NewLine(rmsePts)
		if err != nil {
			return err
		}
		rmseLine.Color = colors[1]
		rmseLine.Width = vg.Points(1)
		p.Add(rmseLine)
		p.Legend.Add("residual RMSE", rmseLine)
	}

	if threshold > 0 {
		first, last := float64(samples[0].Cycle), float64(samples[len(samples)-1].Cycle)
		if last == first {
			last = first + 1
		}
		limit, err := plotter.NewLine(plotter.XYs{{X: first, Y: threshold}, {X: last, Y: threshold}})
		if err != nil {
			return err
		}
		limit.Color = colors[2]
		limit.Width = vg.Points(0.5)
		limit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(limit)
		p.Legend.Add("threshold", limit)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 5*vg.Inch, file); err != nil {
		return fmt.Errorf("save calibration plot: %w", err)
	}
	return nil
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// generateColors creates a palette of n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
