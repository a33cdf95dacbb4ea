package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// WriteLossPlot renders train and eval loss per epoch to path. The image
// format follows the file extension (.svg, .png, .pdf). Non-finite losses
// are left out of the curves.
func WriteLossPlot(path string, h *History) error {
	if h == nil || len(h.Epochs) == 0 {
		return errors.New("metrics: no epochs to plot")
	}
	p := plot.New()
	p.Title.Text = "loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "cross-entropy"
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		value func(EpochRecord) float64
	}{
		{"train", func(r EpochRecord) float64 { return r.TrainLoss }},
		{"eval", func(r EpochRecord) float64 { return r.EvalLoss }},
	}
	for i, s := range series {
		var pts plotter.XYs
		for _, r := range h.Epochs {
			v := s.value(r)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(r.Epoch), Y: v})
		}
		if len(pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot %s loss: %w", s.name, err)
		}
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
