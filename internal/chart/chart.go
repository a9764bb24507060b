package chart

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"pricecast/pkg/model"
)

var (
	// ErrNoPoints is returned when a result has nothing to draw
	ErrNoPoints = errors.New("no prediction points to plot")
	// ErrBadSymbol is returned when the symbol cannot name a file inside the output dir
	ErrBadSymbol = errors.New("symbol is not a valid file name")
)

const (
	width  = 10 * vg.Inch
	height = 5 * vg.Inch
)

var (
	actualColor    = color.Black
	predictedColor = color.RGBA{G: 128, A: 255}
)

// FileName returns the chart file name for a symbol
func FileName(symbol string) string {
	return symbol + "_stock_prediction.png"
}

// SavePNG renders result into dir and returns the written path
func SavePNG(result *model.PredictionResult, dir string) (string, error) {
	p, err := build(result)
	if err != nil {
		return "", err
	}
	name := FileName(result.Symbol)
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrBadSymbol, result.Symbol)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := p.Save(width, height, path); err != nil {
		return "", fmt.Errorf("save chart: %w", err)
	}
	return path, nil
}

// WritePNG renders result as PNG to w
func WritePNG(w io.Writer, result *model.PredictionResult) error {
	p, err := build(result)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

func build(result *model.PredictionResult) (*plot.Plot, error) {
	if result == nil || len(result.Points) == 0 {
		return nil, ErrNoPoints
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s Share Prices", result.Symbol)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = fmt.Sprintf("%s Share Price", result.Symbol)
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Add(plotter.NewGrid())

	actuals, predictions := result.Actuals(), result.Predictions()
	actual := make(plotter.XYs, len(result.Points))
	predicted := make(plotter.XYs, len(result.Points))
	for i, pt := range result.Points {
		x := float64(pt.Date.Unix())
		actual[i] = plotter.XY{X: x, Y: actuals[i]}
		predicted[i] = plotter.XY{X: x, Y: predictions[i]}
	}

	actualLine, err := plotter.NewLine(actual)
	if err != nil {
		return nil, fmt.Errorf("actual series: %w", err)
	}
	actualLine.LineStyle.Color = actualColor
	actualLine.LineStyle.Width = vg.Points(1.5)

	predictedLine, err := plotter.NewLine(predicted)
	if err != nil {
		return nil, fmt.Errorf("predicted series: %w", err)
	}
	predictedLine.LineStyle.Color = predictedColor
	predictedLine.LineStyle.Width = vg.Points(1.5)

	p.Add(actualLine, predictedLine)
	p.Legend.Add(fmt.Sprintf("Actual %s Prices", result.Symbol), actualLine)
	p.Legend.Add(fmt.Sprintf("Predicted %s Prices", result.Symbol), predictedLine)
	p.Legend.Top = true
	p.Legend.Left = true

	return p, nil
}
