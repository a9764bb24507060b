package model

import (
	"fmt"
	"math"
	"time"
)

// Candle represents a single daily candlestick (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PricePoint is a single closing price on a calendar date
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// PriceSeries is a date-ascending sequence of closing prices for one symbol
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// Len returns the number of points in the series
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// Closes returns the closing prices in series order
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}

// Validate checks that dates are strictly ascending
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s.Points); i++ {
		prev, cur := s.Points[i-1].Date, s.Points[i].Date
		if cur.Equal(prev) {
			return fmt.Errorf("duplicate date %s at index %d", cur.Format("2006-01-02"), i)
		}
		if cur.Before(prev) {
			return fmt.Errorf("date %s at index %d is before %s", cur.Format("2006-01-02"), i, prev.Format("2006-01-02"))
		}
	}
	return nil
}

// FromCandles reduces daily candles to a price series
func FromCandles(symbol string, candles []Candle) PriceSeries {
	points := make([]PricePoint, len(candles))
	for i, c := range candles {
		points[i] = PricePoint{Date: c.Time, Close: c.Close}
	}
	return PriceSeries{Symbol: symbol, Points: points}
}

// Bounds is the fitted state of a min-max scaler
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Range returns Max - Min
func (b Bounds) Range() float64 {
	return b.Max - b.Min
}

// PredictionPoint pairs an actual closing price with the model's prediction
type PredictionPoint struct {
	Date      time.Time `json:"date"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
}

// PredictionResult is the output of one pipeline run
type PredictionResult struct {
	RunID        string            `json:"run_id,omitempty"`
	Symbol       string            `json:"symbol"`
	WindowLength int               `json:"window_length"`
	Epochs       int               `json:"epochs"`
	BatchSize    int               `json:"batch_size"`
	Bounds       Bounds            `json:"bounds"`
	Points       []PredictionPoint `json:"points"`
}

// Actuals returns the actual prices aligned by window index
func (r *PredictionResult) Actuals() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Actual
	}
	return out
}

// Predictions returns the predicted prices aligned by window index
func (r *PredictionResult) Predictions() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Predicted
	}
	return out
}

// RMSE returns the root mean squared error of predictions in price units
func (r *PredictionResult) RMSE() float64 {
	if len(r.Points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Points {
		d := p.Predicted - p.Actual
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(r.Points)))
}

// MAE returns the mean absolute error of predictions in price units
func (r *PredictionResult) MAE() float64 {
	if len(r.Points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Points {
		sum += math.Abs(p.Predicted - p.Actual)
	}
	return sum / float64(len(r.Points))
}
