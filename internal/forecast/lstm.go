package forecast

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"pricecast/internal/window"
)

var _ Model = (*LSTM)(nil)

// LSTMConfig holds the network and optimizer settings
type LSTMConfig struct {
	Units        int
	LearningRate float64
	Seed         uint64
	ClipNorm     float64 // global gradient norm cap, 0 disables
}

// DefaultLSTMConfig returns the default network settings
func DefaultLSTMConfig() LSTMConfig {
	return LSTMConfig{
		Units:        50,
		LearningRate: 0.01,
		Seed:         42,
		ClipNorm:     5,
	}
}

// LSTM is a single-layer LSTM over a univariate sequence with a dense
// scalar head, trained on mean squared error with mini-batch Adam.
//
// Parameters live in one flat slice:
//
//	wx [4H]     input weights, gate order i, f, g, o
//	wh [4H x H] recurrent weights, row-major by gate unit
//	b  [4H]     gate biases
//	wy [H]      output weights
//	by [1]      output bias
//
// Initialization and shuffling are driven by a seeded PCG source, so two
// models built with the same config and trained on the same data are
// bit-identical. Predict is pure float64 arithmetic on a single goroutine
// and returns identical output for identical input.
type LSTM struct {
	cfg     LSTMConfig
	h       int
	w       []float64
	opt     *adam
	rng     *rand.Rand
	trained bool
	logger  zerolog.Logger

	oWx, oWh, oB, oWy, oBy int
}

// NewLSTM builds an untrained network
func NewLSTM(cfg LSTMConfig, logger zerolog.Logger) *LSTM {
	def := DefaultLSTMConfig()
	if cfg.Units < 1 {
		cfg.Units = def.Units
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}

	h := cfg.Units
	m := &LSTM{
		cfg:    cfg,
		h:      h,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger: logger.With().Str("component", "lstm").Logger(),
	}
	m.oWx = 0
	m.oWh = m.oWx + 4*h
	m.oB = m.oWh + 4*h*h
	m.oWy = m.oB + 4*h
	m.oBy = m.oWy + h
	n := m.oBy + 1

	m.w = make([]float64, n)
	k := 1 / math.Sqrt(float64(h))
	for i := range m.w {
		m.w[i] = (m.rng.Float64()*2 - 1) * k
	}
	for j := 0; j < h; j++ {
		m.w[m.oB+h+j] = 1 // forget gate starts open
	}
	m.opt = newAdam(n, cfg.LearningRate)
	return m
}

// Train implements Model
func (m *LSTM) Train(ctx context.Context, set window.Set, opts TrainOptions, onEpochEnd EpochFunc) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := checkSet(set); err != nil {
		return err
	}

	n := set.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	grad := make([]float64, len(m.w))
	tr := newTrace(maxLen(set.Windows), m.h)

	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		var loss float64
		for start := 0; start < n; start += opts.BatchSize {
			end := min(start+opts.BatchSize, n)
			clear(grad)
			scale := 2 / float64(end-start)
			for _, idx := range order[start:end] {
				x := set.Windows[idx]
				diff := m.forward(x, tr) - set.Targets[idx]
				loss += diff * diff
				m.backward(x, tr, scale*diff, grad)
			}
			m.clip(grad)
			m.opt.step(m.w, grad)
		}
		m.trained = true

		m.logger.Debug().
			Int("epoch", epoch+1).
			Int("epochs", opts.Epochs).
			Float64("loss", loss/float64(n)).
			Msg("epoch complete")

		if onEpochEnd != nil {
			onEpochEnd(epoch)
		}
	}
	return nil
}

// Predict implements Model
func (m *LSTM) Predict(windows []window.Window) ([]float64, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	for _, w := range windows {
		if len(w) == 0 {
			return nil, ErrShapeMismatch
		}
	}

	tr := newTrace(maxLen(windows), m.h)
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = m.forward(w, tr)
	}
	return out, nil
}

// Loss returns the mean squared error over set
func (m *LSTM) Loss(set window.Set) (float64, error) {
	if err := checkSet(set); err != nil {
		return 0, err
	}
	tr := newTrace(maxLen(set.Windows), m.h)
	var sum float64
	for i, w := range set.Windows {
		d := m.forward(w, tr) - set.Targets[i]
		sum += d * d
	}
	return sum / float64(set.Len()), nil
}

// trace holds per-step activations of one forward pass plus backward scratch
type trace struct {
	gates [][]float64 // T x 4H, activated i, f, g, o
	c     [][]float64 // T+1 x H
	h     [][]float64 // T+1 x H
	tc    [][]float64 // T x H, tanh(c[t+1])

	dh, dhPrev, dc, dz []float64
}

func newTrace(steps, h int) *trace {
	tr := &trace{
		gates:  make([][]float64, steps),
		c:      make([][]float64, steps+1),
		h:      make([][]float64, steps+1),
		tc:     make([][]float64, steps),
		dh:     make([]float64, h),
		dhPrev: make([]float64, h),
		dc:     make([]float64, h),
		dz:     make([]float64, 4*h),
	}
	for t := 0; t < steps; t++ {
		tr.gates[t] = make([]float64, 4*h)
		tr.tc[t] = make([]float64, h)
	}
	for t := 0; t <= steps; t++ {
		tr.c[t] = make([]float64, h)
		tr.h[t] = make([]float64, h)
	}
	return tr
}

func (m *LSTM) forward(x []float64, tr *trace) float64 {
	H := m.h
	w := m.w
	clear(tr.h[0])
	clear(tr.c[0])

	for t, xt := range x {
		z := tr.gates[t]
		hp := tr.h[t]
		for k := 0; k < 4*H; k++ {
			s := w[m.oWx+k]*xt + w[m.oB+k]
			row := w[m.oWh+k*H : m.oWh+(k+1)*H]
			for j, hv := range hp {
				s += row[j] * hv
			}
			z[k] = s
		}
		for j := 0; j < H; j++ {
			i := sigmoid(z[j])
			f := sigmoid(z[H+j])
			g := math.Tanh(z[2*H+j])
			o := sigmoid(z[3*H+j])
			z[j], z[H+j], z[2*H+j], z[3*H+j] = i, f, g, o

			c := f*tr.c[t][j] + i*g
			tc := math.Tanh(c)
			tr.c[t+1][j] = c
			tr.tc[t][j] = tc
			tr.h[t+1][j] = o * tc
		}
	}

	y := w[m.oBy]
	for j, hv := range tr.h[len(x)] {
		y += w[m.oWy+j] * hv
	}
	return y
}

// backward accumulates into grad the gradient of the loss for one sequence,
// given dy = dLoss/dOutput and the trace left by forward.
func (m *LSTM) backward(x []float64, tr *trace, dy float64, grad []float64) {
	H := m.h
	w := m.w
	T := len(x)

	dh, dhPrev, dc, dz := tr.dh, tr.dhPrev, tr.dc, tr.dz
	for j, hv := range tr.h[T] {
		grad[m.oWy+j] += dy * hv
		dh[j] = dy * w[m.oWy+j]
		dc[j] = 0
	}
	grad[m.oBy] += dy

	for t := T - 1; t >= 0; t-- {
		gt := tr.gates[t]
		for j := 0; j < H; j++ {
			i, f, g, o := gt[j], gt[H+j], gt[2*H+j], gt[3*H+j]
			tc := tr.tc[t][j]
			dcj := dc[j] + dh[j]*o*(1-tc*tc)

			dz[j] = dcj * g * i * (1 - i)
			dz[H+j] = dcj * tr.c[t][j] * f * (1 - f)
			dz[2*H+j] = dcj * i * (1 - g*g)
			dz[3*H+j] = dh[j] * tc * o * (1 - o)
			dc[j] = dcj * f
		}

		hp := tr.h[t]
		clear(dhPrev)
		for k := 0; k < 4*H; k++ {
			d := dz[k]
			if d == 0 {
				continue
			}
			grad[m.oWx+k] += d * x[t]
			grad[m.oB+k] += d
			row := w[m.oWh+k*H : m.oWh+(k+1)*H]
			grow := grad[m.oWh+k*H : m.oWh+(k+1)*H]
			for j := 0; j < H; j++ {
				grow[j] += d * hp[j]
				dhPrev[j] += row[j] * d
			}
		}
		dh, dhPrev = dhPrev, dh
	}
}

func (m *LSTM) clip(grad []float64) {
	if m.cfg.ClipNorm <= 0 {
		return
	}
	var sq float64
	for _, g := range grad {
		sq += g * g
	}
	norm := math.Sqrt(sq)
	if norm <= m.cfg.ClipNorm {
		return
	}
	f := m.cfg.ClipNorm / norm
	for i := range grad {
		grad[i] *= f
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func maxLen(windows []window.Window) int {
	n := 0
	for _, w := range windows {
		n = max(n, len(w))
	}
	return n
}

// adam is the Adam optimizer with the usual defaults
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(n int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

func (a *adam) step(w, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		w[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}
