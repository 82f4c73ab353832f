package budget

import (
	"github.com/cdipaolo/goml/base"
	"github.com/cdipaolo/goml/linear"
)

// MeasuredBaseline is the immutable snapshot of observed runtime
// performance used to resolve a budget profile into concrete numbers.
type MeasuredBaseline struct {
	ObservedP50Ms            float64
	ObservedP95Ms            float64
	ObservedTokensPerSecond  float64
	ObservedDrainPer10Min    float64
	SamplesContributing      int
	ResolvedAtUnixNano       int64
}

// Fitter smooths the measured baseline's p95 latency over a least-squares
// trend line fitted against the warm-up samples, rather than taking the
// raw p95 of what may be a small, noisy sample set. It is a one-shot fit:
// Fit is called exactly once, at the warm-up boundary, since the measured
// baseline is an immutable snapshot, not a continuously-updated online
// model.
type Fitter struct {
	fitted bool
	model  *linear.LeastSquares
}

// NewFitter returns an unfitted baseline fitter.
func NewFitter() *Fitter {
	return &Fitter{}
}

// Fit trains a least-squares line over (sampleIndex, latencyMs) pairs and
// returns the fitted value at the final sample index as the smoothed
// observedP95Ms. If fitting fails (e.g. too few samples), the raw p95 is
// returned unchanged rather than propagating a training error; a smoothing
// pass that fails is not a reason to block baseline resolution.
func (f *Fitter) Fit(latencyMs []float64, rawP95 float64) float64 {
	if len(latencyMs) < 3 {
		return rawP95
	}

	x := make([][]float64, len(latencyMs))
	y := make([]float64, len(latencyMs))
	for i, v := range latencyMs {
		x[i] = []float64{float64(i)}
		y[i] = v
	}

	model := linear.NewLeastSquares(base.BatchGA, 0.0001, 0, 500, x, y)
	if err := model.Learn(); err != nil {
		return rawP95
	}
	f.model = model
	f.fitted = true

	predicted, err := model.Predict([]float64{float64(len(latencyMs) - 1)})
	if err != nil || len(predicted) == 0 {
		return rawP95
	}
	if predicted[0] <= 0 {
		return rawP95
	}
	return predicted[0]
}

// Fitted reports whether Fit has successfully trained a model.
func (f *Fitter) Fitted() bool { return f.fitted }
