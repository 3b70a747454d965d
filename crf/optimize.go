package crf

import (
	"context"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Iteration reports the state of the optimizer after one accepted step.
type Iteration struct {
	Number      int
	Value       float64 // objective value (maximized), without the L1 term
	MaxGradient float64 // largest pseudo-gradient component
	Parameters  []float64
}

// OptimizeResult summarizes an optimizer run.
type OptimizeResult struct {
	Iterations int
	Value      float64
	Converged  bool
}

// owlqn maximizes an Optimizable with OWL-QN: L-BFGS directions over the
// negated objective plus c1·‖w‖₁, kept within the orthant of the
// pseudo-gradient.
type owlqn struct {
	obj    Optimizable
	config TrainerConfig
	n      int
}

// Maximize runs OWL-QN on obj starting from its current parameters.
// onIteration, if non-nil, is called after every accepted step; an error
// from it stops the run.
func Maximize(ctx context.Context, obj Optimizable, config TrainerConfig, onIteration func(Iteration) error) (*OptimizeResult, error) {
	o := &owlqn{obj: obj, config: config, n: obj.NumParameters()}
	return o.run(ctx, onIteration)
}

// eval sets w and returns the minimized objective -value + c1·‖w‖₁ and,
// if grad is non-nil, the gradient of -value.
func (o *owlqn) eval(w, grad []float64) (float64, float64, error) {
	o.obj.SetParameters(w)
	v, err := o.obj.Value()
	if err != nil {
		return 0, 0, err
	}
	if grad != nil {
		if err := o.obj.ValueGradient(grad); err != nil {
			return 0, 0, err
		}
		floats.Scale(-1, grad)
	}
	f := -v
	if o.config.C1 > 0 {
		f += o.config.C1 * floats.Norm(w, 1)
	}
	return f, v, nil
}

func (o *owlqn) pseudoGradient(w, grad, pg []float64) {
	c1 := o.config.C1
	for i := range o.n {
		switch {
		case w[i] > 0:
			pg[i] = grad[i] + c1
		case w[i] < 0:
			pg[i] = grad[i] - c1
		default:
			switch {
			case grad[i]+c1 < 0:
				pg[i] = grad[i] + c1
			case grad[i]-c1 > 0:
				pg[i] = grad[i] - c1
			default:
				pg[i] = 0
			}
		}
	}
}

func (o *owlqn) run(ctx context.Context, onIteration func(Iteration) error) (*OptimizeResult, error) {
	n := o.n
	w := make([]float64, n)
	o.obj.Parameters(w)

	grad := make([]float64, n)
	f, value, err := o.eval(w, grad)
	if err != nil {
		return nil, err
	}
	pg := make([]float64, n)
	o.pseudoGradient(w, grad, pg)

	memory := o.config.HistorySize
	if memory <= 0 {
		memory = 10
	}
	hist := newHistory(memory)
	res := &OptimizeResult{Value: value}

	prevW := make([]float64, n)
	newGrad := make([]float64, n)
	newPG := make([]float64, n)
	s := make([]float64, n)
	y := make([]float64, n)
	dir := make([]float64, n)

	for iter := range o.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		hist.direction(pg, dir)
		// stay in the orthant of the pseudo-gradient
		for i := range n {
			if dir[i]*pg[i] > 0 {
				dir[i] = 0
			}
		}

		copy(prevW, w)
		step, fNew, vNew, err := o.lineSearch(prevW, dir, f, pg, w)
		if err != nil {
			return res, err
		}
		if step == 0 {
			slog.Warn("Line search failed, stopping", "iteration", iter+1)
			o.obj.SetParameters(prevW)
			copy(w, prevW)
			break
		}

		if err := o.obj.ValueGradient(newGrad); err != nil {
			return res, err
		}
		floats.Scale(-1, newGrad)
		o.pseudoGradient(w, newGrad, newPG)

		floats.SubTo(s, w, prevW)
		floats.SubTo(y, newPG, pg)
		hist.push(s, y)

		delta := math.Abs(f-fNew) / math.Max(math.Max(math.Abs(f), math.Abs(fNew)), 1)
		f, value = fNew, vNew
		copy(pg, newPG)

		maxGrad := floats.Norm(newPG, math.Inf(1))
		res.Iterations = iter + 1
		res.Value = value
		slog.Debug("Training iteration", "iteration", iter+1, "value", value, "objective", f, "max_gradient", maxGrad, "step", step)
		if o.config.Verbose && (iter+1)%10 == 0 {
			slog.Info("Training progress", "iteration", iter+1, "value", value, "max_gradient", maxGrad)
		}

		if onIteration != nil {
			if err := onIteration(Iteration{Number: iter + 1, Value: value, MaxGradient: maxGrad, Parameters: w}); err != nil {
				return res, err
			}
		}
		if maxGrad < o.config.Epsilon || (o.config.Delta > 0 && delta < o.config.Delta) {
			slog.Debug("Converged", "iteration", iter+1, "max_gradient", maxGrad, "delta", delta)
			res.Converged = true
			break
		}
	}
	return res, nil
}

// lineSearch performs a backtracking Armijo search along dir from w,
// projecting each trial point onto the orthant of w. The accepted point is
// written to wOut and left set on the objective. It returns a zero step when
// no trial point decreases the objective.
func (o *owlqn) lineSearch(w, dir []float64, fVal float64, pg, wOut []float64) (float64, float64, float64, error) {
	dirDeriv := floats.Dot(dir, pg)
	if dirDeriv >= 0 {
		return 0, 0, 0, nil
	}

	maxTrials := o.config.MaxLineSearch
	if maxTrials <= 0 {
		maxTrials = 20
	}
	step := 1.0
	c := 1e-4 // Armijo constant
	for range maxTrials {
		for i := range o.n {
			wOut[i] = w[i] + step*dir[i]
			if o.config.C1 > 0 && wOut[i]*w[i] < 0 {
				wOut[i] = 0
			}
		}
		fNew, vNew, err := o.eval(wOut, nil)
		if err != nil {
			return 0, 0, 0, err
		}
		if fNew <= fVal+c*step*dirDeriv {
			return step, fNew, vNew, nil
		}
		step *= 0.5
	}
	return 0, 0, 0, nil
}

// correction is one (s, y) pair of the quasi-Newton memory, ρ = 1/(sᵀy).
type correction struct {
	s, y []float64
	rho  float64
}

// history holds the most recent corrections, oldest first.
type history struct {
	limit int
	pairs []correction
}

func newHistory(limit int) *history {
	return &history{limit: limit, pairs: make([]correction, 0, limit)}
}

// push records s = w' - w and y = g' - g. Pairs without positive curvature
// are dropped.
func (h *history) push(s, y []float64) {
	sy := floats.Dot(s, y)
	if sy <= 0 {
		return
	}
	var c correction
	if len(h.pairs) == h.limit {
		// evict the oldest pair and reuse its buffers
		c = h.pairs[0]
		h.pairs = append(h.pairs[:0], h.pairs[1:]...)
	} else {
		c = correction{s: make([]float64, len(s)), y: make([]float64, len(y))}
	}
	copy(c.s, s)
	copy(c.y, y)
	c.rho = 1 / sy
	h.pairs = append(h.pairs, c)
}

// direction writes the descent direction -H·pg into dir, where H is the
// two-loop approximation of the inverse Hessian. With an empty history it
// is plain steepest descent.
func (h *history) direction(pg, dir []float64) {
	copy(dir, pg)
	alpha := make([]float64, len(h.pairs))
	for i := len(h.pairs) - 1; i >= 0; i-- {
		c := &h.pairs[i]
		alpha[i] = c.rho * floats.Dot(c.s, dir)
		floats.AddScaled(dir, -alpha[i], c.y)
	}
	if len(h.pairs) > 0 {
		// H0 = sᵀy / yᵀy of the newest pair
		last := &h.pairs[len(h.pairs)-1]
		if yy := floats.Dot(last.y, last.y); yy > 0 {
			floats.Scale(1/(last.rho*yy), dir)
		}
	}
	for i := range h.pairs {
		c := &h.pairs[i]
		beta := c.rho * floats.Dot(c.y, dir)
		floats.AddScaled(dir, alpha[i]-beta, c.s)
	}
	floats.Scale(-1, dir)
}
