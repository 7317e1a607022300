package forecast

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// logistic maps an unconstrained search coordinate into (0, 1)
func logistic(u float64) float64 {
	return 1.0 / (1.0 + math.Exp(-u))
}

// logit is the inverse of logistic with the input kept away from the open interval edges
func logit(p float64) float64 {
	const eps = 1e-6
	p = math.Min(math.Max(p, eps), 1-eps)
	return math.Log(p / (1 - p))
}

// contextConverger stops the search when the context is done and otherwise defers to the
// wrapped converger
type contextConverger struct {
	ctx   context.Context
	inner optimize.Converger
}

func (c *contextConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *contextConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.ctx.Err() != nil {
		return optimize.RuntimeLimit
	}
	return c.inner.Converged(loc)
}

// fitResult holds the optimizer outcome in parameter space
type fitResult struct {
	params      Parameters
	sse         float64
	status      optimize.Status
	evaluations int
	iterations  int
}

// fitParameters searches alpha, beta and gamma in [0, 1] minimizing the sum of squared one step
// ahead errors. The search is Nelder-Mead over logistic coordinates started from a fixed point so
// identical inputs always produce identical parameters.
func fitParameters(ctx context.Context, y []float64, init state, start int, base Parameters, opt *Options) (fitResult, error) {
	start0 := opt.initialParameters()
	x0 := []float64{logit(start0.Alpha), logit(start0.Beta)}
	if base.seasonal() {
		x0 = append(x0, logit(start0.Gamma))
	}

	decode := func(x []float64) Parameters {
		p := base
		p.Alpha = logistic(x[0])
		p.Beta = logistic(x[1])
		p.Gamma = 0
		if base.seasonal() {
			p.Gamma = logistic(x[2])
		}
		return p
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			fitted, _ := smooth(y, init, start, decode(x))
			f := sse(y, fitted)
			if math.IsNaN(f) {
				return math.Inf(1)
			}
			return f
		},
	}

	runtime := opt.MaxRuntime
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < runtime {
			runtime = max(remaining, time.Millisecond)
		}
	}

	settings := &optimize.Settings{
		MajorIterations: opt.MaxIterations,
		FuncEvaluations: opt.MaxEvaluations,
		Runtime:         runtime,
		Concurrent:      1,
		Converger: &contextConverger{
			ctx: ctx,
			inner: &optimize.FunctionConverge{
				Absolute:   opt.Tolerance,
				Relative:   opt.Tolerance,
				Iterations: DefaultStallIterations,
			},
		},
	}
	method := &optimize.NelderMead{SimplexSize: 1.0}

	res, err := optimize.Minimize(problem, x0, settings, method)
	if res == nil {
		return fitResult{params: decode(x0)}, err
	}

	out := fitResult{
		params:      decode(res.X),
		sse:         res.F,
		status:      res.Status,
		evaluations: res.Stats.FuncEvaluations,
		iterations:  res.Stats.MajorIterations,
	}
	return out, err
}

// budgetExceeded reports whether the search stopped on a limit rather than converging
func budgetExceeded(status optimize.Status) bool {
	switch status {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit:
		return true
	}
	return false
}
