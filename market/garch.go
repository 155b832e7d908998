package market

import (
	"errors"
	"math"
	"sort"
)

// GARCH(1,1) with normal innovations, fit by maximum likelihood over
// (omega, alpha, beta) with a Nelder-Mead simplex. The estimator returns an
// explicit result or an error; it never falls back silently. The volatility
// model decides what to do when the fit fails.

var (
	// ErrGarchInsufficientData is returned when the return series is too
	// short for a stable fit.
	ErrGarchInsufficientData = errors.New("garch: insufficient observations")
	// ErrGarchNoConverge is returned when the simplex does not converge
	// within the iteration budget.
	ErrGarchNoConverge = errors.New("garch: optimizer did not converge")
	// ErrGarchDegenerate is returned for zero-variance or non-finite input.
	ErrGarchDegenerate = errors.New("garch: degenerate return series")
)

const (
	garchMinObs   = 50
	garchMaxIter  = 600
	garchTol      = 1e-8
	garchMaxPers  = 0.999 // alpha+beta stationarity bound
	garchPenalty  = 1e12
	annualization = 252.0
)

// GarchResult holds the fitted parameters and the one-step-ahead forecast.
// AnnualVol is in the same unit as the input returns (percent in, percent out).
type GarchResult struct {
	Omega      float64
	Alpha      float64
	Beta       float64
	AnnualVol  float64 // sqrt(one-step variance forecast) * sqrt(252)
	LogLik     float64
	Iterations int
}

// FitGarch fits GARCH(1,1) to a percent-scaled log-return series and
// forecasts the next-step conditional variance.
func FitGarch(returnsPct []float64) (GarchResult, error) {
	if len(returnsPct) < garchMinObs {
		return GarchResult{}, ErrGarchInsufficientData
	}

	mean := 0.0
	for _, r := range returnsPct {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return GarchResult{}, ErrGarchDegenerate
		}
		mean += r
	}
	mean /= float64(len(returnsPct))

	eps := make([]float64, len(returnsPct))
	variance := 0.0
	for i, r := range returnsPct {
		eps[i] = r - mean
		variance += eps[i] * eps[i]
	}
	variance /= float64(len(eps))
	if variance <= 0 {
		return GarchResult{}, ErrGarchDegenerate
	}

	nll := func(p [3]float64) float64 {
		omega, alpha, beta := p[0], p[1], p[2]
		if omega <= 0 || alpha < 0 || beta < 0 || alpha+beta >= garchMaxPers {
			return garchPenalty
		}
		sigma2 := variance
		ll := 0.0
		for _, e := range eps {
			if sigma2 <= 0 {
				return garchPenalty
			}
			ll += math.Log(sigma2) + e*e/sigma2
			sigma2 = omega + alpha*e*e + beta*sigma2
		}
		return 0.5 * (float64(len(eps))*math.Log(2*math.Pi) + ll)
	}

	start := [3]float64{0.05 * variance, 0.05, 0.90}
	best, iters, ok := nelderMead(nll, start)
	if !ok {
		return GarchResult{}, ErrGarchNoConverge
	}

	omega, alpha, beta := best[0], best[1], best[2]
	// Re-run the recursion once to obtain the next-step forecast.
	sigma2 := variance
	for _, e := range eps {
		sigma2 = omega + alpha*e*e + beta*sigma2
	}
	if sigma2 <= 0 || math.IsNaN(sigma2) {
		return GarchResult{}, ErrGarchDegenerate
	}

	return GarchResult{
		Omega:      omega,
		Alpha:      alpha,
		Beta:       beta,
		AnnualVol:  math.Sqrt(sigma2) * math.Sqrt(annualization),
		LogLik:     -nll(best),
		Iterations: iters,
	}, nil
}

// nelderMead minimizes f over three parameters. Returns the best vertex, the
// iteration count and whether the simplex converged within the budget.
func nelderMead(f func([3]float64) float64, start [3]float64) ([3]float64, int, bool) {
	const (
		reflect  = 1.0
		expand   = 2.0
		contract = 0.5
		shrink   = 0.5
	)

	type vertex struct {
		p [3]float64
		v float64
	}

	simplex := make([]vertex, 4)
	simplex[0] = vertex{start, f(start)}
	for i := 0; i < 3; i++ {
		p := start
		if p[i] != 0 {
			p[i] *= 1.10
		} else {
			p[i] = 0.001
		}
		simplex[i+1] = vertex{p, f(p)}
	}

	for iter := 1; iter <= garchMaxIter; iter++ {
		sort.Slice(simplex, func(a, b int) bool { return simplex[a].v < simplex[b].v })

		if math.Abs(simplex[3].v-simplex[0].v) < garchTol*(math.Abs(simplex[0].v)+garchTol) {
			return simplex[0].p, iter, true
		}

		var centroid [3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				centroid[j] += simplex[i].p[j] / 3.0
			}
		}

		worst := simplex[3]
		var refl [3]float64
		for j := 0; j < 3; j++ {
			refl[j] = centroid[j] + reflect*(centroid[j]-worst.p[j])
		}
		fr := f(refl)

		switch {
		case fr < simplex[0].v:
			var exp [3]float64
			for j := 0; j < 3; j++ {
				exp[j] = centroid[j] + expand*(refl[j]-centroid[j])
			}
			if fe := f(exp); fe < fr {
				simplex[3] = vertex{exp, fe}
			} else {
				simplex[3] = vertex{refl, fr}
			}
		case fr < simplex[2].v:
			simplex[3] = vertex{refl, fr}
		default:
			var con [3]float64
			for j := 0; j < 3; j++ {
				con[j] = centroid[j] + contract*(worst.p[j]-centroid[j])
			}
			if fc := f(con); fc < worst.v {
				simplex[3] = vertex{con, fc}
			} else {
				for i := 1; i < 4; i++ {
					for j := 0; j < 3; j++ {
						simplex[i].p[j] = simplex[0].p[j] + shrink*(simplex[i].p[j]-simplex[0].p[j])
					}
					simplex[i].v = f(simplex[i].p)
				}
			}
		}
	}
	return simplex[0].p, garchMaxIter, false
}
