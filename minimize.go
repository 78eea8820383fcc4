package binfit

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MinimizeFunc supplies value, gradient, and a Hessian-vector-product
// callback at a point x, matching the Newton-Krylov contract of
// SPEC_FULL.md §4.3.
type MinimizeFunc struct {
	Value func(x []float64) float64
	Grad  func(x []float64) []float64
	HessVec func(x []float64, v []float64) []float64
}

// MinimizeSettings controls the trust-region Newton-CG loop.
type MinimizeSettings struct {
	MaxIters      int
	GradTol       float64
	InitialRadius float64
	MaxRadius     float64
}

// DefaultMinimizeSettings returns conservative defaults suitable for the
// modest parameter counts this module targets.
func DefaultMinimizeSettings() MinimizeSettings {
	return MinimizeSettings{
		MaxIters:      200,
		GradTol:       1e-8,
		InitialRadius: 1.0,
		MaxRadius:     1e6,
	}
}

// MinimizeResult is the outcome of a trust-region Newton-CG run.
type MinimizeResult struct {
	X         []float64
	Value     float64
	Grad      []float64
	Iters     int
	Converged bool
}

// Minimize runs a Steihaug-Toint truncated-CG trust-region Newton solve,
// the hand-written Krylov trust-region loop grounded on the original
// source's scipy.optimize.minimize(method="trust-krylov", ...) call (see
// DESIGN.md). It never forms the Hessian itself; it only calls fn.HessVec.
func Minimize(fn MinimizeFunc, x0 []float64, settings MinimizeSettings) (*MinimizeResult, error) {
	const op = "Minimize"
	n := len(x0)
	x := append([]float64(nil), x0...)
	radius := settings.InitialRadius
	if radius <= 0 {
		radius = 1.0
	}

	g := fn.Grad(x)
	f := fn.Value(x)

	iters := 0
	for iters = 0; iters < settings.MaxIters; iters++ {
		gnorm := floats.Norm(g, 2)
		if gnorm < settings.GradTol {
			return &MinimizeResult{X: x, Value: f, Grad: g, Iters: iters, Converged: true}, nil
		}

		p := steihaugCG(func(v []float64) []float64 { return fn.HessVec(x, v) }, g, radius, n)

		xTrial := make([]float64, n)
		for i := range xTrial {
			xTrial[i] = x[i] + p[i]
		}
		fTrial := fn.Value(xTrial)

		hp := fn.HessVec(x, p)
		predictedReduction := -(floats.Dot(g, p) + 0.5*floats.Dot(p, hp))
		actualReduction := f - fTrial

		var rho float64
		if predictedReduction > 0 {
			rho = actualReduction / predictedReduction
		} else {
			rho = -1
		}

		pnorm := floats.Norm(p, 2)
		switch {
		case rho < 0.25:
			radius = 0.25 * pnorm
		case rho > 0.75 && pnorm >= 0.99*radius:
			radius = math.Min(2*radius, settings.MaxRadius)
		}

		if rho > 1e-4 {
			x = xTrial
			f = fTrial
			g = fn.Grad(x)
		}
	}

	gnorm := floats.Norm(g, 2)
	return &MinimizeResult{X: x, Value: f, Grad: g, Iters: iters, Converged: gnorm < settings.GradTol}, nil
}

// steihaugCG solves the trust-region subproblem
// min_p  g^T p + 1/2 p^T H p   s.t. ||p|| <= radius
// via truncated conjugate gradient, terminating early on negative
// curvature or when the trust-region boundary is hit.
func steihaugCG(hessVec func([]float64) []float64, g []float64, radius float64, n int) []float64 {
	p := make([]float64, n)
	r := append([]float64(nil), g...)
	d := make([]float64, n)
	for i := range d {
		d[i] = -r[i]
	}
	rr := floats.Dot(r, r)
	if math.Sqrt(rr) < 1e-12 {
		return p
	}

	for iter := 0; iter < 2*n+5; iter++ {
		Hd := hessVec(d)
		dHd := floats.Dot(d, Hd)

		if dHd <= 0 {
			tau := boundaryTau(p, d, radius)
			return axpy(p, tau, d)
		}

		alpha := rr / dHd
		pNext := axpy(p, alpha, d)
		if floats.Norm(pNext, 2) >= radius {
			tau := boundaryTau(p, d, radius)
			return axpy(p, tau, d)
		}
		p = pNext

		rNext := axpy(r, alpha, Hd)
		rrNext := floats.Dot(rNext, rNext)
		if math.Sqrt(rrNext) < 1e-10 {
			return p
		}
		beta := rrNext / rr
		for i := range d {
			d[i] = -rNext[i] + beta*d[i]
		}
		r = rNext
		rr = rrNext
	}
	return p
}

// boundaryTau returns the positive root tau solving ||p+tau*d|| = radius.
func boundaryTau(p, d []float64, radius float64) float64 {
	dd := floats.Dot(d, d)
	pd := floats.Dot(p, d)
	pp := floats.Dot(p, p)
	if dd == 0 {
		return 0
	}
	a := dd
	b := 2 * pd
	c := pp - radius*radius
	disc := b*b - 4*a*c
	if disc < 0 {
		disc = 0
	}
	sq := math.Sqrt(disc)
	tau := (-b + sq) / (2 * a)
	return tau
}

func axpy(x []float64, a float64, y []float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = x[i] + a*y[i]
	}
	return out
}

// EDM returns the expected distance to minimum, 1/2 g^T H^-1 g, via a
// Cholesky factorization of H. Returns a *Error{Kind: NotPositiveDefinite}
// if the factorization fails.
func EDM(H *mat.SymDense, g []float64) (float64, error) {
	const op = "EDM"
	var chol mat.Cholesky
	if ok := chol.Factorize(H); !ok {
		return 0, newErr(op, NotPositiveDefinite, "Hessian is not positive definite")
	}
	var hinvg mat.VecDense
	if err := chol.SolveVecTo(&hinvg, mat.NewVecDense(len(g), g)); err != nil {
		return 0, newErr(op, NotPositiveDefinite, "%v", err)
	}
	return 0.5 * floats.Dot(g, hinvg.RawVector().Data), nil
}

// Covariance returns Sigma = H^-1 via Cholesky. Returns a
// *Error{Kind: NotPositiveDefinite} if H is not positive definite.
func Covariance(H *mat.SymDense) (*mat.SymDense, error) {
	const op = "Covariance"
	var chol mat.Cholesky
	if ok := chol.Factorize(H); !ok {
		return nil, newErr(op, NotPositiveDefinite, "Hessian is not positive definite")
	}
	var sigma mat.SymDense
	if err := chol.InverseTo(&sigma); err != nil {
		return nil, newErr(op, NotPositiveDefinite, "%v", err)
	}
	return &sigma, nil
}
