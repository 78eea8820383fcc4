package binfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// FitResult bundles the converged point together with every post-fit
// quantity CS/IMP derive from it (SPEC_FULL.md §4.3-§4.5). Sensitivities
// and Impacts are always populated on success; global impacts are not part
// of FitResult and are derived separately by ComputeFitResultGlobalImpacts.
type FitResult struct {
	X      []float64
	Theta0 []float64
	Nobs   []float64
	Beta0  []float64

	NLL       float64
	Grad      []float64
	Hessian   *mat.SymDense
	Sigma     *mat.SymDense
	EDM       float64
	Converged bool
	Iters     int

	Sensitivities *Sensitivities
	Impacts       *Impacts
}

// Fit runs IM->EE->LE->MD to convergence from the model's default starting
// point, then CS->IMP to derive the post-fit covariance and impacts. theta0
// is the nuisance prior-central vector (typically all zero); nobs/beta0 are
// the observed data and BBB auxiliary observations to condition on.
func Fit(m *Model, theta0, nobs, beta0 []float64, settings MinimizeSettings) (*FitResult, error) {
	const op = "Fit"
	if len(theta0) != m.NSyst {
		return nil, newErr(op, InvalidData, "len(theta0)=%d != nsyst=%d", len(theta0), m.NSyst)
	}
	opts := YieldOptions{Profile: true}

	x0 := defaultStart(m)
	fn := MinimizeFunc{
		Value: func(x []float64) float64 {
			v, _ := Value(m, x, theta0, nobs, beta0, opts)
			return v
		},
		Grad: func(x []float64) []float64 {
			g, _ := Gradient(m, x, theta0, nobs, beta0, opts)
			return g
		},
		// The D2 engine produces the full Hessian in one pass regardless
		// of whether a caller wants the whole matrix or just one
		// matrix-vector product, so there is no cheaper genuinely
		// matrix-free HVP available here; HessVec recomputes the
		// Hessian at x and contracts it against v (see HessianVec in
		// likelihood.go).
		HessVec: func(x, v []float64) []float64 {
			H, _ := Hessian(m, x, theta0, nobs, beta0, opts)
			return HessianVec(H, v)
		},
	}

	res, err := Minimize(fn, x0, settings)
	if err != nil {
		return nil, err
	}

	nll, grad, H, err := ValueGradHessian(m, res.X, theta0, nobs, beta0, opts)
	if err != nil {
		return nil, err
	}
	sigma, err := Covariance(H)
	if err != nil {
		return nil, err
	}
	edm, err := EDM(H, grad)
	if err != nil {
		return nil, err
	}

	dTheta0 := DThetaZero(m)
	dNobs, err := DNobs(m, res.X, nobs, beta0, opts)
	if err != nil {
		return nil, err
	}
	dBeta0, err := DBetaZero(m, res.X, nobs, beta0, opts)
	if err != nil {
		return nil, err
	}
	sens := ComputeSensitivities(sigma, dTheta0, dNobs, dBeta0)

	impacts, err := ComputeImpacts(m, res.X, theta0, nobs, beta0, sigma, H)
	if err != nil {
		return nil, err
	}

	return &FitResult{
		X:             res.X,
		Theta0:        theta0,
		Nobs:          nobs,
		Beta0:         beta0,
		NLL:           nll,
		Grad:          grad,
		Hessian:       H,
		Sigma:         sigma,
		EDM:           edm,
		Converged:     res.Converged,
		Iters:         res.Iters,
		Sensitivities: sens,
		Impacts:       impacts,
	}, nil
}

// ComputeFitResultGlobalImpacts derives the linear-response global impacts
// from an already-converged FitResult's sensitivity matrices.
func ComputeFitResultGlobalImpacts(m *Model, fr *FitResult) (*GlobalImpacts, error) {
	return ComputeGlobalImpacts(m, fr.Sensitivities)
}

// defaultStart builds x0: POI block at Config.POIDefault (via its square
// root when POIs are non-negative-via-squaring, so mu starts at
// POIDefault), nuisance block at zero.
func defaultStart(m *Model) []float64 {
	x := make([]float64, m.NParms)
	for i := 0; i < m.NPOI; i++ {
		if m.Config.AllowNegativePOI {
			x[i] = m.Config.POIDefault
		} else {
			x[i] = math.Sqrt(math.Max(m.Config.POIDefault, 0))
		}
	}
	return x
}

// NLLScan1D evaluates the profiled NLL at a fixed value of parameter
// paramIdx for each point, minimizing over every other parameter at each
// step (SPEC_FULL.md §4.8, grounded on original_source/workspace.py's
// add_nll_scan_hist). The scan starts from start each time rather than
// warm-starting from the previous point, trading speed for independence
// between points.
func NLLScan1D(m *Model, start, theta0, nobs, beta0 []float64, paramIdx int, points []float64, settings MinimizeSettings) ([]float64, error) {
	const op = "NLLScan1D"
	if paramIdx < 0 || paramIdx >= m.NParms {
		return nil, newErr(op, InvalidData, "paramIdx=%d out of range [0,%d)", paramIdx, m.NParms)
	}
	out := make([]float64, len(points))
	for i, v := range points {
		nll, _, err := fixedParamMinimum(m, start, theta0, nobs, beta0, []int{paramIdx}, []float64{v}, settings)
		if err != nil {
			return nil, err
		}
		out[i] = nll
	}
	return out, nil
}

// NLLScan2D is NLLScan1D over a 2D grid of two fixed parameters.
func NLLScan2D(m *Model, start, theta0, nobs, beta0 []float64, i, j int, pointsI, pointsJ []float64, settings MinimizeSettings) (*mat.Dense, error) {
	const op = "NLLScan2D"
	if i < 0 || i >= m.NParms || j < 0 || j >= m.NParms || i == j {
		return nil, newErr(op, InvalidData, "invalid parameter pair (%d,%d) for NParms=%d", i, j, m.NParms)
	}
	out := mat.NewDense(len(pointsI), len(pointsJ), nil)
	for a, vi := range pointsI {
		for b, vj := range pointsJ {
			nll, _, err := fixedParamMinimum(m, start, theta0, nobs, beta0, []int{i, j}, []float64{vi, vj}, settings)
			if err != nil {
				return nil, err
			}
			out.Set(a, b, nll)
		}
	}
	return out, nil
}

// fixedParamMinimum profiles out every parameter except those in fixedIdx,
// which are pinned to fixedVal, by minimizing over the free coordinates of
// a reparameterized objective and mapping the result back.
func fixedParamMinimum(m *Model, start, theta0, nobs, beta0 []float64, fixedIdx []int, fixedVal []float64, settings MinimizeSettings) (float64, []float64, error) {
	opts := YieldOptions{Profile: true}
	isFixed := make(map[int]float64, len(fixedIdx))
	for k, idx := range fixedIdx {
		isFixed[idx] = fixedVal[k]
	}
	free := make([]int, 0, m.NParms-len(fixedIdx))
	for i := 0; i < m.NParms; i++ {
		if _, ok := isFixed[i]; !ok {
			free = append(free, i)
		}
	}

	expand := func(xFree []float64) []float64 {
		full := append([]float64(nil), start...)
		for k, idx := range free {
			full[idx] = xFree[k]
		}
		for idx, v := range isFixed {
			full[idx] = v
		}
		return full
	}

	x0Free := make([]float64, len(free))
	for k, idx := range free {
		x0Free[k] = start[idx]
	}

	fn := MinimizeFunc{
		Value: func(xf []float64) float64 {
			v, _ := Value(m, expand(xf), theta0, nobs, beta0, opts)
			return v
		},
		Grad: func(xf []float64) []float64 {
			full := expand(xf)
			g, _ := Gradient(m, full, theta0, nobs, beta0, opts)
			out := make([]float64, len(free))
			for k, idx := range free {
				out[k] = g[idx]
			}
			return out
		},
		HessVec: func(xf, v []float64) []float64 {
			full := expand(xf)
			H, _ := Hessian(m, full, theta0, nobs, beta0, opts)
			vFull := make([]float64, m.NParms)
			for k, idx := range free {
				vFull[idx] = v[k]
			}
			hvFull := HessianVec(H, vFull)
			out := make([]float64, len(free))
			for k, idx := range free {
				out[k] = hvFull[idx]
			}
			return out
		},
	}

	res, err := Minimize(fn, x0Free, settings)
	if err != nil {
		return 0, nil, err
	}
	return res.Value, expand(res.X), nil
}
