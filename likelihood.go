package binfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// binExpectationD2 computes, for one bin, the expectation chain of
// SPEC_FULL.md §4.1 steps 1-5 (no normalize, no exponential transform)
// over a D2 space of size `size`. x occupies indices [0,nparms). If
// nobsVarIdx/beta0VarIdx are >= 0, the corresponding scalar is treated as
// an extra differentiable variable at that index (used by DNobs and
// DBetaZero); otherwise it is a plain constant.
func binExpectationD2(m *Model, x []float64, nobsVal, beta0Val float64, bin, size, nobsVarIdx, beta0VarIdx int, opts YieldOptions) (nExpCentral, beta, nExpRaw, beta0D2, nobsD2 D2) {
	xpoi := x[:m.NPOI]
	theta := x[m.NPOI:]

	sig := m.SignalIndices()
	poiOf := make(map[int]int, len(sig))
	for i, idx := range sig {
		poiOf[idx] = i
	}

	rD2 := make([]D2, m.NProc)
	for p := 0; p < m.NProc; p++ {
		if poiIdx, ok := poiOf[p]; ok && poiIdx < m.NPOI {
			xv := NewVar(size, poiIdx, xpoi[poiIdx])
			if m.Config.AllowNegativePOI {
				rD2[p] = xv
			} else {
				rD2[p] = Square(xv)
			}
		} else {
			rD2[p] = NewConst(size, 1)
		}
	}

	etaSym := make([]D2, m.NSyst)
	etaAsym := make([]D2, m.NSyst)
	for j := 0; j < m.NSyst; j++ {
		tv := NewVar(size, m.NPOI+j, theta[j])
		etaSym[j] = tv
		if m.Asymmetric {
			etaAsym[j] = Mul(tv, alphaD2(tv))
		}
	}

	nExpCentral = NewConst(size, 0)
	for p := 0; p < m.NProc; p++ {
		normVal := m.Norm.At(bin, p)
		if normVal == 0 {
			continue
		}
		logS := NewConst(size, 0)
		for s := 0; s < m.NSyst; s++ {
			k0 := m.LogK.At(bin, p, 0, s)
			if k0 != 0 {
				logS = Add(logS, ScaleConst(etaSym[s], k0))
			}
			if m.Asymmetric {
				k1 := m.LogK.At(bin, p, 1, s)
				if k1 != 0 {
					logS = Add(logS, ScaleConst(etaAsym[s], k1))
				}
			}
		}
		sD2 := Exp(logS)
		snn := ScaleConst(sD2, normVal)
		nExpCentral = Add(nExpCentral, Mul(snn, rD2[p]))
	}

	if nobsVarIdx >= 0 {
		nobsD2 = NewVar(size, nobsVarIdx, nobsVal)
	} else {
		nobsD2 = NewConst(size, nobsVal)
	}
	if beta0VarIdx >= 0 {
		beta0D2 = NewVar(size, beta0VarIdx, beta0Val)
	} else {
		beta0D2 = NewConst(size, beta0Val)
	}

	if m.Config.BinByBinStat {
		kstat := m.KStat[bin]
		if opts.Profile {
			numer := AddConst(nobsD2, kstat)
			denom := AddConst(nExpCentral, kstat)
			beta = Div(numer, denom)
			if opts.StopBetaGrad {
				beta = NewConst(size, beta.V)
			}
		} else {
			beta = beta0D2
		}
	} else {
		beta = NewConst(size, 1)
	}
	nExpRaw = Mul(beta, nExpCentral)
	return
}

func dataTermD2(m *Model, nExp, nobsD2 D2) D2 {
	if !m.Config.ChisqFit {
		return Sub(nExp, Mul(nobsD2, Log(nExp)))
	}
	resid := Sub(nobsD2, nExp)
	return ScaleConst(Mul(Square(resid), Inv(nobsD2)), 0.5)
}

func bbbTermD2(kstat float64, beta, beta0D2 D2) D2 {
	ratio := Div(beta, beta0D2)
	t1 := ScaleConst(Log(ratio), -kstat)
	t2 := ScaleConst(AddConst(ratio, -1), kstat)
	return Add(t1, t2)
}

// evaluateFull runs the whole NLL (data term, normalize, BBB term,
// constraint term) once as a single D2 of size NParms, giving value,
// gradient, and Hessian simultaneously.
func evaluateFull(m *Model, x, theta0, nobs, beta0 []float64, opts YieldOptions) D2 {
	n := m.NParms
	total := NewConst(n, 0)

	if m.Config.ChisqFit && m.Config.ExternalCovariance {
		res := make([]D2, m.NBins)
		for b := 0; b < m.NBins; b++ {
			_, _, nExpRaw, _, _ := binExpectationD2(m, x, nobs[b], 1.0, b, n, -1, -1, opts)
			res[b] = AddConst(Neg(nExpRaw), nobs[b])
		}
		for b := 0; b < m.NBins; b++ {
			if m.MaskedBin[b] {
				continue
			}
			for bp := 0; bp < m.NBins; bp++ {
				if m.MaskedBin[bp] {
					continue
				}
				c := m.DataCovInv.At(b, bp)
				if c == 0 {
					continue
				}
				total = Add(total, ScaleConst(Mul(res[b], res[bp]), 0.5*c))
			}
		}
	} else {
		nExpCentral := make([]D2, m.NBins)
		beta := make([]D2, m.NBins)
		nExpRaw := make([]D2, m.NBins)
		beta0D2 := make([]D2, m.NBins)
		nobsD2 := make([]D2, m.NBins)
		for b := 0; b < m.NBins; b++ {
			nExpCentral[b], beta[b], nExpRaw[b], beta0D2[b], nobsD2[b] = binExpectationD2(m, x, nobs[b], beta0[b], b, n, -1, -1, opts)
		}

		nExpFinal := nExpRaw
		if m.Config.Normalize {
			sumExp := NewConst(n, 0)
			var sumObs float64
			for b, v := range nobs {
				if m.MaskedBin[b] {
					continue
				}
				sumExp = Add(sumExp, nExpRaw[b])
				sumObs += v
			}
			scale := ScaleConst(Inv(sumExp), sumObs)
			nExpFinal = make([]D2, m.NBins)
			for b := range nExpRaw {
				nExpFinal[b] = Mul(scale, nExpRaw[b])
			}
		}

		for b := 0; b < m.NBins; b++ {
			if m.MaskedBin[b] {
				continue
			}
			total = Add(total, dataTermD2(m, nExpFinal[b], nobsD2[b]))
			if m.Config.BinByBinStat {
				total = Add(total, bbbTermD2(m.KStat[b], beta[b], beta0D2[b]))
			}
		}
	}

	for i, nu := range m.Nuisances {
		if !nu.Constrained() {
			continue
		}
		thetaVar := NewVar(n, m.NPOI+i, x[m.NPOI+i])
		diff := AddConst(thetaVar, -theta0[i])
		total = Add(total, ScaleConst(Square(diff), 0.5*nu.ConstraintW))
	}
	return total
}

// Value returns the NLL at x.
func Value(m *Model, x, theta0, nobs, beta0 []float64, opts YieldOptions) (float64, error) {
	if err := checkVecLens(m, x, theta0, nobs, beta0); err != nil {
		return 0, err
	}
	d := evaluateFull(m, x, theta0, nobs, beta0, opts)
	return d.V, nil
}

// Gradient returns dL/dx.
func Gradient(m *Model, x, theta0, nobs, beta0 []float64, opts YieldOptions) ([]float64, error) {
	if err := checkVecLens(m, x, theta0, nobs, beta0); err != nil {
		return nil, err
	}
	d := evaluateFull(m, x, theta0, nobs, beta0, opts)
	return append([]float64(nil), d.G...), nil
}

// Hessian returns d^2L/dx^2 as a symmetric dense matrix.
func Hessian(m *Model, x, theta0, nobs, beta0 []float64, opts YieldOptions) (*mat.SymDense, error) {
	if err := checkVecLens(m, x, theta0, nobs, beta0); err != nil {
		return nil, err
	}
	d := evaluateFull(m, x, theta0, nobs, beta0, opts)
	return mat.NewSymDense(m.NParms, append([]float64(nil), d.H...)), nil
}

// ValueGradHessian runs the D2 pass once and returns all three, which is
// the cheapest way to get all of them together.
func ValueGradHessian(m *Model, x, theta0, nobs, beta0 []float64, opts YieldOptions) (float64, []float64, *mat.SymDense, error) {
	if err := checkVecLens(m, x, theta0, nobs, beta0); err != nil {
		return 0, nil, nil, err
	}
	d := evaluateFull(m, x, theta0, nobs, beta0, opts)
	H := mat.NewSymDense(m.NParms, append([]float64(nil), d.H...))
	return d.V, append([]float64(nil), d.G...), H, nil
}

// HessianVec returns H*v. Per SPEC_FULL.md §4.2's Go-native expansion, this
// is implemented as a dense matrix-vector product against the already
// assembled Hessian rather than a second, independent forward-mode
// accumulator, which is a deliberate simplification given this module's
// bounded problem sizes.
func HessianVec(H *mat.SymDense, v []float64) []float64 {
	var out mat.VecDense
	out.MulVec(H, mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

// DThetaZero returns d^2L/dx dtheta0, an NParms x NSyst matrix. Theta0
// enters L only through the constraint term, so this is purely analytic:
// -w_i on the (npoi+i, i) entry, zero elsewhere.
func DThetaZero(m *Model) *mat.Dense {
	out := mat.NewDense(m.NParms, m.NSyst, nil)
	for i, nu := range m.Nuisances {
		if nu.Constrained() {
			out.Set(m.NPOI+i, i, -nu.ConstraintW)
		}
	}
	return out
}

// DNobs returns d^2L/dx dn_obs, an NParms x NBins matrix.
func DNobs(m *Model, x, nobs, beta0 []float64, opts YieldOptions) (*mat.Dense, error) {
	n := m.NParms
	out := mat.NewDense(n, m.NBins, nil)

	if m.Config.ChisqFit && m.Config.ExternalCovariance {
		jac := mat.NewDense(m.NBins, n, nil)
		for b := 0; b < m.NBins; b++ {
			if m.MaskedBin[b] {
				continue
			}
			_, _, nExpRaw, _, _ := binExpectationD2(m, x, nobs[b], 1.0, b, n, -1, -1, opts)
			jac.SetRow(b, nExpRaw.G)
		}
		var jt mat.Dense
		jt.Mul(jac.T(), m.DataCovInv)
		out.Scale(-1, &jt)
		for bp := 0; bp < m.NBins; bp++ {
			if !m.MaskedBin[bp] {
				continue
			}
			for k := 0; k < n; k++ {
				out.Set(k, bp, 0)
			}
		}
		return out, nil
	}

	size := n + 2
	nobsIdx, beta0Idx := n, n+1
	for b := 0; b < m.NBins; b++ {
		if m.MaskedBin[b] {
			continue
		}
		_, beta, nExpRaw, beta0D2, nobsD2 := binExpectationD2(m, x, nobs[b], beta0[b], b, size, nobsIdx, beta0Idx, opts)
		loss := dataTermD2(m, nExpRaw, nobsD2)
		if m.Config.BinByBinStat {
			loss = Add(loss, bbbTermD2(m.KStat[b], beta, beta0D2))
		}
		for k := 0; k < n; k++ {
			out.Set(k, b, loss.H[k*size+nobsIdx])
		}
	}
	return out, nil
}

// DBetaZero returns d^2L/dx dbeta0, an NParms x NBins matrix. Zero when
// BinByBinStat is disabled.
func DBetaZero(m *Model, x, nobs, beta0 []float64, opts YieldOptions) (*mat.Dense, error) {
	n := m.NParms
	out := mat.NewDense(n, m.NBins, nil)
	if !m.Config.BinByBinStat || (m.Config.ChisqFit && m.Config.ExternalCovariance) {
		return out, nil
	}
	size := n + 2
	nobsIdx, beta0Idx := n, n+1
	for b := 0; b < m.NBins; b++ {
		if m.MaskedBin[b] {
			continue
		}
		_, beta, nExpRaw, beta0D2, nobsD2 := binExpectationD2(m, x, nobs[b], beta0[b], b, size, nobsIdx, beta0Idx, opts)
		loss := Add(dataTermD2(m, nExpRaw, nobsD2), bbbTermD2(m.KStat[b], beta, beta0D2))
		for k := 0; k < n; k++ {
			out.Set(k, b, loss.H[k*size+beta0Idx])
		}
	}
	return out, nil
}

// SaturatedNLL is L_sat: the NLL of the model that perfectly reproduces
// n_obs, using the same safe-log convention (n_obs=0 contributes 0). Masked
// bins are excluded, matching their exclusion from the fitted likelihood.
func SaturatedNLL(m *Model, nobs []float64) float64 {
	var total float64
	for b, v := range nobs {
		if m.MaskedBin[b] || v <= 0 {
			continue
		}
		total += -v*math.Log(v) + v
	}
	return total
}

// NDofSaturated is nactivebins - npoi - n_unconstrained - (1 if normalize else 0).
func NDofSaturated(m *Model) int {
	ndof := m.NActiveBins - m.NPOI - m.NUnconstrained
	if m.Config.Normalize {
		ndof--
	}
	return ndof
}

func checkVecLens(m *Model, x, theta0, nobs, beta0 []float64) error {
	const op = "checkVecLens"
	if len(x) != m.NParms {
		return newErr(op, InvalidData, "len(x)=%d != nparms=%d", len(x), m.NParms)
	}
	if len(theta0) != m.NSyst {
		return newErr(op, InvalidData, "len(theta0)=%d != nsyst=%d", len(theta0), m.NSyst)
	}
	if len(nobs) != m.NBins {
		return newErr(op, InvalidData, "len(nobs)=%d != nbins=%d", len(nobs), m.NBins)
	}
	if len(beta0) != m.NBins {
		return newErr(op, InvalidData, "len(beta0)=%d != nbins=%d", len(beta0), m.NBins)
	}
	return nil
}
