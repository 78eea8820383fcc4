package binfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// alpha is the degree-5 interpolation weight used by the asymmetric
// log-normal response. The coefficients are fixed per SPEC_FULL.md's
// numerical contracts and must match bit-for-bit across implementations.
func alpha(theta float64) float64 {
	twox := 2 * theta
	twox2 := twox * twox
	v := 0.125 * twox * (twox2*(3*twox2-10) + 15)
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// alphaD2 is alpha propagated through the D2 dual-number engine, used by
// likelihood.go wherever the asymmetric response needs gradient/Hessian
// information with respect to theta.
func alphaD2(theta D2) D2 {
	twox := ScaleConst(theta, 2)
	twox2 := Square(twox)
	inner := AddConst(ScaleConst(twox2, 3), -10)
	poly := Mul(twox2, inner)
	poly = AddConst(poly, 15)
	poly = Mul(twox, poly)
	poly = ScaleConst(poly, 0.125)
	return Clip(poly, -1, 1)
}

// YieldOptions controls the optional stages of the expectation algorithm
// (SPEC_FULL.md §4.1, steps 5-7).
type YieldOptions struct {
	Profile       bool // BBB profile mode vs frozen at beta0
	StopBetaGrad  bool // treat beta as a constant when differentiating (Design Notes)
	WithNormFull  bool // also compute the per-(bin,proc) contribution
}

// muFromPOI maps x_poi to the signal-strength vector mu, applying the
// non-negativity-via-squaring convention unless AllowNegativePOI is set.
// It also returns d(mu)/d(x_poi) for the Jacobian-factor bookkeeping
// callers need (the D2 path in likelihood.go recomputes this directly via
// Square/NewVar instead of consuming this helper).
func muFromPOI(xpoi []float64, allowNegative bool) (mu, dmu []float64) {
	mu = make([]float64, len(xpoi))
	dmu = make([]float64, len(xpoi))
	for i, v := range xpoi {
		if allowNegative {
			mu[i] = v
			dmu[i] = 1
		} else {
			mu[i] = v * v
			dmu[i] = 2 * v
		}
	}
	return mu, dmu
}

// rVector extends mu with ones out to nproc, placing each signal strength
// at its process's position and 1 elsewhere (background).
func rVector(m *Model, mu []float64) []float64 {
	r := make([]float64, m.NProc)
	for i := range r {
		r[i] = 1
	}
	sig := m.SignalIndices()
	for i, idx := range sig {
		if i < len(mu) {
			r[idx] = mu[i]
		}
	}
	return r
}

// etaVector builds eta (length NSyst symmetric, 2*NSyst asymmetric) from
// theta, matching the [theta, theta*alpha] stacking convention: the first
// NSyst entries multiply logk's symmetric half, the next NSyst multiply
// logk's antisymmetric half.
func etaVector(m *Model, theta []float64) []float64 {
	if !m.Asymmetric {
		return append([]float64(nil), theta...)
	}
	eta := make([]float64, 2*m.NSyst)
	copy(eta, theta)
	for j, t := range theta {
		eta[m.NSyst+j] = t * alpha(t)
	}
	return eta
}

// ExpectedYields computes the plain (value-only, non-differentiable)
// per-bin expected yield, following SPEC_FULL.md §4.1 exactly. It is the
// forward path used by toy generation and by the output workspace —
// anywhere only a value is needed.
func ExpectedYields(m *Model, x, theta0, beta0, nobs []float64, opts YieldOptions) (nexp []float64, beta []float64, normFull *mat.Dense, err error) {
	const op = "ExpectedYields"
	if len(x) != m.NParms {
		return nil, nil, nil, newErr(op, InvalidData, "len(x)=%d != nparms=%d", len(x), m.NParms)
	}
	xpoi := x[:m.NPOI]
	theta := x[m.NPOI:]

	mu, _ := muFromPOI(xpoi, m.Config.AllowNegativePOI)
	r := rVector(m, mu)
	eta := etaVector(m, theta)

	nexpCentral := make([]float64, m.NBins)
	var nf *mat.Dense
	if opts.WithNormFull {
		nf = mat.NewDense(m.NBins, m.NProc, nil)
	}
	for b := 0; b < m.NBins; b++ {
		var acc float64
		m.Norm.Row(b, func(p int, normVal float64) {
			logS := 0.0
			m.LogK.Row(b, func(proc, half, syst int, val float64) {
				if proc != p {
					return
				}
				logS += val * eta[half*m.NSyst+syst]
			})
			s := math.Exp(logS)
			snn := s * normVal
			contrib := snn * r[p]
			acc += contrib
			if nf != nil {
				nf.Set(b, p, contrib)
			}
		})
		nexpCentral[b] = acc
	}

	beta = make([]float64, m.NBins)
	nexp = make([]float64, m.NBins)
	for b := 0; b < m.NBins; b++ {
		bb := 1.0
		if m.Config.BinByBinStat {
			if opts.Profile {
				bb = (nobs[b] + m.KStat[b]) / (nexpCentral[b] + m.KStat[b])
			} else {
				bb = beta0[b]
			}
		}
		beta[b] = bb
		nexp[b] = bb * nexpCentral[b]
	}

	if m.Config.Normalize {
		applyNormalize(nexp, nf, nobs)
	}
	if m.ExponentialTransformScale != 0 {
		for b := range nexp {
			nexp[b] = m.ExponentialTransformScale * math.Log(nexp[b])
		}
		if nf != nil {
			nf.Apply(func(i, j int, v float64) float64 {
				return m.ExponentialTransformScale * math.Log(v)
			}, nf)
		}
	}

	return nexp, beta, nf, nil
}

// applyNormalize rescales nexp in place by sum(nobs)/sum(nexp), and nf (if
// non-nil) by the same scalar, matching SPEC_FULL.md §4.1 step 6. This is
// applied post-BBB and is value-only; the likelihood applies the same
// rescale through D2 in evaluateFull (likelihood.go).
func applyNormalize(nexp []float64, nf *mat.Dense, nobs []float64) {
	var sumObs, sumExp float64
	for _, v := range nobs {
		sumObs += v
	}
	for _, v := range nexp {
		sumExp += v
	}
	if sumExp == 0 {
		return
	}
	scale := sumObs / sumExp
	for i := range nexp {
		nexp[i] *= scale
	}
	if nf != nil {
		nf.Scale(scale, nf)
	}
}
