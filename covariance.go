package binfit

import "gonum.org/v1/gonum/mat"

// PrefitCovariance returns the diagonal prefit covariance: 0 for the POI
// block, 1/w_i for constrained nuisances, and
// Config.UnconstrainedPrefitVariance (0 by default) for unconstrained ones.
func PrefitCovariance(m *Model) *mat.SymDense {
	n := m.NParms
	out := mat.NewSymDense(n, nil)
	for i, nu := range m.Nuisances {
		idx := m.NPOI + i
		if nu.Constrained() {
			out.SetSym(idx, idx, 1.0/nu.ConstraintW)
		} else {
			out.SetSym(idx, idx, m.Config.UnconstrainedPrefitVariance)
		}
	}
	return out
}

// Sensitivities holds dx/dtheta0, dx/dn_obs, dx/dbeta0 computed once after
// convergence via the implicit function theorem (SPEC_FULL.md §4.4).
type Sensitivities struct {
	DXDTheta0 *mat.Dense // NParms x NSyst
	DXDNobs   *mat.Dense // NParms x NBins
	DXDBeta0  *mat.Dense // NParms x NBins
}

// ComputeSensitivities solves Sigma * (-d2L) for each mixed-derivative
// block, using the already-factorized Sigma = H^-1.
func ComputeSensitivities(sigma *mat.SymDense, d2Theta0, d2Nobs, d2Beta0 *mat.Dense) *Sensitivities {
	mulNeg := func(d2 *mat.Dense) *mat.Dense {
		var out mat.Dense
		out.Mul(sigma, d2)
		out.Scale(-1, &out)
		return &out
	}
	return &Sensitivities{
		DXDTheta0: mulNeg(d2Theta0),
		DXDNobs:   mulNeg(d2Nobs),
		DXDBeta0:  mulNeg(d2Beta0),
	}
}
