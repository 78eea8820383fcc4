package binfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Observable bundles a derived quantity f(x, theta0, n_obs, beta0) with its
// Jacobians, the contract OP propagates variance through (SPEC_FULL.md
// §4.6). JTheta0/JNobs/JBeta0 are the *explicit* partials (not mediated by
// x); nil means the observable has no explicit dependence on that source.
type Observable struct {
	Value   []float64
	JX      *mat.Dense // len(Value) x NParms
	JTheta0 *mat.Dense // len(Value) x NSyst, optional
	JNobs   *mat.Dense // len(Value) x NBins, optional
	JBeta0  *mat.Dense // len(Value) x NBins, optional
}

// NonProfileVariance computes Var(f) = Jx*Sigma*Jx^T + Jnobs*diag(n_obs)*Jnobs^T
// + Jbeta0*diag(1/kstat)*Jbeta0^T, the latter two terms only contributing
// when the observable has an explicit n_obs/beta0 dependence.
func NonProfileVariance(m *Model, sigma *mat.SymDense, obs Observable) *mat.SymDense {
	n := len(obs.Value)
	var total mat.Dense
	total.Mul(obs.JX, sigma)
	var jxt mat.Dense
	jxt.Mul(&total, obs.JX.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, jxt.At(i, j))
		}
	}
	if obs.JNobs != nil {
		addDiagQuadratic(out, obs.JNobs, m.DataObs)
	}
	if obs.JBeta0 != nil && m.Config.BinByBinStat {
		invK := make([]float64, m.NBins)
		for b, k := range m.KStat {
			invK[b] = 1.0 / k
		}
		addDiagQuadratic(out, obs.JBeta0, invK)
	}
	return out
}

// ProfileVariance propagates variance through the implicit dependence on
// theta0/n_obs/beta0 via the sensitivity matrices, per
// df/dsource_total = J_source + Jx*(dx/dsource).
func ProfileVariance(m *Model, sens *Sensitivities, obs Observable) *mat.SymDense {
	n := len(obs.Value)
	out := mat.NewSymDense(n, nil)

	varTheta0 := make([]float64, m.NSyst)
	for i, nu := range m.Nuisances {
		if nu.Constrained() {
			varTheta0[i] = 1.0 / nu.ConstraintW
		}
	}

	dfTheta0 := totalJacobian(obs.JX, obs.JTheta0, sens.DXDTheta0)
	addDiagQuadratic(out, dfTheta0, varTheta0)

	dfNobs := totalJacobian(obs.JX, obs.JNobs, sens.DXDNobs)
	addDiagQuadratic(out, dfNobs, m.DataObs)

	if m.Config.BinByBinStat {
		invK := make([]float64, m.NBins)
		for b, k := range m.KStat {
			invK[b] = 1.0 / k
		}
		dfBeta0 := totalJacobian(obs.JX, obs.JBeta0, sens.DXDBeta0)
		addDiagQuadratic(out, dfBeta0, invK)
	}
	return out
}

// totalJacobian returns explicit + Jx*sensitivity, treating a nil explicit
// Jacobian as zero.
func totalJacobian(jx, explicit, sensitivity *mat.Dense) *mat.Dense {
	var coupled mat.Dense
	coupled.Mul(jx, sensitivity)
	if explicit == nil {
		return &coupled
	}
	var total mat.Dense
	total.Add(explicit, &coupled)
	return &total
}

// addDiagQuadratic adds J*diag(d)*J^T into out in place.
func addDiagQuadratic(out *mat.SymDense, j *mat.Dense, d []float64) {
	r, c := j.Dims()
	for a := 0; a < r; a++ {
		for b := a; b < r; b++ {
			var s float64
			for k := 0; k < c; k++ {
				s += j.At(a, k) * d[k] * j.At(b, k)
			}
			out.SetSym(a, b, out.At(a, b)+s)
		}
	}
}

// Variations returns the {down,up} perturbed observable for every
// parameter, per SPEC_FULL.md §4.6: f -/+ Jx*delta_j, where delta_j is
// either the j-th column of Sigma*diag(Sigma)^(-1/2) (correlated) or
// sqrt(Sigma_jj)*e_j (uncorrelated). Shapes are len(Value) x NParms.
func Variations(sigma *mat.SymDense, obs Observable, correlated bool) (down, up *mat.Dense) {
	n := sigma.SymmetricDim()
	nf := len(obs.Value)
	down = mat.NewDense(nf, n, nil)
	up = mat.NewDense(nf, n, nil)

	for j := 0; j < n; j++ {
		delta := make([]float64, n)
		if correlated {
			sjj := sigma.At(j, j)
			if sjj <= 0 {
				continue
			}
			invSqrt := 1.0 / math.Sqrt(sjj)
			for i := 0; i < n; i++ {
				delta[i] = sigma.At(i, j) * invSqrt
			}
		} else {
			sjj := sigma.At(j, j)
			if sjj < 0 {
				sjj = 0
			}
			delta[j] = math.Sqrt(sjj)
		}

		shift := mat.NewVecDense(nf, nil)
		shift.MulVec(obs.JX, mat.NewVecDense(n, delta))
		for i := 0; i < nf; i++ {
			down.Set(i, j, obs.Value[i]-shift.AtVec(i))
			up.Set(i, j, obs.Value[i]+shift.AtVec(i))
		}
	}
	return down, up
}

// Chi2 returns r^T Cr^-1 r and a *Error{Kind: NotPositiveDefinite} if Cr
// does not factorize.
func Chi2(r []float64, Cr *mat.SymDense) (float64, error) {
	const op = "Chi2"
	var chol mat.Cholesky
	if ok := chol.Factorize(Cr); !ok {
		return 0, newErr(op, NotPositiveDefinite, "observable covariance is not positive definite")
	}
	var sol mat.VecDense
	rv := mat.NewVecDense(len(r), r)
	if err := chol.SolveVecTo(&sol, rv); err != nil {
		return 0, newErr(op, NotPositiveDefinite, "%v", err)
	}
	var s float64
	for i := range r {
		s += r[i] * sol.AtVec(i)
	}
	return s, nil
}

// ChiSquareNDF returns |f| - (1 if normalize else 0).
func ChiSquareNDF(m *Model, nf int) int {
	ndf := nf
	if m.Config.Normalize {
		ndf--
	}
	return ndf
}
