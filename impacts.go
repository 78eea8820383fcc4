package binfit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReportedIndices returns the x-indices (0..NParms-1) of the POIs followed
// by the nuisance-of-interest (NOI) parameters, in that order — the rows
// every impact table is reported against.
func ReportedIndices(m *Model) []int {
	idx := make([]int, 0, m.NPOI+m.NSyst)
	for i := 0; i < m.NPOI; i++ {
		idx = append(idx, i)
	}
	for i, nu := range m.Nuisances {
		if nu.NOI {
			idx = append(idx, m.NPOI+i)
		}
	}
	return idx
}

// Impacts is the post-fit-covariance impact decomposition of
// SPEC_FULL.md §4.5, with columns emitted in the documented order: groups
// (IM order), then stat, then binByBinStat.
type Impacts struct {
	Reported     []int
	PerNuisance  *mat.Dense // len(Reported) x NSyst
	Grouped      *mat.Dense // len(Reported) x len(Groups)
	Stat         []float64  // len(Reported)
	BinByBinStat []float64  // len(Reported), nil unless BBB active
}

// PerParameterImpacts computes I_ij = Sigma_ij / sqrt(Sigma_jj).
func PerParameterImpacts(m *Model, sigma *mat.SymDense) *mat.Dense {
	reported := ReportedIndices(m)
	out := mat.NewDense(len(reported), m.NSyst, nil)
	for r, i := range reported {
		for j := 0; j < m.NSyst; j++ {
			col := m.NPOI + j
			sjj := sigma.At(col, col)
			if sjj <= 0 {
				continue
			}
			out.Set(r, j, sigma.At(i, col)/math.Sqrt(sjj))
		}
	}
	return out
}

// GroupedImpacts computes I_iG = sqrt(v_G^T * SigmaGG^-1 * v_G) for each
// group G and reported parameter i.
func GroupedImpacts(m *Model, sigma *mat.SymDense) (*mat.Dense, error) {
	const op = "GroupedImpacts"
	reported := ReportedIndices(m)
	out := mat.NewDense(len(reported), len(m.Groups), nil)

	for gi, g := range m.Groups {
		idx := make([]int, len(g.Indices))
		for k, j := range g.Indices {
			idx[k] = m.NPOI + j
		}
		sigmaGG, err := extractSym(sigma, idx)
		if err != nil {
			return nil, newErr(op, NotPositiveDefinite, "%v", err)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sigmaGG); !ok {
			return nil, newErr(op, NotPositiveDefinite, "group %q sub-covariance is not positive definite", g.Name)
		}
		for r, i := range reported {
			v := mat.NewVecDense(len(idx), nil)
			for k, col := range idx {
				v.SetVec(k, sigma.At(i, col))
			}
			var sol mat.VecDense
			if err := chol.SolveVecTo(&sol, v); err != nil {
				return nil, newErr(op, NotPositiveDefinite, "%v", err)
			}
			quad := dotVec(v, &sol)
			if quad < 0 {
				quad = 0
			}
			out.Set(r, gi, math.Sqrt(quad))
		}
	}
	return out, nil
}

// StatIndices returns the x-indices forming n_stat = npoi + n_unconstrained:
// the POI block plus every unconstrained nuisance.
func StatIndices(m *Model) []int {
	idx := make([]int, 0, m.NPOI+m.NUnconstrained)
	for i := 0; i < m.NPOI; i++ {
		idx = append(idx, i)
	}
	for i, nu := range m.Nuisances {
		if !nu.Constrained() {
			idx = append(idx, m.NPOI+i)
		}
	}
	return idx
}

// DataStatImpacts computes sqrt(diag((H_stat)^-1)) for each reported
// parameter that participates in the stat block (POIs and unconstrained
// NOIs); reported parameters outside the stat block get 0.
func DataStatImpacts(m *Model, H *mat.SymDense) ([]float64, error) {
	const op = "DataStatImpacts"
	stat := StatIndices(m)
	hStat, err := extractSym(H, stat)
	if err != nil {
		return nil, newErr(op, NotPositiveDefinite, "%v", err)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(hStat); !ok {
		return nil, newErr(op, NotPositiveDefinite, "data-stat Hessian sub-block is not positive definite")
	}
	var sigmaStat mat.SymDense
	if err := chol.InverseTo(&sigmaStat); err != nil {
		return nil, newErr(op, NotPositiveDefinite, "%v", err)
	}

	pos := make(map[int]int, len(stat))
	for k, i := range stat {
		pos[i] = k
	}
	reported := ReportedIndices(m)
	out := make([]float64, len(reported))
	for r, i := range reported {
		if k, ok := pos[i]; ok {
			v := sigmaStat.At(k, k)
			if v > 0 {
				out[r] = math.Sqrt(v)
			}
		}
	}
	return out, nil
}

// BBBStatImpacts recomputes the Hessian with the BBB gradient stopped
// (H-tilde) and returns (dataStat, bbbStat) following SPEC_FULL.md §4.5's
// BBB-stat formula: dataStat = sqrt(diag(H-tilde_stat^-1)) and
// bbbStat = sqrt(max(0, diag(H_stat^-1) - diag(H-tilde_stat^-1))), where
// H is the profiled Hessian at x and _stat is the StatIndices sub-block.
func BBBStatImpacts(m *Model, x, theta0, nobs, beta0 []float64, sigma *mat.SymDense) (dataStat, bbbStat []float64, err error) {
	const op = "BBBStatImpacts"
	hTilde, err := Hessian(m, x, theta0, nobs, beta0, YieldOptions{Profile: true, StopBetaGrad: true})
	if err != nil {
		return nil, nil, err
	}
	dataStat, derr := DataStatImpacts(m, hTilde)
	if derr != nil {
		return nil, nil, newErr(op, NotPositiveDefinite, "%v", derr)
	}
	hFull, err := Hessian(m, x, theta0, nobs, beta0, YieldOptions{Profile: true})
	if err != nil {
		return nil, nil, err
	}
	fullStat, ferr := DataStatImpacts(m, hFull)
	if ferr != nil {
		return nil, nil, newErr(op, NotPositiveDefinite, "%v", ferr)
	}

	stat := StatIndices(m)
	pos := make(map[int]int, len(stat))
	for k, i := range stat {
		pos[i] = k
	}
	reported := ReportedIndices(m)
	bbbStat = make([]float64, len(reported))
	for r, i := range reported {
		k, ok := pos[i]
		if !ok {
			continue
		}
		sjj := fullStat[r] * fullStat[r]
		dv := dataStat[r] * dataStat[r]
		diff := sjj - dv
		if diff < 0 {
			diff = 0
		}
		bbbStat[r] = math.Sqrt(diff)
		_ = k
	}
	return dataStat, bbbStat, nil
}

// ComputeImpacts assembles the full Impacts struct.
func ComputeImpacts(m *Model, x, theta0, nobs, beta0 []float64, sigma, H *mat.SymDense) (*Impacts, error) {
	reported := ReportedIndices(m)
	perNuisance := PerParameterImpacts(m, sigma)
	grouped, err := GroupedImpacts(m, sigma)
	if err != nil {
		return nil, err
	}
	dataStat, err := DataStatImpacts(m, H)
	if err != nil {
		return nil, err
	}
	var bbbStat []float64
	if m.Config.BinByBinStat {
		dataStat, bbbStat, err = BBBStatImpacts(m, x, theta0, nobs, beta0, sigma)
		if err != nil {
			return nil, err
		}
	}
	return &Impacts{
		Reported:     reported,
		PerNuisance:  perNuisance,
		Grouped:      grouped,
		Stat:         dataStat,
		BinByBinStat: bbbStat,
	}, nil
}

// GlobalImpacts is the first-order linear-response impact decomposition of
// SPEC_FULL.md §4.5, computed from the sensitivity matrices.
type GlobalImpacts struct {
	Reported     []int
	PerNuisance  *mat.Dense // len(Reported) x NSyst
	Grouped      *mat.Dense // len(Reported) x len(Groups)
	Stat         []float64
	BinByBinStat []float64
}

// ComputeGlobalImpacts implements the profiled global-impact path only;
// there is no non-profiled global-impact path and no option selecting one.
func ComputeGlobalImpacts(m *Model, sens *Sensitivities) (*GlobalImpacts, error) {
	reported := ReportedIndices(m)

	perNuisance := mat.NewDense(len(reported), m.NSyst, nil)
	for r, i := range reported {
		for j, nu := range m.Nuisances {
			if !nu.Constrained() {
				continue // unconstrained nuisances have no prior variance
			}
			sd := math.Sqrt(1.0 / nu.ConstraintW)
			perNuisance.Set(r, j, sens.DXDTheta0.At(i, j)*sd)
		}
	}

	grouped := mat.NewDense(len(reported), len(m.Groups), nil)
	for gi, g := range m.Groups {
		for r := range reported {
			var ss float64
			for _, j := range g.Indices {
				v := perNuisance.At(r, j)
				ss += v * v
			}
			grouped.Set(r, gi, math.Sqrt(ss))
		}
	}

	var dataCov *mat.SymDense
	if m.Config.ChisqFit && m.Config.ExternalCovariance {
		const op = "ComputeGlobalImpacts"
		var chol mat.Cholesky
		if ok := chol.Factorize(m.DataCovInv); !ok {
			return nil, newErr(op, NotPositiveDefinite, "data covariance inverse is not positive definite")
		}
		var sigma mat.SymDense
		if err := chol.InverseTo(&sigma); err != nil {
			return nil, newErr(op, NotPositiveDefinite, "%v", err)
		}
		dataCov = &sigma
	}

	stat := make([]float64, len(reported))
	for r, i := range reported {
		var ss float64
		if m.Config.ChisqFit && m.Config.ExternalCovariance {
			for b := 0; b < m.NBins; b++ {
				var row float64
				for bp := 0; bp < m.NBins; bp++ {
					row += sens.DXDNobs.At(i, bp) * dataCov.At(bp, b)
				}
				ss += row * sens.DXDNobs.At(i, b)
			}
		} else {
			for b := 0; b < m.NBins; b++ {
				v := sens.DXDNobs.At(i, b)
				ss += v * v * m.DataObs[b]
			}
		}
		stat[r] = math.Sqrt(math.Max(ss, 0))
	}

	var bbb []float64
	if m.Config.BinByBinStat {
		bbb = make([]float64, len(reported))
		for r, i := range reported {
			var ss float64
			for b := 0; b < m.NBins; b++ {
				v := sens.DXDBeta0.At(i, b)
				ss += v * v / m.KStat[b]
			}
			bbb[r] = math.Sqrt(ss)
		}
	}

	return &GlobalImpacts{Reported: reported, PerNuisance: perNuisance, Grouped: grouped, Stat: stat, BinByBinStat: bbb}, nil
}

func extractSym(a *mat.SymDense, idx []int) (*mat.SymDense, error) {
	n := len(idx)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, a.At(idx[i], idx[j]))
		}
	}
	return out, nil
}

func dotVec(a, b *mat.VecDense) float64 {
	n := a.Len()
	var s float64
	for i := 0; i < n; i++ {
		s += a.AtVec(i) * b.AtVec(i)
	}
	return s
}
