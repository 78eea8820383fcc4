package binfit

import (
	"gonum.org/v1/gonum/stat/distuv"

	xrand "golang.org/x/exp/rand"
)

// ToyMode selects the pseudodata-generation prior of SPEC_FULL.md §4.7.
type ToyMode int

const (
	// ToyNone leaves theta0 untouched: n_obs is always Poisson-drawn, and
	// beta0 is randomized only when RandomizeBBB is set.
	ToyNone ToyMode = iota
	// ToyBayesian draws x itself from a standard normal; valid only when
	// the model has no explicit POIs (SPEC_FULL.md §4.7).
	ToyBayesian
	// ToyFrequentist draws theta0 from a standard normal, leaving x fixed
	// at the caller-supplied starting point.
	ToyFrequentist
)

// ToyOptions configures one call to GenerateToy.
type ToyOptions struct {
	Mode          ToyMode
	RandomizeBBB  bool // draw beta0 ~ Gamma(kstat+1, kstat) per bin
	BootstrapData bool // draw n_obs from the ORIGINAL data instead of the current expectation
}

// Toy is a randomized replica of the pseudodata inputs the likelihood
// consumes: a new theta0/beta0/n_obs triple, and — only in Bayesian mode —
// a replacement starting point X.
type Toy struct {
	X      []float64 // nil unless Mode == ToyBayesian
	Theta0 []float64
	Beta0  []float64
	Nobs   []float64
}

// GenerateToy draws one pseudodata replica per SPEC_FULL.md §4.7. x/theta0/
// nobsOrig/beta0 are the model's current point and the original data;
// nobsOrig is used as the bootstrap source and is otherwise only read, not
// mutated. src drives every distuv draw, so callers own reproducibility.
func GenerateToy(m *Model, x, theta0, nobsOrig, beta0 []float64, opts ToyOptions, src xrand.Source) (*Toy, error) {
	const op = "GenerateToy"
	if opts.Mode == ToyBayesian && m.NPOI > 0 {
		return nil, newErr(op, Unsupported, "Bayesian toys require a model with no explicit POIs, got NPOI=%d", m.NPOI)
	}
	if opts.BootstrapData && opts.RandomizeBBB && opts.Mode == ToyFrequentist {
		return nil, newErr(op, Unsupported, "bootstrap data combined with BBB randomization is not supported for frequentist toys")
	}

	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	out := &Toy{
		Theta0: append([]float64(nil), theta0...),
		Beta0:  append([]float64(nil), beta0...),
	}

	switch opts.Mode {
	case ToyBayesian:
		out.X = make([]float64, m.NParms)
		for i := range out.X {
			out.X[i] = normal.Rand()
		}
	case ToyFrequentist:
		for i := range out.Theta0 {
			out.Theta0[i] = normal.Rand()
		}
	}

	if opts.RandomizeBBB && m.Config.BinByBinStat {
		for b := 0; b < m.NBins; b++ {
			k := m.KStat[b]
			gamma := distuv.Gamma{Alpha: k + 1, Beta: k, Src: src}
			out.Beta0[b] = gamma.Rand()
		}
	}

	drawX := x
	if out.X != nil {
		drawX = out.X
	}
	source, err := toySource(m, drawX, theta0, nobsOrig, beta0, opts, src)
	if err != nil {
		return nil, err
	}
	out.Nobs = source
	return out, nil
}

// toySource produces the n_obs replica: Poisson draws from the original
// data when BootstrapData is set, otherwise Poisson draws from the current
// expectation at the (possibly randomized) point.
func toySource(m *Model, x, theta0, nobsOrig, beta0 []float64, opts ToyOptions, src xrand.Source) ([]float64, error) {
	const op = "toySource"
	mean := nobsOrig
	if !opts.BootstrapData {
		nexp, _, _, err := ExpectedYields(m, x, theta0, beta0, nobsOrig, YieldOptions{Profile: false})
		if err != nil {
			return nil, newErr(op, InvalidData, "%v", err)
		}
		mean = nexp
	}
	out := make([]float64, len(mean))
	for i, lam := range mean {
		if lam < 0 {
			lam = 0
		}
		pois := distuv.Poisson{Lambda: lam, Src: src}
		out[i] = pois.Rand()
	}
	return out, nil
}
