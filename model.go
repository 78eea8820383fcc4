package binfit

// ResponseKind selects how a nuisance's template response is built from
// its exponent: a plain linear exponent (symmetric log-normal) or a
// degree-5 polynomial interpolation between two half-responses
// (asymmetric log-normal).
type ResponseKind int

const (
	Symmetric ResponseKind = iota
	Asymmetric
)

// POIMode selects the parameterization of the signal-strength block of x.
type POIMode int

const (
	// POIModeMu is the default: x carries npoi explicit signal-strength
	// parameters.
	POIModeMu POIMode = iota
	// POIModeNone means there are no explicit POIs; every process is
	// treated as background (r_p = 1 for all p).
	POIModeNone
)

// Channel is a named contiguous region of the flat bin space, with an
// ordered list of axis names describing how to reshape its bins back into
// a multi-dimensional histogram for projection (see projector.go).
type Channel struct {
	Name   string   `json:"name"`
	Axes   []string `json:"axes"`
	Shape  []int    `json:"shape"` // len(Shape) == len(Axes); product(Shape) == Stop-Start
	Start  int      `json:"start"`
	Stop   int      `json:"stop"`
	Lumi   float64  `json:"lumi"`
	Masked bool     `json:"masked"`
}

func (c Channel) NBins() int { return c.Stop - c.Start }

// Process is a named per-channel yield template.
type Process struct {
	Name   string `json:"name"`
	Signal bool   `json:"signal"`
}

// Nuisance is a named systematic parameter.
type Nuisance struct {
	Name        string       `json:"name"`
	ConstraintW float64      `json:"constraint_w"` // 0 means unconstrained
	Group       int          `json:"group"`        // index into Model.Groups, or -1 for none
	NOI         bool         `json:"noi"`
	Response    ResponseKind `json:"response"`
}

func (n Nuisance) Constrained() bool { return n.ConstraintW > 0 }

// Group is one member of a ragged partition of nuisance indices; each
// group carries its own Indices slice (no shared flat-indices/offsets
// encoding is used).
type Group struct {
	Name    string `json:"name"`
	Indices []int  `json:"indices"`
}

// InputArtifact is the concrete, minimal stand-in for the external
// "workspace" file the core treats as an out-of-scope collaborator (see
// SPEC_FULL.md §6). NewModel consumes it and performs every invariant
// check named in §3.
type InputArtifact struct {
	NBins int `json:"nbins"`
	NProc int `json:"nproc"`
	NSyst int `json:"nsyst"`
	NPOI  int `json:"npoi"`

	Processes []Process `json:"processes"`
	Nuisances []Nuisance `json:"nuisances"`
	Groups    []Group    `json:"groups"`
	Channels  []Channel  `json:"channels"`

	Asymmetric bool `json:"asymmetric"`
	Sparse     bool `json:"sparse"`

	// Dense storage: used when !Sparse.
	NormDense []float64 `json:"norm_dense"` // len NBins*NProc
	LogKDense []float64 `json:"logk_dense"` // len NBins*NProc*NSyst, or *2*NSyst if Asymmetric

	// Sparse storage: used when Sparse. Parallel slices over nonzero
	// (bin, proc) pairs for Norm, and nonzero (bin, proc, half, syst)
	// entries for LogK.
	NormBin  []int     `json:"norm_bin,omitempty"`
	NormProc []int     `json:"norm_proc,omitempty"`
	NormVal  []float64 `json:"norm_val,omitempty"`

	LogKBin  []int     `json:"logk_bin,omitempty"`
	LogKProc []int     `json:"logk_proc,omitempty"`
	LogKHalf []int     `json:"logk_half,omitempty"` // always 0 for symmetric
	LogKSyst []int     `json:"logk_syst,omitempty"`
	LogKVal  []float64 `json:"logk_val,omitempty"`

	DataObs    []float64 `json:"data_obs"`
	DataCovInv []float64 `json:"data_cov_inv,omitempty"` // len NBins*NBins, row-major, nil unless ExternalCovariance

	KStat []float64 `json:"kstat,omitempty"` // len NBins, nil unless BinByBinStat

	ExponentialTransformScale float64 `json:"exponential_transform_scale"` // 0 means disabled
}

// FitterConfig carries the driver flags the original specification calls
// out as affecting core semantics.
type FitterConfig struct {
	ChisqFit           bool
	ExternalCovariance bool
	BinByBinStat       bool
	Normalize          bool
	AllowNegativePOI   bool
	POIMode            POIMode
	POIDefault         float64

	// UnconstrainedPrefitVariance overrides the zero default prefit
	// variance injected for unconstrained nuisances (Design Notes, last
	// bullet).
	UnconstrainedPrefitVariance float64
}

// DefaultFitterConfig returns the Poisson/no-BBB/no-normalize baseline.
func DefaultFitterConfig() FitterConfig {
	return FitterConfig{
		POIMode:    POIModeMu,
		POIDefault: 1.0,
	}
}

// Model is IM: the immutable container of shapes, template tensors,
// nuisance metadata, and channel layout. It is built once via NewModel and
// safely shared by many fits.
type Model struct {
	NBins int
	NProc int
	NSyst int
	NPOI  int

	Processes []Process
	Nuisances []Nuisance
	Groups    []Group
	Channels  []Channel

	Asymmetric bool

	Norm NormTensor
	LogK Template

	DataObs    []float64
	DataCovInv *matDense // nil unless external covariance supplied

	KStat []float64

	// MaskedBin marks bins belonging to a masked channel: present in the
	// model and propagated to output, excluded from the likelihood's
	// data/BBB terms and from NActiveBins/NDofSaturated.
	MaskedBin []bool
	// NActiveBins is NBins minus the masked bin count.
	NActiveBins int

	ExponentialTransformScale float64

	Config FitterConfig

	// NParms is npoi + nsyst, the length of the x vector.
	NParms int
	// NUnconstrained is the count of nuisances with ConstraintW == 0.
	NUnconstrained int
}

// NewModel validates art against cfg and the invariants in SPEC_FULL.md §3
// and constructs the immutable Model.
func NewModel(art InputArtifact, cfg FitterConfig) (*Model, error) {
	const op = "NewModel"

	if cfg.ExternalCovariance && !cfg.ChisqFit {
		return nil, newErr(op, ConfigConflict, "externalCovariance requires chisqFit")
	}
	if cfg.ExternalCovariance && cfg.BinByBinStat {
		return nil, newErr(op, ConfigConflict, "binByBinStat is forbidden together with externalCovariance")
	}
	if art.NBins <= 0 || art.NProc <= 0 {
		return nil, newErr(op, InvalidData, "nbins and nproc must be positive, got %d, %d", art.NBins, art.NProc)
	}
	if len(art.Processes) != art.NProc {
		return nil, newErr(op, InvalidData, "len(Processes)=%d != NProc=%d", len(art.Processes), art.NProc)
	}
	if len(art.Nuisances) != art.NSyst {
		return nil, newErr(op, InvalidData, "len(Nuisances)=%d != NSyst=%d", len(art.Nuisances), art.NSyst)
	}
	if len(art.DataObs) != art.NBins {
		return nil, newErr(op, InvalidData, "len(DataObs)=%d != NBins=%d", len(art.DataObs), art.NBins)
	}

	sumBins := 0
	for _, c := range art.Channels {
		if c.Stop <= c.Start || c.Start < 0 || c.Stop > art.NBins {
			return nil, newErr(op, InvalidData, "channel %q has invalid range [%d,%d)", c.Name, c.Start, c.Stop)
		}
		sumBins += c.NBins()
	}
	if len(art.Channels) > 0 && sumBins != art.NBins {
		return nil, newErr(op, InvalidData, "channel ranges cover %d bins, want %d", sumBins, art.NBins)
	}

	seen := make([]bool, 0, art.NSyst)
	seen = append(seen, make([]bool, art.NSyst)...)
	for gi, g := range art.Groups {
		for _, idx := range g.Indices {
			if idx < 0 || idx >= art.NSyst {
				return nil, newErr(op, InvalidData, "group %q references out-of-range nuisance %d", g.Name, idx)
			}
			if seen[idx] {
				return nil, newErr(op, InvalidData, "nuisance %d appears in more than one group (second: %q)", idx, g.Name)
			}
			seen[idx] = true
			_ = gi
		}
	}

	if !cfg.ChisqFit {
		for b, v := range art.DataObs {
			if v <= 0 {
				return nil, newErr(op, InvalidData, "n_obs[%d]=%g must be > 0 under Poisson likelihood", b, v)
			}
		}
	} else if !cfg.ExternalCovariance {
		for b, v := range art.DataObs {
			if v <= 0 {
				return nil, newErr(op, InvalidData, "n_obs[%d]=%g must be > 0 under data-derived chi-square covariance", b, v)
			}
		}
	}

	if cfg.BinByBinStat {
		if len(art.KStat) != art.NBins {
			return nil, newErr(op, InvalidData, "len(KStat)=%d != NBins=%d", len(art.KStat), art.NBins)
		}
		for b, k := range art.KStat {
			if k <= 0 {
				return nil, newErr(op, InvalidData, "kstat[%d]=%g must be > 0 with binByBinStat enabled", b, k)
			}
		}
	}

	norm, logk, err := buildTensors(art)
	if err != nil {
		return nil, err
	}
	if err := norm.validateNonNegative(); err != nil {
		return nil, newErr(op, InvalidData, "%v", err)
	}

	var covInv *matDense
	if cfg.ExternalCovariance {
		if len(art.DataCovInv) != art.NBins*art.NBins {
			return nil, newErr(op, InvalidData, "len(DataCovInv)=%d != NBins^2=%d", len(art.DataCovInv), art.NBins*art.NBins)
		}
		covInv = newMatDense(art.NBins, art.NBins, art.DataCovInv)
	}

	maskedBin := make([]bool, art.NBins)
	for _, c := range art.Channels {
		if !c.Masked {
			continue
		}
		for b := c.Start; b < c.Stop; b++ {
			maskedBin[b] = true
		}
	}
	nActiveBins := art.NBins
	for _, masked := range maskedBin {
		if masked {
			nActiveBins--
		}
	}

	nUnconstrained := 0
	for _, n := range art.Nuisances {
		if !n.Constrained() {
			nUnconstrained++
		}
	}

	npoi := art.NPOI
	if cfg.POIMode == POIModeNone {
		npoi = 0
	}

	return &Model{
		NBins:                     art.NBins,
		NProc:                     art.NProc,
		NSyst:                     art.NSyst,
		NPOI:                      npoi,
		Processes:                 art.Processes,
		Nuisances:                 art.Nuisances,
		Groups:                    art.Groups,
		Channels:                  art.Channels,
		Asymmetric:                art.Asymmetric,
		Norm:                      norm,
		LogK:                      logk,
		DataObs:                   art.DataObs,
		DataCovInv:                covInv,
		KStat:                     art.KStat,
		MaskedBin:                 maskedBin,
		NActiveBins:               nActiveBins,
		ExponentialTransformScale: art.ExponentialTransformScale,
		Config:                    cfg,
		NParms:                    npoi + art.NSyst,
		NUnconstrained:            nUnconstrained,
	}, nil
}

// SignalIndices returns the indices into Processes flagged as signal, in
// order. For POIModeMu these correspond 1:1 with the leading NPOI entries
// of x.
func (m *Model) SignalIndices() []int {
	idx := make([]int, 0, m.NPOI)
	for i, p := range m.Processes {
		if p.Signal {
			idx = append(idx, i)
			if len(idx) == m.NPOI {
				break
			}
		}
	}
	return idx
}
