package binfit

import (
	"encoding/json"
	"io"

	"gonum.org/v1/gonum/mat"
)

// ChannelSummary is the per-channel slice of the output artifact: the
// observed and expected histograms flattened in bin order, alongside the
// channel's axis metadata so a consumer can reshape them (SPEC_FULL.md §6,
// grounded on original_source/workspace.py's add_observed_hists/
// add_expected_hists).
type ChannelSummary struct {
	Name     string    `json:"name"`
	Axes     []string  `json:"axes"`
	Shape    []int     `json:"shape"`
	DataObs  []float64 `json:"data_obs"`
	Expected []float64 `json:"expected"`
}

// Workspace is the JSON-serializable output artifact a Fit produces: the
// postfit parameter point and covariance, the impact tables, per-channel
// histograms, and the global goodness-of-fit summary.
type Workspace struct {
	Parms  []float64   `json:"parms"`
	Cov    [][]float64 `json:"cov"`
	EDM    float64     `json:"edm"`
	NLL    float64     `json:"nll_full"`
	NLLSat float64     `json:"nll_saturated"`
	Chi2   float64     `json:"chi2"`
	NDF    int         `json:"ndf"`

	Impacts       workspaceImpacts  `json:"impacts"`
	GlobalImpacts *workspaceImpacts `json:"global_impacts,omitempty"`
	Channels      []ChannelSummary  `json:"channels"`
}

type workspaceImpacts struct {
	Reported     []int       `json:"reported"`
	PerNuisance  [][]float64 `json:"per_nuisance"`
	Grouped      [][]float64 `json:"grouped"`
	Stat         []float64   `json:"stat"`
	BinByBinStat []float64   `json:"bin_by_bin_stat,omitempty"`
}

// NewWorkspace assembles the output artifact from a converged FitResult.
func NewWorkspace(m *Model, fr *FitResult) (*Workspace, error) {
	nexp, _, _, err := ExpectedYields(m, fr.X, fr.Theta0, fr.Beta0, fr.Nobs, YieldOptions{Profile: true})
	if err != nil {
		return nil, err
	}

	channels := make([]ChannelSummary, len(m.Channels))
	for i, ch := range m.Channels {
		channels[i] = ChannelSummary{
			Name:     ch.Name,
			Axes:     ch.Axes,
			Shape:    ch.Shape,
			DataObs:  append([]float64(nil), m.DataObs[ch.Start:ch.Stop]...),
			Expected: append([]float64(nil), nexp[ch.Start:ch.Stop]...),
		}
	}

	resid := make([]float64, m.NBins)
	for b := range resid {
		resid[b] = m.DataObs[b] - nexp[b]
	}
	var chi2 float64
	if m.Config.ExternalCovariance {
		chi2 = quadraticForm(resid, m.DataCovInv)
	} else {
		cr := mat.NewSymDense(m.NBins, nil)
		for b := range resid {
			cr.SetSym(b, b, nexp[b])
		}
		chi2, err = Chi2(resid, cr)
		if err != nil {
			return nil, err
		}
	}

	ws := &Workspace{
		Parms:    fr.X,
		Cov:      denseFromSym(fr.Sigma),
		EDM:      fr.EDM,
		NLL:      fr.NLL,
		NLLSat:   SaturatedNLL(m, fr.Nobs),
		Chi2:     chi2,
		NDF:      NDofSaturated(m),
		Channels: channels,
		Impacts:  toWorkspaceImpacts(fr.Impacts),
	}
	return ws, nil
}

// WriteJSON serializes the workspace.
func (w *Workspace) WriteJSON(out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(w)
}

// AttachGlobalImpacts adds the optional global-impacts table.
func (w *Workspace) AttachGlobalImpacts(gi *GlobalImpacts) {
	wi := &workspaceImpacts{
		Reported:    gi.Reported,
		PerNuisance: denseFromMat(gi.PerNuisance),
		Grouped:     denseFromMat(gi.Grouped),
		Stat:        gi.Stat,
	}
	if gi.BinByBinStat != nil {
		wi.BinByBinStat = gi.BinByBinStat
	}
	w.GlobalImpacts = wi
}

func toWorkspaceImpacts(im *Impacts) workspaceImpacts {
	return workspaceImpacts{
		Reported:     im.Reported,
		PerNuisance:  denseFromMat(im.PerNuisance),
		Grouped:      denseFromMat(im.Grouped),
		Stat:         im.Stat,
		BinByBinStat: im.BinByBinStat,
	}
}

func denseFromMat(d *mat.Dense) [][]float64 {
	r, c := d.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}

func denseFromSym(s *mat.SymDense) [][]float64 {
	n := s.SymmetricDim()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = s.At(i, j)
		}
	}
	return out
}

// quadraticForm returns r^T * cinv * r for an already-inverted covariance.
func quadraticForm(r []float64, cinv *mat.Dense) float64 {
	n := len(r)
	var total float64
	for i := 0; i < n; i++ {
		var row float64
		for j := 0; j < n; j++ {
			row += cinv.At(i, j) * r[j]
		}
		total += r[i] * row
	}
	return total
}
