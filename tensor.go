package binfit

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// matDense is a thin alias kept local to this package so model.go and the
// rest of the fitter can pass covariance-shaped matrices around without
// every caller importing gonum/mat directly for this one type name.
type matDense = mat.Dense

func newMatDense(r, c int, data []float64) *matDense {
	return mat.NewDense(r, c, append([]float64(nil), data...))
}

// Template is the (bin, proc, half, syst) -> log-response accessor. EE and
// LE call only this interface and never branch on dense-vs-sparse storage,
// per the Design Notes ("callers should not branch on representation").
// half is always 0 for a symmetric response and 0 or 1 for asymmetric
// (0 = symmetric half, 1 = antisymmetric half, matching the stacked-[theta,
// theta*alpha] convention in expectation.go).
type Template interface {
	NHalves() int
	// At returns logk[bin, proc, half, syst].
	At(bin, proc, half, syst int) float64
	// Row iterates the nonzero (proc, half, syst, value) entries touching
	// bin, calling fn for each. Dense implementations iterate every syst
	// for every proc; sparse implementations iterate only stored entries.
	Row(bin int, fn func(proc, half, syst int, val float64))
}

// NormTensor is the (bin, proc) -> nominal norm accessor.
type NormTensor interface {
	At(bin, proc int) float64
	Row(bin int, fn func(proc int, val float64))
	validateNonNegative() error
}

type denseTemplate struct {
	nbins, nproc, nsyst, nhalves int
	data                         []float64 // flat [bin, proc, half, syst]
}

func (t *denseTemplate) NHalves() int { return t.nhalves }

func (t *denseTemplate) idx(bin, proc, half, syst int) int {
	return ((bin*t.nproc+proc)*t.nhalves+half)*t.nsyst + syst
}

func (t *denseTemplate) At(bin, proc, half, syst int) float64 {
	return t.data[t.idx(bin, proc, half, syst)]
}

func (t *denseTemplate) Row(bin int, fn func(proc, half, syst int, val float64)) {
	for p := 0; p < t.nproc; p++ {
		for h := 0; h < t.nhalves; h++ {
			for s := 0; s < t.nsyst; s++ {
				v := t.At(bin, p, h, s)
				if v != 0 {
					fn(p, h, s, v)
				}
			}
		}
	}
}

type sparseTemplate struct {
	nhalves         int
	byBin           map[int][]sparseEntry
}

type sparseEntry struct {
	proc, half, syst int
	val              float64
}

func (t *sparseTemplate) NHalves() int { return t.nhalves }

func (t *sparseTemplate) At(bin, proc, half, syst int) float64 {
	for _, e := range t.byBin[bin] {
		if e.proc == proc && e.half == half && e.syst == syst {
			return e.val
		}
	}
	return 0
}

func (t *sparseTemplate) Row(bin int, fn func(proc, half, syst int, val float64)) {
	for _, e := range t.byBin[bin] {
		fn(e.proc, e.half, e.syst, e.val)
	}
}

type denseNorm struct {
	nbins, nproc int
	data         []float64
}

func (n *denseNorm) At(bin, proc int) float64 { return n.data[bin*n.nproc+proc] }

func (n *denseNorm) Row(bin int, fn func(proc int, val float64)) {
	for p := 0; p < n.nproc; p++ {
		v := n.data[bin*n.nproc+p]
		if v != 0 {
			fn(p, v)
		}
	}
}

func (n *denseNorm) validateNonNegative() error {
	for i, v := range n.data {
		if v < 0 {
			return fmt.Errorf("norm[%d]=%g is negative", i, v)
		}
	}
	return nil
}

type sparseNorm struct {
	byBin map[int][]normEntry
}

type normEntry struct {
	proc int
	val  float64
}

func (n *sparseNorm) At(bin, proc int) float64 {
	for _, e := range n.byBin[bin] {
		if e.proc == proc {
			return e.val
		}
	}
	return 0
}

func (n *sparseNorm) Row(bin int, fn func(proc int, val float64)) {
	for _, e := range n.byBin[bin] {
		fn(e.proc, e.val)
	}
}

func (n *sparseNorm) validateNonNegative() error {
	for bin, es := range n.byBin {
		for _, e := range es {
			if e.val < 0 {
				return fmt.Errorf("norm[bin=%d,proc=%d]=%g is negative", bin, e.proc, e.val)
			}
		}
	}
	return nil
}

func buildTensors(art InputArtifact) (NormTensor, Template, error) {
	nhalves := 1
	if art.Asymmetric {
		nhalves = 2
	}

	if !art.Sparse {
		if len(art.NormDense) != art.NBins*art.NProc {
			return nil, nil, newErr("buildTensors", InvalidData, "len(NormDense)=%d != nbins*nproc=%d", len(art.NormDense), art.NBins*art.NProc)
		}
		wantLogK := art.NBins * art.NProc * nhalves * art.NSyst
		if len(art.LogKDense) != wantLogK {
			return nil, nil, newErr("buildTensors", InvalidData, "len(LogKDense)=%d != %d", len(art.LogKDense), wantLogK)
		}
		norm := &denseNorm{nbins: art.NBins, nproc: art.NProc, data: art.NormDense}
		logk := &denseTemplate{nbins: art.NBins, nproc: art.NProc, nsyst: art.NSyst, nhalves: nhalves, data: art.LogKDense}
		return norm, logk, nil
	}

	normByBin := make(map[int][]normEntry, art.NBins)
	for i := range art.NormBin {
		b := art.NormBin[i]
		normByBin[b] = append(normByBin[b], normEntry{proc: art.NormProc[i], val: art.NormVal[i]})
	}
	logkByBin := make(map[int][]sparseEntry, art.NBins)
	for i := range art.LogKBin {
		b := art.LogKBin[i]
		half := 0
		if i < len(art.LogKHalf) {
			half = art.LogKHalf[i]
		}
		logkByBin[b] = append(logkByBin[b], sparseEntry{proc: art.LogKProc[i], half: half, syst: art.LogKSyst[i], val: art.LogKVal[i]})
	}
	return &sparseNorm{byBin: normByBin}, &sparseTemplate{nhalves: nhalves, byBin: logkByBin}, nil
}
