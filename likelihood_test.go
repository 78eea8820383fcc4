package binfit

import "testing"

// At the exact point the fixture's data was generated from, the Poisson NLL
// gradient must vanish: every bin's (1 - n_obs/n_exp) factor is zero.
func TestGradient_VanishesAtTruePoint(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := []float64{1, 0}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	g, err := Gradient(m, x, theta0, m.DataObs, beta0, YieldOptions{Profile: true})
	if err != nil {
		t.Fatalf("Gradient: %v", err)
	}
	for i, v := range g {
		if !almostEqual(v, 0, 1e-8) {
			t.Fatalf("grad[%d] = %v, want ~0", i, v)
		}
	}
}

// SaturatedNLL must be <= the model NLL at any point (the saturated model
// maximizes the Poisson likelihood given the observed counts).
func TestSaturatedNLL_IsLowerBound(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	nllSat := SaturatedNLL(m, m.DataObs)

	for _, x := range [][]float64{{1, 0}, {0.8, 0.5}, {1.3, -0.2}} {
		v, err := Value(m, x, theta0, m.DataObs, beta0, YieldOptions{Profile: true})
		if err != nil {
			t.Fatalf("Value(%v): %v", x, err)
		}
		if v < nllSat-1e-9 {
			t.Fatalf("Value(%v) = %v < saturated %v", x, v, nllSat)
		}
	}
}

// The profiled Barlow-Beeston factor must equal the closed-form
// (n_obs+kstat)/(n_exp+kstat) identity.
func TestBBB_ProfileIdentity(t *testing.T) {
	cfg := DefaultFitterConfig()
	cfg.BinByBinStat = true
	art := buildTestArtifact()
	art.KStat = []float64{50, 80}
	m, err := NewModel(art, cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := []float64{1, 0}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	nexp, beta, _, err := ExpectedYields(m, x, theta0, beta0, m.DataObs, YieldOptions{Profile: true})
	if err != nil {
		t.Fatalf("ExpectedYields: %v", err)
	}
	nexpCentral := make([]float64, m.NBins)
	for b := range nexpCentral {
		nexpCentral[b] = nexp[b] / beta[b]
	}
	for b := range beta {
		want := (m.DataObs[b] + m.KStat[b]) / (nexpCentral[b] + m.KStat[b])
		if !almostEqual(beta[b], want, 1e-9) {
			t.Fatalf("beta[%d] = %v, want %v", b, beta[b], want)
		}
	}
}

func TestNDofSaturated(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if got := NDofSaturated(m); got != 2-1-0 {
		t.Fatalf("NDofSaturated = %d, want %d", got, 2-1-0)
	}
}
