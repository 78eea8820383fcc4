package binfit

import (
	"testing"

	xrand "golang.org/x/exp/rand"
)

func TestGenerateToy_BayesianRejectedWithPOIs(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := []float64{1, 0}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	src := xrand.NewSource(1)
	_, err = GenerateToy(m, x, theta0, m.DataObs, beta0, ToyOptions{Mode: ToyBayesian}, src)
	if err == nil {
		t.Fatal("expected Unsupported for Bayesian toy with explicit POIs, got nil")
	}
}

func TestGenerateToy_BootstrapMeanMatchesOriginalData(t *testing.T) {
	art := buildTestArtifact()
	cfg := DefaultFitterConfig()
	cfg.POIMode = POIModeNone
	m, err := NewModel(art, cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := make([]float64, m.NParms)
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	src := xrand.NewSource(42)

	const trials = 2000
	sums := make([]float64, m.NBins)
	for i := 0; i < trials; i++ {
		toy, err := GenerateToy(m, x, theta0, m.DataObs, beta0, ToyOptions{Mode: ToyNone, BootstrapData: true}, src)
		if err != nil {
			t.Fatalf("GenerateToy: %v", err)
		}
		for b, v := range toy.Nobs {
			sums[b] += v
		}
	}
	for b, total := range sums {
		mean := total / trials
		if !almostEqual(mean, m.DataObs[b], 0.5) {
			t.Fatalf("bin %d bootstrap mean = %v, want ~%v", b, mean, m.DataObs[b])
		}
	}
}

func TestGenerateToy_BayesianAllowedWithoutPOIs(t *testing.T) {
	art := buildTestArtifact()
	cfg := DefaultFitterConfig()
	cfg.POIMode = POIModeNone
	m, err := NewModel(art, cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	x := make([]float64, m.NParms)
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	src := xrand.NewSource(7)
	toy, err := GenerateToy(m, x, theta0, m.DataObs, beta0, ToyOptions{Mode: ToyBayesian}, src)
	if err != nil {
		t.Fatalf("GenerateToy: %v", err)
	}
	if len(toy.X) != m.NParms {
		t.Fatalf("len(toy.X) = %d, want %d", len(toy.X), m.NParms)
	}
}
