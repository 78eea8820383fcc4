package binfit

import "testing"

// Fitting the fixture, whose data was generated at x=[1,0] with no noise,
// must converge back to that point with a small EDM and a positive-definite
// covariance.
func TestFit_ConvergesToTruePoint(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	result, err := Fit(m, theta0, m.DataObs, beta0, DefaultMinimizeSettings())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !result.Converged {
		t.Fatalf("fit did not converge after %d iterations", result.Iters)
	}
	if !almostEqual(result.X[0], 1, 1e-4) {
		t.Fatalf("x[0] (poi sqrt) = %v, want ~1", result.X[0])
	}
	if !almostEqual(result.X[1], 0, 1e-4) {
		t.Fatalf("x[1] (theta) = %v, want ~0", result.X[1])
	}
	if result.EDM > 1e-4 {
		t.Fatalf("EDM = %v, want small", result.EDM)
	}
	if result.Sigma.At(0, 0) <= 0 {
		t.Fatalf("Sigma[0][0] = %v, want > 0", result.Sigma.At(0, 0))
	}
}

// An unconstrained nuisance-of-interest should have a zero per-nuisance
// global impact on every reported parameter, since it has no finite prior
// variance to propagate.
func TestComputeGlobalImpacts_UnconstrainedNOIHasNoConstraintImpact(t *testing.T) {
	art := buildTestArtifact()
	art.Nuisances[0].ConstraintW = 0
	art.Nuisances[0].NOI = true
	m, err := NewModel(art, DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	result, err := Fit(m, theta0, m.DataObs, beta0, DefaultMinimizeSettings())
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	gi, err := ComputeFitResultGlobalImpacts(m, result)
	if err != nil {
		t.Fatalf("ComputeFitResultGlobalImpacts: %v", err)
	}
	for r := range gi.Reported {
		if gi.PerNuisance.At(r, 0) != 0 {
			t.Fatalf("PerNuisance[%d][0] = %v, want 0 for unconstrained nuisance", r, gi.PerNuisance.At(r, 0))
		}
	}
}

func TestNLLScan1D_MinimumNearTruePOI(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	theta0 := []float64{0}
	beta0 := []float64{1, 1}
	start := []float64{1, 0}
	points := []float64{0.9, 0.95, 1.0, 1.05, 1.1}
	scan, err := NLLScan1D(m, start, theta0, m.DataObs, beta0, 0, points, DefaultMinimizeSettings())
	if err != nil {
		t.Fatalf("NLLScan1D: %v", err)
	}
	minIdx := 0
	for i, v := range scan {
		if v < scan[minIdx] {
			minIdx = i
		}
	}
	if points[minIdx] != 1.0 {
		t.Fatalf("scan minimum at x_poi=%v, want 1.0 (scan=%v)", points[minIdx], scan)
	}
}
