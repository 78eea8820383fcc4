package binfit

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

// Chi2 of a residual against its own covariance's diagonal reduces to a sum
// of squared standardized residuals when the covariance is diagonal.
func TestChi2_DiagonalCovariance(t *testing.T) {
	r := []float64{2, -3}
	cov := mat.NewSymDense(2, []float64{4, 0, 0, 9})
	got, err := Chi2(r, cov)
	if err != nil {
		t.Fatalf("Chi2: %v", err)
	}
	want := 4.0/4.0 + 9.0/9.0
	if !almostEqual(got, want, 1e-9) {
		t.Fatalf("Chi2 = %v, want %v", got, want)
	}
}

func TestChi2_NotPositiveDefinite(t *testing.T) {
	r := []float64{1, 1}
	cov := mat.NewSymDense(2, []float64{1, 2, 2, 1}) // not PD: det = 1-4 = -3
	_, err := Chi2(r, cov)
	if err == nil {
		t.Fatal("expected NotPositiveDefinite, got nil")
	}
}

func TestChiSquareNDF_NormalizeSubtractsOne(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if got := ChiSquareNDF(m, 5); got != 5 {
		t.Fatalf("ChiSquareNDF (no normalize) = %d, want 5", got)
	}
	m.Config.Normalize = true
	if got := ChiSquareNDF(m, 5); got != 4 {
		t.Fatalf("ChiSquareNDF (normalize) = %d, want 4", got)
	}
}
