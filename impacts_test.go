package binfit

import "testing"

// The grouped impact of a group containing exactly one nuisance must equal
// that nuisance's own per-parameter impact, since SigmaGG is then a 1x1
// matrix and the quadratic form reduces to v^2/Sigma_jj = PerNuisance^2.
func TestGroupedImpacts_SingleMemberGroupMatchesPerNuisance(t *testing.T) {
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

	perNuisance := result.Impacts.PerNuisance
	grouped := result.Impacts.Grouped
	rows, _ := perNuisance.Dims()
	for r := 0; r < rows; r++ {
		want := perNuisance.At(r, 0)
		if want < 0 {
			want = -want
		}
		got := grouped.At(r, 0)
		if !almostEqual(got, want, 1e-6) {
			t.Fatalf("row %d: grouped=%v, want |perNuisance|=%v", r, got, want)
		}
	}
}

func TestReportedIndices_POIsThenNOIs(t *testing.T) {
	art := buildTestArtifact()
	art.Nuisances[0].NOI = true
	m, err := NewModel(art, DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	got := ReportedIndices(m)
	want := []int{0, 1}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ReportedIndices = %v, want %v", got, want)
	}
}

func TestStatIndices_IncludesUnconstrainedNuisances(t *testing.T) {
	art := buildTestArtifact()
	art.Nuisances[0].ConstraintW = 0
	m, err := NewModel(art, DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	got := StatIndices(m)
	if len(got) != 2 {
		t.Fatalf("StatIndices = %v, want 2 entries (poi + unconstrained nuisance)", got)
	}
}
