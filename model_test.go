package binfit

import "testing"

func TestNewModel_Valid(t *testing.T) {
	m, err := buildTestModel(DefaultFitterConfig())
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	if m.NParms != 2 {
		t.Fatalf("NParms = %d, want 2 (1 poi + 1 syst)", m.NParms)
	}
	if m.NUnconstrained != 0 {
		t.Fatalf("NUnconstrained = %d, want 0", m.NUnconstrained)
	}
	if got := m.SignalIndices(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("SignalIndices = %v, want [0]", got)
	}
}

func TestNewModel_ExternalCovarianceRequiresChisq(t *testing.T) {
	cfg := DefaultFitterConfig()
	cfg.ExternalCovariance = true
	_, err := buildTestModel(cfg)
	if err == nil {
		t.Fatal("expected ConfigConflict, got nil")
	}
	var fe *Error
	if !asError(err, &fe) || fe.Kind != ConfigConflict {
		t.Fatalf("err = %v, want ConfigConflict", err)
	}
}

func TestNewModel_ExternalCovarianceForbidsBBB(t *testing.T) {
	cfg := DefaultFitterConfig()
	cfg.ChisqFit = true
	cfg.ExternalCovariance = true
	cfg.BinByBinStat = true
	_, err := buildTestModel(cfg)
	if err == nil {
		t.Fatal("expected ConfigConflict, got nil")
	}
}

func TestNewModel_NonPositiveDataRejectedUnderPoisson(t *testing.T) {
	art := buildTestArtifact()
	art.DataObs[0] = 0
	_, err := NewModel(art, DefaultFitterConfig())
	if err == nil {
		t.Fatal("expected InvalidData, got nil")
	}
}

func TestNewModel_GroupDuplicateNuisanceRejected(t *testing.T) {
	art := buildTestArtifact()
	art.Groups = []Group{
		{Name: "a", Indices: []int{0}},
		{Name: "b", Indices: []int{0}},
	}
	_, err := NewModel(art, DefaultFitterConfig())
	if err == nil {
		t.Fatal("expected InvalidData for duplicate group membership, got nil")
	}
}

// asError is a small helper standing in for errors.As since every error
// NewModel returns is an *Error.
func asError(err error, target **Error) bool {
	fe, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = fe
	return true
}
