package binfit

// buildTestArtifact returns a small two-bin, two-process, one-systematic
// input artifact: process "sig" is the single POI, process "bkg" carries a
// 5% log-normal response to the one nuisance. Used across the test suite
// as a shared fixture.
func buildTestArtifact() InputArtifact {
	return InputArtifact{
		NBins: 2,
		NProc: 2,
		NSyst: 1,
		NPOI:  1,
		Processes: []Process{
			{Name: "sig", Signal: true},
			{Name: "bkg", Signal: false},
		},
		Nuisances: []Nuisance{
			{Name: "bkgNorm", ConstraintW: 1, Group: -1, Response: Symmetric},
		},
		Groups: []Group{
			{Name: "all", Indices: []int{0}},
		},
		Channels: []Channel{
			{Name: "ch0", Axes: []string{"obs"}, Shape: []int{2}, Start: 0, Stop: 2},
		},
		NormDense: []float64{
			10, 20, // bin0: sig, bkg
			5, 30, // bin1: sig, bkg
		},
		LogKDense: []float64{
			0, logOnePointZeroFive, // bin0: sig, bkg
			0, logOnePointZeroFive, // bin1: sig, bkg
		},
		DataObs: []float64{30, 35},
	}
}

// logOnePointZeroFive is log(1.05), the per-bin response of "bkg" to a
// one-sigma shift in the test fixture's single nuisance.
var logOnePointZeroFive = 0.04879016416943205

func buildTestModel(cfg FitterConfig) (*Model, error) {
	return NewModel(buildTestArtifact(), cfg)
}
