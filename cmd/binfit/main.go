// Command binfit runs one maximum-likelihood (or chi-square) fit against an
// input artifact JSON file and writes the postfit workspace artifact to
// stdout or a named output file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/adgarrio/binfit"
)

func main() {
	var (
		inputPath          = flag.String("input", "", "path to the input artifact JSON file (required)")
		outputPath         = flag.String("output", "", "path to write the output workspace JSON (default: stdout)")
		chisqFit           = flag.Bool("chisqFit", false, "use a chi-square likelihood instead of Poisson")
		externalCovariance = flag.Bool("externalCovariance", false, "use the input artifact's external data covariance (requires chisqFit)")
		binByBinStat       = flag.Bool("binByBinStat", false, "enable Barlow-Beeston bin-by-bin statistical nuisances")
		normalize          = flag.Bool("normalize", false, "rescale the total expected yield to match total observed")
		allowNegativePOI   = flag.Bool("allowNegativePOI", false, "parameterize signal strengths linearly instead of via squaring")
		poiDefault         = flag.Float64("poiDefault", 1.0, "default signal-strength starting value")
		globalImpacts      = flag.Bool("globalImpacts", false, "also compute linear-response global impacts")
	)
	flag.Parse()

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: binfit -input <artifact.json> [flags]")
		os.Exit(2)
	}

	art, err := loadArtifact(*inputPath)
	if err != nil {
		fatal(err)
	}

	cfg := binfit.DefaultFitterConfig()
	cfg.ChisqFit = *chisqFit
	cfg.ExternalCovariance = *externalCovariance
	cfg.BinByBinStat = *binByBinStat
	cfg.Normalize = *normalize
	cfg.AllowNegativePOI = *allowNegativePOI
	cfg.POIDefault = *poiDefault

	model, err := binfit.NewModel(*art, cfg)
	if err != nil {
		fatal(err)
	}

	theta0 := make([]float64, model.NSyst)
	beta0 := make([]float64, model.NBins)
	for i := range beta0 {
		beta0[i] = 1
	}

	result, err := binfit.Fit(model, theta0, model.DataObs, beta0, binfit.DefaultMinimizeSettings())
	if err != nil {
		fatal(err)
	}

	ws, err := binfit.NewWorkspace(model, result)
	if err != nil {
		fatal(err)
	}
	if *globalImpacts {
		gi, err := binfit.ComputeFitResultGlobalImpacts(model, result)
		if err != nil {
			fatal(err)
		}
		ws.AttachGlobalImpacts(gi)
	}

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			fatal(fmt.Errorf("create %s: %w", *outputPath, err))
		}
		defer f.Close()
		out = f
	}
	if err := ws.WriteJSON(out); err != nil {
		fatal(fmt.Errorf("write output: %w", err))
	}
}

func loadArtifact(path string) (*binfit.InputArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var art binfit.InputArtifact
	if err := json.NewDecoder(f).Decode(&art); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &art, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "binfit:", err)
	os.Exit(1)
}
