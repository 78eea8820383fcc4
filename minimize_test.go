package binfit

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

// Minimizing a simple quadratic bowl f(x) = 0.5*(x-target)^T*A*(x-target)
// must converge to target with a near-zero gradient.
func TestMinimize_QuadraticBowl(t *testing.T) {
	target := []float64{2, -3}
	A := []float64{4, 1, 1, 3} // row-major 2x2, symmetric positive definite

	hessVec := func(v []float64) []float64 {
		return []float64{
			A[0]*v[0] + A[1]*v[1],
			A[2]*v[0] + A[3]*v[1],
		}
	}
	valueAt := func(x []float64) float64 {
		d := []float64{x[0] - target[0], x[1] - target[1]}
		hv := hessVec(d)
		return 0.5 * (d[0]*hv[0] + d[1]*hv[1])
	}
	gradAt := func(x []float64) []float64 {
		d := []float64{x[0] - target[0], x[1] - target[1]}
		return hessVec(d)
	}

	fn := MinimizeFunc{
		Value:   valueAt,
		Grad:    gradAt,
		HessVec: func(x, v []float64) []float64 { return hessVec(v) },
	}

	res, err := Minimize(fn, []float64{0, 0}, DefaultMinimizeSettings())
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !res.Converged {
		t.Fatalf("did not converge after %d iters", res.Iters)
	}
	for i, v := range res.X {
		if !almostEqual(v, target[i], 1e-5) {
			t.Fatalf("x[%d] = %v, want %v", i, v, target[i])
		}
	}
}

func TestEDM_AndCovariance_Identity(t *testing.T) {
	H := mat.NewSymDense(2, []float64{2, 0, 0, 4})
	g := []float64{1, 2}
	edm, err := EDM(H, g)
	if err != nil {
		t.Fatalf("EDM: %v", err)
	}
	// 1/2 g^T H^-1 g = 1/2 * (1*0.5 + 2*2*0.25) = 1/2 * (0.5 + 1) = 0.75
	if !almostEqual(edm, 0.75, 1e-9) {
		t.Fatalf("EDM = %v, want 0.75", edm)
	}
	sigma, err := Covariance(H)
	if err != nil {
		t.Fatalf("Covariance: %v", err)
	}
	if !almostEqual(sigma.At(0, 0), 0.5, 1e-9) || !almostEqual(sigma.At(1, 1), 0.25, 1e-9) {
		t.Fatalf("Sigma diag = (%v,%v), want (0.5,0.25)", sigma.At(0, 0), sigma.At(1, 1))
	}
}
