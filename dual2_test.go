package binfit

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// Mul of two independent variables: f(x,y) = x*y, grad = (y,x), Hessian off-diag = 1.
func TestD2_Mul(t *testing.T) {
	x := NewVar(2, 0, 3.0)
	y := NewVar(2, 1, 4.0)
	f := Mul(x, y)

	if !almostEqual(f.V, 12.0, 1e-12) {
		t.Fatalf("value = %v, want 12", f.V)
	}
	if !almostEqual(f.G[0], 4.0, 1e-12) || !almostEqual(f.G[1], 3.0, 1e-12) {
		t.Fatalf("grad = %v, want (4,3)", f.G)
	}
	if !almostEqual(f.H[0*2+1], 1.0, 1e-12) || !almostEqual(f.H[1*2+0], 1.0, 1e-12) {
		t.Fatalf("Hessian off-diag = %v, want 1", f.H)
	}
	if !almostEqual(f.H[0], 0, 1e-12) || !almostEqual(f.H[3], 0, 1e-12) {
		t.Fatalf("Hessian diag = %v, want 0", f.H)
	}
}

// Square: f(x) = x^2, f'=2x, f''=2.
func TestD2_Square(t *testing.T) {
	x := NewVar(1, 0, 5.0)
	f := Square(x)
	if !almostEqual(f.V, 25.0, 1e-12) {
		t.Fatalf("value = %v, want 25", f.V)
	}
	if !almostEqual(f.G[0], 10.0, 1e-12) {
		t.Fatalf("grad = %v, want 10", f.G[0])
	}
	if !almostEqual(f.H[0], 2.0, 1e-12) {
		t.Fatalf("Hessian = %v, want 2", f.H[0])
	}
}

// Log(Exp(x)) should recover x with unit gradient and zero Hessian.
func TestD2_LogExpRoundTrip(t *testing.T) {
	x := NewVar(1, 0, 1.3)
	f := Log(Exp(x))
	if !almostEqual(f.V, 1.3, 1e-9) {
		t.Fatalf("value = %v, want 1.3", f.V)
	}
	if !almostEqual(f.G[0], 1.0, 1e-9) {
		t.Fatalf("grad = %v, want 1", f.G[0])
	}
	if !almostEqual(f.H[0], 0.0, 1e-9) {
		t.Fatalf("Hessian = %v, want 0", f.H[0])
	}
}

// Inv: f(x) = 1/x against the closed-form derivatives.
func TestD2_Inv(t *testing.T) {
	x := NewVar(1, 0, 2.0)
	f := Inv(x)
	if !almostEqual(f.V, 0.5, 1e-12) {
		t.Fatalf("value = %v, want 0.5", f.V)
	}
	if !almostEqual(f.G[0], -0.25, 1e-12) {
		t.Fatalf("grad = %v, want -0.25", f.G[0])
	}
	if !almostEqual(f.H[0], 0.25, 1e-12) {
		t.Fatalf("Hessian = %v, want 0.25", f.H[0])
	}
}

// Clip saturates both the value and the derivatives outside [lo,hi].
func TestD2_Clip(t *testing.T) {
	x := NewVar(1, 0, 5.0)
	f := Clip(x, -1, 1)
	if f.V != 1 || f.G[0] != 0 || f.H[0] != 0 {
		t.Fatalf("Clip(5,-1,1) = %+v, want constant 1", f)
	}
	inside := NewVar(1, 0, 0.3)
	g := Clip(inside, -1, 1)
	if g.V != 0.3 || g.G[0] != 1 {
		t.Fatalf("Clip(0.3,-1,1) = %+v, want pass-through", g)
	}
}
