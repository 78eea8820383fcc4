package binfit

import "math"

// D2 is a forward second-order dual number: a scalar value together with
// its gradient and Hessian with respect to a fixed, caller-chosen
// parameter vector of length N. Elementary operations propagate all three
// simultaneously, which is exact (not a finite-difference approximation)
// and cheap as long as N stays small — exactly the case here, since every
// D2 computed in this module is local to one bin and carries at most
// nparms+2 components (see likelihood.go). This plays the role gorgonia's
// tape machine plays in invertedv-seafan/nn.go, specialized to forward-mode
// second-order propagation since gorgonia's own reverse-mode tape does not
// expose a dense Hessian.
type D2 struct {
	V float64
	G []float64 // length N
	H []float64 // length N*N, row-major, symmetric
}

// NewConst returns a D2 with zero gradient and Hessian: a plain number
// lifted into the dual space of size n.
func NewConst(n int, v float64) D2 {
	return D2{V: v, G: make([]float64, n), H: make([]float64, n*n)}
}

// NewVar returns the D2 representing the i-th coordinate of an n-vector:
// value v, gradient e_i, zero Hessian.
func NewVar(n, i int, v float64) D2 {
	d := NewConst(n, v)
	d.G[i] = 1
	return d
}

func (a D2) n() int { return len(a.G) }

// Add returns a+b.
func Add(a, b D2) D2 {
	n := a.n()
	r := D2{V: a.V + b.V, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = a.G[i] + b.G[i]
	}
	for i := range r.H {
		r.H[i] = a.H[i] + b.H[i]
	}
	return r
}

// Sub returns a-b.
func Sub(a, b D2) D2 { return Add(a, Neg(b)) }

// Neg returns -a.
func Neg(a D2) D2 {
	n := a.n()
	r := D2{V: -a.V, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = -a.G[i]
	}
	for i := range r.H {
		r.H[i] = -a.H[i]
	}
	return r
}

// ScaleConst returns c*a for a plain float64 constant c (c carries no
// derivative of its own).
func ScaleConst(a D2, c float64) D2 {
	n := a.n()
	r := D2{V: c * a.V, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = c * a.G[i]
	}
	for i := range r.H {
		r.H[i] = c * a.H[i]
	}
	return r
}

// AddConst returns a+c for a plain float64 constant c.
func AddConst(a D2, c float64) D2 {
	r := a
	r.V = a.V + c
	r.G = append([]float64(nil), a.G...)
	r.H = append([]float64(nil), a.H...)
	return r
}

// Mul returns a*b via the product rule: (ab)'' = a''b + 2a'b' + ab''.
func Mul(a, b D2) D2 {
	n := a.n()
	r := D2{V: a.V * b.V, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = a.G[i]*b.V + a.V*b.G[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := i*n + j
			r.H[k] = a.H[k]*b.V + a.G[i]*b.G[j] + a.G[j]*b.G[i] + a.V*b.H[k]
		}
	}
	return r
}

// Inv returns 1/a. a.V must be nonzero.
func Inv(a D2) D2 {
	n := a.n()
	v := 1.0 / a.V
	r := D2{V: v, G: make([]float64, n), H: make([]float64, n*n)}
	v2 := v * v
	v3 := v2 * v
	for i := 0; i < n; i++ {
		r.G[i] = -v2 * a.G[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := i*n + j
			r.H[k] = 2*v3*a.G[i]*a.G[j] - v2*a.H[k]
		}
	}
	return r
}

// Div returns a/b.
func Div(a, b D2) D2 { return Mul(a, Inv(b)) }

// Exp returns exp(a).
func Exp(a D2) D2 {
	n := a.n()
	v := math.Exp(a.V)
	r := D2{V: v, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = v * a.G[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := i*n + j
			r.H[k] = v * (a.G[i]*a.G[j] + a.H[k])
		}
	}
	return r
}

// Log returns log(a). a.V must be positive.
func Log(a D2) D2 {
	n := a.n()
	v := math.Log(a.V)
	inv := 1.0 / a.V
	inv2 := inv * inv
	r := D2{V: v, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = inv * a.G[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := i*n + j
			r.H[k] = inv*a.H[k] - inv2*a.G[i]*a.G[j]
		}
	}
	return r
}

// Square returns a*a (specialized for efficiency over Mul(a,a)).
func Square(a D2) D2 {
	n := a.n()
	r := D2{V: a.V * a.V, G: make([]float64, n), H: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		r.G[i] = 2 * a.V * a.G[i]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			k := i*n + j
			r.H[k] = 2 * (a.G[i]*a.G[j] + a.V*a.H[k])
		}
	}
	return r
}

// Clip returns a clipped to [lo, hi]. Outside the open interval the result
// is the constant bound (zero gradient/Hessian); this matches the
// saturating behavior of the asymmetric-interpolation polynomial's tails
// (see expectation.go's alpha).
func Clip(a D2, lo, hi float64) D2 {
	if a.V <= lo {
		return NewConst(a.n(), lo)
	}
	if a.V >= hi {
		return NewConst(a.n(), hi)
	}
	return a
}

// Sum adds a slice of D2 values in the same space.
func Sum(xs []D2, n int) D2 {
	r := NewConst(n, 0)
	for _, x := range xs {
		r = Add(r, x)
	}
	return r
}

// Hessian returns d.H reshaped as a row-major n*n slice (already the
// native storage; provided for readability at call sites).
func (d D2) Hessian() []float64 { return d.H }
