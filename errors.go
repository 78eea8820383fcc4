package binfit

import "fmt"

// Kind classifies a fitter error into one of the recoverable categories
// callers are expected to switch on.
type Kind int

const (
	// ConfigConflict marks incompatible options discovered at construction
	// time, e.g. external covariance without chi-square, or BBB together
	// with external covariance.
	ConfigConflict Kind = iota
	// InvalidData marks bad input values: non-positive n_obs where the
	// chosen likelihood forbids it, negative norm, or non-positive kstat
	// with BBB enabled.
	InvalidData
	// NotPositiveDefinite marks a failed Cholesky factorization of the
	// Hessian or one of its sub-blocks.
	NotPositiveDefinite
	// ProjectionError marks an axis name not found in the target channel.
	ProjectionError
	// Unsupported marks a requested combination of options that has no
	// defined semantics (e.g. Bayesian toys with explicit POIs).
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case ConfigConflict:
		return "ConfigConflict"
	case InvalidData:
		return "InvalidData"
	case NotPositiveDefinite:
		return "NotPositiveDefinite"
	case ProjectionError:
		return "ProjectionError"
	case Unsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every exported fitter
// operation that can fail in a defined way. None of these is a crash.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("binfit: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("binfit: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target carries the same Kind, so callers can write
// errors.Is(err, &binfit.Error{Kind: binfit.ConfigConflict}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}
