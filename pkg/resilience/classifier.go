package resilience

import (
	"errors"

	apperrors "github.com/guardkit/guardkit/pkg/errors"
)

// FailureFilter decides whether a fault counts toward a guard's accounting.
// The same rule shape is used by the circuit breaker ("counts as failure"),
// the retrier ("is retryable") and the fallback executor ("triggers
// fallback") - only the configured lists differ per guard.
//
// A Predicate, when set, takes precedence over the allow-lists. Otherwise a
// fault counts iff it matches any entry in Targets (via errors.Is) or any
// entry in Types. An empty filter counts every fault.
type FailureFilter struct {
	// Predicate overrides the allow-lists when non-nil
	Predicate func(error) bool
	// Targets is matched with errors.Is
	Targets []error
	// Types is matched against the AppError taxonomy
	Types []apperrors.ErrorType
}

// MatchAll returns a filter under which every fault counts
func MatchAll() FailureFilter {
	return FailureFilter{}
}

// MatchErrors returns a filter counting faults that match any of errs
func MatchErrors(errs ...error) FailureFilter {
	return FailureFilter{Targets: errs}
}

// MatchTypes returns a filter counting faults of the given error types
func MatchTypes(types ...apperrors.ErrorType) FailureFilter {
	return FailureFilter{Types: types}
}

// MatchFunc returns a filter driven entirely by a predicate
func MatchFunc(fn func(error) bool) FailureFilter {
	return FailureFilter{Predicate: fn}
}

// ShouldCount reports whether the fault counts under this filter.
// A nil fault never counts.
func (f FailureFilter) ShouldCount(err error) bool {
	if err == nil {
		return false
	}

	if f.Predicate != nil {
		return f.Predicate(err)
	}

	if len(f.Targets) == 0 && len(f.Types) == 0 {
		return true
	}

	for _, target := range f.Targets {
		if errors.Is(err, target) {
			return true
		}
	}

	for _, t := range f.Types {
		if apperrors.IsType(err, t) {
			return true
		}
	}

	return false
}
