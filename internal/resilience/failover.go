package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every backend of a [Failover]
// either failed or was rejected by its breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

// backend pairs one instance with its dedicated breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover tries equivalent backends in registration order, skipping
// those whose breaker is open. Each backend gets its own breaker built
// from the options passed to [NewFailover].
//
// Registration happens at wiring time; after that a Failover is safe
// for concurrent use.
type Failover[T any] struct {
	backends []backend[T]
	opts     []BreakerOption
}

// NewFailover creates a [Failover] with primary as the preferred
// backend. The breaker options apply to every backend added.
func NewFailover[T any](name string, primary T, opts ...BreakerOption) *Failover[T] {
	f := &Failover[T]{opts: opts}
	f.Add(name, primary)
	return f
}

// Add registers a further backend, tried after all earlier ones.
func (f *Failover[T]) Add(name string, value T) {
	f.backends = append(f.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(name, f.opts...),
	})
}

// Names lists the backends in trial order.
func (f *Failover[T]) Names() []string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.name
	}
	return names
}

// Primary returns the preferred backend's value.
func (f *Failover[T]) Primary() T {
	return f.backends[0].value
}

// Do runs fn against each backend in order until one succeeds. Backends
// with open breakers are skipped without being called.
func (f *Failover[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		err := b.breaker.Do(func() error { return fn(b.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		logBackendFailure(b.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

// Call is the result-carrying variant of [Failover.Do]. It is a
// package-level function because methods cannot add type parameters.
func Call[T, R any](f *Failover[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range f.backends {
		b := &f.backends[i]
		var result R
		err := b.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(b.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logBackendFailure(b.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}

func logBackendFailure(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping backend, breaker open", "backend", name)
		return
	}
	slog.Warn("backend failed, trying next", "backend", name, "error", err)
}
