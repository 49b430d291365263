package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed, was
// skipped, or had an open circuit breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the per-entry breakers. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Skip reports errors that mean "this entry cannot serve the call" rather
	// than "this entry is unhealthy". Such errors move on to the next entry
	// without counting against the entry's breaker.
	Skip func(error) bool
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of the
// same backend type. Entries are tried in registration order; an entry whose
// breaker is open is skipped.
//
// Entries must all be registered before the group is used concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all previously registered ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Names returns entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns the breaker state per entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Execute tries fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg until one succeeds and
// returns its result. If every entry fails the error wraps [ErrAllFailed] and
// the last underlying error. When the only failures were skippable, the last
// skip error is returned unwrapped so callers can match it directly.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero       R
		lastErr    error
		skipErr    error
		anyFailure bool
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var (
			result  R
			skipped error
		)
		err := entry.breaker.Execute(func() error {
			r, err := fn(entry.value)
			if err != nil && fg.cfg.Skip != nil && fg.cfg.Skip(err) {
				skipped = err
				return nil
			}
			result = r
			return err
		})
		switch {
		case skipped != nil:
			skipErr = skipped
			slog.Debug("backend skipped", "backend", entry.name, "reason", skipped)
			continue
		case err == nil:
			return result, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("backend skipped, circuit open", "backend", entry.name)
		default:
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
		lastErr = err
		anyFailure = true
	}
	if !anyFailure && skipErr != nil {
		return zero, skipErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
