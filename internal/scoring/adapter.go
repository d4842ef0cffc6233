// Package scoring turns raw domain metrics into the normalized scores
// the memory engine learns against. Each business domain registers an
// adapter that knows which metrics constitute its signal and baseline;
// the score is always (signal / baseline) x context multiplier.
package scoring

import (
	"errors"
	"fmt"
)

// ErrAdapterNotFound is returned when no adapter serves a domain and
// no generic fallback is registered.
var ErrAdapterNotFound = errors.New("scoring adapter not found")

// GenericDomain is the fallback adapter slot.
const GenericDomain = "generic"

// Adapter extracts score components from a domain's raw metrics.
type Adapter interface {
	// Signal returns the achieved value for the run.
	Signal(metrics map[string]float64) float64

	// Baseline returns the reference value the signal is measured
	// against. A zero or missing baseline is normalized to 1 by the
	// registry so scores stay finite.
	Baseline(metrics map[string]float64) float64

	// ContextMultiplier scales the ratio for situational factors
	// (seasonality, account size). Returns 1 when none apply.
	ContextMultiplier(context map[string]float64) float64

	// Validate rejects metric sets the adapter cannot score.
	Validate(metrics map[string]float64) error
}

// Registry maps domains to adapters, falling back to the generic
// adapter for unknown domains.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry pre-populated with the generic
// adapter.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{
		GenericDomain: GenericAdapter{},
	}}
}

// Register binds an adapter to a domain, replacing any previous
// binding.
func (r *Registry) Register(domain string, adapter Adapter) {
	r.adapters[domain] = adapter
}

// Get returns the adapter for a domain, or the generic fallback.
func (r *Registry) Get(domain string) (Adapter, error) {
	if a, ok := r.adapters[domain]; ok {
		return a, nil
	}
	if a, ok := r.adapters[GenericDomain]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, domain)
}

// Score validates the metrics and computes
// (signal / baseline) x multiplier for the domain. A non-positive
// baseline is treated as 1 so a missing reference never divides by
// zero or flips the sign.
func (r *Registry) Score(domain string, metrics, context map[string]float64) (float64, error) {
	adapter, err := r.Get(domain)
	if err != nil {
		return 0, err
	}
	if err := adapter.Validate(metrics); err != nil {
		return 0, fmt.Errorf("invalid metrics for domain %s: %w", domain, err)
	}

	baseline := adapter.Baseline(metrics)
	if baseline <= 0 {
		baseline = 1
	}
	return (adapter.Signal(metrics) / baseline) * adapter.ContextMultiplier(context), nil
}

// GenericAdapter reads "signal" and "baseline" keys directly and
// applies a "multiplier" context key when present.
type GenericAdapter struct{}

// Signal returns the "signal" metric, or 0 when absent.
func (GenericAdapter) Signal(metrics map[string]float64) float64 {
	return metrics["signal"]
}

// Baseline returns the "baseline" metric, or 0 when absent (the
// registry normalizes that to 1).
func (GenericAdapter) Baseline(metrics map[string]float64) float64 {
	return metrics["baseline"]
}

// ContextMultiplier returns the "multiplier" context value, defaulting
// to 1.
func (GenericAdapter) ContextMultiplier(context map[string]float64) float64 {
	if m, ok := context["multiplier"]; ok && m > 0 {
		return m
	}
	return 1
}

// Validate requires a signal metric to be present.
func (GenericAdapter) Validate(metrics map[string]float64) error {
	if _, ok := metrics["signal"]; !ok {
		return fmt.Errorf("metric %q is required", "signal")
	}
	return nil
}
