package memory

import (
	"math"
	"time"
)

// bayesianUpdate computes the posterior confidence for a pattern given
// its prior confidence and accumulated successes/failures.
//
// The prior is treated as the mean of a Beta distribution with
// pseudo-count strength cfg.PriorStrength:
//
//	alpha = prior*strength + successes
//	beta  = (1-prior)*strength + failures
//	posterior = alpha / (alpha + beta)
//
// The result is always clamped into the configured confidence bounds,
// so even degenerate inputs (successes=failures=0) stay in range.
func bayesianUpdate(cfg Config, prior float64, successes, failures int) float64 {
	prior = cfg.Clamp(prior)

	alpha := prior*cfg.PriorStrength + float64(successes)
	beta := (1-prior)*cfg.PriorStrength + float64(failures)

	if alpha+beta == 0 {
		return cfg.Clamp(cfg.InitialConfidence)
	}
	return cfg.Clamp(alpha / (alpha + beta))
}

// ema folds a new sample into an exponential moving average:
// new = (1-alpha)*old + alpha*sample.
func ema(old, sample, alpha float64) float64 {
	return (1-alpha)*old + alpha*sample
}

// decayedValue applies exponential per-day decay to a value:
// value * rate^ageDays. Non-positive ages leave the value untouched,
// so the result is monotonically non-increasing in age.
func decayedValue(value, rate float64, age time.Duration) float64 {
	days := age.Hours() / 24
	if days <= 0 {
		return value
	}
	return value * math.Pow(rate, days)
}
