package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the delay before connect attempt N (1-based).
// rng is owned by the calling connect worker; each worker carries its own
// because cancelled workers keep retrying concurrently with their
// replacement. A nil rng collapses jitter to the low end of the window.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}

	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= jitterFactor(rng)
	}
	return time.Duration(delay)
}

// jitterFactor spreads concurrent retries over [0.5, 1.5) of the base delay.
func jitterFactor(rng *rand.Rand) float64 {
	if rng == nil {
		return 0.5
	}
	return 0.5 + rng.Float64()
}
