// Package backoff provides retry delay strategies. Strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) Constant {
	return Constant{Interval: interval}
}

func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, max time.Duration) Exponential {
	return Exponential{Initial: initial, Max: max}
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && (d > e.Max || d <= 0) {
		return e.Max
	}
	return d
}

// ExponentialJitter picks a random delay in (base/2, base] where base grows
// exponentially. The jitter spreads out retries of jobs that failed together.
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponentialJitter(initial, max time.Duration) ExponentialJitter {
	return ExponentialJitter{Initial: initial, Max: max}
}

func (e ExponentialJitter) Delay(attempt int) time.Duration {
	base := Exponential{Initial: e.Initial, Max: e.Max}.Delay(attempt)
	if base <= 0 {
		return 0
	}
	half := base / 2
	return half + time.Duration(rand.Int63n(int64(half) + 1))
}
