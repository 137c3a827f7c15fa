package connection

import (
	"fmt"
	"math/rand"
	"time"
)

type Strategy string

const (
	StrategyConstant    Strategy = "constant"
	StrategyExponential Strategy = "exponential"
)

// Policy decides how long to wait before re-establishing a connection.
type Policy struct {
	Strategy Strategy
	Delay    time.Duration
	MaxDelay time.Duration

	// Jitter returns a random duration in [0, max]. Nil uses math/rand.
	Jitter func(max time.Duration) time.Duration
}

// ParsePolicy builds a Policy from configuration values in seconds.
func ParsePolicy(strategy string, delaySeconds, maxDelaySeconds int) (Policy, error) {
	p := Policy{
		Strategy: Strategy(strategy),
		Delay:    time.Duration(delaySeconds) * time.Second,
		MaxDelay: time.Duration(maxDelaySeconds) * time.Second,
	}
	switch p.Strategy {
	case "":
		p.Strategy = StrategyConstant
	case StrategyConstant, StrategyExponential:
	default:
		return Policy{}, fmt.Errorf("unknown reconnect strategy %q", strategy)
	}
	if p.Delay <= 0 {
		return Policy{}, fmt.Errorf("reconnect delay must be positive")
	}
	return p, nil
}

// DefaultMaxDelay caps exponential backoff when no MaxDelay is set.
const DefaultMaxDelay = 5 * time.Minute

// Backoff returns the wait before reconnect attempt n (1-based). Constant
// always waits Delay. Exponential waits Delay*2^(n-1) capped at MaxDelay
// (DefaultMaxDelay when unset), plus jitter of up to half that base.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Delay <= 0 {
		return 0
	}
	if p.Strategy != StrategyExponential {
		return p.Delay
	}
	if attempt < 1 {
		attempt = 1
	}

	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}
	if limit < p.Delay {
		limit = p.Delay
	}

	base := p.Delay
	for i := 1; i < attempt && base < limit; i++ {
		if base > limit/2 {
			base = limit
			break
		}
		base *= 2
	}
	if d := base + p.jitter(base/2); d > base {
		return d
	}
	return base
}

func (p Policy) jitter(max time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(max)
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
