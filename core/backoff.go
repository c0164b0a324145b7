package core

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultReconnectDelay is the constant delay between stream attempts.
	DefaultReconnectDelay = time.Second
	// DefaultReconnectMaxDelay caps exponential reconnect delays.
	DefaultReconnectMaxDelay = 30 * time.Second
)

// ReconnectPolicy controls the delay between state stream attempts. A
// Multiplier of 1 or less gives a constant Delay; larger multipliers grow the
// delay exponentially up to MaxDelay, which is never unbounded.
type ReconnectPolicy struct {
	Delay      time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter randomizes exponential delays by +/- Jitter (0..1).
	Jitter float64
}

// DefaultReconnectPolicy reconnects after a constant one second.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delay: DefaultReconnectDelay, Multiplier: 1}
}

// Normalize fills zero values and clamps out-of-range fields.
func (p ReconnectPolicy) Normalize() ReconnectPolicy {
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Multiplier > 1 {
		if p.MaxDelay <= 0 {
			p.MaxDelay = DefaultReconnectMaxDelay
		}
		if p.MaxDelay < p.Delay {
			p.MaxDelay = p.Delay
		}
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// NewBackOff returns a fresh backoff sequence for the policy.
func (p ReconnectPolicy) NewBackOff() backoff.BackOff {
	p = p.Normalize()
	if p.Multiplier == 1 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}
