package frameack

import "time"

// RateLimiter is a leaky-bucket byte-rate meter (spec.md §4.4): credit
// regenerates continuously with wall time up to a burst cap, and every send
// spends credit. Nothing in the teacher repo throttles send rate (RakNet
// relies on the OS socket and ack/nack alone), so this is grounded directly
// on spec.md's bucket description.
type RateLimiter struct {
	ratePerSec float64
	burst      float64
	credit     float64
	last       time.Time
}

// NewRateLimiter creates a limiter capped at ratePerSec bytes/second with a
// burst allowance of one second's worth of traffic, starting full.
func NewRateLimiter(ratePerSec float64, now time.Time) *RateLimiter {
	return &RateLimiter{
		ratePerSec: ratePerSec,
		burst:      ratePerSec,
		credit:     ratePerSec,
		last:       now,
	}
}

// SetRate updates the effective rate, e.g. when the remote's advertised
// max_receive_rate changes the effective min() per spec.md §4.4.
func (r *RateLimiter) SetRate(ratePerSec float64) {
	r.ratePerSec = ratePerSec
	r.burst = ratePerSec
	if r.credit > r.burst {
		r.credit = r.burst
	}
}

func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.last).Seconds()
	if elapsed <= 0 {
		return
	}
	r.credit += elapsed * r.ratePerSec
	if r.credit > r.burst {
		r.credit = r.burst
	}
	r.last = now
}

// Allow reports whether n bytes may be sent now without exceeding the rate
// cap, and if so spends the corresponding credit.
func (r *RateLimiter) Allow(now time.Time, n int) bool {
	r.refill(now)
	cost := float64(n)
	if r.credit < cost {
		return false
	}
	r.credit -= cost
	return true
}

// Credit reports the currently available byte credit, for diagnostics and
// metrics export.
func (r *RateLimiter) Credit(now time.Time) float64 {
	r.refill(now)
	return r.credit
}
