package authtranslator

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// applyBackoff increments clientID's rolling failure counter and, once it
// crosses FailureThreshold within Window, sleeps a capped exponential
// delay computed from a per-clientId rate.Limiter before the caller
// responds. This is deliberately not a 429 and never a permanent lockout,
// per the rate-limit design decision.
func (a *AuthTranslator) applyBackoff(ctx context.Context, clientID string) {
	a.failuresMu.Lock()
	now := time.Now()
	fw, ok := a.failures[clientID]
	if !ok || now.After(fw.windowEnd) {
		fw = &failureWindow{count: 0, windowEnd: now.Add(a.rateCfg.Window)}
		a.failures[clientID] = fw
	}
	fw.count++
	count := fw.count
	if fw.limiter == nil {
		fw.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	limiter := fw.limiter
	a.failuresMu.Unlock()

	if count < a.rateCfg.FailureThreshold {
		return
	}

	over := count - a.rateCfg.FailureThreshold + 1
	delay := time.Duration(float64(a.rateCfg.BackoffBase) * math.Pow(2, float64(over-1)))
	if delay > a.rateCfg.BackoffMax {
		delay = a.rateCfg.BackoffMax
	}

	// Re-tune the limiter to admit exactly one event per delay, then
	// reserve against it; Delay() gives the exponential-backoff wait
	// without hand-rolling timer math for the tokening itself.
	limiter.SetLimit(rate.Every(delay))
	reservation := limiter.ReserveN(now, 1)
	wait := reservation.Delay()
	if wait <= 0 {
		return
	}
	if wait > a.rateCfg.BackoffMax {
		wait = a.rateCfg.BackoffMax
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		reservation.Cancel()
	}
}

func (a *AuthTranslator) resetFailures(clientID string) {
	a.failuresMu.Lock()
	delete(a.failures, clientID)
	a.failuresMu.Unlock()
}
