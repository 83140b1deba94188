package rotation

import (
	"context"
	"strconv"
	"time"

	"github.com/systmms/payment-authgate/internal/metrics"
	"github.com/systmms/payment-authgate/pkg/cache"
)

// usageTrackerTTL bounds how long a recorded use survives in the cache.
// It must outlive any plausible transitionPeriod, since checkProgress
// relies on the entry still being there to prove recent use.
const usageTrackerTTL = 30 * 24 * time.Hour

// UsageTracker records, per (clientId, versionId), the last time that
// version authenticated a request. checkProgress consults it to decide
// whether an OLD_DEPRECATED version has gone unused for the configured
// grace window and can safely advance to NEW_ACTIVE.
//
// It is backed by the shared Cache rather than an in-process map: RecordUse
// is called from the EAPI process on every successful authentication, while
// UnusedFor is consulted by the scheduler process's CheckProgress sweep — an
// in-memory tracker cannot bridge the two.
type UsageTracker struct {
	store cache.Cache
}

// NewUsageTracker wraps store as a UsageTracker. Callers in EAPI and the
// scheduler must point store at the same Redis keyspace for RecordUse and
// UnusedFor to observe each other's writes.
func NewUsageTracker(store cache.Cache) *UsageTracker {
	return &UsageTracker{store: store}
}

func usageKey(clientID, versionID string) string {
	return clientID + "/" + versionID
}

// RecordUse stamps clientID/versionID as used now, and reflects it in the
// authgate_rotation_version_last_used_seconds gauge.
func (u *UsageTracker) RecordUse(ctx context.Context, clientID, versionID string) {
	now := time.Now().UTC()
	value := strconv.FormatInt(now.Unix(), 10)
	_ = u.store.Put(ctx, usageKey(clientID, versionID), []byte(value), usageTrackerTTL)
	metrics.RotationVersionLastUsedSeconds.WithLabelValues(clientID, versionID).Set(float64(now.Unix()))
}

// UnusedFor reports whether clientID/versionID has gone unused for at
// least grace. A version never recorded as used, or whose record could not
// be read, is treated as unused.
func (u *UsageTracker) UnusedFor(ctx context.Context, clientID, versionID string, grace time.Duration) bool {
	raw, ok, err := u.store.Get(ctx, usageKey(clientID, versionID))
	if err != nil || !ok {
		return true
	}
	sec, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return true
	}
	last := time.Unix(sec, 0).UTC()
	return time.Since(last) >= grace
}
