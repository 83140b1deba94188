package rotation

// AdvancementMode is the closed set of ways checkProgress decides an
// OLD_DEPRECATED rotation is safe to advance to NEW_ACTIVE.
type AdvancementMode string

const (
	// AdvancementTimer advances once transitionPeriod has elapsed since the
	// record entered OLD_DEPRECATED, independent of observed traffic. This
	// is the default: it requires no usage signal and bounds how long a
	// disabled-but-not-yet-removed version lingers.
	AdvancementTimer AdvancementMode = "timer"
	// AdvancementUsage advances once the old version has gone unused for
	// the configured grace window, per UsageTracker.
	AdvancementUsage AdvancementMode = "usage"
)

// ParseAdvancementMode maps rotation.advancement's configured string to an
// AdvancementMode, defaulting to AdvancementTimer for "" or any value other
// than "usage".
func ParseAdvancementMode(s string) AdvancementMode {
	if AdvancementMode(s) == AdvancementUsage {
		return AdvancementUsage
	}
	return AdvancementTimer
}
