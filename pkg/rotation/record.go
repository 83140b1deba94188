package rotation

import "time"

// Record is the persistent, transactional record of one rotation. Exactly
// one non-terminal record may exist per clientId unless initiate was given
// force=true, in which case the bypass is itself recorded.
type Record struct {
	RotationID              string
	ClientID                string
	State                   State
	OldVersionID            string
	NewVersionID            string
	StartedAt               time.Time
	DeprecatedAt            *time.Time
	CompletedAt             *time.Time
	TransitionPeriodSeconds int
	Reason                  string
	FailureReason           string
	Version                 int // optimistic concurrency token
}

// Done reports whether Record has reached a terminal state.
func (r Record) Done() bool {
	return r.State.IsTerminal()
}
