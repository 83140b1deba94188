package rotation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
	"github.com/systmms/payment-authgate/pkg/rotation/notify"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

// Coordinator drives the rotation state machine. Only one operation per
// rotationId executes at a time: within this process a per-rotationId
// mutex serializes callers, and across processes (admin CLI vs scheduler)
// the store's optimistic-concurrency version column is the guard.
type Coordinator struct {
	store       Store
	vault       vaultclient.VaultClient
	tokenCache  *cache.TokenCache
	usage       *UsageTracker
	advancement AdvancementMode
	notifier    *notify.Manager

	// locks (guarded by locksMu) serializes concurrent callers within this process
	// racing to advance the SAME rotationId; cross-process races are
	// still resolved by Store's optimistic concurrency.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a Coordinator. advancement selects how checkProgress decides an
// OLD_DEPRECATED rotation is safe to advance; AdvancementTimer is used for
// any value other than AdvancementUsage.
func New(store Store, vault vaultclient.VaultClient, tokenCache *cache.TokenCache, usage *UsageTracker, advancement AdvancementMode, notifier *notify.Manager) *Coordinator {
	return &Coordinator{
		store:       store,
		vault:       vault,
		tokenCache:  tokenCache,
		usage:       usage,
		advancement: advancement,
		notifier:    notifier,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (c *Coordinator) lockFor(rotationID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[rotationID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[rotationID] = l
	}
	return l
}

// newRawSecret generates a cryptographically strong random raw secret,
// hex-encoded. This is the only place a freshly generated raw secret is
// ever produced.
func newRawSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate rotation secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// InitiateResult carries the one-time new raw secret back to the
// authenticated caller; it is never persisted or logged.
type InitiateResult struct {
	Record       Record
	NewRawSecret string
}

// Initiate starts a new rotation for clientID. If a non-terminal record
// already exists and force is false, fails ROTATION_IN_PROGRESS.
func (c *Coordinator) Initiate(ctx context.Context, clientID, oldVersionID, reason string, transitionPeriod time.Duration, force bool) (InitiateResult, error) {
	if !force {
		existing, ok, err := c.store.GetActiveForClient(ctx, clientID)
		if err != nil {
			return InitiateResult{}, apierr.Wrap(apierr.CodeSystemError, "check active rotation", err)
		}
		if ok && !existing.Done() {
			return InitiateResult{}, apierr.New(apierr.CodeRotationInProgress, "a rotation is already in progress for this client")
		}
	}

	if oldVersionID == "" {
		active, err := c.vault.GetActiveCredentialVersions(ctx, clientID)
		if err != nil {
			return InitiateResult{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "look up active credential version", err)
		}
		if len(active) == 0 {
			return InitiateResult{}, apierr.New(apierr.CodeInvalidRequest, "client has no active credential version to rotate")
		}
		oldVersionID = active[0]
	}

	rawSecret, err := newRawSecret()
	if err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeSystemError, "generate new secret", err)
	}
	salt, err := credential.NewSalt()
	if err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeSystemError, "generate salt", err)
	}
	hashed, err := credential.Hash(rawSecret, salt)
	if err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeSystemError, "hash new secret", err)
	}

	newVersionID := uuid.NewString()
	if err := c.vault.StoreNewCredentialVersion(ctx, clientID, hashed, salt, newVersionID); err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "store new credential version", err)
	}
	if err := c.vault.ConfigureCredentialTransition(ctx, clientID, oldVersionID, &newVersionID); err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "configure credential transition", err)
	}

	if transitionPeriod <= 0 {
		transitionPeriod = 60 * time.Minute
	}
	rec := Record{
		RotationID:              uuid.NewString(),
		ClientID:                clientID,
		State:                   StateDualActive,
		OldVersionID:            oldVersionID,
		NewVersionID:            newVersionID,
		StartedAt:               time.Now().UTC(),
		TransitionPeriodSeconds: int(transitionPeriod.Seconds()),
		Reason:                  reason,
		Version:                 1,
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		return InitiateResult{}, apierr.Wrap(apierr.CodeSystemError, "persist rotation record", err)
	}

	c.notify(notify.EventInitiated, rec, "", "rotation initiated: dual-active")

	return InitiateResult{Record: rec, NewRawSecret: rawSecret}, nil
}

// Advance validates and performs a single state transition.
func (c *Coordinator) Advance(ctx context.Context, rotationID string, target State) (Record, error) {
	lock := c.lockFor(rotationID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, rotationID)
	if err != nil {
		return Record{}, apierr.Wrap(apierr.CodeRotationNotFound, "rotation not found", err)
	}
	if !CanTransition(rec.State, target) {
		return Record{}, apierr.New(apierr.CodeInvalidStateTransition, fmt.Sprintf("cannot transition from %s to %s", rec.State, target))
	}

	from := rec.State
	switch {
	case rec.State == StateDualActive && target == StateOldDeprecated:
		if err := c.vault.DisableCredentialVersion(ctx, rec.ClientID, rec.OldVersionID); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "disable old credential version", err)
		}
	case rec.State == StateOldDeprecated && target == StateNewActive:
		if err := c.vault.RemoveCredentialVersion(ctx, rec.ClientID, rec.OldVersionID); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "remove old credential version", err)
		}
	}

	rec.State = target
	rec.Version++
	if target == StateOldDeprecated {
		now := time.Now().UTC()
		rec.DeprecatedAt = &now
	}
	if target == StateNewActive {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return Record{}, apierr.Wrap(apierr.CodeSystemError, "persist rotation advance", err)
	}

	if target == StateNewActive && c.tokenCache != nil {
		_ = c.tokenCache.Evict(ctx, rec.ClientID)
	}

	c.notify(notify.EventAdvanced, rec, string(from), fmt.Sprintf("advanced %s -> %s", from, target))
	if target == StateNewActive {
		c.notify(notify.EventCompleted, rec, string(from), "rotation completed")
	}

	return rec, nil
}

// Complete advances unconditionally through any remaining states, used
// when usage metrics already confirm the old version is unused.
func (c *Coordinator) Complete(ctx context.Context, rotationID string) (Record, error) {
	for {
		rec, err := c.store.Get(ctx, rotationID)
		if err != nil {
			return Record{}, apierr.Wrap(apierr.CodeRotationNotFound, "rotation not found", err)
		}
		if rec.Done() {
			return rec, nil
		}
		next := nextState(rec.State)
		if next == "" {
			return rec, apierr.New(apierr.CodeInvalidStateTransition, "no further transition available")
		}
		rec, err = c.Advance(ctx, rotationID, next)
		if err != nil {
			return rec, err
		}
		if rec.Done() {
			return rec, nil
		}
	}
}

func nextState(s State) State {
	switch s {
	case StateInitiated:
		return StateDualActive
	case StateDualActive:
		return StateOldDeprecated
	case StateOldDeprecated:
		return StateNewActive
	default:
		return ""
	}
}

// Cancel aborts a non-terminal rotation, restoring the client's
// pre-rotation vault state as best it can from the current state.
func (c *Coordinator) Cancel(ctx context.Context, rotationID, reason string) (Record, error) {
	lock := c.lockFor(rotationID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := c.store.Get(ctx, rotationID)
	if err != nil {
		return Record{}, apierr.Wrap(apierr.CodeRotationNotFound, "rotation not found", err)
	}
	if rec.Done() {
		return Record{}, apierr.New(apierr.CodeInvalidStateTransition, "rotation already terminal")
	}

	switch rec.State {
	case StateInitiated:
		if err := c.vault.RemoveCredentialVersion(ctx, rec.ClientID, rec.NewVersionID); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "cancel: remove new version", err)
		}
	case StateDualActive:
		if err := c.vault.RemoveCredentialVersion(ctx, rec.ClientID, rec.NewVersionID); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "cancel: remove new version", err)
		}
		if err := c.vault.ConfigureCredentialTransition(ctx, rec.ClientID, rec.OldVersionID, nil); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "cancel: restore old as sole active", err)
		}
	case StateOldDeprecated:
		// The vault API has no explicit re-enable; ConfigureCredentialTransition
		// with the old version as sole primary re-establishes it as active.
		if err := c.vault.ConfigureCredentialTransition(ctx, rec.ClientID, rec.OldVersionID, nil); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "cancel: re-enable old version", err)
		}
		if err := c.vault.RemoveCredentialVersion(ctx, rec.ClientID, rec.NewVersionID); err != nil {
			return Record{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "cancel: remove new version", err)
		}
	}

	from := rec.State
	rec.State = StateFailed
	rec.FailureReason = reason
	rec.Version++
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if err := c.store.Save(ctx, rec); err != nil {
		return Record{}, apierr.Wrap(apierr.CodeSystemError, "persist rotation cancel", err)
	}

	if c.tokenCache != nil {
		_ = c.tokenCache.Evict(ctx, rec.ClientID)
	}

	c.notify(notify.EventFailed, rec, string(from), "rotation cancelled: "+reason)
	return rec, nil
}

// CheckProgress is the scheduler's periodic sweep: DUAL_ACTIVE records
// whose transition period has elapsed advance to OLD_DEPRECATED.
// OLD_DEPRECATED records then advance to NEW_ACTIVE per c.advancement —
// see readyToAdvance. Both lists are read before any record moves, so a
// record advances at most one step per sweep.
func (c *Coordinator) CheckProgress(ctx context.Context, usageGrace time.Duration) error {
	dualActive, err := c.store.ListByState(ctx, StateDualActive)
	if err != nil {
		return fmt.Errorf("list dual-active rotations: %w", err)
	}
	deprecated, err := c.store.ListByState(ctx, StateOldDeprecated)
	if err != nil {
		return fmt.Errorf("list old-deprecated rotations: %w", err)
	}
	for _, rec := range dualActive {
		elapsed := time.Since(rec.StartedAt)
		if elapsed >= time.Duration(rec.TransitionPeriodSeconds)*time.Second {
			if _, err := c.Advance(ctx, rec.RotationID, StateOldDeprecated); err != nil {
				continue
			}
		}
	}

	for _, rec := range deprecated {
		if c.readyToAdvance(ctx, rec, usageGrace) {
			if _, err := c.Advance(ctx, rec.RotationID, StateNewActive); err != nil {
				continue
			}
		}
	}
	return nil
}

// readyToAdvance decides whether an OLD_DEPRECATED record is safe to move
// to NEW_ACTIVE, per c.advancement. AdvancementTimer measures elapsed time
// since the record entered OLD_DEPRECATED against its transition period,
// independent of any usage signal; AdvancementUsage instead requires the
// old version to have gone unused for usageGrace.
func (c *Coordinator) readyToAdvance(ctx context.Context, rec Record, usageGrace time.Duration) bool {
	if c.advancement == AdvancementUsage {
		return c.usage == nil || c.usage.UnusedFor(ctx, rec.ClientID, rec.OldVersionID, usageGrace)
	}
	if rec.DeprecatedAt == nil {
		return false
	}
	return time.Since(*rec.DeprecatedAt) >= time.Duration(rec.TransitionPeriodSeconds)*time.Second
}

func (c *Coordinator) notify(eventType notify.EventType, rec Record, fromState, reason string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Send(notify.Event{
		Type:         eventType,
		ClientID:     rec.ClientID,
		RotationID:   rec.RotationID,
		FromState:    fromState,
		ToState:      string(rec.State),
		Reason:       reason,
		OldVersionID: rec.OldVersionID,
		NewVersionID: rec.NewVersionID,
	})
}
