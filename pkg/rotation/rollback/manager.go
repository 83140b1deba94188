package rollback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/payment-authgate/internal/config"
	"github.com/systmms/payment-authgate/pkg/rotation/notify"
)

// Manager orchestrates rollback for a failed rotation: restoring the
// pre-rotation vault credential state and verifying the restore worked,
// with bounded retries and a notification on the outcome.
type Manager struct {
	cfg      config.RollbackConfig
	notifier *notify.Manager

	states   map[string]*Info
	statesMu sync.RWMutex
}

// NewManager builds a Manager. notifier may be nil to skip notifications.
func NewManager(cfg config.RollbackConfig, notifier *notify.Manager) *Manager {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Manager{cfg: cfg, notifier: notifier, states: make(map[string]*Info)}
}

// Request carries the restore/verify closures needed for one rollback.
type Request struct {
	ClientID        string
	Reason          string
	OldVersionID    string
	NewVersionID    string
	InitiatedBy     string
	RestoreFunc     func(ctx context.Context) error
	VerifyFunc      func(ctx context.Context) error
}

// Result is the outcome of a rollback attempt.
type Result struct {
	Success  bool
	State    State
	Duration time.Duration
	Attempts int
	Error    error
}

// GetState returns the current rollback Info for clientID, if any.
func (m *Manager) GetState(clientID string) *Info {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	return m.states[clientID]
}

// TriggerAutomatic performs a rollback only if automatic rollback is enabled.
func (m *Manager) TriggerAutomatic(ctx context.Context, req Request) (*Result, error) {
	if !m.cfg.Automatic {
		return nil, fmt.Errorf("automatic rollback is disabled")
	}
	return m.execute(ctx, req)
}

// TriggerManual performs a rollback regardless of the automatic setting,
// for an admin-initiated cancel.
func (m *Manager) TriggerManual(ctx context.Context, req Request) (*Result, error) {
	return m.execute(ctx, req)
}

func (m *Manager) execute(ctx context.Context, req Request) (*Result, error) {
	m.statesMu.Lock()
	state, ok := m.states[req.ClientID]
	if !ok {
		state = NewInfo(req.ClientID)
		m.states[req.ClientID] = state
	}
	current := state.Snapshot()
	if current != StateIdle && !current.IsTerminal() {
		m.statesMu.Unlock()
		return nil, fmt.Errorf("rollback already in progress for %s", req.ClientID)
	}
	state.SetVersionInfo(req.Reason, req.OldVersionID, req.NewVersionID)
	m.statesMu.Unlock()

	result := &Result{}
	timeout := time.Duration(m.cfg.TimeoutSeconds) * time.Second

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if err := state.TransitionTo(StateTriggered, req.Reason, nil); err != nil {
			result.Error = err
			return result, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := m.doRollback(attemptCtx, state, req)
		cancel()

		if err == nil {
			result.Success = true
			result.State = StateCompleted
			result.Duration = state.Duration()
			result.Attempts = state.Attempts
			m.notifyOutcome(req, result, nil)
			return result, nil
		}

		if attempt < m.cfg.MaxRetries {
			_ = state.TransitionTo(StateIdle, "preparing for retry", nil)
			continue
		}

		result.Success = false
		result.State = StateFailed
		result.Duration = state.Duration()
		result.Attempts = state.Attempts
		result.Error = err
		m.notifyOutcome(req, result, err)
		return result, err
	}

	return result, fmt.Errorf("rollback failed after %d attempts", m.cfg.MaxRetries+1)
}

func (m *Manager) doRollback(ctx context.Context, state *Info, req Request) error {
	if err := state.TransitionTo(StateInProgress, "starting rollback", nil); err != nil {
		return err
	}
	if req.RestoreFunc != nil {
		if err := req.RestoreFunc(ctx); err != nil {
			_ = state.TransitionTo(StateFailed, "restore failed", err)
			return fmt.Errorf("restore failed: %w", err)
		}
	}
	if err := state.TransitionTo(StateVerifying, "restore complete, verifying", nil); err != nil {
		return err
	}
	if req.VerifyFunc != nil {
		if err := req.VerifyFunc(ctx); err != nil {
			_ = state.TransitionTo(StateFailed, "verification failed", err)
			return fmt.Errorf("verification failed: %w", err)
		}
	}
	return state.TransitionTo(StateCompleted, "rollback complete", nil)
}

func (m *Manager) notifyOutcome(req Request, result *Result, err error) {
	if m.notifier == nil {
		return
	}
	m.notifier.Send(notify.Event{
		Type:         notify.EventRollback,
		ClientID:     req.ClientID,
		Reason:       req.Reason,
		OldVersionID: req.OldVersionID,
		NewVersionID: req.NewVersionID,
		InitiatedBy:  req.InitiatedBy,
		Error:        err,
		Metadata: map[string]string{
			"attempts": fmt.Sprintf("%d", result.Attempts),
			"success":  fmt.Sprintf("%t", result.Success),
		},
	})
}

// Reset clears rollback tracking for clientID after a successful rotation.
func (m *Manager) Reset(clientID string) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	delete(m.states, clientID)
}
