package rollback_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/payment-authgate/internal/config"
	"github.com/systmms/payment-authgate/pkg/rotation/rollback"
)

func TestTriggerAutomaticSucceeds(t *testing.T) {
	m := rollback.NewManager(config.RollbackConfig{Automatic: true, MaxRetries: 1, TimeoutSeconds: 1}, nil)

	result, err := m.TriggerAutomatic(context.Background(), rollback.Request{
		ClientID:     "vendor_xyz",
		Reason:       "verification failed",
		OldVersionID: "v1",
		NewVersionID: "v2",
		RestoreFunc:  func(context.Context) error { return nil },
		VerifyFunc:   func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, rollback.StateCompleted, result.State)
}

func TestTriggerAutomaticDisabledReturnsError(t *testing.T) {
	m := rollback.NewManager(config.RollbackConfig{Automatic: false}, nil)

	_, err := m.TriggerAutomatic(context.Background(), rollback.Request{ClientID: "vendor_xyz"})
	assert.Error(t, err)
}

func TestExecuteRetriesThenFails(t *testing.T) {
	m := rollback.NewManager(config.RollbackConfig{Automatic: true, MaxRetries: 2, TimeoutSeconds: 1}, nil)

	attempts := 0
	result, err := m.TriggerManual(context.Background(), rollback.Request{
		ClientID:    "vendor_xyz",
		Reason:      "health check failed",
		RestoreFunc: func(context.Context) error { attempts++; return errors.New("restore unavailable") },
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, attempts)
}

func TestRejectsConcurrentRollbackForSameClient(t *testing.T) {
	m := rollback.NewManager(config.RollbackConfig{Automatic: true, MaxRetries: 0, TimeoutSeconds: 1}, nil)
	blockCh := make(chan struct{})

	go func() {
		_, _ = m.TriggerManual(context.Background(), rollback.Request{
			ClientID: "vendor_xyz",
			RestoreFunc: func(context.Context) error {
				<-blockCh
				return nil
			},
		})
	}()

	assert.Eventually(t, func() bool {
		state := m.GetState("vendor_xyz")
		return state != nil && state.Snapshot() != rollback.StateIdle
	}, 1000, 10)

	_, err := m.TriggerManual(context.Background(), rollback.Request{ClientID: "vendor_xyz"})
	assert.Error(t, err)
	close(blockCh)
}
