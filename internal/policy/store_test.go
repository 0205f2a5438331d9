package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// snapshotSourceFunc adapts a function to the SnapshotSource interface.
type snapshotSourceFunc func(ctx context.Context, tenantID, policyID string) ([]byte, error)

func (f snapshotSourceFunc) GetQTable(ctx context.Context, tenantID, policyID string) ([]byte, error) {
	return f(ctx, tenantID, policyID)
}

var errNoSnapshot = errors.New("no snapshot")

func TestStore(t *testing.T) {
	ctx := context.Background()
	cfg := domain.PolicyConfig{Epsilon: 0, Alpha: 0.5, Gamma: 0.9, Seed: 42}

	s1 := State{SpendBin: 1}
	s2 := State{SpendBin: 2}

	t.Run("SharedBetweenCallers", func(t *testing.T) {
		store := NewStore(cfg, nil)

		first := store.For(ctx, "tenant-001")
		first.Update(s1, domain.ActionScaleUp, 10.0, s2)

		second := store.For(ctx, "tenant-001")
		if second != first {
			t.Fatal("expected the same policy instance for repeated lookups")
		}
		if got := second.QValue(s1, domain.ActionScaleUp); got != 5.0 {
			t.Errorf("QValue = %v, want 5.0", got)
		}
	})

	t.Run("TenantsLearnIndependently", func(t *testing.T) {
		store := NewStore(cfg, nil)

		store.For(ctx, "tenant-001").Update(s1, domain.ActionScaleUp, 10.0, s2)

		if got := store.For(ctx, "tenant-002").QValue(s1, domain.ActionScaleUp); got != 0 {
			t.Errorf("tenant-002 QValue = %v, want 0", got)
		}
	})

	t.Run("RestoresPersistedSnapshot", func(t *testing.T) {
		trained := New(cfg)
		trained.Update(s1, domain.ActionScaleUp, 10.0, s2)
		snap, err := trained.Snapshot()
		if err != nil {
			t.Fatalf("failed to snapshot policy: %v", err)
		}

		store := NewStore(cfg, snapshotSourceFunc(func(_ context.Context, tenantID, policyID string) ([]byte, error) {
			if tenantID != "tenant-001" || policyID != SnapshotID {
				return nil, errNoSnapshot
			}
			return snap, nil
		}))

		if got := store.For(ctx, "tenant-001").QValue(s1, domain.ActionScaleUp); got != 5.0 {
			t.Errorf("restored QValue = %v, want 5.0", got)
		}
		if got := store.For(ctx, "tenant-002").StateCount(); got != 0 {
			t.Errorf("tenant without snapshot StateCount = %d, want 0", got)
		}
	})

	t.Run("CorruptSnapshotStartsCold", func(t *testing.T) {
		store := NewStore(cfg, snapshotSourceFunc(func(context.Context, string, string) ([]byte, error) {
			return []byte("{not json"), nil
		}))

		pol := store.For(ctx, "tenant-001")
		if got := pol.StateCount(); got != 0 {
			t.Errorf("StateCount = %d, want 0", got)
		}
		pol.Update(s1, domain.ActionScaleUp, 10.0, s2)
		if got := pol.QValue(s1, domain.ActionScaleUp); got != 5.0 {
			t.Errorf("QValue after update = %v, want 5.0", got)
		}
	})
}
