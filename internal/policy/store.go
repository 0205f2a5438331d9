package policy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// SnapshotID names the Q-table snapshot persisted per tenant.
const SnapshotID = "default"

// SnapshotSource loads persisted Q-table snapshots. Satisfied by
// domain.Repository.
type SnapshotSource interface {
	GetQTable(ctx context.Context, tenantID string, policyID string) ([]byte, error)
}

// Store hands out one policy per tenant, so every caller selects from
// the same learned table: the scaling worker and manual campaign ticks
// see identical values. A persisted snapshot is restored the first
// time a tenant's policy is requested.
type Store struct {
	mu       sync.Mutex
	cfg      domain.PolicyConfig
	source   SnapshotSource
	policies map[string]*Policy
}

// NewStore creates a policy store. A nil source skips snapshot
// restoration and hands out cold policies.
func NewStore(cfg domain.PolicyConfig, source SnapshotSource) *Store {
	return &Store{
		cfg:      cfg,
		source:   source,
		policies: make(map[string]*Policy),
	}
}

// For returns the tenant's policy, creating and restoring it on first
// use.
func (s *Store) For(ctx context.Context, tenantID string) *Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pol, ok := s.policies[tenantID]; ok {
		return pol
	}

	pol := New(s.cfg)
	if s.source != nil {
		if snap, err := s.source.GetQTable(ctx, tenantID, SnapshotID); err == nil {
			if err := pol.Restore(snap); err != nil {
				slog.Warn("ignoring corrupt policy snapshot",
					"tenant_id", tenantID,
					"error", err,
				)
			}
		}
	}

	s.policies[tenantID] = pol
	return pol
}
