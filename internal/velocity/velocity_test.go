package velocity

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("WindowedSum", func(t *testing.T) {
		tracker := NewTracker()

		base := time.Now()
		clock := base
		tracker.now = func() time.Time { return clock }

		_ = tracker.Observe("tenant-1", "camp-001", 10.0)

		clock = base.Add(30 * time.Second)
		_ = tracker.Observe("tenant-1", "camp-001", 20.0)

		clock = base.Add(90 * time.Second)
		_ = tracker.Observe("tenant-1", "camp-001", 5.0)

		// 60s window at t=90s covers the 30s and 90s observations
		total, err := tracker.WindowSpend(ctx, "tenant-1", "camp-001", 60)
		if err != nil {
			t.Fatalf("WindowSpend failed: %v", err)
		}
		if total != 25.0 {
			t.Errorf("expected 25.0 in window, got %v", total)
		}

		// Wide window covers everything
		total, _ = tracker.WindowSpend(ctx, "tenant-1", "camp-001", 3600)
		if total != 35.0 {
			t.Errorf("expected 35.0 total, got %v", total)
		}
	})

	t.Run("EmptyCampaign", func(t *testing.T) {
		tracker := NewTracker()

		total, err := tracker.WindowSpend(ctx, "tenant-1", "camp-unknown", 60)
		if err != nil {
			t.Fatalf("WindowSpend failed: %v", err)
		}
		if total != 0 {
			t.Errorf("expected 0 for unknown campaign, got %v", total)
		}
	})

	t.Run("CampaignIsolation", func(t *testing.T) {
		tracker := NewTracker()

		_ = tracker.Observe("tenant-1", "camp-a", 100.0)
		_ = tracker.Observe("tenant-1", "camp-b", 7.0)

		total, _ := tracker.WindowSpend(ctx, "tenant-1", "camp-b", 3600)
		if total != 7.0 {
			t.Errorf("expected 7.0 for camp-b, got %v", total)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tracker := NewTracker()

		_ = tracker.Observe("tenant-1", "camp-001", 50.0)
		_ = tracker.Observe("tenant-2", "camp-001", 3.0)

		total, _ := tracker.WindowSpend(ctx, "tenant-2", "camp-001", 3600)
		if total != 3.0 {
			t.Errorf("expected 3.0 for tenant-2, got %v", total)
		}
	})

	t.Run("RequiresIdentifiers", func(t *testing.T) {
		tracker := NewTracker()

		if err := tracker.Observe("", "camp-001", 1.0); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := tracker.Observe("tenant-1", "", 1.0); err == nil {
			t.Error("expected error for empty campaignID")
		}
		if _, err := tracker.WindowSpend(ctx, "", "camp-001", 60); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IgnoresNonPositiveAmounts", func(t *testing.T) {
		tracker := NewTracker()

		_ = tracker.Observe("tenant-1", "camp-001", 0)
		_ = tracker.Observe("tenant-1", "camp-001", -10.0)

		total, _ := tracker.WindowSpend(ctx, "tenant-1", "camp-001", 3600)
		if total != 0 {
			t.Errorf("expected 0, got %v", total)
		}
	})

	t.Run("RetentionPruning", func(t *testing.T) {
		tracker := NewTracker()

		base := time.Now()
		clock := base
		tracker.now = func() time.Time { return clock }

		_ = tracker.Observe("tenant-1", "camp-001", 40.0)

		clock = base.Add(25 * time.Hour)
		_ = tracker.Observe("tenant-1", "camp-001", 2.0)

		// First observation is past retention even for a huge window
		total, _ := tracker.WindowSpend(ctx, "tenant-1", "camp-001", 48*3600)
		if total != 2.0 {
			t.Errorf("expected 2.0 after pruning, got %v", total)
		}
	})

	t.Run("ConcurrentObserve", func(t *testing.T) {
		tracker := NewTracker()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					_ = tracker.Observe("tenant-1", "camp-001", 1.0)
				}
			}()
		}
		wg.Wait()

		total, _ := tracker.WindowSpend(ctx, "tenant-1", "camp-001", 3600)
		if total != 1000.0 {
			t.Errorf("expected 1000.0, got %v", total)
		}
	})

	t.Run("SpendGetter", func(t *testing.T) {
		tracker := NewTracker()
		_ = tracker.Observe("tenant-1", "camp-001", 12.5)

		getter := tracker.SpendGetter()
		total, err := getter(ctx, "tenant-1", "camp-001", 3600)
		if err != nil {
			t.Fatalf("getter failed: %v", err)
		}
		if total != 12.5 {
			t.Errorf("expected 12.5, got %v", total)
		}
	})
}
