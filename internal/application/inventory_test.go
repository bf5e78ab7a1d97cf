package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/safehome/internal/testfixtures"
)

type leafRecorder struct {
	mu     sync.Mutex
	leaves []SensorDevice
}

func (r *leafRecorder) build(kind SensorKind) SensorDevice {
	leaf := SimulatedSensors(kind)
	r.mu.Lock()
	r.leaves = append(r.leaves, leaf)
	r.mu.Unlock()
	return leaf
}

func TestSensorInventory(t *testing.T) {
	t.Parallel()

	t.Run("reload continues the id sequence", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		first := NewSensorInventory(harness.Store, nil, nil)
		_ = first.Load(ctx)
		for _, loc := range []string{"Door", "Window", "Hall"} {
			if _, err := first.Add(ctx, SensorWinDoor, loc, nil); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}
		if err := first.Remove(ctx, 2); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := first.Arm(ctx, 3); err != nil {
			t.Fatalf("Arm failed: %v", err)
		}

		second := NewSensorInventory(harness.Store, nil, nil)
		if err := second.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if total, active := second.Count(); total != 2 || active != 1 {
			t.Fatalf("expected 2 sensors with 1 active, got %d/%d", total, active)
		}
		added, err := second.Add(ctx, SensorMotion, "Garage", nil)
		if err != nil || added.ID != 4 {
			t.Fatalf("expected next id 4, got %+v (%v)", added, err)
		}
	})

	t.Run("remove stops the leaf", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		leaves := &leafRecorder{}
		inv := NewSensorInventory(harness.Store, leaves.build, nil)
		st, _ := inv.Add(ctx, SensorMotion, "Hall", nil)
		_ = inv.Arm(ctx, st.ID)

		if err := inv.Remove(ctx, st.ID); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		leaf := leaves.leaves[0]
		leaf.Arm()
		leaf.Trigger()
		if leaf.Armed() || leaf.Read() {
			t.Fatalf("expected removed leaf inert")
		}
		if inv.Exists(st.ID) {
			t.Fatalf("expected sensor gone")
		}
		if err := inv.Remove(ctx, st.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("detection requires an armed triggered sensor", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		inv := NewSensorInventory(testfixtures.NewSQLiteHarness(t).Store, nil, nil)
		st, _ := inv.Add(ctx, SensorWinDoor, "Door", nil)

		_ = inv.Trigger(st.ID)
		if inv.IsDetecting(st.ID) || len(inv.Detecting()) != 0 {
			t.Fatalf("an inactive sensor must not detect")
		}
		if open := inv.OpenWinDoors(); len(open) != 1 || open[0] != st.ID {
			t.Fatalf("expected door reported open, got %v", open)
		}
		_ = inv.Arm(ctx, st.ID)
		if !inv.IsDetecting(st.ID) {
			t.Fatalf("expected detection once armed")
		}
		if err := inv.Trigger(99); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		t.Parallel()
		inv := NewSensorInventory(testfixtures.NewSQLiteHarness(t).Store, nil, nil)
		if _, err := inv.Add(context.Background(), SensorKind("SMOKE"), "Kitchen", nil); !errors.Is(err, ErrBadFormat) {
			t.Fatalf("expected ErrBadFormat, got %v", err)
		}
	})
}

func TestZoneRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)

	first := NewZoneRegistry(harness.Store, testfixtures.ReferenceTime, nil)
	if err := first.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	garden, err := first.Add(ctx, "Garden")
	if err != nil || garden.ID != 3 {
		t.Fatalf("expected zone 3, got %+v (%v)", garden, err)
	}
	if err := first.Rename(ctx, garden.ID, "Back garden"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if err := first.Delete(ctx, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := first.Add(ctx, "  "); !errors.Is(err, ErrBadFormat) {
		t.Fatalf("expected ErrBadFormat, got %v", err)
	}

	second := NewZoneRegistry(harness.Store, testfixtures.ReferenceTime, nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	zones := second.List()
	if len(zones) != 2 || zones[0].Name != "Bedroom" || zones[1].Name != "Back garden" {
		t.Fatalf("expected zones to survive reload, got %+v", zones)
	}
	if _, err := second.Get(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted zone missing, got %v", err)
	}
}
