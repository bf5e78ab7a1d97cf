package application

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/persistence/jsonfile"
	"github.com/example/safehome/internal/testfixtures"
)

func TestEventLogPersistsAndMirrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	harness := testfixtures.NewSQLiteHarness(t)
	clk := testfixtures.NewClock(testfixtures.ReferenceTime())
	var mirror bytes.Buffer
	log := NewEventLog(harness.Store, &mirror, clk.Now, nil)

	first := log.Record(ctx, LevelInfo, "system", "System turned on", EventRefs{})
	clk.Advance(time.Second)
	second := log.Record(ctx, LevelWarning, "camera", "Access denied to camera 3", CameraRef(3))
	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing IDs, got %d and %d", first.ID, second.ID)
	}

	wantLine := "2024-01-02T15:04:05Z - INFO system: System turned on\n"
	if !strings.HasPrefix(mirror.String(), wantLine) {
		t.Fatalf("unexpected mirror contents %q", mirror.String())
	}

	entries, err := log.List(ctx, persistence.EventFilter{})
	if err != nil || len(entries) != 2 || entries[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v (%v)", entries, err)
	}
	byCamera, err := log.List(ctx, persistence.EventFilter{CameraID: intPtr(3)})
	if err != nil || len(byCamera) != 1 || byCamera[0].Source != "camera" {
		t.Fatalf("expected camera filter to match one entry, got %+v (%v)", byCamera, err)
	}

	if err := log.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if entries, _ := log.List(ctx, persistence.EventFilter{}); len(entries) != 0 {
		t.Fatalf("expected empty log, got %+v", entries)
	}
}

func TestEventLogVolatileMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := jsonfile.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("jsonfile.Open failed: %v", err)
	}
	log := NewEventLog(store, nil, testfixtures.ReferenceTime, nil)

	for i := 0; i < volatileEventLimit+5; i++ {
		log.Info(ctx, "test", "tick", EventRefs{})
	}
	alarm := log.Record(ctx, LevelAlarm, "intrusion", "INTRUSION DETECTED at sensor 1", SensorRef(1))

	entries, err := log.List(ctx, persistence.EventFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != volatileEventLimit {
		t.Fatalf("expected the volatile log bounded at %d, got %d", volatileEventLimit, len(entries))
	}
	if entries[0].ID != alarm.ID {
		t.Fatalf("expected newest entry first")
	}

	unseen, err := log.UnseenAlarms(ctx, 0)
	if err != nil || len(unseen) != 1 {
		t.Fatalf("expected one unseen alarm, got %+v (%v)", unseen, err)
	}
	if err := log.MarkSeen(ctx, []int64{alarm.ID}); err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if unseen, _ := log.UnseenAlarms(ctx, 0); len(unseen) != 0 {
		t.Fatalf("expected no unseen alarms after MarkSeen, got %+v", unseen)
	}
	if page, _ := log.List(ctx, persistence.EventFilter{Limit: 2, Offset: 1}); len(page) != 2 {
		t.Fatalf("expected a page of two, got %d", len(page))
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEventLogSwallowsMirrorFailures(t *testing.T) {
	t.Parallel()
	log := NewEventLog(nil, failingWriter{}, testfixtures.ReferenceTime, nil)
	entry := log.Record(context.Background(), LevelError, "system", "boom", EventRefs{})
	if entry.ID != 1 || entry.Message != "boom" {
		t.Fatalf("expected entry recorded despite mirror failure, got %+v", entry)
	}
}
