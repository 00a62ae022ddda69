package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dmagent/internal/journal"
	"dmagent/internal/testsupport"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	return testsupport.MustOpenJournal(t, testsupport.NewConfig(t))
}

func TestRecordAndList(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []journal.Entry{
		{TaskID: "t1", Name: "timeInfo", Status: journal.StatusSucceeded, StartedAt: base, FinishedAt: base.Add(time.Second)},
		{TaskID: "t2", Name: "updates", Status: journal.StatusFailed, Error: "download u1: store unavailable", StartedAt: base.Add(2 * time.Second), FinishedAt: base.Add(5 * time.Second)},
		{TaskID: "t3", Name: "timeInfo", Status: journal.StatusSucceeded, Summary: "ok", StartedAt: base.Add(6 * time.Second), FinishedAt: base.Add(7 * time.Second)},
	}
	for _, e := range entries {
		if _, err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record %s: %v", e.TaskID, err)
		}
	}

	all, err := store.List(ctx, journal.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].TaskID != "t3" || all[2].TaskID != "t1" {
		t.Fatalf("list order = %+v", all)
	}
	if all[1].Duration != 3*time.Second || all[1].Error == "" {
		t.Fatalf("failed entry = %+v", all[1])
	}
	if !all[2].FinishedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("finished = %v", all[2].FinishedAt)
	}

	failed, err := store.List(ctx, journal.ListOptions{Status: journal.StatusFailed})
	if err != nil || len(failed) != 1 || failed[0].TaskID != "t2" {
		t.Fatalf("failed filter = %+v err %v", failed, err)
	}
	named, err := store.List(ctx, journal.ListOptions{Name: "timeInfo", Limit: 1})
	if err != nil || len(named) != 1 || named[0].TaskID != "t3" {
		t.Fatalf("name filter = %+v err %v", named, err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[journal.StatusSucceeded] != 2 || counts[journal.StatusFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRecordValidates(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Record(ctx, journal.Entry{Name: "x", Status: journal.StatusSucceeded}); err == nil {
		t.Fatal("expected error for missing task id")
	}
	if _, err := store.Record(ctx, journal.Entry{TaskID: "a", Status: "exploded"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := store.Record(ctx, journal.Entry{TaskID: "dup", Status: journal.StatusSucceeded}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := store.Record(ctx, journal.Entry{TaskID: "dup", Status: journal.StatusSucceeded}); err == nil {
		t.Fatal("expected error for duplicate task id")
	}
}

func TestGetAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	oldID, err := store.Record(ctx, journal.Entry{TaskID: "old", Name: "apps", Status: journal.StatusSucceeded, FinishedAt: old})
	if err != nil {
		t.Fatalf("Record old: %v", err)
	}
	newID, err := store.Record(ctx, journal.Entry{TaskID: "new", Name: "apps", Status: journal.StatusSucceeded})
	if err != nil {
		t.Fatalf("Record new: %v", err)
	}

	got, err := store.Get(ctx, oldID)
	if err != nil || got.TaskID != "old" {
		t.Fatalf("Get = %+v err %v", got, err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Prune removed %d err %v", removed, err)
	}
	if _, err := store.Get(ctx, oldID); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("Get pruned = %v", err)
	}
	if _, err := store.Get(ctx, newID); err != nil {
		t.Fatalf("Get kept: %v", err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := journal.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := store.Record(context.Background(), journal.Entry{TaskID: "keep", Status: journal.StatusSucceeded}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	reopened, err := journal.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), journal.ListOptions{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %+v err %v", entries, err)
	}
}
