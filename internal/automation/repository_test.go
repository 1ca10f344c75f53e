package automation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/deskpilot/internal/infrastructure/database"
	"github.com/nerrad567/deskpilot/migrations"
)

// setupTestDB opens an in-memory database with the run log schema.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background(), migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// testRun builds a finished run with one success and one failure.
func testRun(id string, started time.Time) *Run {
	completed := started.Add(250 * time.Millisecond)
	return &Run{
		ID:            id,
		Source:        "test",
		Status:        RunPartial,
		StopOnFailure: false,
		ActionsTotal:  2,
		Succeeded:     1,
		Failed:        1,
		StartedAt:     started,
		CompletedAt:   &completed,
		DurationMS:    250,
		Results: []ResultRecord{
			ActionResult{
				RunID:     id,
				Index:     0,
				Action:    Must(GetPixelColor(5, 6)),
				Success:   true,
				Value:     RGB{R: 1, G: 2, B: 3},
				Duration:  3 * time.Millisecond,
				Timestamp: started,
			}.Record(),
			ActionResult{
				RunID:     id,
				Index:     1,
				Action:    Must(FindImage("ok.png", 0.9, nil)).WithDescription("find ok"),
				Err:       ErrNotFound,
				Duration:  40 * time.Millisecond,
				Timestamp: started.Add(3 * time.Millisecond),
			}.Record(),
		},
	}
}

func TestSQLiteRunRepository_SaveAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)
	if err := repo.SaveRun(ctx, testRun("run-1", started)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	if got.Status != RunPartial || got.Source != "test" || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt == nil || got.DurationMS != 250 {
		t.Errorf("CompletedAt = %v, DurationMS = %d", got.CompletedAt, got.DurationMS)
	}
	if len(got.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(got.Results))
	}

	first := got.Results[0]
	if !first.Success || first.Kind != KindGetPixelColor || first.Action.At == nil || first.Action.At.X != 5 {
		t.Errorf("first result = %+v", first)
	}
	var color RGB
	if raw, ok := first.Value.(json.RawMessage); !ok || json.Unmarshal(raw, &color) != nil || color != (RGB{R: 1, G: 2, B: 3}) {
		t.Errorf("first value = %v", first.Value)
	}

	second := got.Results[1]
	if second.Success || second.ErrorClass != ClassNotFound || second.Description != "find ok" {
		t.Errorf("second result = %+v", second)
	}
	if !errors.Is(second.Err(), ErrNotFound) {
		t.Errorf("second Err() = %v", second.Err())
	}
	if second.Value != nil {
		t.Errorf("failed result value = %v", second.Value)
	}
	if _, err := second.Action.Build(); err != nil {
		t.Errorf("stored action no longer builds: %v", err)
	}
}

func TestSQLiteRunRepository_SaveDuplicateID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)
	ctx := context.Background()

	if err := repo.SaveRun(ctx, testRun("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	dup := testRun("run-1", time.Now().UTC())
	dup.Status = RunFailed
	dup.Results = dup.Results[:1]
	if err := repo.SaveRun(ctx, dup); !errors.Is(err, ErrRunExists) {
		t.Fatalf("second SaveRun error = %v, want ErrRunExists", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunPartial || len(got.Results) != 2 {
		t.Errorf("stored run = %s with %d results, want the first record intact", got.Status, len(got.Results))
	}
}

func TestSQLiteRunRepository_RunExists(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)
	ctx := context.Background()

	if err := repo.SaveRun(ctx, testRun("run-1", time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	for id, want := range map[string]bool{"run-1": true, "run-2": false} {
		got, err := repo.RunExists(ctx, id)
		if err != nil {
			t.Fatalf("RunExists(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("RunExists(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestSQLiteRunRepository_GetRunNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)

	_, err := repo.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("error = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteRunRepository_ListRuns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := repo.SaveRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	runs, err := repo.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("runs = %v, want newest first", runIDs(runs))
	}
	if runs[0].Results != nil {
		t.Error("ListRuns should not load results")
	}

	runs, err = repo.ListRuns(ctx, 2)
	if err != nil || len(runs) != 2 {
		t.Errorf("ListRuns(2) = %d, %v", len(runs), err)
	}
}

func TestSQLiteRunRepository_DeleteRunsBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old-1", "old-2", "new-1"} {
		started := base.Add(time.Duration(i) * time.Hour)
		if err := repo.SaveRun(ctx, testRun(id, started)); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	n, err := repo.DeleteRunsBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("DeleteRunsBefore: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	results, err := repo.ListResults(ctx, "old-1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results of deleted run = %d, want cascade delete", len(results))
	}
	if _, err := repo.GetRun(ctx, "new-1"); err != nil {
		t.Errorf("GetRun(new-1): %v", err)
	}
}

func TestExecutor_RecordsToSQLite(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRunRepository(db.DB)

	exec := NewExecutor(newMockInput(), nil, nil, WithRecorder(repo))
	run, _, err := exec.ExecuteRun(context.Background(), clickTypeSequence(t), RunOptions{Source: "cli"})
	if err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, err := repo.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunCompleted || len(got.Results) != 3 || got.Source != "cli" {
		t.Errorf("stored run = %s, %d results, source %q", got.Status, len(got.Results), got.Source)
	}
}

func runIDs(runs []Run) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}
