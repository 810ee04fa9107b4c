package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/autofix-playground/internal/apperror"
	"github.com/sakif/autofix-playground/internal/model"
	"github.com/sakif/autofix-playground/internal/repository"
)

// TESTING WITH IN-MEMORY SQLITE:
// Using ":memory:" creates a fresh database that exists only during the test,
// so every test starts from an empty schema.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestWorkspace(t *testing.T, db *DB, name, code string) *model.Workspace {
	t.Helper()
	ws := &model.Workspace{Name: name, Language: "python", Code: code}
	if err := db.Create(context.Background(), ws); err != nil {
		t.Fatalf("failed to create test workspace: %v", err)
	}
	return ws
}

// =========================================================================
// WORKSPACES
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	ws := &model.Workspace{
		Name:       "Hello World",
		Language:   "python",
		Code:       "print('hello')",
		SecretHash: "$2a$10$hash",
	}

	if err := db.Create(context.Background(), ws); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ws.ID == "" {
		t.Error("Create() did not set ws.ID")
	}
	if ws.CreatedAt.IsZero() || ws.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
}

func TestCreate_VerifyPersistence(t *testing.T) {
	db := newTestDB(t)
	original := &model.Workspace{Name: "test", Language: "javascript", Code: "console.log(1)", SecretHash: "h"}
	if err := db.Create(context.Background(), original); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := db.GetByID(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Name != original.Name || got.Language != original.Language || got.Code != original.Code {
		t.Errorf("GetByID() = %+v, want %+v", got, original)
	}
	if got.SecretHash != "h" {
		t.Errorf("SecretHash = %q, want %q", got.SecretHash, "h")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestList_Pagination(t *testing.T) {
	db := newTestDB(t)
	for _, name := range []string{"a", "b", "c"} {
		createTestWorkspace(t, db, name, "")
	}

	tests := []struct {
		name string
		opts repository.ListOptions
		want int
	}{
		{"default limit", repository.ListOptions{}, 3},
		{"limit 2", repository.ListOptions{Limit: 2}, 2},
		{"offset past end", repository.ListOptions{Limit: 10, Offset: 5}, 0},
		{"negative offset", repository.ListOptions{Limit: 10, Offset: -1}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.List(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d workspaces, want %d", len(got), tt.want)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	db := newTestDB(t)
	ws := createTestWorkspace(t, db, "old", "print(1)")

	ws.Name = "new"
	ws.Language = "php"
	ws.Code = "<?php echo 1;"
	if err := db.Update(context.Background(), ws); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := db.GetByID(context.Background(), ws.ID)
	if got.Name != "new" || got.Language != "php" || got.Code != "<?php echo 1;" {
		t.Errorf("after Update() got %+v", got)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.Update(context.Background(), &model.Workspace{ID: "missing", Name: "x", Language: "python"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateCode_KeepsOtherFields(t *testing.T) {
	db := newTestDB(t)
	ws := createTestWorkspace(t, db, "keep me", "print(x)")

	if err := db.UpdateCode(context.Background(), ws.ID, "x = 1\nprint(x)"); err != nil {
		t.Fatalf("UpdateCode() error = %v", err)
	}

	got, _ := db.GetByID(context.Background(), ws.ID)
	if got.Code != "x = 1\nprint(x)" {
		t.Errorf("Code = %q", got.Code)
	}
	if got.Name != "keep me" || got.Language != "python" {
		t.Errorf("UpdateCode() changed other fields: %+v", got)
	}

	if err := db.UpdateCode(context.Background(), "missing", ""); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateCode() on missing id error = %v, want ErrNotFound", err)
	}
}

func TestDelete_CascadesRuns(t *testing.T) {
	db := newTestDB(t)
	ws := createTestWorkspace(t, db, "doomed", "")
	if err := db.CreateRun(context.Background(), &model.RunRecord{WorkspaceID: ws.ID, Kind: model.KindRun, State: model.RunCompleted}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := db.Delete(context.Background(), ws.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := db.GetByID(context.Background(), ws.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v", err)
	}

	runs, err := db.ListRuns(context.Background(), ws.ID, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("runs survived workspace deletion: %d", len(runs))
	}

	if err := db.Delete(context.Background(), ws.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// RUNS
// =========================================================================

func TestCreateRun_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ws := createTestWorkspace(t, db, "runs", "")

	run := &model.RunRecord{
		WorkspaceID: ws.ID,
		Kind:        model.KindInput,
		State:       model.RunAwaitingInput,
		Attempts:    2,
		HadError:    true,
		Latency:     1500 * time.Millisecond,
		Output:      "Enter n:",
	}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == "" {
		t.Fatal("CreateRun() did not set ID")
	}

	runs, err := db.ListRuns(context.Background(), ws.ID, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(runs))
	}

	got := runs[0]
	if got.Kind != model.KindInput || got.State != model.RunAwaitingInput {
		t.Errorf("kind/state = %s/%s", got.Kind, got.State)
	}
	if got.Attempts != 2 || !got.HadError || got.Output != "Enter n:" {
		t.Errorf("got %+v", got)
	}
	if got.Latency != 1500*time.Millisecond {
		t.Errorf("Latency = %v, want 1.5s", got.Latency)
	}
}

func TestCreateRun_UnknownWorkspace(t *testing.T) {
	db := newTestDB(t)
	err := db.CreateRun(context.Background(), &model.RunRecord{WorkspaceID: "missing", Kind: model.KindRun, State: model.RunCompleted})
	if err == nil {
		t.Error("CreateRun() for a missing workspace should violate the foreign key")
	}
}

func TestListRuns_NewestFirstAndScoped(t *testing.T) {
	db := newTestDB(t)
	a := createTestWorkspace(t, db, "a", "")
	b := createTestWorkspace(t, db, "b", "")

	base := time.Now().Add(-time.Hour)
	for i, output := range []string{"first", "second", "third"} {
		run := &model.RunRecord{WorkspaceID: a.ID, Kind: model.KindRun, State: model.RunCompleted, Output: output, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateRun(context.Background(), run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}
	if err := db.CreateRun(context.Background(), &model.RunRecord{WorkspaceID: b.ID, Kind: model.KindRun, State: model.RunErrored}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	runs, err := db.ListRuns(context.Background(), a.ID, repository.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d, want 2", len(runs))
	}
	if runs[0].Output != "third" || runs[1].Output != "second" {
		t.Errorf("order = %q, %q", runs[0].Output, runs[1].Output)
	}
}
