package merge

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/worktree"
)

// fakeGit scripts merge outcomes per branch; other commands succeed.
type fakeGit struct {
	mergeErr  map[string]error // branch -> error
	conflicts string           // output of the unmerged-file diff
	calls     [][]string
}

func (g *fakeGit) Run(dir string, args ...string) (string, error) {
	g.calls = append(g.calls, args)
	switch args[0] {
	case "merge":
		branch := args[2]
		if err := g.mergeErr[branch]; err != nil {
			return "", err
		}
		return "", nil
	case "diff":
		return g.conflicts, nil
	}
	return "", nil
}

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func seedWorkspaces(t *testing.T, d *db.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		ws := db.Workspace{
			ID: id, SessionID: "sess-1", RequirementID: "req-" + id,
			BranchName: "convoy/sess-1/" + id, Path: "/wt/" + id,
			Status: db.WorkspaceActive, CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := d.CreateWorkspace(ws); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestMergeAllSucceed(t *testing.T) {
	git := &fakeGit{}
	d := testDB(t)
	seedWorkspaces(t, d, "A", "B")

	coord := NewCoordinator(d, worktree.NewManager(git, "/repo", "/repo/worktrees"), nil)
	result := coord.Merge([]string{"A", "B"}, "main")

	if !result.Success {
		t.Fatalf("errors: %+v", result.Errors)
	}
	if !reflect.DeepEqual(result.MergedWorkspaces, []string{"A", "B"}) {
		t.Errorf("merged = %v", result.MergedWorkspaces)
	}

	for _, id := range []string{"A", "B"} {
		ws, err := d.GetWorkspace(id)
		if err != nil {
			t.Fatal(err)
		}
		if ws.Status != db.WorkspaceMerged {
			t.Errorf("workspace %s status = %q, want merged", id, ws.Status)
		}
	}

	// Target is checked out once, then branches merged in order.
	var cmds []string
	for _, c := range git.calls {
		cmds = append(cmds, strings.Join(c[:2], " "))
	}
	if cmds[0] != "checkout main" {
		t.Errorf("first command = %q, want checkout main", cmds[0])
	}
}

// With [A, B, C] and B conflicting: A merges, B's error and conflict files
// are recorded, and C is never attempted.
func TestMergeStopsOnConflict(t *testing.T) {
	git := &fakeGit{
		mergeErr:  map[string]error{"convoy/sess-1/B": fmt.Errorf("CONFLICT (content)")},
		conflicts: "cmd/app/main.go\ninternal/api/routes.go",
	}
	d := testDB(t)
	seedWorkspaces(t, d, "A", "B", "C")

	coord := NewCoordinator(d, worktree.NewManager(git, "/repo", "/repo/worktrees"), nil)
	result := coord.Merge([]string{"A", "B", "C"}, "main")

	if result.Success {
		t.Fatal("expected failure")
	}
	if !reflect.DeepEqual(result.MergedWorkspaces, []string{"A"}) {
		t.Errorf("merged = %v, want [A]", result.MergedWorkspaces)
	}
	if len(result.Errors) != 1 || result.Errors[0].WorkspaceID != "B" {
		t.Errorf("errors = %+v, want only B", result.Errors)
	}
	if !reflect.DeepEqual(result.ConflictFiles, []string{"cmd/app/main.go", "internal/api/routes.go"}) {
		t.Errorf("conflict files = %v", result.ConflictFiles)
	}

	for _, call := range git.calls {
		if call[0] == "merge" && call[2] == "convoy/sess-1/C" {
			t.Error("C must not be attempted after B's conflict")
		}
	}

	// A is merged, B and C remain untouched.
	for id, want := range map[string]string{"A": db.WorkspaceMerged, "B": db.WorkspaceActive, "C": db.WorkspaceActive} {
		ws, err := d.GetWorkspace(id)
		if err != nil {
			t.Fatal(err)
		}
		if ws.Status != want {
			t.Errorf("workspace %s status = %q, want %q", id, ws.Status, want)
		}
	}
}

// A non-conflict failure records the error but lets the run continue.
func TestMergeNonConflictFailureContinues(t *testing.T) {
	git := &fakeGit{
		mergeErr: map[string]error{"convoy/sess-1/A": fmt.Errorf("fatal: bad object")},
	}
	d := testDB(t)
	seedWorkspaces(t, d, "A", "B")

	coord := NewCoordinator(d, worktree.NewManager(git, "/repo", "/repo/worktrees"), nil)
	result := coord.Merge([]string{"A", "B"}, "main")

	if result.Success {
		t.Fatal("expected failure")
	}
	if !reflect.DeepEqual(result.MergedWorkspaces, []string{"B"}) {
		t.Errorf("merged = %v, want [B]", result.MergedWorkspaces)
	}
	if len(result.ConflictFiles) != 0 {
		t.Errorf("conflict files = %v, want none", result.ConflictFiles)
	}
}

func TestMergeSkipsAlreadyMerged(t *testing.T) {
	git := &fakeGit{}
	d := testDB(t)
	seedWorkspaces(t, d, "A", "B")
	if err := d.UpdateWorkspaceStatus("A", db.WorkspaceMerged); err != nil {
		t.Fatal(err)
	}

	coord := NewCoordinator(d, worktree.NewManager(git, "/repo", "/repo/worktrees"), nil)
	result := coord.Merge([]string{"A", "B"}, "main")

	if !result.Success {
		t.Fatalf("errors: %+v", result.Errors)
	}
	if !reflect.DeepEqual(result.MergedWorkspaces, []string{"B"}) {
		t.Errorf("merged = %v, want [B] (A already merged)", result.MergedWorkspaces)
	}
	for _, call := range git.calls {
		if call[0] == "merge" && call[2] == "convoy/sess-1/A" {
			t.Error("already-merged A must not be merged again")
		}
	}
}

func TestMergeUnknownWorkspace(t *testing.T) {
	git := &fakeGit{}
	d := testDB(t)
	seedWorkspaces(t, d, "B")

	coord := NewCoordinator(d, worktree.NewManager(git, "/repo", "/repo/worktrees"), nil)
	result := coord.Merge([]string{"missing", "B"}, "main")

	if result.Success {
		t.Fatal("expected failure for unknown workspace")
	}
	if !reflect.DeepEqual(result.MergedWorkspaces, []string{"B"}) {
		t.Errorf("merged = %v, want [B]", result.MergedWorkspaces)
	}
}
