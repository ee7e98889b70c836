package workspace

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/worktree"
)

// fakeGit scripts failures per command; everything else succeeds.
type fakeGit struct {
	failOn map[string]error // first two args joined -> error
	calls  [][]string
}

func (g *fakeGit) Run(dir string, args ...string) (string, error) {
	g.calls = append(g.calls, args)
	key := args[0]
	if len(args) > 1 {
		key = args[0] + " " + args[1]
	}
	if err := g.failOn[key]; err != nil {
		return "", err
	}
	return "", nil
}

func (g *fakeGit) ran(sub string) bool {
	for _, c := range g.calls {
		if strings.HasPrefix(strings.Join(c, " "), sub) {
			return true
		}
	}
	return false
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

func newTestManager(t *testing.T, git *fakeGit) (*Manager, *db.DB) {
	t.Helper()
	d := testDB(t)
	wt := worktree.NewManager(git, "/repo", "/repo/worktrees")
	m := NewManager(d, wt, "main", nil)
	m.SetNow(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return m, d
}

func TestBranchName(t *testing.T) {
	got := BranchName("sess-1", "req-auth")
	want := "convoy/sess-1/req-auth"
	if got != want {
		t.Errorf("BranchName = %q, want %q", got, want)
	}
}

func TestCreateRecordsLedgerAndWorktree(t *testing.T) {
	git := &fakeGit{}
	m, d := newTestManager(t, git)

	ws, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.BranchName != "convoy/sess-1/req-auth" {
		t.Errorf("branch = %q", ws.BranchName)
	}
	if ws.Status != db.WorkspaceActive {
		t.Errorf("status = %q", ws.Status)
	}
	if ws.Path != "/repo/worktrees/sess-1/req-auth" {
		t.Errorf("path = %q", ws.Path)
	}
	if !git.ran("worktree add") {
		t.Error("worktree add never ran")
	}

	stored, err := d.GetWorkspace(ws.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CreatedAt != "2025-06-01T12:00:00Z" {
		t.Errorf("created_at = %q", stored.CreatedAt)
	}
}

func TestCreateSameRequirementAcrossSessions(t *testing.T) {
	m, _ := newTestManager(t, &fakeGit{})

	first, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth"})
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := m.Create(CreateOpts{SessionID: "sess-2", RequirementID: "req-auth"})
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if first.Path == second.Path {
		t.Errorf("sessions share worktree path %q", first.Path)
	}
	if second.Path != "/repo/worktrees/sess-2/req-auth" {
		t.Errorf("path = %q", second.Path)
	}
}

func TestCreateBranchOverride(t *testing.T) {
	m, _ := newTestManager(t, &fakeGit{})

	ws, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth", Branch: "hotfix/x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.BranchName != "hotfix/x" {
		t.Errorf("branch = %q", ws.BranchName)
	}
}

func TestCreateRejectsMissingIdentifiers(t *testing.T) {
	m, _ := newTestManager(t, &fakeGit{})

	if _, err := m.Create(CreateOpts{RequirementID: "req-auth"}); err == nil {
		t.Error("missing session accepted")
	}
	if _, err := m.Create(CreateOpts{SessionID: "sess-1"}); err == nil {
		t.Error("missing requirement accepted")
	}
}

func TestCreateSecondActiveRejectedAndRolledBack(t *testing.T) {
	git := &fakeGit{}
	m, d := newTestManager(t, git)

	if _, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth"}); err != nil {
		t.Fatalf("first create: %v", err)
	}

	git.calls = nil
	_, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth"})
	if err == nil {
		t.Fatal("second active workspace accepted")
	}
	// The worktree added for the failed attempt must be removed again.
	if !git.ran("worktree remove") {
		t.Error("failed create did not roll back the worktree")
	}

	active, err := d.ListWorkspaces("sess-1", db.WorkspaceActive)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active workspaces = %d, want 1", len(active))
	}
}

func TestCreateWorktreeFailure(t *testing.T) {
	git := &fakeGit{failOn: map[string]error{"worktree add": errors.New("fatal: not a git repository")}}
	m, d := newTestManager(t, git)

	_, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-auth"})
	if err == nil {
		t.Fatal("expected error")
	}
	rows, err := d.ListWorkspaces("sess-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("ledger rows = %d, want 0", len(rows))
	}
}

func TestListFiltersByStatus(t *testing.T) {
	m, d := newTestManager(t, &fakeGit{})

	ws, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create(CreateOpts{SessionID: "sess-1", RequirementID: "req-b"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := d.UpdateWorkspaceStatus(ws.ID, db.WorkspaceMerged); err != nil {
		t.Fatalf("update: %v", err)
	}

	merged, err := m.List("sess-1", db.WorkspaceMerged)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(merged) != 1 || merged[0].ID != ws.ID {
		t.Errorf("merged list = %+v", merged)
	}
	all, err := m.List("sess-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d, want 2", len(all))
	}
}
