package build

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Apparat/internal/domain"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
)

// testEnv helpers live in poller_test.go.

type orchFixture struct {
	orch    *Orchestrator
	store   *fakeStore
	service *fakeService
	pub     *fakePublisher
	tmpDir  string
	dataDir string
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()

	f := &orchFixture{
		store:   newFakeStore(),
		service: &fakeService{},
		pub:     &fakePublisher{},
		tmpDir:  t.TempDir(),
		dataDir: t.TempDir(),
	}

	f.orch = New(Config{
		Store:     f.store,
		Service:   f.service,
		Publisher: f.pub,
		Paths: Paths{
			ProjectTemplate: filepath.Join(f.dataDir, "{{user}}", "{{project}}"),
			TmpTemplate:     filepath.Join(f.tmpDir, "{{file}}.tar.gz"),
		},
		Skeleton: filepath.Join(t.TempDir(), "skeleton.tar"),
		Logger:   discardLogger(),
	})

	return f
}

// makeProject creates the project directory with one source file.
func (f *orchFixture) makeProject(t *testing.T, user, project string) {
	t.Helper()
	dir := f.orch.paths.Project(user, project)
	if err := os.MkdirAll(filepath.Join(dir, "www"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "www", "index.html"), []byte("<html></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// tmpEntries lists leftover files in the temp archive directory.
func (f *orchFixture) tmpEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

// --- Build Tests ---

func TestBuild_ProjectDirMissing(t *testing.T) {
	f := newOrchFixture(t)

	err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if len(f.service.createdOpts) != 0 {
		t.Error("remote service should not be called for a missing project")
	}
	if len(f.store.upserts) != 0 {
		t.Error("nothing should be persisted for a missing project")
	}
}

func TestBuild_Success(t *testing.T) {
	f := newOrchFixture(t)
	f.makeProject(t, "alice", "todo")
	f.service.createReport = &domain.StatusReport{
		ID:     11,
		Status: map[string]domain.PlatformState{"ios": domain.StatePending},
	}

	err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{Private: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.service.archiveExists {
		t.Error("archive should exist while the upload runs")
	}
	if entries := f.tmpEntries(t); len(entries) != 0 {
		t.Errorf("temp archive should be removed, found %d entries", len(entries))
	}

	if len(f.service.createdOpts) != 1 {
		t.Fatalf("expected one create call, got %d", len(f.service.createdOpts))
	}
	opts := f.service.createdOpts[0]
	if opts.Title != "todo" || !opts.Private {
		t.Errorf("unexpected create options: %+v", opts)
	}

	rec, err := f.store.Find(context.Background(), "alice", "todo", "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.AppID() != 11 {
		t.Errorf("expected app id 11, got %d", rec.AppID())
	}

	if len(f.pub.checks) != 1 {
		t.Fatalf("expected one check task, got %d", len(f.pub.checks))
	}
	if f.pub.checks[0] != testEnv {
		t.Errorf("unexpected check envelope: %+v", f.pub.checks[0])
	}
}

func TestBuild_ReplacesPreviousApp(t *testing.T) {
	f := newOrchFixture(t)
	f.makeProject(t, "alice", "todo")
	f.store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 7})
	f.service.createReport = &domain.StatusReport{
		ID:     12,
		Status: map[string]domain.PlatformState{"ios": domain.StatePending},
	}

	if err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.service.deleted) != 1 || f.service.deleted[0] != 7 {
		t.Errorf("expected previous app 7 deleted, got %v", f.service.deleted)
	}

	rec, _ := f.store.Find(context.Background(), "alice", "todo", "u1")
	if rec.AppID() != 12 {
		t.Errorf("expected new app id 12, got %d", rec.AppID())
	}
}

func TestBuild_DeleteFailureIsSwallowed(t *testing.T) {
	f := newOrchFixture(t)
	f.makeProject(t, "alice", "todo")
	f.store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 7})
	f.service.deleteErr = &remote.Error{Message: "app not found"}
	f.service.createReport = &domain.StatusReport{
		ID:     13,
		Status: map[string]domain.PlatformState{"ios": domain.StatePending},
	}

	// A lost delete must not block the rebuild.
	if err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.pub.checks) != 1 {
		t.Errorf("expected the build to go through, got %d check tasks", len(f.pub.checks))
	}
}

func TestBuild_CreateErrorMirroredToStore(t *testing.T) {
	f := newOrchFixture(t)
	f.makeProject(t, "alice", "todo")
	f.service.createErr = &remote.Error{Message: "upload rejected"}

	err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{})
	if err == nil {
		t.Fatal("expected the failure to propagate to the caller")
	}

	rec, ferr := f.store.Find(context.Background(), "alice", "todo", "u1")
	if ferr != nil {
		t.Fatalf("failure record should be persisted: %v", ferr)
	}
	msg, ok := rec.FailureMessage()
	if !ok || msg != "upload rejected" {
		t.Errorf("expected failure %q, got %q (%v)", "upload rejected", msg, ok)
	}

	if len(f.pub.checks) != 0 {
		t.Error("no check task should be published for a failed build")
	}
	if entries := f.tmpEntries(t); len(entries) != 0 {
		t.Errorf("temp archive should be removed on failure, found %d entries", len(entries))
	}
}

func TestBuild_NoCheckTaskWhenAllPlatformsFailed(t *testing.T) {
	f := newOrchFixture(t)
	f.makeProject(t, "alice", "todo")
	// Platform state comes back null when no signing key is attached.
	f.service.createReport = &domain.StatusReport{
		ID:     14,
		Status: map[string]domain.PlatformState{"android": ""},
	}

	if err := f.orch.Build(context.Background(), "alice", "todo", "u1", "tok-1", Params{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := f.store.Find(context.Background(), "alice", "todo", "u1")
	report, ok := rec.Report()
	if !ok {
		t.Fatal("expected a report record")
	}
	if report.Error["android"] != domain.MissingKeyMessage {
		t.Errorf("expected normalized error, got %q", report.Error["android"])
	}

	if len(f.pub.checks) != 0 {
		t.Errorf("expected no check task, got %d", len(f.pub.checks))
	}
}

// --- Remove Tests ---

func TestRemove(t *testing.T) {
	f := newOrchFixture(t)
	f.store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})

	if err := f.orch.Remove(context.Background(), "alice", "todo", "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.store.Find(context.Background(), "alice", "todo", "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}
	if len(f.pub.removed) != 1 {
		t.Fatalf("expected one removed notification, got %d", len(f.pub.removed))
	}

	// Removing a missing record still broadcasts, so stale copies on
	// other instances get dropped too.
	if err := f.orch.Remove(context.Background(), "alice", "todo", "u1"); err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
	if len(f.pub.removed) != 2 {
		t.Errorf("expected a second notification, got %d", len(f.pub.removed))
	}
}

// --- Init Tests ---

func writeSkeleton(t *testing.T, path string) {
	t.Helper()

	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	content := []byte("{}")
	if err := tw.WriteHeader(&tar.Header{Name: "config.json", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestInit(t *testing.T) {
	f := newOrchFixture(t)
	writeSkeleton(t, f.orch.skeleton)

	if err := f.orch.Init(context.Background(), "alice", "todo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir := f.orch.paths.Project("alice", "todo")
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Errorf("skeleton file missing: %v", err)
	}

	// A second init for the same project is rejected.
	if err := f.orch.Init(context.Background(), "alice", "todo"); !errors.Is(err, ErrProjectExists) {
		t.Errorf("expected ErrProjectExists, got %v", err)
	}
}

func TestMe(t *testing.T) {
	f := newOrchFixture(t)
	f.service.account = &remote.Account{ID: 1, Username: "alice"}

	account, err := f.orch.Me(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.Username != "alice" {
		t.Errorf("unexpected account %+v", account)
	}
}
