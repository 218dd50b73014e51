package build

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/shaiso/Apparat/internal/domain"
	"github.com/shaiso/Apparat/internal/mq"
	"github.com/shaiso/Apparat/internal/remote"
	"github.com/shaiso/Apparat/internal/repo"
)

// --- Fakes ---

func recordKey(user, project, uid string) string {
	return user + "/" + project + "/" + uid
}

// fakeStore is an in-memory ProjectStore.
type fakeStore struct {
	records map[string][]byte

	findErr   error
	upsertErr error

	upserts []any
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string][]byte)}
}

func (s *fakeStore) seed(t *testing.T, user, project, uid string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	s.records[recordKey(user, project, uid)] = raw
}

func (s *fakeStore) Find(ctx context.Context, user, project, uid string) (*domain.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	raw, ok := s.records[recordKey(user, project, uid)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &domain.Record{User: user, Project: project, UID: uid, Data: json.RawMessage(raw)}, nil
}

func (s *fakeStore) Upsert(ctx context.Context, user, project, uid string, data any) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.records[recordKey(user, project, uid)] = raw
	s.upserts = append(s.upserts, data)
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, user, project, uid string) error {
	key := recordKey(user, project, uid)
	if _, ok := s.records[key]; !ok {
		return repo.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// fakeService is a scripted BuildService.
type fakeService struct {
	account *remote.Account

	// status reports are served in order, one per Status call
	status    []*domain.StatusReport
	statusErr error

	createReport *domain.StatusReport
	createErr    error

	deleteErr error

	statusCalls   int
	createdOpts   []remote.CreateOptions
	archiveExists bool
	deleted       []int64
}

func (s *fakeService) Me(ctx context.Context, token string) (*remote.Account, error) {
	return s.account, nil
}

func (s *fakeService) Status(ctx context.Context, token string, appID int64) (*domain.StatusReport, error) {
	s.statusCalls++
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	if len(s.status) == 0 {
		return nil, &remote.Error{Message: "no scripted report"}
	}
	report := s.status[0]
	s.status = s.status[1:]
	return report, nil
}

func (s *fakeService) Create(ctx context.Context, token, archivePath string, opts remote.CreateOptions) (*domain.StatusReport, error) {
	if _, err := os.Stat(archivePath); err == nil {
		s.archiveExists = true
	}
	s.createdOpts = append(s.createdOpts, opts)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.createReport, nil
}

func (s *fakeService) Delete(ctx context.Context, token string, appID int64) error {
	s.deleted = append(s.deleted, appID)
	return s.deleteErr
}

// fakePublisher records published envelopes.
type fakePublisher struct {
	checks  []mq.TaskEnvelope
	removed []mq.RemovedEnvelope
}

func (p *fakePublisher) PublishCheck(ctx context.Context, env mq.TaskEnvelope) {
	p.checks = append(p.checks, env)
}

func (p *fakePublisher) PublishRemoved(ctx context.Context, env mq.RemovedEnvelope) {
	p.removed = append(p.removed, env)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func checkDelivery(t *testing.T, env mq.TaskEnvelope) *mq.Delivery {
	t.Helper()
	body, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return &mq.Delivery{Body: body}
}

// --- Poller Tests ---

var testEnv = mq.TaskEnvelope{User: "alice", Project: "todo", UID: "u1", Key: "tok-1"}

func TestHandleCheck_RecordNotFound(t *testing.T) {
	store := newFakeStore()
	service := &fakeService{}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	// Unknown key: the task is dropped without touching the remote service.
	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if service.statusCalls != 0 {
		t.Errorf("expected no status calls, got %d", service.statusCalls)
	}
	if len(pub.checks) != 0 {
		t.Errorf("expected no republish, got %d", len(pub.checks))
	}
}

func TestHandleCheck_StoreError(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	pub := &fakePublisher{}
	poller := NewPoller(store, &fakeService{}, pub, discardLogger())

	// Store hiccups are swallowed so the message is acked, not redelivered forever.
	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.checks) != 0 {
		t.Errorf("expected no republish, got %d", len(pub.checks))
	}
}

func TestHandleCheck_RecordWithoutAppID(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", domain.Failure{Error: "earlier failure"})
	service := &fakeService{}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if service.statusCalls != 0 {
		t.Errorf("expected no status calls, got %d", service.statusCalls)
	}
	if len(pub.checks) != 0 {
		t.Errorf("expected no republish, got %d", len(pub.checks))
	}
}

func TestHandleCheck_PendingRepublishesOnce(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	service := &fakeService{status: []*domain.StatusReport{
		{ID: 9, Status: map[string]domain.PlatformState{
			"ios":     domain.StatePending,
			"android": domain.StateComplete,
		}},
	}}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.checks) != 1 {
		t.Fatalf("expected exactly one republish, got %d", len(pub.checks))
	}
	if pub.checks[0] != testEnv {
		t.Errorf("republished envelope differs: %+v", pub.checks[0])
	}

	// The fresh report replaced the stored one.
	rec, err := store.Find(context.Background(), "alice", "todo", "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	report, ok := rec.Report()
	if !ok {
		t.Fatal("expected a report record")
	}
	if report.Status["ios"] != domain.StatePending {
		t.Errorf("expected ios pending, got %s", report.Status["ios"])
	}
}

func TestHandleCheck_FinishedStopsChain(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	service := &fakeService{status: []*domain.StatusReport{
		{ID: 9, Status: map[string]domain.PlatformState{
			"ios":     domain.StateComplete,
			"android": domain.StateError,
		}},
	}}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.checks) != 0 {
		t.Errorf("expected no republish for a finished build, got %d", len(pub.checks))
	}
}

func TestHandleCheck_NormalizesMissingKeyState(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	// The remote service reports null for platforms without a signing key.
	service := &fakeService{status: []*domain.StatusReport{
		{ID: 9, Status: map[string]domain.PlatformState{
			"ios":     domain.StatePending,
			"android": "",
		}},
	}}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.Find(context.Background(), "alice", "todo", "u1")
	report, ok := rec.Report()
	if !ok {
		t.Fatal("expected a report record")
	}
	if report.Status["android"] != domain.StateError {
		t.Errorf("expected android error, got %s", report.Status["android"])
	}
	if report.Error["android"] != domain.MissingKeyMessage {
		t.Errorf("expected %q, got %q", domain.MissingKeyMessage, report.Error["android"])
	}

	// ios is still pending, so the chain continues.
	if len(pub.checks) != 1 {
		t.Errorf("expected one republish, got %d", len(pub.checks))
	}
}

func TestHandleCheck_StatusErrorPersistsFailure(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	service := &fakeService{statusErr: &remote.Error{Message: "invalid token"}}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	if err := poller.HandleCheck(context.Background(), checkDelivery(t, testEnv)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, _ := store.Find(context.Background(), "alice", "todo", "u1")
	msg, ok := rec.FailureMessage()
	if !ok {
		t.Fatal("expected a failure record")
	}
	if msg != "invalid token" {
		t.Errorf("unexpected failure message %q", msg)
	}
	if len(pub.checks) != 0 {
		t.Errorf("expected no republish after a failure, got %d", len(pub.checks))
	}
}

func TestHandleCheck_BadEnvelope(t *testing.T) {
	poller := NewPoller(newFakeStore(), &fakeService{}, &fakePublisher{}, discardLogger())

	err := poller.HandleCheck(context.Background(), &mq.Delivery{Body: []byte(`{"user":""}`)})
	if err == nil {
		t.Fatal("expected an error for an incomplete envelope")
	}
}

func TestHandleCheck_PollsUntilComplete(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	service := &fakeService{status: []*domain.StatusReport{
		{ID: 9, Status: map[string]domain.PlatformState{"ios": domain.StatePending}},
		{ID: 9, Status: map[string]domain.PlatformState{"ios": domain.StateComplete}},
	}}
	pub := &fakePublisher{}
	poller := NewPoller(store, service, pub, discardLogger())

	// Drive the self-sustaining chain by hand: each published task is
	// the next delivery.
	next := checkDelivery(t, testEnv)
	for i := 0; next != nil && i < 10; i++ {
		if err := poller.HandleCheck(context.Background(), next); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pub.checks) > i {
			next = checkDelivery(t, pub.checks[i])
		} else {
			next = nil
		}
	}

	if len(pub.checks) != 1 {
		t.Errorf("expected the chain to republish once, got %d", len(pub.checks))
	}
	if service.statusCalls != 2 {
		t.Errorf("expected two status calls, got %d", service.statusCalls)
	}
}

func TestNextCheck(t *testing.T) {
	env := testEnv

	if next := NextCheck(env, nil); next != nil {
		t.Error("nil report should not continue the chain")
	}

	done := &domain.StatusReport{Status: map[string]domain.PlatformState{"ios": domain.StateComplete}}
	if next := NextCheck(env, done); next != nil {
		t.Error("finished report should not continue the chain")
	}

	pending := &domain.StatusReport{Status: map[string]domain.PlatformState{"ios": domain.StatePending}}
	next := NextCheck(env, pending)
	if next == nil {
		t.Fatal("pending report should continue the chain")
	}
	if *next != env {
		t.Errorf("next task should carry the same envelope, got %+v", *next)
	}
}

// --- Removed Notification Tests ---

func TestHandleRemoved(t *testing.T) {
	store := newFakeStore()
	store.seed(t, "alice", "todo", "u1", &domain.StatusReport{ID: 9})
	poller := NewPoller(store, &fakeService{}, &fakePublisher{}, discardLogger())

	body, err := mq.RemovedEnvelope{User: "alice", Project: "todo", UID: "u1"}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if err := poller.HandleRemoved(context.Background(), &mq.Delivery{Body: body}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Find(context.Background(), "alice", "todo", "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}

	// A second notification for the same record is a no-op.
	if err := poller.HandleRemoved(context.Background(), &mq.Delivery{Body: body}); err != nil {
		t.Fatalf("unexpected error on repeat: %v", err)
	}
}

func TestHandleRemoved_BadEnvelope(t *testing.T) {
	poller := NewPoller(newFakeStore(), &fakeService{}, &fakePublisher{}, discardLogger())

	if err := poller.HandleRemoved(context.Background(), &mq.Delivery{Body: []byte("{}")}); err == nil {
		t.Fatal("expected an error for an incomplete envelope")
	}
}
