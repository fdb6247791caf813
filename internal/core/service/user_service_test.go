package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/microshop/user-service/internal/core/domain"
	"github.com/microshop/user-service/internal/core/ports"
)

// ---------------------------------------------------------------------------
// In-memory stubs
// ---------------------------------------------------------------------------

type stubUserRepo struct {
	mu    sync.Mutex
	byID  map[string]*domain.User
	order []string
	seq   int
	gets  int
	err   error // returned by every call when set
	clock time.Time
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byID:  make(map[string]*domain.User),
		clock: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
}

func (r *stubUserRepo) Create(_ context.Context, u *domain.User) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return nil, domain.ErrEmailExists
		}
		if existing.Username == u.Username {
			return nil, domain.ErrUsernameExists
		}
	}
	r.seq++
	clone := *u
	clone.ID = fmt.Sprintf("%024x", r.seq)
	clone.CreatedAt = r.clock
	r.byID[clone.ID] = &clone
	r.order = append(r.order, clone.ID)

	out := clone
	return &out, nil
}

func (r *stubUserRepo) List(context.Context) ([]*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	users := make([]*domain.User, 0, len(r.order))
	for _, id := range r.order {
		clone := *r.byID[id]
		clone.Password = ""
		users = append(users, &clone)
	}
	return users, nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *u
	clone.Password = ""
	return &clone, nil
}

func (r *stubUserRepo) DeleteByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	clone := *u
	clone.Password = ""
	return &clone, nil
}

type cacheEntry struct {
	value []byte
	ttl   time.Duration
}

type stubCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	getErr  error
	setErr  error
	deletes int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]cacheEntry)}
}

func (c *stubCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	e, ok := c.entries[key]
	return e.value, ok, nil
}

func (c *stubCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = cacheEntry{value: value, ttl: ttl}
	return nil
}

func (c *stubCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, key)
	return nil
}

type stubPublisher struct {
	mu     sync.Mutex
	events []domain.UserEvent
	err    error
}

func (p *stubPublisher) Publish(_ context.Context, e domain.UserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

// syncDispatcher runs tasks inline and remembers what it ran.
type syncDispatcher struct {
	tasks  []string
	errs   []error
	reject bool
}

func (d *syncDispatcher) Enqueue(task ports.Task) bool {
	if d.reject {
		return false
	}
	d.tasks = append(d.tasks, task.Name)
	if err := task.Run(context.Background()); err != nil {
		d.errs = append(d.errs, err)
	}
	return true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var discardLogger = zerolog.Nop()

type fixture struct {
	repo       *stubUserRepo
	cache      *stubCache
	publisher  *stubPublisher
	dispatcher *syncDispatcher
	svc        *UserService
}

func newFixture() *fixture {
	f := &fixture{
		repo:       newStubUserRepo(),
		cache:      newStubCache(),
		publisher:  &stubPublisher{},
		dispatcher: &syncDispatcher{},
	}
	f.svc = NewUserService(f.repo, f.cache, f.publisher, f.dispatcher, 0, discardLogger)
	f.svc.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 1, 500_000_000, time.UTC) }
	return f
}

func aliceInput() ports.CreateUserInput {
	return ports.CreateUserInput{Username: "alice", Email: "alice@example.com", Password: "secret123"}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestUserService_Create_Success(t *testing.T) {
	f := newFixture()

	u, err := f.svc.Create(context.Background(), aliceInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" {
		t.Error("ID must be assigned")
	}
	if u.Role != domain.RoleUser {
		t.Errorf("expected default role %q, got %q", domain.RoleUser, u.Role)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt must not be zero")
	}
	if got := f.repo.byID[u.ID].Password; got != "secret123" {
		t.Errorf("password must be stored as received, got %q", got)
	}
}

func TestUserService_Create_NormalisesInput(t *testing.T) {
	f := newFixture()

	in := ports.CreateUserInput{Username: "  bob ", Email: " Bob@Example.COM ", Password: "hunter22", Role: "admin"}
	u, err := f.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Username != "bob" {
		t.Errorf("username not trimmed: %q", u.Username)
	}
	if u.Email != "bob@example.com" {
		t.Errorf("email not normalised: %q", u.Email)
	}
	if u.Role != domain.RoleAdmin {
		t.Errorf("expected role admin, got %q", u.Role)
	}
}

func TestUserService_Create_Validation(t *testing.T) {
	cases := map[string]ports.CreateUserInput{
		"missing username": {Email: "a@example.com", Password: "secret123"},
		"blank username":   {Username: "   ", Email: "a@example.com", Password: "secret123"},
		"missing email":    {Username: "a", Password: "secret123"},
		"missing password": {Username: "a", Email: "a@example.com"},
		"unknown role":     {Username: "a", Email: "a@example.com", Password: "secret123", Role: "root"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Create(context.Background(), in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if len(f.repo.byID) != 0 {
				t.Error("nothing must be persisted on validation failure")
			}
			if len(f.dispatcher.tasks) != 0 {
				t.Errorf("no side effects expected, got %v", f.dispatcher.tasks)
			}
		})
	}
}

func TestUserService_Create_DuplicateEmail(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), aliceInput()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	dup := aliceInput()
	dup.Username = "alice2"
	dup.Email = "ALICE@example.com"
	_, err := f.svc.Create(context.Background(), dup)
	if !errors.Is(err, domain.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	if n := len(f.publisher.events); n != 1 {
		t.Errorf("expected exactly one event, got %d", n)
	}
}

func TestUserService_Create_DuplicateUsername(t *testing.T) {
	f := newFixture()
	_, _ = f.svc.Create(context.Background(), aliceInput())

	dup := aliceInput()
	dup.Email = "other@example.com"
	_, err := f.svc.Create(context.Background(), dup)
	if !errors.Is(err, domain.ErrUsernameExists) {
		t.Fatalf("expected ErrUsernameExists, got %v", err)
	}
}

func TestUserService_Create_EmitsCreatedEvent(t *testing.T) {
	f := newFixture()

	u, err := f.svc.Create(context.Background(), aliceInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.publisher.events))
	}
	e := f.publisher.events[0]
	if e.Type != domain.EventUserCreated {
		t.Errorf("expected %s, got %s", domain.EventUserCreated, e.Type)
	}
	if e.Data.UserID != u.ID || e.Data.Username != "alice" || e.Data.Email != "alice@example.com" {
		t.Errorf("unexpected event payload: %+v", e.Data)
	}
	if e.Data.Role != "user" {
		t.Errorf("expected role in payload, got %q", e.Data.Role)
	}
	if e.Data.Timestamp != "2026-10-15T09:00:01.500Z" {
		t.Errorf("unexpected timestamp %q", e.Data.Timestamp)
	}
	if f.dispatcher.tasks[0] != "event.user_created" {
		t.Errorf("unexpected task name %q", f.dispatcher.tasks[0])
	}
}

func TestUserService_Create_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("broker down")

	u, err := f.svc.Create(context.Background(), aliceInput())
	if err != nil {
		t.Fatalf("create must succeed when publishing fails, got %v", err)
	}
	if u == nil || u.ID == "" {
		t.Fatal("expected created user")
	}
	if len(f.dispatcher.errs) != 1 {
		t.Errorf("expected the publish error to reach the dispatcher, got %v", f.dispatcher.errs)
	}
}

func TestUserService_Create_DroppedEventDoesNotFail(t *testing.T) {
	f := newFixture()
	f.dispatcher.reject = true

	if _, err := f.svc.Create(context.Background(), aliceInput()); err != nil {
		t.Fatalf("create must succeed when the side effect is dropped, got %v", err)
	}
	if len(f.publisher.events) != 0 {
		t.Error("dropped task must not publish")
	}
}

func TestUserService_Create_RepoError(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("db unavailable")

	if _, err := f.svc.Create(context.Background(), aliceInput()); err == nil {
		t.Fatal("expected error when repo fails, got nil")
	}
	if len(f.publisher.events) != 0 {
		t.Error("no event expected on failure")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestUserService_List(t *testing.T) {
	f := newFixture()

	users, err := f.svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", users)
	}

	_, _ = f.svc.Create(context.Background(), aliceInput())
	bob := ports.CreateUserInput{Username: "bob", Email: "bob@example.com", Password: "hunter22"}
	_, _ = f.svc.Create(context.Background(), bob)

	users, err = f.svc.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	for _, u := range users {
		if u.Password != "" {
			t.Errorf("password leaked for %s", u.Username)
		}
	}
}

func TestUserService_List_RepoError(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("db unavailable")

	if _, err := f.svc.List(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestUserService_GetByID_MissPopulatesCache(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())

	u, err := f.svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != created.ID {
		t.Errorf("expected %s, got %s", created.ID, u.ID)
	}

	entry, ok := f.cache.entries["user:"+created.ID]
	if !ok {
		t.Fatal("expected the snapshot to be cached under user:<id>")
	}
	if entry.ttl != DefaultCacheTTL {
		t.Errorf("expected ttl %s, got %s", DefaultCacheTTL, entry.ttl)
	}

	var cached domain.User
	if err := json.Unmarshal(entry.value, &cached); err != nil {
		t.Fatalf("cached value is not a user snapshot: %v", err)
	}
	if cached.Email != "alice@example.com" || !cached.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("unexpected cached snapshot: %+v", cached)
	}
	var raw map[string]any
	_ = json.Unmarshal(entry.value, &raw)
	if _, leaked := raw["password"]; leaked {
		t.Error("password must not be cached")
	}
}

func TestUserService_GetByID_HitSkipsStore(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())

	first, _ := f.svc.GetByID(context.Background(), created.ID)
	second, err := f.svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.gets != 1 {
		t.Errorf("expected a single store read, got %d", f.repo.gets)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("cached response differs from stored one:\n%s\n%s", a, b)
	}
}

func TestUserService_GetByID_NotFoundIsNotCached(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetByID(context.Background(), "507f1f77bcf86cd799439011")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(f.cache.entries) != 0 {
		t.Error("absence must not be cached")
	}
}

func TestUserService_GetByID_CacheErrorFallsBackToStore(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())
	f.cache.getErr = errors.New("redis: connection refused")

	u, err := f.svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("cache failure must not fail the read, got %v", err)
	}
	if u.ID != created.ID {
		t.Errorf("expected %s, got %s", created.ID, u.ID)
	}
	if f.repo.gets != 1 {
		t.Errorf("expected store read, got %d", f.repo.gets)
	}
}

func TestUserService_GetByID_CorruptEntryFallsBackToStore(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())
	f.cache.entries[CacheKey(created.ID)] = cacheEntry{value: []byte("{not json")}

	if _, err := f.svc.GetByID(context.Background(), created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.repo.gets != 1 {
		t.Errorf("expected store read, got %d", f.repo.gets)
	}
}

func TestUserService_GetByID_CacheWriteFailureIgnored(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())
	f.cache.setErr = errors.New("redis: OOM")

	if _, err := f.svc.GetByID(context.Background(), created.ID); err != nil {
		t.Fatalf("cache write failure must not fail the read, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

func TestUserService_Delete_EmitsDeletedEvent(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())

	deleted, err := f.svc.Delete(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted.Email != "alice@example.com" {
		t.Errorf("expected pre-delete snapshot, got %+v", deleted)
	}
	if len(f.publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(f.publisher.events))
	}
	e := f.publisher.events[1]
	if e.Type != domain.EventUserDeleted || e.Data.UserID != created.ID || e.Data.Username != "alice" {
		t.Errorf("unexpected delete event: %+v", e)
	}
	if _, err := f.svc.GetByID(context.Background(), created.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound after delete, got %v", err)
	}
}

func TestUserService_Delete_LeavesCacheEntry(t *testing.T) {
	f := newFixture()
	created, _ := f.svc.Create(context.Background(), aliceInput())
	_, _ = f.svc.GetByID(context.Background(), created.ID)

	if _, err := f.svc.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.cache.deletes != 0 {
		t.Error("delete must not evict the cache")
	}

	// The stale snapshot keeps being served until it expires.
	u, err := f.svc.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("expected stale cached read, got %v", err)
	}
	if u.ID != created.ID {
		t.Errorf("expected %s, got %s", created.ID, u.ID)
	}
}

func TestUserService_Delete_NotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Delete(context.Background(), "507f1f77bcf86cd799439011")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if len(f.publisher.events) != 0 {
		t.Error("no event expected when nothing was deleted")
	}
}

func TestCacheKey(t *testing.T) {
	if got := CacheKey("abc"); got != "user:abc" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestNewUserService_CustomTTL(t *testing.T) {
	f := newFixture()
	svc := NewUserService(f.repo, f.cache, f.publisher, f.dispatcher, 5*time.Minute, discardLogger)
	created, _ := svc.Create(context.Background(), aliceInput())
	_, _ = svc.GetByID(context.Background(), created.ID)

	if ttl := f.cache.entries[CacheKey(created.ID)].ttl; ttl != 5*time.Minute {
		t.Errorf("expected ttl 5m, got %s", ttl)
	}
}
