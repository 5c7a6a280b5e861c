package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tubeshelf/accounts/config"
	"github.com/tubeshelf/accounts/internal/media"
	"github.com/tubeshelf/accounts/internal/store"
	"github.com/tubeshelf/accounts/types"
	"golang.org/x/crypto/bcrypt"
)

// memoryRepo is the in-memory store with failure injection for the calls
// the service depends on.
type memoryRepo struct {
	*store.MemoryUserRepository

	setErr    error
	getByIDFn func(id string) (types.User, error)
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{MemoryUserRepository: store.NewMemoryUserRepository()}
}

func (r *memoryRepo) GetByID(ctx context.Context, id string) (types.User, error) {
	if r.getByIDFn != nil {
		return r.getByIDFn(id)
	}
	return r.MemoryUserRepository.GetByID(ctx, id)
}

func (r *memoryRepo) SetRefreshToken(ctx context.Context, id, token string) error {
	if r.setErr != nil {
		return r.setErr
	}
	return r.MemoryUserRepository.SetRefreshToken(ctx, id, token)
}

// stored reads the record directly, bypassing any injected failure.
func (r *memoryRepo) stored(id string) types.User {
	user, _ := r.MemoryUserRepository.GetByID(context.Background(), id)
	return user
}

type fakeUploader struct {
	mu       sync.Mutex
	fail     map[string]error
	uploaded []media.Asset
	removed  []media.Asset
	count    int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{fail: make(map[string]error)}
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, folder string) (media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[folder]; err != nil {
		return media.Asset{}, err
	}
	f.count++
	key := fmt.Sprintf("%s/%d.png", folder, f.count)
	asset := media.Asset{Key: key, URL: "https://cdn.example.com/" + key, ContentType: "image/png"}
	f.uploaded = append(f.uploaded, asset)
	return asset, nil
}

func (f *fakeUploader) Remove(_ context.Context, asset media.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, asset)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []types.AccountEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event types.AccountEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) eventTypes() []types.AccountEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.AccountEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRecorder struct {
	mu             sync.Mutex
	registrations  int
	logins         map[string]int
	refreshes      map[string]int
	uploads        map[string]int
	publishFailure int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		logins:    make(map[string]int),
		refreshes: make(map[string]int),
		uploads:   make(map[string]int),
	}
}

func (c *countingRecorder) RecordRegistration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations++
}

func (c *countingRecorder) RecordLogin(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logins[result]++
}

func (c *countingRecorder) RecordTokenRefresh(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes[result]++
}

func (c *countingRecorder) RecordUpload(kind, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads[kind+"/"+result]++
}

func (c *countingRecorder) RecordEventPublishFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishFailure++
}

func (c *countingRecorder) RecordHTTPRequest(int, time.Duration) {}

// tempPath returns a path inside a per-test directory; the service removes
// spooled files, so tests never point it at shared locations.
func tempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

var errUploadFailed = errors.New("media host unavailable")

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenSecret: "refresh-secret",
		RefreshTokenExpiry: 24 * time.Hour,
		BcryptCost:         bcrypt.MinCost,
	}
}

type testEnv struct {
	svc      *UserService
	repo     *memoryRepo
	uploader *fakeUploader
	events   *fakePublisher
	metrics  *countingRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newMemoryRepo()
	uploader := newFakeUploader()
	events := &fakePublisher{}
	recorder := newCountingRecorder()
	svc := NewUserService(
		repo,
		NewTokenService(repo, testAuthConfig()),
		uploader,
		WithEvents(events),
		WithMetrics(recorder),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBcryptCost(bcrypt.MinCost),
	)
	return &testEnv{svc: svc, repo: repo, uploader: uploader, events: events, metrics: recorder}
}

func (e *testEnv) register(t *testing.T, username, email, password string) types.User {
	t.Helper()
	user, err := e.svc.Register(context.Background(), RegisterInput{
		FullName:   "Test User",
		Email:      email,
		Username:   username,
		Password:   password,
		AvatarPath: tempPath(t, "avatar.png"),
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user
}
