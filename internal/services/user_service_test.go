package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"tunesync-service/internal/models"
)

type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: make(map[string]*models.User)}
}

func (d *memoryDirectory) FindByID(_ context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}

func (d *memoryDirectory) FindByToken(_ context.Context, token string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.Token == token {
			return user, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (d *memoryDirectory) Save(_ context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
	return nil
}

func (d *memoryDirectory) Update(_ context.Context, user *models.User) error {
	return d.Save(context.Background(), user)
}

func newTestUserService(dir *memoryDirectory) *UserService {
	return NewUserService(dir, "test-secret", time.Hour)
}

func TestUpsertCreatesUserWithFreshToken(t *testing.T) {
	dir := newMemoryDirectory()
	svc := newTestUserService(dir)

	user, err := svc.UpsertFromProfile(context.Background(), &Profile{
		ID:          "u1",
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if user.ID != "u1" || user.Username != "Alice" {
		t.Errorf("unexpected user: %+v", user)
	}
	if len(user.Token) != 64 {
		t.Errorf("expected a 32-byte hex token, got %q", user.Token)
	}
	if user.Visibility != models.VisibilityEveryone || user.Presence != models.PresenceModeNone {
		t.Errorf("unexpected default settings: %s/%s", user.Visibility, user.Presence)
	}
}

func TestUpsertKeepsExistingToken(t *testing.T) {
	dir := newMemoryDirectory()
	svc := newTestUserService(dir)

	first, err := svc.UpsertFromProfile(context.Background(), &Profile{ID: "u1", DisplayName: "Alice"})
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.UpsertFromProfile(context.Background(), &Profile{ID: "u1", DisplayName: "Alice Renamed"})
	if err != nil {
		t.Fatal(err)
	}
	if second.Token != first.Token {
		t.Error("re-login must not rotate the gateway token")
	}
	if second.Username != "Alice Renamed" {
		t.Errorf("display name not refreshed: %q", second.Username)
	}
}

func TestJWTRoundTrip(t *testing.T) {
	svc := newTestUserService(newMemoryDirectory())

	token, err := svc.GenerateJWT("u1")
	if err != nil {
		t.Fatal(err)
	}
	userID, err := svc.ValidateJWT(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "u1" {
		t.Errorf("expected u1, got %q", userID)
	}

	if _, err := svc.ValidateJWT(token + "tampered"); err == nil {
		t.Error("tampered token must not validate")
	}
}

func TestUpdateSettingsPatchesOnlyGivenFields(t *testing.T) {
	dir := newMemoryDirectory()
	svc := newTestUserService(dir)

	if _, err := svc.UpsertFromProfile(context.Background(), &Profile{ID: "u1", DisplayName: "Alice"}); err != nil {
		t.Fatal(err)
	}

	mode := models.PresenceModeFull
	updated, err := svc.UpdateSettings(context.Background(), "u1", &models.UpdateSettingsRequest{
		Presence: &mode,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Presence != models.PresenceModeFull {
		t.Errorf("presence not updated: %s", updated.Presence)
	}
	if updated.Visibility != models.VisibilityEveryone {
		t.Errorf("visibility must be untouched, got %s", updated.Visibility)
	}
}

func TestUpdateSettingsUnknownUser(t *testing.T) {
	svc := newTestUserService(newMemoryDirectory())

	status := "listening"
	_, err := svc.UpdateSettings(context.Background(), "ghost", &models.UpdateSettingsRequest{Status: &status})
	if err == nil {
		t.Fatal("expected an error for an unknown user")
	}
}
