package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"shopdesk/backend/internal/domain"
)

// memUserStore is an in-memory UserStore for exercising the AuthManager
// without a repository.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func newMemUserStore(users ...domain.UserAccount) *memUserStore {
	s := &memUserStore{users: make(map[string]domain.UserAccount)}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s
}

func (s *memUserStore) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
	return nil
}

func (s *memUserStore) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *memUserStore) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *memUserStore) get(username string) (domain.UserAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	return user, ok
}

func adminAccount(password string) domain.UserAccount {
	return domain.UserAccount{
		Username:  "admin",
		Password:  password,
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestLoginBindsShopToToken(t *testing.T) {
	store := newMemUserStore(adminAccount("admin123"))
	manager := NewAuthManager("test-secret", time.Hour, "123456", "main-shop", store)

	session, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(session.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	// The shop travels inside the signed claims; callers cannot choose it.
	if actor.ShopID != "main-shop" {
		t.Fatalf("expected shop main-shop bound to token, got %q", actor.ShopID)
	}
}

func TestParseTokenRejectsForeignSignature(t *testing.T) {
	store := newMemUserStore(adminAccount("admin123"))
	issuer := NewAuthManager("issuer-secret", time.Hour, "123456", "main-shop", store)
	verifier := NewAuthManager("other-secret", time.Hour, "123456", "main-shop", store)

	session, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(session.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	store := newMemUserStore(adminAccount("admin123"))
	manager := NewAuthManager("test-secret", time.Hour, "123456", "main-shop", store)

	if _, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	stored, ok := store.get("admin")
	if !ok {
		t.Fatalf("admin account vanished from the store")
	}
	if stored.Password == "admin123" {
		t.Fatalf("expected plain-text password to be upgraded")
	}
	if !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", stored.Password)
	}
}

func TestCreateCashierHashesPasswordAndAllowsLogin(t *testing.T) {
	store := newMemUserStore(adminAccount("admin123"))
	manager := NewAuthManager("test-secret", time.Hour, "123456", "main-shop", store)

	cashier, err := manager.CreateCashier(domain.CashierCreateRequest{Username: "kasirbaru", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Role != "cashier" || !cashier.Active {
		t.Fatalf("unexpected cashier %+v", cashier)
	}

	stored, ok := store.get("kasirbaru")
	if !ok {
		t.Fatalf("expected cashier persisted to the store")
	}
	if stored.Password == "pass1234" || !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected stored bcrypt hash, got %q", stored.Password)
	}

	session, err := manager.Login(domain.LoginRequest{Username: "kasirbaru", Password: "pass1234"})
	if err != nil {
		t.Fatalf("cashier login failed: %v", err)
	}
	actor, err := manager.ParseToken(session.AccessToken)
	if err != nil {
		t.Fatalf("parse cashier token failed: %v", err)
	}
	if actor.Role != "cashier" || actor.ShopID != "main-shop" {
		t.Fatalf("unexpected cashier actor %+v", actor)
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", "main-shop", newMemUserStore())

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected correct pin to validate")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong pin to fail")
	}
	if manager.ValidateManagerPIN("") {
		t.Fatalf("expected empty pin to fail")
	}
}
