package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/echolabs/echo-agent/internal/domain"
)

type memUsers struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	lastSeen int
}

func newMemUsers() *memUsers { return &memUsers{users: make(map[string]*domain.User)} }

func (m *memUsers) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.UserID] = &cp
	return nil
}

func (m *memUsers) UpdateLastSeen(_ context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen++
	if u := m.users[id]; u != nil {
		u.LastSeenAt = t
	}
	return nil
}

func serve(t *testing.T, users UserStore, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	return serveWith(t, users, Options{IsDev: true, TrustUserHeader: true}, req)
}

func serveWith(t *testing.T, users UserStore, opts Options, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	h := Middleware(users, opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestHeaderIdentityWins(t *testing.T) {
	users := newMemUsers()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "user-42")

	rec, seen := serve(t, users, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if seen != "user-42" {
		t.Fatalf("expected user-42, got %q", seen)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no anonymous cookie when header is present")
	}
	if users.users["user-42"] == nil {
		t.Fatal("expected user record to be created")
	}
}

func TestInvalidHeaderIsRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "../../etc/passwd")

	rec, _ := serve(t, newMemUsers(), req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUntrustedHeaderFallsBackToCookie(t *testing.T) {
	users := newMemUsers()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "admin")

	rec, seen := serveWith(t, users, Options{}, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !anonIDPattern.MatchString(seen) {
		t.Fatalf("expected anonymous id, got %q", seen)
	}
	if users.users["admin"] != nil {
		t.Fatal("expected no record for the claimed user")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Fatalf("expected one secure anonymous cookie, got %v", cookies)
	}
}

func TestUntrustedInvalidHeaderIsIgnored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeaderName, "../../etc/passwd")

	rec, seen := serveWith(t, newMemUsers(), Options{IsDev: true}, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !anonIDPattern.MatchString(seen) {
		t.Fatalf("expected anonymous id, got %q", seen)
	}
}

func TestAnonymousCookieIsIssuedAndReused(t *testing.T) {
	users := newMemUsers()
	rec, first := serve(t, users, httptest.NewRequest(http.MethodGet, "/", nil))
	if !anonIDPattern.MatchString(first) {
		t.Fatalf("expected anonymous id, got %q", first)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("expected %s cookie, got %v", AnonCookieName, cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	_, second := serve(t, users, req)
	if second != first {
		t.Fatalf("expected cookie identity to be reused: %q != %q", second, first)
	}
	if got := users.users[first].Username; got != "anon-"+first[len(first)-8:] {
		t.Fatalf("unexpected derived username %q", got)
	}
}

func TestEnsureUserRefreshesStaleLastSeen(t *testing.T) {
	users := newMemUsers()
	users.users["u1"] = &domain.User{UserID: "u1", Username: "alice", LastSeenAt: time.Now().Add(-time.Hour)}

	name, err := EnsureUser(context.Background(), users, "u1")
	if err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if name != "alice" {
		t.Fatalf("expected stored username, got %q", name)
	}
	if users.lastSeen != 1 {
		t.Fatalf("expected one last-seen refresh, got %d", users.lastSeen)
	}

	if _, err := EnsureUser(context.Background(), users, "u1"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if users.lastSeen != 1 {
		t.Fatalf("expected refresh to be throttled, got %d", users.lastSeen)
	}
}
