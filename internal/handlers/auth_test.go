package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/platformai/sci-auth/internal/db"
	"github.com/platformai/sci-auth/internal/services"
	"github.com/platformai/sci-auth/internal/sso"
	"github.com/platformai/sci-auth/internal/store"
	"github.com/platformai/sci-auth/internal/token"
	"github.com/platformai/sci-auth/types"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	router http.Handler
	repo   *store.UserRepository
}

func newTestEnv(t *testing.T, ssoValidateURL string) *testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	if err := db.Migrate(path); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	repo := store.NewUserRepository(conn)
	userService := services.NewUserService(repo)
	tokens, err := token.NewService("test-secret")
	if err != nil {
		t.Fatalf("token service: %v", err)
	}

	handler := NewAuthHandler(
		userService,
		tokens,
		sso.NewClient(ssoValidateURL),
		nil,
		"https://provider.example/sso-redirect",
		"https://svc.example/sso/callback",
	)

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	AuthRouter(router, handler)

	return &testEnv{router: router, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == token.CookieName {
			return cookie
		}
	}
	t.Fatal("expected session cookie")
	return nil
}

func TestRegisterLoginMeLogoutFlow(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	// Register.
	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "longenough1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}
	var registered AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.Redirect != "/" {
		t.Fatalf("unexpected redirect: %q", registered.Redirect)
	}
	if registered.UserID != "local_alice" {
		t.Fatalf("unexpected user id: %q", registered.UserID)
	}
	sessionCookie(t, rec)

	stored, err := env.repo.GetByIdentifier(context.Background(), "local_alice")
	if err != nil {
		t.Fatalf("get stored user: %v", err)
	}
	if stored.CredentialKind != types.CredentialPassword {
		t.Fatalf("unexpected credential kind: %q", stored.CredentialKind)
	}

	// Login.
	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "longenough1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var loggedIn AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&loggedIn); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loggedIn.Redirect != "/" {
		t.Fatalf("unexpected redirect: %q", loggedIn.Redirect)
	}
	cookie := sessionCookie(t, rec)

	// Me with the session cookie.
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", rec.Code, rec.Body.String())
	}
	var me MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if me.UserID != "local_alice" || me.Role != "user" || me.UserName != "alice" {
		t.Fatalf("unexpected me response: %+v", me)
	}

	// Logout clears the cookie.
	rec = env.do(t, http.MethodGet, "/api/auth/logout", nil, cookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("logout status %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/login" {
		t.Fatalf("unexpected logout redirect: %q", got)
	}
	cleared := sessionCookie(t, rec)
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}

	// Without a valid cookie, me is unauthorized.
	rec = env.do(t, http.MethodGet, "/api/auth/me", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestRegisterShortPassword(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	if _, err := env.repo.GetByIdentifier(context.Background(), "local_alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no row, got %v", err)
	}
}

func TestRegisterMissingUsername(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "   ",
		"password": "longenough1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "firstpassword",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first register status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "secondpassword",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	stored, err := env.repo.GetByIdentifier(context.Background(), "local_alice")
	if err != nil {
		t.Fatalf("get stored user: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Credential), []byte("firstpassword")); err != nil {
		t.Fatal("stored hash should match the first registration's password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Credential), []byte("secondpassword")); err == nil {
		t.Fatal("stored hash must not match the rejected registration's password")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"username": "alice",
		"password": "longenough1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "ghost",
		"password": "whatever123",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSSOCallbackEstablishesSession(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"user_info": {"user_id": "ext_42", "user_name": "Alice", "role": "pro"},
				"balance": {"credit": 10, "token": 100},
				"api_key": "key-1"
			}
		}`))
	}))
	defer provider.Close()

	env := newTestEnv(t, provider.URL)

	rec := env.do(t, http.MethodGet, "/sso/callback?access_token=one-time-code", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback status %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != "/" {
		t.Fatalf("unexpected redirect: %q", got)
	}
	cookie := sessionCookie(t, rec)

	stored, err := env.repo.GetByIdentifier(context.Background(), "ext_42")
	if err != nil {
		t.Fatalf("get stored user: %v", err)
	}
	if stored.CredentialKind != types.CredentialSSO || stored.Credential != "one-time-code" {
		t.Fatalf("unexpected credential: %q/%q", stored.CredentialKind, stored.Credential)
	}
	if stored.Credit != 10 || stored.TokenCount != 100 {
		t.Fatalf("unexpected balance: %v/%d", stored.Credit, stored.TokenCount)
	}

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status %d", rec.Code)
	}
	var me MeResponse
	if err := json.NewDecoder(rec.Body).Decode(&me); err != nil {
		t.Fatalf("decode me response: %v", err)
	}
	if me.UserID != "ext_42" || me.Role != "pro" || me.Credit != 10 {
		t.Fatalf("unexpected me response: %+v", me)
	}
}

func TestSSOCallbackProviderRejection(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer provider.Close()

	env := newTestEnv(t, provider.URL)

	rec := env.do(t, http.MethodGet, "/sso/callback?access_token=bad-code", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); !strings.HasPrefix(got, "/login?error=") {
		t.Fatalf("expected login redirect with error, got %q", got)
	}
}

func TestSSOCallbackMissingToken(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodGet, "/sso/callback", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); !strings.HasPrefix(got, "/login?error=") {
		t.Fatalf("expected login redirect with error, got %q", got)
	}
}

func TestLoginPage(t *testing.T) {
	env := newTestEnv(t, "http://unused.invalid")

	rec := env.do(t, http.MethodGet, "/login?error=Oops", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login page status %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Oops") {
		t.Fatal("expected error text on login page")
	}
	if !strings.Contains(body, "provider.example/sso-redirect") {
		t.Fatal("expected sso redirect link on login page")
	}
}
