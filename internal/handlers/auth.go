package handlers

import (
	"encoding/json"
	"errors"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/platformai/sci-auth/internal/mq"
	"github.com/platformai/sci-auth/internal/services"
	"github.com/platformai/sci-auth/internal/sso"
	"github.com/platformai/sci-auth/internal/store"
	"github.com/platformai/sci-auth/internal/token"
	"github.com/platformai/sci-auth/types"
	"golang.org/x/crypto/bcrypt"
)

const defaultUserRole = "user"
const minPasswordLength = 8

// AuthHandler provides session, SSO, and local account endpoints.
type AuthHandler struct {
	userService    *services.UserService
	tokens         *token.Service
	ssoClient      *sso.Client
	events         *mq.Publisher
	ssoRedirectURL string
	ssoCallbackURL string
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, tokens *token.Service, ssoClient *sso.Client, events *mq.Publisher, ssoRedirectURL, ssoCallbackURL string) *AuthHandler {
	return &AuthHandler{
		userService:    userService,
		tokens:         tokens,
		ssoClient:      ssoClient,
		events:         events,
		ssoRedirectURL: ssoRedirectURL,
		ssoCallbackURL: ssoCallbackURL,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Get("/login", handler.LoginPage)
	r.Get("/sso/callback", handler.SSOCallback)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Post("/register", handler.Register)
		r.With(handler.tokens.Require).Get("/me", handler.Me)
		r.Get("/logout", handler.Logout)
	})
}

var loginPageTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<a href="{{.SSOURL}}">Sign in with CompareGPT</a>
</body>
</html>
`))

// LoginPage renders a minimal login page carrying the SSO redirect link.
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	ssoURL := h.ssoRedirectURL + "?redirect=" + url.QueryEscape(h.ssoCallbackURL)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = loginPageTemplate.Execute(w, struct {
		SSOURL string
		Error  string
	}{
		SSOURL: ssoURL,
		Error:  r.URL.Query().Get("error"),
	})
}

// SSOCallback handles the provider redirect: it exchanges the one-time
// token, upserts the account, and establishes a session. Provider
// failures redirect back to the login page rather than surfacing a 500.
func (h *AuthHandler) SSOCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ssoToken := firstNonEmpty(
		query.Get("access_token"),
		query.Get("token"),
		query.Get("code"),
		query.Get("sso_token"),
	)
	if ssoToken == "" {
		redirectToLogin(w, r, "No token received")
		return
	}

	identity, err := h.ssoClient.Exchange(r.Context(), ssoToken)
	if err != nil {
		log.Printf("sso exchange failed: %v", err)
		redirectToLogin(w, r, "SSO validation failed")
		return
	}

	user, err := h.userService.Upsert(r.Context(), types.User{
		Identifier:     identity.UserID,
		DisplayName:    identity.UserName,
		Role:           identity.Role,
		Credit:         identity.Credit,
		TokenCount:     identity.TokenCount,
		CredentialKind: types.CredentialSSO,
		Credential:     ssoToken,
		APIKey:         identity.APIKey,
	})
	if err != nil {
		log.Printf("sso upsert failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	sessionToken, err := h.tokens.Issue(user.Identifier, user.DisplayName, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	h.publishEvent(r, mq.EventUserSSOLogin, user.Identifier)
	h.setSessionCookie(w, sessionToken)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Register creates a local account and establishes a session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.userService.Create(r.Context(), types.User{
		Identifier:     localIdentifier(req.Username),
		DisplayName:    req.Username,
		Role:           defaultUserRole,
		CredentialKind: types.CredentialPassword,
		Credential:     string(hashed),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	sessionToken, err := h.tokens.Issue(user.Identifier, user.DisplayName, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	h.publishEvent(r, mq.EventUserRegistered, user.Identifier)
	h.setSessionCookie(w, sessionToken)
	writeJSON(w, http.StatusOK, AuthResponse{
		UserID:   user.Identifier,
		UserName: user.DisplayName,
		Status:   "registered",
		Redirect: "/",
	})
}

// Login verifies local credentials and establishes a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.userService.GetByIdentifier(r.Context(), localIdentifier(req.Username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	// Only password credentials are valid for local login; an SSO session
	// token stored for the same identifier must never match.
	if user.CredentialKind != types.CredentialPassword {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Credential), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	sessionToken, err := h.tokens.Issue(user.Identifier, user.DisplayName, user.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	h.publishEvent(r, mq.EventUserLogin, user.Identifier)
	h.setSessionCookie(w, sessionToken)
	writeJSON(w, http.StatusOK, AuthResponse{
		UserID:   user.Identifier,
		UserName: user.DisplayName,
		Redirect: "/",
	})
}

// Me returns the current authenticated user, merging token claims with
// the stored record when one exists.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := token.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	resp := MeResponse{
		UserID:   identity.Identifier,
		UserName: identity.DisplayName,
		Role:     identity.Role,
	}

	user, err := h.userService.GetByIdentifier(r.Context(), identity.Identifier)
	switch {
	case err == nil:
		if user.DisplayName != "" {
			resp.UserName = user.DisplayName
		}
		if user.Role != "" {
			resp.Role = user.Role
		}
		resp.Credit = user.Credit
		resp.Token = user.TokenCount
	case errors.Is(err, store.ErrNotFound):
		// Token-only identity; respond from claims.
	default:
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout clears the session cookie and redirects to the login page.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Status   string `json:"status,omitempty"`
	Redirect string `json:"redirect"`
}

type MeResponse struct {
	UserID   string  `json:"user_id"`
	UserName string  `json:"user_name"`
	Role     string  `json:"role"`
	Credit   float64 `json:"credit"`
	Token    int64   `json:"token"`
}

// localIdentifier derives the stable account key for a local username.
func localIdentifier(username string) string {
	return "local_" + strings.ReplaceAll(strings.ToLower(username), " ", "_")
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     token.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) publishEvent(r *http.Request, event, userID string) {
	if err := h.events.PublishAuthEvent(r.Context(), event, userID); err != nil {
		log.Printf("publish auth event %s: %v", event, err)
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(message), http.StatusFound)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
