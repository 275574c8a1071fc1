// Package identity resolves the user behind each request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/echolabs/echo-agent/internal/domain"
)

const (
	// UserHeaderName carries an explicit user id set by a trusted front end.
	UserHeaderName   = "X-Echo-User-ID"
	AnonCookieName   = "echo_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour

	// lastSeenInterval throttles last_seen_at writes for active users.
	lastSeenInterval = time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// UserStore is the slice of the repository identity needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying userID and username.
func WithUser(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, username)
}

// ValidUserID reports whether id is acceptable as an explicit user id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func deriveUsername(userID string) string {
	if strings.HasPrefix(userID, "anon_") && len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return userID
}

// EnsureUser creates the user record on first sight and refreshes its
// last-seen time otherwise. It returns the stored username.
func EnsureUser(ctx context.Context, users UserStore, userID string) (string, error) {
	user, err := users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if user != nil {
		if now.Sub(user.LastSeenAt) > lastSeenInterval {
			if err := users.UpdateLastSeen(ctx, userID, now); err != nil {
				slog.Warn("Failed to refresh last seen", "user_id", userID, "error", err)
			}
		}
		return user.Username, nil
	}

	username := deriveUsername(userID)
	err = users.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   username,
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return username, err
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Options controls how Middleware resolves identity.
type Options struct {
	// IsDev relaxes the Secure flag on the anonymous cookie.
	IsDev bool
	// TrustUserHeader honors X-Echo-User-ID. Enable it only behind a front
	// end that strips the header from client traffic.
	TrustUserHeader bool
}

// Middleware injects the caller's identity. A trusted X-Echo-User-ID header
// wins; otherwise an anonymous per-device id is issued through a cookie.
func Middleware(users UserStore, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			switch claimed := strings.TrimSpace(r.Header.Get(UserHeaderName)); {
			case claimed == "":
			case !opts.TrustUserHeader:
				slog.Debug("Ignoring untrusted user header", "remote_ip", IPFromRequest(r))
			case !ValidUserID(claimed):
				http.Error(w, `{"error":"invalid user id"}`, http.StatusBadRequest)
				return
			default:
				userID = claimed
			}
			if userID == "" {
				var err error
				userID, err = getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
					return
				}
			}

			username, err := EnsureUser(r.Context(), users, userID)
			if err != nil {
				slog.Error("Failed to initialize user", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
