// Package identity resolves the caller of a request to either an
// authenticated user or an anonymous visitor.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"graphdj/internal/util"
	"graphdj/pkg/domain"
	"graphdj/pkg/store"
)

// Identity is Anonymous (zero value) or Authenticated(userID).
type Identity struct {
	userID int64
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() Identity { return Identity{} }

// Authenticated returns the identity of a logged-in user.
func Authenticated(userID int64) Identity { return Identity{userID: userID} }

// UserID returns the caller's user id and whether the caller is authenticated.
func (i Identity) UserID() (int64, bool) {
	return i.userID, i.userID > 0
}

func (i Identity) IsAuthenticated() bool { return i.userID > 0 }

// Is reports whether the caller is the user with id userID.
func (i Identity) Is(userID int64) bool {
	return i.IsAuthenticated() && i.userID == userID
}

type contextKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Anonymous()
	}
	id, _ := ctx.Value(contextKey{}).(Identity)
	return id
}

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	GetUserIDByToken(token string) (int64, bool, error)
}

// UserLookup confirms the token subject still exists.
type UserLookup interface {
	GetUserByID(id int64) (domain.User, bool, error)
}

// Resolver turns an Authorization header into an Identity.
type Resolver struct {
	tokens TokenVerifier
	users  UserLookup
}

// NewResolver builds a resolver. users may be nil to skip the existence check.
func NewResolver(tokens TokenVerifier, users UserLookup) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve returns Anonymous for a missing, malformed, expired or revoked token,
// and for a token whose user no longer exists. The error is non-nil only when a
// backing service failed; the identity is Anonymous in that case too.
func (r *Resolver) Resolve(header string) (Identity, error) {
	token, ok := TokenFromHeader(header)
	if !ok || r == nil || r.tokens == nil {
		return Anonymous(), nil
	}
	userID, ok, err := r.tokens.GetUserIDByToken(token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidToken) || errors.Is(err, store.ErrTokenExpired) {
			return Anonymous(), nil
		}
		return Anonymous(), err
	}
	if !ok {
		return Anonymous(), nil
	}
	if r.users != nil {
		_, found, err := r.users.GetUserByID(userID)
		if err != nil {
			return Anonymous(), err
		}
		if !found {
			return Anonymous(), nil
		}
	}
	return Authenticated(userID), nil
}

// Middleware attaches the resolved Identity to each request context.
// A backing service failure is logged and the request proceeds anonymously.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, err := r.Resolve(req.Header.Get("Authorization"))
		ctx := req.Context()
		if err != nil {
			util.LoggerFromContext(ctx).Error("identity resolution failed", "err", err)
		}
		if uid, ok := id.UserID(); ok {
			ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With(slog.Int64("user_id", uid)))
		}
		next.ServeHTTP(w, req.WithContext(WithIdentity(ctx, id)))
	})
}

// TokenFromHeader extracts the token from "JWT <token>" or "Bearer <token>".
func TokenFromHeader(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", false
	}
	if !strings.EqualFold(scheme, "JWT") && !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
