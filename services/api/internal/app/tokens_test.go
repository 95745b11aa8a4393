package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"graphdj/internal/util"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
)

func signUp(t *testing.T, env testEnv, username, password string) {
	t.Helper()
	res, err := env.app.CreateUser(context.Background(), identity.Anonymous(), CreateUserInput{
		Username: username, Email: username + "@example.com", Password: password,
	})
	if err != nil || !res.Success {
		t.Fatalf("sign up: %+v %v", res, err)
	}
}

func TestTokenAuthAndVerify(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "alice", "password123")
	ctx := context.Background()

	pair, err := env.app.TokenAuth(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("token auth: %v", err)
	}
	if pair.Token == "" || pair.RefreshToken == "" || pair.User.Username != "alice" {
		t.Fatalf("pair = %+v", pair)
	}
	if pair.Payload.Username != "alice" || pair.Payload.Exp == 0 || pair.Payload.OrigIat == 0 {
		t.Fatalf("payload = %+v", pair.Payload)
	}

	payload, err := env.app.VerifyToken(ctx, pair.Token)
	if err != nil || payload != pair.Payload {
		t.Fatalf("verify = %+v err=%v", payload, err)
	}
	_, err = env.app.VerifyToken(ctx, "garbage")
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgSignatureInvalid)

	id, err := env.app.IdentityResolver().Resolve("JWT " + pair.Token)
	if err != nil || !id.Is(pair.User.ID) {
		t.Fatalf("resolve = %+v err=%v", id, err)
	}
}

func TestTokenAuthRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "alice", "password123")
	ctx := context.Background()

	_, err := env.app.TokenAuth(ctx, "alice", "wrongpassword")
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidCredential)
	_, err = env.app.TokenAuth(ctx, "nobody", "password123")
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidCredential)
}

func TestRefreshTokenRotatesAndDetectsReplay(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "alice", "password123")
	ctx := context.Background()
	pair, err := env.app.TokenAuth(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("token auth: %v", err)
	}

	next, err := env.app.RefreshToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken || next.Token == "" {
		t.Fatalf("refresh did not rotate: %+v", next)
	}

	_, err = env.app.RefreshToken(ctx, pair.RefreshToken)
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidRefresh)
	// Replay revokes the family, including the token issued by rotation.
	_, err = env.app.RefreshToken(ctx, next.RefreshToken)
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidRefresh)
}

func TestRevokeToken(t *testing.T) {
	env := newTestEnv(t)
	signUp(t, env, "alice", "password123")
	ctx := context.Background()
	pair, err := env.app.TokenAuth(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("token auth: %v", err)
	}

	if _, err := env.app.RevokeToken(ctx, pair.RefreshToken, pair.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err = env.app.RefreshToken(ctx, pair.RefreshToken)
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidRefresh)
	_, err = env.app.VerifyToken(ctx, pair.Token)
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgSignatureInvalid)
}

func TestFailedLoginsFeedAlertCounters(t *testing.T) {
	srv := miniredis.RunT(t)
	env := newTestEnvWith(t, func(cfg *Config) { cfg.RedisAddr = srv.Addr() })
	t.Cleanup(func() { _ = env.app.Close() })
	signUp(t, env, "alice", "password123")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.app.TokenAuth(ctx, "alice", "wrongpassword")
		assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidCredential)
	}
	if _, err := env.app.TokenAuth(ctx, "alice", "password123"); err != nil {
		t.Fatalf("token auth: %v", err)
	}

	var counters []string
	for _, key := range srv.Keys() {
		if strings.HasPrefix(key, "graphdj:alerts:token.auth:fail:") {
			counters = append(counters, key)
		}
	}
	if len(counters) != 1 {
		t.Fatalf("alert counters = %v", srv.Keys())
	}
	if got, _ := srv.Get(counters[0]); got != "3" {
		t.Fatalf("failed login count = %q, want 3", got)
	}
}

type failingDeleteRefreshStore struct {
	*store.MemoryRefreshTokenStore
}

func (s failingDeleteRefreshStore) DeleteToken(string) error {
	return errors.New("refresh store offline")
}

func TestRefreshTokenForRemovedUserLogsRevokeFailure(t *testing.T) {
	refresh := failingDeleteRefreshStore{store.NewMemoryRefreshTokenStore()}
	env := newTestEnvWith(t, func(cfg *Config) { cfg.RefreshTokens = refresh })
	token, err := refresh.NewToken(999, time.Hour)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	var logs bytes.Buffer
	ctx := util.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&logs, nil)))

	_, err = env.app.RefreshToken(ctx, token)
	assertKind(t, err, apierr.Unauthenticated, apierr.MsgInvalidRefresh)
	if !strings.Contains(logs.String(), "revoke orphaned refresh token") || !strings.Contains(logs.String(), "refresh store offline") {
		t.Fatalf("missing revoke failure log: %s", logs.String())
	}
}
