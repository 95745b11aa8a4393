package store

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func refreshStores(t *testing.T) map[string]RefreshTokenStore {
	mr := miniredis.RunT(t)
	return map[string]RefreshTokenStore{
		"memory": NewMemoryRefreshTokenStore(),
		"redis":  NewRedisRefreshTokenStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})),
	}
}

func TestRefreshTokenStoreRotateAndDelete(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(1, time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			userID, next, err := s.RotateToken(token, time.Minute)
			if err != nil {
				t.Fatalf("rotate token: %v", err)
			}
			if userID != 1 || next == "" || next == token {
				t.Fatalf("unexpected rotation: user=%d next=%q", userID, next)
			}
			if err := s.DeleteToken(next); err != nil {
				t.Fatalf("delete token: %v", err)
			}
			if _, _, err := s.RotateToken(next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token after delete, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreDetectsReplay(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			token, err := s.NewToken(2, time.Minute)
			if err != nil {
				t.Fatalf("new token: %v", err)
			}
			_, next, err := s.RotateToken(token, time.Minute)
			if err != nil {
				t.Fatalf("first rotate: %v", err)
			}
			if _, _, err := s.RotateToken(token, time.Minute); !errors.Is(err, ErrRefreshTokenReplay) {
				t.Fatalf("expected replay detection, got %v", err)
			}
			if _, _, err := s.RotateToken(next, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected family revoked after replay, got %v", err)
			}
		})
	}
}

func TestRefreshTokenStoreUnknownToken(t *testing.T) {
	for name, s := range refreshStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.RotateToken("nope", time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected invalid token, got %v", err)
			}
			if err := s.DeleteToken("nope"); err != nil {
				t.Fatalf("deleting unknown token should be a no-op, got %v", err)
			}
		})
	}
}
