package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates token not found or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates a rotated refresh token was presented again.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists refresh tokens for rotation + replay detection.
// Tokens issued by rotation share a family with their predecessor; replaying
// a rotated token revokes the whole family.
type RefreshTokenStore interface {
	NewToken(userID int64, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID int64, newToken string, err error)
	DeleteToken(token string) error
}

type refreshRecord struct {
	UserID  int64     `json:"userId"`
	Family  string    `json:"family"`
	Rotated bool      `json:"rotated"`
	Expiry  time.Time `json:"expiry"`
}

// MemoryRefreshTokenStore keeps refresh token families in memory.
type MemoryRefreshTokenStore struct {
	mu       sync.Mutex
	tokens   map[string]refreshRecord       // token hash -> record
	families map[string]map[string]struct{} // family -> token hashes
}

// NewMemoryRefreshTokenStore constructs an in-memory refresh token store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		tokens:   make(map[string]refreshRecord),
		families: make(map[string]map[string]struct{}),
	}
}

// NewToken issues a token starting a new family.
func (s *MemoryRefreshTokenStore) NewToken(userID int64, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(refreshTokenHash(token), refreshRecord{
		UserID: userID,
		Family: randomHexID(16),
		Expiry: time.Now().UTC().Add(ttl),
	})
	return token, nil
}

// RotateToken validates token and issues its successor in the same family.
func (s *MemoryRefreshTokenStore) RotateToken(token string, ttl time.Duration) (int64, string, error) {
	hash := refreshTokenHash(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[hash]
	if !ok {
		return 0, "", ErrInvalidRefreshToken
	}
	if time.Now().UTC().After(rec.Expiry) {
		delete(s.tokens, hash)
		return 0, "", ErrInvalidRefreshToken
	}
	if rec.Rotated {
		s.revokeFamilyLocked(rec.Family)
		return 0, "", ErrRefreshTokenReplay
	}
	newToken, err := generateRefreshToken()
	if err != nil {
		return 0, "", err
	}
	rec.Rotated = true
	s.tokens[hash] = rec
	s.addLocked(refreshTokenHash(newToken), refreshRecord{
		UserID: rec.UserID,
		Family: rec.Family,
		Expiry: time.Now().UTC().Add(ttl),
	})
	return rec.UserID, newToken, nil
}

// DeleteToken revokes the token's family. Unknown tokens are ignored.
func (s *MemoryRefreshTokenStore) DeleteToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.tokens[refreshTokenHash(token)]; ok {
		s.revokeFamilyLocked(rec.Family)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) addLocked(hash string, rec refreshRecord) {
	s.tokens[hash] = rec
	if s.families[rec.Family] == nil {
		s.families[rec.Family] = make(map[string]struct{})
	}
	s.families[rec.Family][hash] = struct{}{}
}

func (s *MemoryRefreshTokenStore) revokeFamilyLocked(family string) {
	for hash := range s.families[family] {
		delete(s.tokens, hash)
	}
	delete(s.families, family)
}

// RedisRefreshTokenStore keeps refresh token families in Redis.
type RedisRefreshTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshTokenStore builds a Redis-backed refresh token store.
func NewRedisRefreshTokenStore(client *redis.Client) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client, prefix: "graphdj:refresh"}
}

// NewToken issues a token starting a new family.
func (s *RedisRefreshTokenStore) NewToken(userID int64, ttl time.Duration) (string, error) {
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	rec := refreshRecord{UserID: userID, Family: randomHexID(16), Expiry: time.Now().UTC().Add(ttl)}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	hash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.tokenKey(hash), payload, ttl)
		p.SAdd(ctx, s.familyKey(rec.Family), hash)
		p.Expire(ctx, s.familyKey(rec.Family), ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

// RotateToken validates token and issues its successor in the same family.
// A concurrent rotation of the same token is treated as replay.
func (s *RedisRefreshTokenStore) RotateToken(token string, ttl time.Duration) (int64, string, error) {
	newToken, err := generateRefreshToken()
	if err != nil {
		return 0, "", err
	}
	newHash := refreshTokenHash(newToken)
	key := s.tokenKey(refreshTokenHash(token))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var rec refreshRecord
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrInvalidRefreshToken
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode refresh token: %w", err)
		}
		if rec.Rotated {
			return ErrRefreshTokenReplay
		}
		rotated := rec
		rotated.Rotated = true
		oldPayload, err := json.Marshal(rotated)
		if err != nil {
			return err
		}
		nextPayload, err := json.Marshal(refreshRecord{
			UserID: rec.UserID,
			Family: rec.Family,
			Expiry: time.Now().UTC().Add(ttl),
		})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, oldPayload, redis.KeepTTL)
			p.Set(ctx, s.tokenKey(newHash), nextPayload, ttl)
			p.SAdd(ctx, s.familyKey(rec.Family), newHash)
			p.Expire(ctx, s.familyKey(rec.Family), ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return rec.UserID, newToken, nil
	case errors.Is(err, ErrRefreshTokenReplay), errors.Is(err, redis.TxFailedErr):
		if rec.Family != "" {
			if revokeErr := s.revokeFamily(ctx, rec.Family); revokeErr != nil {
				return 0, "", revokeErr
			}
		}
		return 0, "", ErrRefreshTokenReplay
	default:
		return 0, "", err
	}
}

// DeleteToken revokes the token's family. Unknown tokens are ignored.
func (s *RedisRefreshTokenStore) DeleteToken(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, s.tokenKey(refreshTokenHash(token))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var rec refreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode refresh token: %w", err)
	}
	return s.revokeFamily(ctx, rec.Family)
}

func (s *RedisRefreshTokenStore) revokeFamily(ctx context.Context, family string) error {
	familyKey := s.familyKey(family)
	hashes, err := s.client.SMembers(ctx, familyKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, s.tokenKey(hash))
	}
	keys = append(keys, familyKey)
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisRefreshTokenStore) tokenKey(hash string) string {
	return s.prefix + ":token:" + hash
}

func (s *RedisRefreshTokenStore) familyKey(family string) string {
	return s.prefix + ":family:" + family
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
