// Package app is the resolver layer: it validates input, loads entities,
// applies the authorization rules and performs store writes.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"graphdj/internal/ratelimit"
	"graphdj/internal/util"
	"graphdj/pkg/queue"
	"graphdj/pkg/storage"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
	"graphdj/services/api/internal/security"
)

const (
	defaultSessionTTL     = 5 * time.Minute
	defaultRefreshTTL     = 7 * 24 * time.Hour
	defaultMaxUploadBytes = 5 << 20
)

var defaultImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// Config holds runtime configuration for the core application. Collaborators
// left nil are built from the connection settings.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration
	SessionTTL  time.Duration
	RefreshTTL  time.Duration

	BlobBackend    string
	DataDir        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	MaxUploadBytes         int64
	AllowedImageExtensions []string

	LoginRateLimitPerMinute  int
	SignupRateLimitPerMinute int

	Store         store.Store
	Blobs         storage.BlobStore
	Sessions      SessionIssuer
	RefreshTokens store.RefreshTokenStore
	LoginLimiter  ratelimit.Limiter
	SignupLimiter ratelimit.Limiter
	CleanupQueue  CleanupQueue
}

// CleanupQueue retries blob deletions that failed during a mutation.
type CleanupQueue interface {
	Enqueue(ctx context.Context, key, reason string) error
	Start(ctx context.Context, concurrency int, handler queue.Handler)
}

// SessionIssuer issues, verifies and revokes access tokens.
type SessionIssuer interface {
	store.SessionStore
	ParseClaims(token string) (store.Claims, error)
	TTL() time.Duration
}

// App is the core application service wiring together storage and auth logic.
type App struct {
	store         store.Store
	blobs         storage.BlobStore
	sessions      SessionIssuer
	refreshTokens store.RefreshTokenStore
	refreshTTL    time.Duration

	maxUploadBytes  int64
	imageExtensions map[string]struct{}

	loginLimiter  ratelimit.Limiter
	signupLimiter ratelimit.Limiter

	cleanup CleanupQueue
	alerter *security.AuditAlerter
	redis   *redis.Client
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.AllowedImageExtensions) == 0 {
		cfg.AllowedImageExtensions = defaultImageExtensions
	}

	a := &App{
		refreshTTL:      cfg.RefreshTTL,
		maxUploadBytes:  cfg.MaxUploadBytes,
		imageExtensions: normalizeExtensions(cfg.AllowedImageExtensions),
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		a.alerter = security.NewAuditAlerter(a.redis, "graphdj:alerts")
	}

	a.store = cfg.Store
	if a.store == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		a.store, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	a.blobs = cfg.Blobs
	if a.blobs == nil {
		blobs, err := newBlobStore(cfg)
		if err != nil {
			return nil, err
		}
		a.blobs = blobs
	}

	a.sessions = cfg.Sessions
	if a.sessions == nil {
		var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
		if a.redis != nil {
			revoker = store.NewRedisTokenRevoker(a.redis)
		}
		sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL, revoker, store.JWTOptions{
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
			Leeway:   cfg.JWTLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init jwt session store: %w", err)
		}
		a.sessions = sessions
	}

	a.refreshTokens = cfg.RefreshTokens
	if a.refreshTokens == nil {
		if a.redis != nil {
			a.refreshTokens = store.NewRedisRefreshTokenStore(a.redis)
		} else {
			a.refreshTokens = store.NewMemoryRefreshTokenStore()
		}
	}

	var err error
	if a.loginLimiter, err = a.limiterFor(cfg.LoginLimiter, "graphdj:ratelimit:login", cfg.LoginRateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("init login limiter: %w", err)
	}
	if a.signupLimiter, err = a.limiterFor(cfg.SignupLimiter, "graphdj:ratelimit:signup", cfg.SignupRateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("init signup limiter: %w", err)
	}

	a.cleanup = cfg.CleanupQueue
	if a.cleanup == nil && a.redis != nil {
		cleanup, err := queue.NewRedisCleanupQueue(a.redis, queue.Config{})
		if err != nil {
			return nil, fmt.Errorf("init blob cleanup queue: %w", err)
		}
		a.cleanup = cleanup
	}
	return a, nil
}

func newBlobStore(cfg Config) (storage.BlobStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case "file":
		blobs, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("init file blob store: %w", err)
		}
		return blobs, nil
	case "", "minio":
		blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init minio: %w", err)
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

// limiterFor returns the injected limiter, or builds one when perMinute > 0.
// A nil limiter disables throttling.
func (a *App) limiterFor(injected ratelimit.Limiter, prefix string, perMinute int) (ratelimit.Limiter, error) {
	if injected != nil {
		return injected, nil
	}
	if perMinute <= 0 {
		return nil, nil
	}
	if a.redis != nil {
		return ratelimit.NewRedisFixedWindowLimiter(a.redis, prefix, perMinute, time.Minute)
	}
	return ratelimit.NewMemoryLimiter(perMinute, time.Minute)
}

// StartBlobCleanup consumes the cleanup queue until ctx is done. Without a
// queue it returns immediately.
func (a *App) StartBlobCleanup(ctx context.Context, concurrency int) {
	if a.cleanup == nil {
		return
	}
	a.cleanup.Start(ctx, concurrency, a.deleteOrphan)
}

func (a *App) deleteOrphan(ctx context.Context, task queue.Task) error {
	if err := a.blobs.Delete(ctx, task.Key); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		return err
	}
	return nil
}

// IdentityResolver returns the resolver that maps Authorization headers to
// identities using this app's session store.
func (a *App) IdentityResolver() *identity.Resolver {
	return identity.NewResolver(a.sessions, a.store)
}

// Ping checks Redis connectivity when Redis is configured.
func (a *App) Ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return a.redis.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (a *App) Close() error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

// Result is the outcome of a mutation. Expected failures (denials, bad
// input, missing entities) are reported with Success false and a message in
// Errors; only infrastructure failures are returned as errors.
type Result[T any] struct {
	Entity  *T
	Success bool
	Errors  []string
}

func succeeded[T any](ctx context.Context, event string, id identity.Identity, entity T, entityID int64) Result[T] {
	uid, _ := id.UserID()
	util.LoggerFromContext(ctx).Info("mutation applied",
		"event", event, "result", "ok", "user_id", uid, "entity_id", entityID)
	return Result[T]{Entity: &entity, Success: true}
}

func failed[T any](ctx context.Context, event string, id identity.Identity, err error) (Result[T], error) {
	kind := apierr.KindOf(err)
	if !kind.Expected() {
		return Result[T]{}, err
	}
	uid, _ := id.UserID()
	reason := apierr.PublicMessage(err)
	util.LoggerFromContext(ctx).Info("mutation rejected",
		"event", event, "result", "denied", "user_id", uid, "kind", kind.Code(), "reason", reason)
	return Result[T]{Errors: []string{reason}}, nil
}

// observe feeds a rejected credential operation to the alerter and logs when
// the caller's IP crosses the alert threshold.
func (a *App) observe(ctx context.Context, event string, err error) {
	if a.alerter == nil || err == nil {
		return
	}
	outcome := security.OutcomeFail
	switch kind := apierr.KindOf(err); {
	case kind == apierr.RateLimited:
		outcome = security.OutcomeRateLimited
	case !kind.Expected():
		return
	}
	ip := util.ClientIPFromContext(ctx)
	logger := util.LoggerFromContext(ctx)
	result, obsErr := a.alerter.Observe(ctx, event, outcome, ip)
	if obsErr != nil {
		logger.Warn("security alert observe failed", "event", event, "err", obsErr)
		return
	}
	if result.Triggered {
		logger.Warn("security alert triggered",
			"event", event, "outcome", outcome, "ip", ip,
			"count", result.Count, "threshold", result.Threshold, "window", result.Window.String())
	}
}

// allow checks the client IP against limiter. A nil limiter always allows.
func allow(ctx context.Context, limiter ratelimit.Limiter, scope string) error {
	if limiter == nil {
		return nil
	}
	if !limiter.Allow(ctx, scope+":"+util.ClientIPFromContext(ctx)) {
		return apierr.New(apierr.RateLimited, apierr.MsgRateLimited)
	}
	return nil
}
