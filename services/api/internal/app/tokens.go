package app

import (
	"context"
	"errors"
	"time"

	"graphdj/internal/util"
	"graphdj/pkg/auth"
	"graphdj/pkg/domain"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/security"
)

// TokenPayload is the public view of access token claims.
type TokenPayload struct {
	Username string
	Exp      int64
	OrigIat  int64
}

// TokenPair is returned by login and refresh. RefreshExpiresIn is the unix
// time at which the refresh token stops being accepted.
type TokenPair struct {
	Token            string
	RefreshToken     string
	RefreshExpiresIn int64
	Payload          TokenPayload
	User             domain.User
}

// TokenAuth exchanges username and password for a token pair. Unknown users
// and wrong passwords produce the same error.
func (a *App) TokenAuth(ctx context.Context, username, password string) (TokenPair, error) {
	pair, err := a.tokenAuth(ctx, username, password)
	a.observe(ctx, security.EventTokenAuth, err)
	return pair, err
}

func (a *App) tokenAuth(ctx context.Context, username, password string) (TokenPair, error) {
	if err := allow(ctx, a.loginLimiter, "tokenAuth"); err != nil {
		return TokenPair{}, err
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return TokenPair{}, apierr.Internal("get user by username", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return TokenPair{}, apierr.New(apierr.Unauthenticated, apierr.MsgInvalidCredential)
	}
	return a.issueTokens(user)
}

// VerifyToken returns the payload of a valid access token.
func (a *App) VerifyToken(_ context.Context, token string) (TokenPayload, error) {
	claims, err := a.sessions.ParseClaims(token)
	if err != nil {
		return TokenPayload{}, tokenError(err)
	}
	return payloadOf(claims), nil
}

// RefreshToken rotates a refresh token and issues a new access token.
// Presenting an already rotated token revokes its whole family.
func (a *App) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, err := a.refreshToken(ctx, refreshToken)
	a.observe(ctx, security.EventRefreshToken, err)
	return pair, err
}

func (a *App) refreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, rotated, err := a.refreshTokens.RotateToken(refreshToken, a.refreshTTL)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return TokenPair{}, apierr.New(apierr.Unauthenticated, apierr.MsgInvalidRefresh)
		}
		return TokenPair{}, apierr.Internal("rotate refresh token", err)
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return TokenPair{}, apierr.Internal("get user", err)
	}
	if !ok {
		if err := a.refreshTokens.DeleteToken(rotated); err != nil {
			util.LoggerFromContext(ctx).Warn("revoke orphaned refresh token", "user_id", userID, "err", err)
		}
		return TokenPair{}, apierr.New(apierr.Unauthenticated, apierr.MsgInvalidRefresh)
	}
	token, claims, err := a.newAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		Token:            token,
		RefreshToken:     rotated,
		RefreshExpiresIn: time.Now().Add(a.refreshTTL).Unix(),
		Payload:          payloadOf(claims),
		User:             user,
	}, nil
}

// RevokeToken revokes the refresh token family and, when given, the access
// token. It returns the revocation time.
func (a *App) RevokeToken(_ context.Context, refreshToken, accessToken string) (int64, error) {
	if err := a.refreshTokens.DeleteToken(refreshToken); err != nil {
		return 0, apierr.Internal("revoke refresh token", err)
	}
	if accessToken != "" {
		if err := a.sessions.DeleteSession(accessToken); err != nil {
			return 0, apierr.Internal("revoke access token", err)
		}
	}
	return time.Now().Unix(), nil
}

func (a *App) issueTokens(user domain.User) (TokenPair, error) {
	token, claims, err := a.newAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := a.refreshTokens.NewToken(user.ID, a.refreshTTL)
	if err != nil {
		return TokenPair{}, apierr.Internal("issue refresh token", err)
	}
	return TokenPair{
		Token:            token,
		RefreshToken:     refresh,
		RefreshExpiresIn: time.Now().Add(a.refreshTTL).Unix(),
		Payload:          payloadOf(claims),
		User:             user,
	}, nil
}

func (a *App) newAccessToken(user domain.User) (string, store.Claims, error) {
	token, err := a.sessions.NewSession(user.ID, user.Username)
	if err != nil {
		return "", store.Claims{}, apierr.Internal("issue access token", err)
	}
	claims, err := a.sessions.ParseClaims(token)
	if err != nil {
		return "", store.Claims{}, apierr.Internal("read access token", err)
	}
	return token, claims, nil
}

func payloadOf(claims store.Claims) TokenPayload {
	p := TokenPayload{Username: claims.Username, OrigIat: claims.OrigIat}
	if claims.ExpiresAt != nil {
		p.Exp = claims.ExpiresAt.Unix()
	}
	return p
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, store.ErrTokenExpired):
		return apierr.New(apierr.Unauthenticated, apierr.MsgSignatureExpired)
	case errors.Is(err, store.ErrInvalidToken):
		return apierr.New(apierr.Unauthenticated, apierr.MsgSignatureInvalid)
	}
	return apierr.Internal("verify token", err)
}
