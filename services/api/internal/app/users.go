package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"graphdj/pkg/auth"
	"graphdj/pkg/domain"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
	"graphdj/services/api/internal/policy"
	"graphdj/services/api/internal/security"
)

const maxUsernameLength = 150

var usernamePattern = regexp.MustCompile(`^[\w.@+-]+$`)

type CreateUserInput struct {
	Username string
	Email    string
	Password string
}

// Users lists every user. Only authenticated callers may enumerate accounts.
func (a *App) Users(_ context.Context, id identity.Identity) ([]domain.User, error) {
	if _, err := policy.RequireAuthenticated(id); err != nil {
		return nil, err
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, apierr.Internal("list users", err)
	}
	return users, nil
}

func (a *App) User(_ context.Context, userID int64) (domain.User, error) {
	return a.loadUser(userID)
}

// Me returns the caller, or nil for an anonymous caller.
func (a *App) Me(_ context.Context, id identity.Identity) (*domain.User, error) {
	userID, ok := id.UserID()
	if !ok {
		return nil, nil
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return nil, apierr.Internal("get me", err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

// CreateUser signs up a new account. It is the only mutation open to
// anonymous callers and is throttled per client IP.
func (a *App) CreateUser(ctx context.Context, id identity.Identity, in CreateUserInput) (Result[domain.User], error) {
	const event = "create_user"
	user, err := a.createUser(ctx, in)
	if err != nil {
		a.observe(ctx, security.EventCreateUser, err)
		return failed[domain.User](ctx, event, id, err)
	}
	return succeeded(ctx, event, identity.Authenticated(user.ID), user, user.ID), nil
}

func (a *App) createUser(ctx context.Context, in CreateUserInput) (domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if err := validateSignUp(username, email, in.Password); err != nil {
		return domain.User{}, err
	}
	if err := allow(ctx, a.signupLimiter, "createUser"); err != nil {
		return domain.User{}, err
	}
	_, exists, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, apierr.Internal("get user by username", err)
	}
	if exists {
		return domain.User{}, apierr.New(apierr.Conflict, apierr.MsgUsernameTaken)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, apierr.Internal("hash password", err)
	}
	user := domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		DateJoined:   time.Now().UTC(),
	}
	if err := a.store.CreateUser(&user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, apierr.New(apierr.Conflict, apierr.MsgUsernameTaken)
		}
		return domain.User{}, apierr.Internal("create user", err)
	}
	return user, nil
}

func validateSignUp(username, email, password string) error {
	switch {
	case username == "":
		return apierr.Invalid(apierr.MsgUsernameRequired)
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return apierr.Invalid(apierr.MsgUsernameTooLong)
	case !usernamePattern.MatchString(username):
		return apierr.Invalid(apierr.MsgUsernameInvalid)
	case email == "":
		return apierr.Invalid(apierr.MsgEmailRequired)
	case password == "":
		return apierr.Invalid(apierr.MsgPasswordRequired)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return apierr.Invalid(apierr.MsgEmailInvalid)
	}
	switch err := auth.ValidatePassword(password); {
	case errors.Is(err, auth.ErrPasswordTooShort):
		return apierr.Invalid(fmt.Sprintf("This password is too short. It must contain at least %d characters.", auth.MinPasswordLength))
	case errors.Is(err, auth.ErrPasswordTooLong):
		return apierr.Invalid("This password is too long. It must contain at most 72 bytes.")
	case err != nil:
		return apierr.Invalid(err.Error())
	}
	return nil
}

func (a *App) loadUser(id int64) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, apierr.Internal("get user", err)
	}
	if !ok {
		return domain.User{}, apierr.Missing(apierr.MsgUserNotFound)
	}
	return user, nil
}
