package app

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"graphdj/internal/util"
	"graphdj/pkg/domain"
	"graphdj/pkg/storage"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
	"graphdj/services/api/internal/policy"
)

const (
	profileImagePrefix   = "profile_images"
	maxProfileNameLength = 255
)

func (a *App) Profiles(_ context.Context) ([]domain.Profile, error) {
	profiles, err := a.store.ListProfiles()
	if err != nil {
		return nil, apierr.Internal("list profiles", err)
	}
	return profiles, nil
}

func (a *App) Profile(_ context.Context, id int64) (domain.Profile, error) {
	return a.loadProfile(id)
}

// MyProfile fails with NoProfile, not NotFound, when the caller owns none.
func (a *App) MyProfile(_ context.Context, id identity.Identity) (domain.Profile, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Profile{}, err
	}
	profile, ok, err := a.store.GetProfileByUser(userID)
	if err != nil {
		return domain.Profile{}, apierr.Internal("get my profile", err)
	}
	if !ok {
		return domain.Profile{}, apierr.New(apierr.NoProfile, apierr.MsgNoProfile)
	}
	return profile, nil
}

// ProfileOfUser resolves User.profile; nil when the user has none.
func (a *App) ProfileOfUser(_ context.Context, userID int64) (*domain.Profile, error) {
	profile, ok, err := a.store.GetProfileByUser(userID)
	if err != nil {
		return nil, apierr.Internal("get profile by user", err)
	}
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// CreateProfile stores the uploaded image and creates the caller's profile,
// named after the uploaded file. The blob is removed again if the record
// cannot be written.
func (a *App) CreateProfile(ctx context.Context, id identity.Identity, file *domain.Upload) (Result[domain.Profile], error) {
	const event = "create_profile"
	profile, err := a.createProfile(ctx, id, file)
	if err != nil {
		return failed[domain.Profile](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, profile, profile.ID), nil
}

func (a *App) createProfile(ctx context.Context, id identity.Identity, file *domain.Upload) (domain.Profile, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Profile{}, err
	}
	_, hasProfile, err := a.store.GetProfileByUser(userID)
	if err != nil {
		return domain.Profile{}, apierr.Internal("get profile by user", err)
	}
	if err := policy.CanCreateProfile(id, hasProfile).Err(); err != nil {
		return domain.Profile{}, err
	}
	name, err := a.validateImage(file)
	if err != nil {
		return domain.Profile{}, err
	}

	key, err := a.putImage(ctx, file)
	if err != nil {
		return domain.Profile{}, err
	}
	profile := domain.Profile{Name: name, Image: key, UserID: userID}
	if err := a.store.CreateProfile(&profile); err != nil {
		a.discardImage(ctx, key)
		switch {
		case errors.Is(err, store.ErrConflict):
			return domain.Profile{}, apierr.New(apierr.Conflict, apierr.MsgProfileExists)
		case errors.Is(err, store.ErrNotFound):
			return domain.Profile{}, apierr.Unauthorized()
		}
		return domain.Profile{}, apierr.Internal("create profile", err)
	}
	return profile, nil
}

// UpdateProfile replaces name and image. The new blob is written first and
// the old one is deleted only after the record points at the new blob, so a
// failed save leaves the old image intact.
func (a *App) UpdateProfile(ctx context.Context, id identity.Identity, profileID int64, file *domain.Upload) (Result[domain.Profile], error) {
	const event = "update_profile"
	profile, err := a.updateProfile(ctx, id, profileID, file)
	if err != nil {
		return failed[domain.Profile](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, profile, profile.ID), nil
}

func (a *App) updateProfile(ctx context.Context, id identity.Identity, profileID int64, file *domain.Upload) (domain.Profile, error) {
	if _, err := policy.RequireAuthenticated(id); err != nil {
		return domain.Profile{}, err
	}
	profile, err := a.loadProfile(profileID)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := policy.CanMutateProfile(id, profile, policy.Update).Err(); err != nil {
		return domain.Profile{}, err
	}
	name, err := a.validateImage(file)
	if err != nil {
		return domain.Profile{}, err
	}

	key, err := a.putImage(ctx, file)
	if err != nil {
		return domain.Profile{}, err
	}
	profile.Name = name
	profile.Image = key
	prev, err := a.store.UpdateProfile(profile)
	if err != nil {
		a.discardImage(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Profile{}, apierr.Missing(apierr.MsgProfileNotFound)
		}
		return domain.Profile{}, apierr.Internal("update profile", err)
	}
	if prev.Image != "" && prev.Image != key {
		// The record is already consistent; a leftover old blob is only garbage.
		a.discardImage(ctx, prev.Image)
	}
	return profile, nil
}

// DeleteProfile removes the record and then its image. Either failure fails
// the mutation. The record goes first so it never references a deleted blob.
func (a *App) DeleteProfile(ctx context.Context, id identity.Identity, profileID int64) (Result[domain.Profile], error) {
	const event = "delete_profile"
	profile, err := a.deleteProfile(ctx, id, profileID)
	if err != nil {
		return failed[domain.Profile](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, profile, profile.ID), nil
}

func (a *App) deleteProfile(ctx context.Context, id identity.Identity, profileID int64) (domain.Profile, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Profile{}, err
	}
	profile, err := a.loadProfile(profileID)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := policy.CanMutateProfile(id, profile, policy.Delete).Err(); err != nil {
		return domain.Profile{}, err
	}
	deleted, err := a.store.DeleteProfile(profile.ID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Profile{}, apierr.Missing(apierr.MsgProfileNotFound)
		}
		return domain.Profile{}, apierr.Internal("delete profile", err)
	}
	if deleted.Image != "" {
		if err := a.blobs.Delete(ctx, deleted.Image); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
			a.scheduleCleanup(ctx, deleted.Image, "delete profile")
			return domain.Profile{}, apierr.Internal("delete profile image", err)
		}
	}
	return deleted, nil
}

func (a *App) loadProfile(id int64) (domain.Profile, error) {
	profile, ok, err := a.store.GetProfile(id)
	if err != nil {
		return domain.Profile{}, apierr.Internal("get profile", err)
	}
	if !ok {
		return domain.Profile{}, apierr.Missing(apierr.MsgProfileNotFound)
	}
	return profile, nil
}

// validateImage checks the upload and returns the profile name derived from
// the file name.
func (a *App) validateImage(file *domain.Upload) (string, error) {
	if file == nil || file.File == nil {
		return "", apierr.Invalid(apierr.MsgNoFile)
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(file.Filename), `\`, "/"))
	if name == "" || name == "." || name == "/" {
		return "", apierr.Invalid(apierr.MsgNoFile)
	}
	if utf8.RuneCountInString(name) > maxProfileNameLength {
		return "", apierr.Invalid(apierr.MsgFileNameTooLong)
	}
	if _, ok := a.imageExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return "", apierr.Invalid(apierr.MsgFileType)
	}
	if file.Size > a.maxUploadBytes {
		return "", apierr.Invalid(apierr.MsgFileTooLarge)
	}
	return name, nil
}

func (a *App) putImage(ctx context.Context, file *domain.Upload) (string, error) {
	key := storage.NewKey(profileImagePrefix, file.Filename)
	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Filename)))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	// Read one byte past the limit so an understated Size is still caught.
	body := &countingReader{r: io.LimitReader(file.File, a.maxUploadBytes+1)}
	if err := a.blobs.Put(ctx, key, body, file.Size, contentType); err != nil {
		return "", apierr.Internal("store profile image", err)
	}
	if body.n > a.maxUploadBytes {
		a.discardImage(ctx, key)
		return "", apierr.Invalid(apierr.MsgFileTooLarge)
	}
	return key, nil
}

// discardImage deletes a blob that no record references. Failures are
// handed to the cleanup queue.
func (a *App) discardImage(ctx context.Context, key string) {
	if err := a.blobs.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		util.LoggerFromContext(ctx).Warn("orphaned profile image", "key", key, "err", err)
		a.scheduleCleanup(ctx, key, "discard image")
	}
}

func (a *App) scheduleCleanup(ctx context.Context, key, reason string) {
	if a.cleanup == nil {
		return
	}
	if err := a.cleanup.Enqueue(ctx, key, reason); err != nil {
		util.LoggerFromContext(ctx).Error("enqueue blob cleanup", "key", key, "err", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func normalizeExtensions(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

