// Package policy holds the authorization rules. Every function is pure: the
// caller loads the entity and passes it in, and ownership is always taken from
// the stored entity.
package policy

import (
	"graphdj/pkg/domain"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
)

// Action is a mutation on an existing entity.
type Action string

const (
	Update Action = "update"
	Delete Action = "delete"
)

// Decision is the outcome of a rule. Reason is client-visible.
type Decision struct {
	Allowed bool
	Kind    apierr.Kind
	Reason  string
}

var allowed = Decision{Allowed: true}

func deny(kind apierr.Kind, reason string) Decision {
	return Decision{Kind: kind, Reason: reason}
}

var unauthenticated = deny(apierr.Unauthenticated, apierr.MsgUnauthenticated)

// Err returns nil for an allowing decision and an *apierr.Error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apierr.New(d.Kind, d.Reason)
}

// RequireAuthenticated returns the caller's user id or an Unauthenticated error.
func RequireAuthenticated(id identity.Identity) (int64, error) {
	userID, ok := id.UserID()
	if !ok {
		return 0, apierr.Unauthorized()
	}
	return userID, nil
}

func CanCreateBook(id identity.Identity) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	return allowed
}

func CanMutateBook(id identity.Identity, book domain.Book, action Action) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	if !id.Is(book.AuthorID) {
		if action == Delete {
			return deny(apierr.Forbidden, apierr.MsgBookDeleteNotOwner)
		}
		return deny(apierr.Forbidden, apierr.MsgBookUpdateNotOwner)
	}
	return allowed
}

// CanCreateProfile allows a profile only for a caller that owns none yet.
func CanCreateProfile(id identity.Identity, hasProfile bool) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	if hasProfile {
		return deny(apierr.Conflict, apierr.MsgProfileExists)
	}
	return allowed
}

func CanMutateProfile(id identity.Identity, profile domain.Profile, action Action) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	if !id.Is(profile.UserID) {
		if action == Delete {
			return deny(apierr.Forbidden, apierr.MsgProfileDeleteNotOwner)
		}
		return deny(apierr.Forbidden, apierr.MsgProfileUpdateNotOwner)
	}
	return allowed
}

// CanCreateReview forbids authors from reviewing their own books.
func CanCreateReview(id identity.Identity, book domain.Book) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	if id.Is(book.AuthorID) {
		return deny(apierr.Forbidden, apierr.MsgReviewOwnBook)
	}
	return allowed
}

func CanMutateReview(id identity.Identity, review domain.Review, action Action) Decision {
	if !id.IsAuthenticated() {
		return unauthenticated
	}
	if !id.Is(review.UserID) {
		if action == Delete {
			return deny(apierr.Forbidden, apierr.MsgReviewDeleteNotOwner)
		}
		return deny(apierr.Forbidden, apierr.MsgReviewUpdateNotOwner)
	}
	return allowed
}
