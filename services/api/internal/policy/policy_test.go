package policy

import (
	"testing"

	"graphdj/pkg/domain"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
)

var (
	anon  = identity.Anonymous()
	alice = identity.Authenticated(1)
	bob   = identity.Authenticated(2)
)

func TestRulesDenyAnonymous(t *testing.T) {
	book := domain.Book{ID: 10, AuthorID: 1}
	decisions := map[string]Decision{
		"create book":    CanCreateBook(anon),
		"update book":    CanMutateBook(anon, book, Update),
		"create profile": CanCreateProfile(anon, false),
		"delete profile": CanMutateProfile(anon, domain.Profile{UserID: 1}, Delete),
		"create review":  CanCreateReview(anon, book),
		"update review":  CanMutateReview(anon, domain.Review{UserID: 1}, Update),
	}
	for name, d := range decisions {
		if d.Allowed || d.Kind != apierr.Unauthenticated {
			t.Fatalf("%s: expected unauthenticated denial, got %+v", name, d)
		}
	}
	if _, err := RequireAuthenticated(anon); apierr.KindOf(err) != apierr.Unauthenticated {
		t.Fatalf("RequireAuthenticated(anon) err = %v", err)
	}
}

func TestBookOwnership(t *testing.T) {
	book := domain.Book{ID: 10, AuthorID: 1}
	if d := CanMutateBook(alice, book, Update); !d.Allowed {
		t.Fatalf("author should update: %+v", d)
	}
	cases := []struct {
		action Action
		reason string
	}{
		{Update, apierr.MsgBookUpdateNotOwner},
		{Delete, apierr.MsgBookDeleteNotOwner},
	}
	for _, tc := range cases {
		d := CanMutateBook(bob, book, tc.action)
		if d.Allowed || d.Kind != apierr.Forbidden || d.Reason != tc.reason {
			t.Fatalf("%s by non-author: %+v", tc.action, d)
		}
	}
}

func TestProfileRules(t *testing.T) {
	if d := CanCreateProfile(alice, true); d.Allowed || d.Kind != apierr.Conflict {
		t.Fatalf("second profile should conflict: %+v", d)
	}
	if d := CanCreateProfile(alice, false); !d.Allowed {
		t.Fatalf("first profile should be allowed: %+v", d)
	}
	profile := domain.Profile{ID: 3, UserID: 1}
	if d := CanMutateProfile(bob, profile, Update); d.Reason != apierr.MsgProfileUpdateNotOwner {
		t.Fatalf("unexpected update denial: %+v", d)
	}
	if d := CanMutateProfile(bob, profile, Delete); d.Reason != apierr.MsgProfileDeleteNotOwner {
		t.Fatalf("unexpected delete denial: %+v", d)
	}
	if err := CanMutateProfile(alice, profile, Delete).Err(); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestSelfReviewBan(t *testing.T) {
	book := domain.Book{ID: 10, AuthorID: 1}
	d := CanCreateReview(alice, book)
	if d.Allowed || d.Reason != apierr.MsgReviewOwnBook {
		t.Fatalf("author reviewing own book: %+v", d)
	}
	if d := CanCreateReview(bob, book); !d.Allowed {
		t.Fatalf("other user should review: %+v", d)
	}
}

func TestReviewOwnership(t *testing.T) {
	review := domain.Review{ID: 5, UserID: 2, BookID: 10}
	if d := CanMutateReview(bob, review, Update); !d.Allowed {
		t.Fatalf("reviewer should update: %+v", d)
	}
	err := CanMutateReview(alice, review, Delete).Err()
	if apierr.KindOf(err) != apierr.Forbidden || apierr.PublicMessage(err) != apierr.MsgReviewDeleteNotOwner {
		t.Fatalf("non-reviewer delete err = %v", err)
	}
}

// Ownership compares id values, so two separately built identities for the
// same user are the same owner.
func TestOwnershipUsesValueEquality(t *testing.T) {
	book := domain.Book{AuthorID: 1 << 40}
	if d := CanMutateBook(identity.Authenticated(1<<40), book, Delete); !d.Allowed {
		t.Fatalf("expected allow for equal ids: %+v", d)
	}
}
