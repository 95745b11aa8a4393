package store

import (
	"errors"

	"graphdj/pkg/domain"
)

var (
	// ErrNotFound indicates no row matched the id (and owner, where given).
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness constraint would be violated.
	ErrConflict = errors.New("record conflicts with an existing one")
)

// NoLimit disables the limit of a list query.
const NoLimit = -1

// BookQuery filters and paginates book listings.
// Offset is applied before Limit. Results are ordered by id.
type BookQuery struct {
	Search   string
	AuthorID int64
	Newest   bool
	Offset   int
	Limit    int
}

// ReviewQuery filters review listings. Zero fields are ignored.
type ReviewQuery struct {
	UserID int64
	BookID int64
}

// Store defines persistence operations for users, books, profiles and reviews.
//
// Update and delete calls are guarded by the owner column: a row whose owner
// differs from the one supplied is treated as missing and ErrNotFound is
// returned, so ownership checked by the caller cannot go stale between the
// read and the write.
type Store interface {
	// users
	CreateUser(u *domain.User) error
	GetUserByID(id int64) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	DeleteUser(id int64) error

	// books
	CreateBook(b *domain.Book) error
	GetBook(id int64) (domain.Book, bool, error)
	ListBooks(q BookQuery) ([]domain.Book, error)
	UpdateBook(b domain.Book) error
	DeleteBook(id, authorID int64) error

	// profiles
	CreateProfile(p *domain.Profile) error
	GetProfile(id int64) (domain.Profile, bool, error)
	GetProfileByUser(userID int64) (domain.Profile, bool, error)
	ListProfiles() ([]domain.Profile, error)
	// UpdateProfile replaces name and image and returns the row as it was
	// immediately before the write.
	UpdateProfile(p domain.Profile) (domain.Profile, error)
	// DeleteProfile returns the row as it was when deleted.
	DeleteProfile(id, userID int64) (domain.Profile, error)

	// reviews
	CreateReview(r *domain.Review) error
	GetReview(id int64) (domain.Review, bool, error)
	ListReviews(q ReviewQuery) ([]domain.Review, error)
	UpdateReview(r domain.Review) error
	DeleteReview(id, userID int64) error
}

// SessionStore issues and resolves access tokens.
type SessionStore interface {
	NewSession(userID int64, username string) (string, error)
	GetUserIDByToken(token string) (int64, bool, error)
	DeleteSession(token string) error
}

