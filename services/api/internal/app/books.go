package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"graphdj/pkg/domain"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
	"graphdj/services/api/internal/policy"
)

const maxTitleLength = 255

// BookFilter selects books for the public listing. Nil First means no limit.
type BookFilter struct {
	Search string
	First  *int
	Skip   *int
}

type CreateBookInput struct {
	Title         string
	Description   string
	YearPublished int
}

// UpdateBookInput changes only the non-nil fields.
type UpdateBookInput struct {
	ID            int64
	Title         *string
	Description   *string
	YearPublished *int
}

// Books lists books ordered by id, searched by title or description, then
// paginated skip-then-first.
func (a *App) Books(_ context.Context, f BookFilter) ([]domain.Book, error) {
	q := store.BookQuery{Search: strings.TrimSpace(f.Search), Limit: store.NoLimit}
	if f.Skip != nil {
		if *f.Skip < 0 {
			return nil, apierr.Invalid(apierr.MsgSkipNegative)
		}
		q.Offset = *f.Skip
	}
	if f.First != nil {
		if *f.First < 0 {
			return nil, apierr.Invalid(apierr.MsgFirstNegative)
		}
		q.Limit = *f.First
	}
	books, err := a.store.ListBooks(q)
	if err != nil {
		return nil, apierr.Internal("list books", err)
	}
	return books, nil
}

func (a *App) Book(_ context.Context, id int64) (domain.Book, error) {
	return a.loadBook(id)
}

// MyBooks returns the caller's books, newest first.
func (a *App) MyBooks(_ context.Context, id identity.Identity) ([]domain.Book, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return nil, err
	}
	books, err := a.store.ListBooks(store.BookQuery{AuthorID: userID, Newest: true, Limit: store.NoLimit})
	if err != nil {
		return nil, apierr.Internal("list my books", err)
	}
	return books, nil
}

// BooksByAuthor resolves User.books.
func (a *App) BooksByAuthor(_ context.Context, authorID int64) ([]domain.Book, error) {
	books, err := a.store.ListBooks(store.BookQuery{AuthorID: authorID, Limit: store.NoLimit})
	if err != nil {
		return nil, apierr.Internal("list books by author", err)
	}
	return books, nil
}

func (a *App) CreateBook(ctx context.Context, id identity.Identity, in CreateBookInput) (Result[domain.Book], error) {
	const event = "create_book"
	book, err := a.createBook(id, in)
	if err != nil {
		return failed[domain.Book](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, book, book.ID), nil
}

func (a *App) createBook(id identity.Identity, in CreateBookInput) (domain.Book, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Book{}, err
	}
	title, err := validateTitle(in.Title)
	if err != nil {
		return domain.Book{}, err
	}
	if in.YearPublished < 0 {
		return domain.Book{}, apierr.Invalid(apierr.MsgYearNegative)
	}
	if err := policy.CanCreateBook(id).Err(); err != nil {
		return domain.Book{}, err
	}
	book := domain.Book{
		Title:         title,
		Description:   in.Description,
		YearPublished: in.YearPublished,
		AuthorID:      userID,
	}
	if err := a.store.CreateBook(&book); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The caller's account was removed after the token was resolved.
			return domain.Book{}, apierr.Unauthorized()
		}
		return domain.Book{}, apierr.Internal("create book", err)
	}
	return book, nil
}

func (a *App) UpdateBook(ctx context.Context, id identity.Identity, in UpdateBookInput) (Result[domain.Book], error) {
	const event = "update_book"
	book, err := a.updateBook(id, in)
	if err != nil {
		return failed[domain.Book](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, book, book.ID), nil
}

func (a *App) updateBook(id identity.Identity, in UpdateBookInput) (domain.Book, error) {
	if _, err := policy.RequireAuthenticated(id); err != nil {
		return domain.Book{}, err
	}
	book, err := a.loadBook(in.ID)
	if err != nil {
		return domain.Book{}, err
	}
	if err := policy.CanMutateBook(id, book, policy.Update).Err(); err != nil {
		return domain.Book{}, err
	}
	if in.Title != nil {
		title, err := validateTitle(*in.Title)
		if err != nil {
			return domain.Book{}, err
		}
		book.Title = title
	}
	if in.YearPublished != nil && *in.YearPublished < 0 {
		return domain.Book{}, apierr.Invalid(apierr.MsgYearNegative)
	}
	if in.Description != nil {
		book.Description = *in.Description
	}
	if in.YearPublished != nil {
		book.YearPublished = *in.YearPublished
	}
	if err := a.store.UpdateBook(book); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Book{}, apierr.Missing(apierr.MsgBookNotFound)
		}
		return domain.Book{}, apierr.Internal("update book", err)
	}
	return book, nil
}

// DeleteBook removes a book and, through the store cascade, its reviews. The
// returned entity is the book as it was before deletion.
func (a *App) DeleteBook(ctx context.Context, id identity.Identity, bookID int64) (Result[domain.Book], error) {
	const event = "delete_book"
	book, err := a.deleteBook(id, bookID)
	if err != nil {
		return failed[domain.Book](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, book, book.ID), nil
}

func (a *App) deleteBook(id identity.Identity, bookID int64) (domain.Book, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Book{}, err
	}
	book, err := a.loadBook(bookID)
	if err != nil {
		return domain.Book{}, err
	}
	if err := policy.CanMutateBook(id, book, policy.Delete).Err(); err != nil {
		return domain.Book{}, err
	}
	if err := a.store.DeleteBook(book.ID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Book{}, apierr.Missing(apierr.MsgBookNotFound)
		}
		return domain.Book{}, apierr.Internal("delete book", err)
	}
	return book, nil
}

func (a *App) loadBook(id int64) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, apierr.Internal("get book", err)
	}
	if !ok {
		return domain.Book{}, apierr.Missing(apierr.MsgBookNotFound)
	}
	return book, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apierr.Invalid(apierr.MsgTitleRequired)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", apierr.Invalid(apierr.MsgTitleTooLong)
	}
	return title, nil
}
