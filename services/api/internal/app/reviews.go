package app

import (
	"context"
	"errors"
	"strings"

	"graphdj/pkg/domain"
	"graphdj/pkg/store"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/identity"
	"graphdj/services/api/internal/policy"
)

type CreateReviewInput struct {
	Text   string
	BookID int64
}

type UpdateReviewInput struct {
	ReviewID int64
	Text     string
}

func (a *App) Reviews(_ context.Context) ([]domain.Review, error) {
	return a.listReviews("list reviews", store.ReviewQuery{})
}

func (a *App) Review(_ context.Context, id int64) (domain.Review, error) {
	return a.loadReview(id)
}

func (a *App) MyReviews(_ context.Context, id identity.Identity) ([]domain.Review, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return nil, err
	}
	return a.listReviews("list my reviews", store.ReviewQuery{UserID: userID})
}

// BookReviews fails with NotFound for an unknown book and otherwise returns
// its reviews, possibly none.
func (a *App) BookReviews(_ context.Context, bookID int64) ([]domain.Review, error) {
	if _, err := a.loadBook(bookID); err != nil {
		return nil, err
	}
	return a.listReviews("list book reviews", store.ReviewQuery{BookID: bookID})
}

// ReviewsOfBook resolves Book.reviews for a book already loaded.
func (a *App) ReviewsOfBook(_ context.Context, bookID int64) ([]domain.Review, error) {
	return a.listReviews("list book reviews", store.ReviewQuery{BookID: bookID})
}

// ReviewsByUser resolves User.reviews.
func (a *App) ReviewsByUser(_ context.Context, userID int64) ([]domain.Review, error) {
	return a.listReviews("list user reviews", store.ReviewQuery{UserID: userID})
}

func (a *App) listReviews(op string, q store.ReviewQuery) ([]domain.Review, error) {
	reviews, err := a.store.ListReviews(q)
	if err != nil {
		return nil, apierr.Internal(op, err)
	}
	return reviews, nil
}

// CreateReview stores the review text as given; the caller may not review a
// book they wrote.
func (a *App) CreateReview(ctx context.Context, id identity.Identity, in CreateReviewInput) (Result[domain.Review], error) {
	const event = "create_review"
	review, err := a.createReview(id, in)
	if err != nil {
		return failed[domain.Review](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, review, review.ID), nil
}

func (a *App) createReview(id identity.Identity, in CreateReviewInput) (domain.Review, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Review{}, err
	}
	book, err := a.loadBook(in.BookID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := policy.CanCreateReview(id, book).Err(); err != nil {
		return domain.Review{}, err
	}
	if err := validateReviewText(in.Text); err != nil {
		return domain.Review{}, err
	}
	review := domain.Review{Text: in.Text, UserID: userID, BookID: book.ID}
	if err := a.store.CreateReview(&review); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Review{}, apierr.Missing(apierr.MsgBookNotFound)
		}
		return domain.Review{}, apierr.Internal("create review", err)
	}
	return review, nil
}

func (a *App) UpdateReview(ctx context.Context, id identity.Identity, in UpdateReviewInput) (Result[domain.Review], error) {
	const event = "update_review"
	review, err := a.updateReview(id, in)
	if err != nil {
		return failed[domain.Review](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, review, review.ID), nil
}

func (a *App) updateReview(id identity.Identity, in UpdateReviewInput) (domain.Review, error) {
	if _, err := policy.RequireAuthenticated(id); err != nil {
		return domain.Review{}, err
	}
	review, err := a.loadReview(in.ReviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := policy.CanMutateReview(id, review, policy.Update).Err(); err != nil {
		return domain.Review{}, err
	}
	if err := validateReviewText(in.Text); err != nil {
		return domain.Review{}, err
	}
	review.Text = in.Text
	if err := a.store.UpdateReview(review); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Review{}, apierr.Missing(apierr.MsgReviewNotFound)
		}
		return domain.Review{}, apierr.Internal("update review", err)
	}
	return review, nil
}

func (a *App) DeleteReview(ctx context.Context, id identity.Identity, reviewID int64) (Result[domain.Review], error) {
	const event = "delete_review"
	review, err := a.deleteReview(id, reviewID)
	if err != nil {
		return failed[domain.Review](ctx, event, id, err)
	}
	return succeeded(ctx, event, id, review, review.ID), nil
}

func (a *App) deleteReview(id identity.Identity, reviewID int64) (domain.Review, error) {
	userID, err := policy.RequireAuthenticated(id)
	if err != nil {
		return domain.Review{}, err
	}
	review, err := a.loadReview(reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := policy.CanMutateReview(id, review, policy.Delete).Err(); err != nil {
		return domain.Review{}, err
	}
	if err := a.store.DeleteReview(review.ID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Review{}, apierr.Missing(apierr.MsgReviewNotFound)
		}
		return domain.Review{}, apierr.Internal("delete review", err)
	}
	return review, nil
}

func (a *App) loadReview(id int64) (domain.Review, error) {
	review, ok, err := a.store.GetReview(id)
	if err != nil {
		return domain.Review{}, apierr.Internal("get review", err)
	}
	if !ok {
		return domain.Review{}, apierr.Missing(apierr.MsgReviewNotFound)
	}
	return review, nil
}

func validateReviewText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apierr.Invalid(apierr.MsgReviewTextRequired)
	}
	return nil
}
