package graph

import (
	"context"
	"fmt"

	"graphdj/pkg/domain"
	"graphdj/services/api/internal/apierr"
	"graphdj/services/api/internal/app"
	"graphdj/services/api/internal/identity"
)

type verifiedToken struct {
	Payload app.TokenPayload
}

type revokedToken struct {
	Revoked int64
}

// NewResolvers binds every field of the schema to the application layer.
// Relationship fields load related entities through explicit store queries.
func NewResolvers(a *app.App) *Registry {
	r := NewRegistry()
	bindUsers(r, a)
	bindBooks(r, a)
	bindProfiles(r, a)
	bindReviews(r, a)
	bindTokens(r, a)
	return r
}

func bindUsers(r *Registry, a *app.App) {
	r.Field("Query", "users", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.Users(ctx, identity.FromContext(ctx))
	}))
	r.Field("Query", "user", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.User(ctx, id)
	}))
	r.Field("Query", "me", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.Me(ctx, identity.FromContext(ctx))
	}))
	r.Field("Mutation", "createUser", root(func(ctx context.Context, args map[string]any) (any, error) {
		in, err := inputArg(args, "createUserInput")
		if err != nil {
			return nil, err
		}
		return a.CreateUser(ctx, identity.FromContext(ctx), app.CreateUserInput{
			Username: stringArg(in, "username"),
			Email:    stringArg(in, "email"),
			Password: stringArg(in, "password"),
		})
	}))

	r.Field("User", "id", prop(func(u domain.User) any { return u.ID }))
	r.Field("User", "username", prop(func(u domain.User) any { return u.Username }))
	r.Field("User", "email", prop(func(u domain.User) any { return u.Email }))
	r.Field("User", "dateJoined", prop(func(u domain.User) any { return u.DateJoined }))
	r.Field("User", "books", field(func(ctx context.Context, u domain.User, _ map[string]any) (any, error) {
		return a.BooksByAuthor(ctx, u.ID)
	}))
	r.Field("User", "reviews", field(func(ctx context.Context, u domain.User, _ map[string]any) (any, error) {
		return a.ReviewsByUser(ctx, u.ID)
	}))
	r.Field("User", "profile", field(func(ctx context.Context, u domain.User, _ map[string]any) (any, error) {
		return a.ProfileOfUser(ctx, u.ID)
	}))
	bindPayload[domain.User](r, "CreateUserPayload", "user")
}

func bindBooks(r *Registry, a *app.App) {
	r.Field("Query", "books", root(func(ctx context.Context, args map[string]any) (any, error) {
		first, err := optionalInt(args, "first")
		if err != nil {
			return nil, err
		}
		skip, err := optionalInt(args, "skip")
		if err != nil {
			return nil, err
		}
		return a.Books(ctx, app.BookFilter{Search: stringArg(args, "search"), First: first, Skip: skip})
	}))
	r.Field("Query", "book", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.Book(ctx, id)
	}))
	r.Field("Query", "myBooks", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.MyBooks(ctx, identity.FromContext(ctx))
	}))
	r.Field("Mutation", "createBook", root(func(ctx context.Context, args map[string]any) (any, error) {
		in, err := inputArg(args, "createBookInput")
		if err != nil {
			return nil, err
		}
		year, err := idArg(in, "yearPublished")
		if err != nil {
			return nil, err
		}
		return a.CreateBook(ctx, identity.FromContext(ctx), app.CreateBookInput{
			Title:         stringArg(in, "title"),
			Description:   stringArg(in, "description"),
			YearPublished: int(year),
		})
	}))
	r.Field("Mutation", "updateBook", root(func(ctx context.Context, args map[string]any) (any, error) {
		in, err := inputArg(args, "updateBookInput")
		if err != nil {
			return nil, err
		}
		id, err := idArg(in, "id")
		if err != nil {
			return nil, err
		}
		year, err := optionalInt(in, "yearPublished")
		if err != nil {
			return nil, err
		}
		return a.UpdateBook(ctx, identity.FromContext(ctx), app.UpdateBookInput{
			ID:            id,
			Title:         optionalString(in, "title"),
			Description:   optionalString(in, "description"),
			YearPublished: year,
		})
	}))
	r.Field("Mutation", "deleteBook", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "bookId")
		if err != nil {
			return nil, err
		}
		return a.DeleteBook(ctx, identity.FromContext(ctx), id)
	}))

	r.Field("Book", "id", prop(func(b domain.Book) any { return b.ID }))
	r.Field("Book", "title", prop(func(b domain.Book) any { return b.Title }))
	r.Field("Book", "description", prop(func(b domain.Book) any { return b.Description }))
	r.Field("Book", "yearPublished", prop(func(b domain.Book) any { return b.YearPublished }))
	r.Field("Book", "author", field(func(ctx context.Context, b domain.Book, _ map[string]any) (any, error) {
		return a.User(ctx, b.AuthorID)
	}))
	r.Field("Book", "reviews", field(func(ctx context.Context, b domain.Book, _ map[string]any) (any, error) {
		return a.ReviewsOfBook(ctx, b.ID)
	}))
	bindPayload[domain.Book](r, "CreateBookPayload", "book")
	bindPayload[domain.Book](r, "UpdateBookPayload", "book")
	bindPayload[domain.Book](r, "DeleteBookPayload", "book")
}

func bindProfiles(r *Registry, a *app.App) {
	r.Field("Query", "profiles", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.Profiles(ctx)
	}))
	r.Field("Query", "profile", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.Profile(ctx, id)
	}))
	r.Field("Query", "myProfile", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.MyProfile(ctx, identity.FromContext(ctx))
	}))
	r.Field("Mutation", "createProfile", root(func(ctx context.Context, args map[string]any) (any, error) {
		return a.CreateProfile(ctx, identity.FromContext(ctx), uploadArg(args, "file"))
	}))
	r.Field("Mutation", "updateProfile", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.UpdateProfile(ctx, identity.FromContext(ctx), id, uploadArg(args, "file"))
	}))
	r.Field("Mutation", "deleteProfile", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.DeleteProfile(ctx, identity.FromContext(ctx), id)
	}))

	r.Field("Profile", "id", prop(func(p domain.Profile) any { return p.ID }))
	r.Field("Profile", "name", prop(func(p domain.Profile) any { return p.Name }))
	r.Field("Profile", "user", field(func(ctx context.Context, p domain.Profile, _ map[string]any) (any, error) {
		return a.User(ctx, p.UserID)
	}))
	bindPayload[domain.Profile](r, "CreateProfilePayload", "profile")
	bindPayload[domain.Profile](r, "UpdateProfilePayload", "profile")
	bindPayload[domain.Profile](r, "DeleteProfilePayload", "profile")
}

func bindReviews(r *Registry, a *app.App) {
	r.Field("Query", "reviews", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.Reviews(ctx)
	}))
	r.Field("Query", "review", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "id")
		if err != nil {
			return nil, err
		}
		return a.Review(ctx, id)
	}))
	r.Field("Query", "myReviews", root(func(ctx context.Context, _ map[string]any) (any, error) {
		return a.MyReviews(ctx, identity.FromContext(ctx))
	}))
	r.Field("Query", "bookReviews", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "bookId")
		if err != nil {
			return nil, err
		}
		return a.BookReviews(ctx, id)
	}))
	r.Field("Mutation", "createReview", root(func(ctx context.Context, args map[string]any) (any, error) {
		in, err := inputArg(args, "createReviewInput")
		if err != nil {
			return nil, err
		}
		bookID, err := idArg(in, "bookId")
		if err != nil {
			return nil, err
		}
		return a.CreateReview(ctx, identity.FromContext(ctx), app.CreateReviewInput{
			Text:   stringArg(in, "text"),
			BookID: bookID,
		})
	}))
	r.Field("Mutation", "updateReview", root(func(ctx context.Context, args map[string]any) (any, error) {
		in, err := inputArg(args, "updateReviewInput")
		if err != nil {
			return nil, err
		}
		reviewID, err := idArg(in, "reviewId")
		if err != nil {
			return nil, err
		}
		return a.UpdateReview(ctx, identity.FromContext(ctx), app.UpdateReviewInput{
			ReviewID: reviewID,
			Text:     stringArg(in, "text"),
		})
	}))
	r.Field("Mutation", "deleteReview", root(func(ctx context.Context, args map[string]any) (any, error) {
		id, err := idArg(args, "reviewId")
		if err != nil {
			return nil, err
		}
		return a.DeleteReview(ctx, identity.FromContext(ctx), id)
	}))

	r.Field("Review", "id", prop(func(rv domain.Review) any { return rv.ID }))
	r.Field("Review", "text", prop(func(rv domain.Review) any { return rv.Text }))
	r.Field("Review", "user", field(func(ctx context.Context, rv domain.Review, _ map[string]any) (any, error) {
		return a.User(ctx, rv.UserID)
	}))
	r.Field("Review", "book", field(func(ctx context.Context, rv domain.Review, _ map[string]any) (any, error) {
		return a.Book(ctx, rv.BookID)
	}))
	bindPayload[domain.Review](r, "CreateReviewPayload", "review")
	bindPayload[domain.Review](r, "UpdateReviewPayload", "review")
	bindPayload[domain.Review](r, "DeleteReviewPayload", "review")
}

func bindTokens(r *Registry, a *app.App) {
	r.Field("Mutation", "tokenAuth", root(func(ctx context.Context, args map[string]any) (any, error) {
		return a.TokenAuth(ctx, stringArg(args, "username"), stringArg(args, "password"))
	}))
	r.Field("Mutation", "verifyToken", root(func(ctx context.Context, args map[string]any) (any, error) {
		payload, err := a.VerifyToken(ctx, stringArg(args, "token"))
		if err != nil {
			return nil, err
		}
		return verifiedToken{Payload: payload}, nil
	}))
	r.Field("Mutation", "refreshToken", root(func(ctx context.Context, args map[string]any) (any, error) {
		return a.RefreshToken(ctx, stringArg(args, "refreshToken"))
	}))
	r.Field("Mutation", "revokeToken", root(func(ctx context.Context, args map[string]any) (any, error) {
		at, err := a.RevokeToken(ctx, stringArg(args, "refreshToken"), stringArg(args, "token"))
		if err != nil {
			return nil, err
		}
		return revokedToken{Revoked: at}, nil
	}))

	for _, typeName := range []string{"TokenAuthPayload", "RefreshTokenPayload"} {
		r.Field(typeName, "token", prop(func(p app.TokenPair) any { return p.Token }))
		r.Field(typeName, "refreshToken", prop(func(p app.TokenPair) any { return p.RefreshToken }))
		r.Field(typeName, "refreshExpiresIn", prop(func(p app.TokenPair) any { return p.RefreshExpiresIn }))
		r.Field(typeName, "payload", prop(func(p app.TokenPair) any { return p.Payload }))
	}
	r.Field("TokenAuthPayload", "user", prop(func(p app.TokenPair) any { return p.User }))
	r.Field("VerifyTokenPayload", "payload", prop(func(v verifiedToken) any { return v.Payload }))
	r.Field("RevokeTokenPayload", "revoked", prop(func(v revokedToken) any { return v.Revoked }))
	r.Field("TokenPayload", "username", prop(func(p app.TokenPayload) any { return p.Username }))
	r.Field("TokenPayload", "exp", prop(func(p app.TokenPayload) any { return p.Exp }))
	r.Field("TokenPayload", "origIat", prop(func(p app.TokenPayload) any { return p.OrigIat }))
}

// bindPayload registers the fields of a mutation payload wrapping
// app.Result[T].
func bindPayload[T any](r *Registry, typeName, entityField string) {
	r.Field(typeName, entityField, prop(func(res app.Result[T]) any { return res.Entity }))
	r.Field(typeName, "success", prop(func(res app.Result[T]) any { return res.Success }))
	r.Field(typeName, "errors", prop(func(res app.Result[T]) any { return res.Errors }))
}

func root(fn func(ctx context.Context, args map[string]any) (any, error)) ResolveFunc {
	return func(ctx context.Context, _ any, args map[string]any) (any, error) {
		return fn(ctx, args)
	}
}

func field[T any](fn func(ctx context.Context, obj T, args map[string]any) (any, error)) ResolveFunc {
	return func(ctx context.Context, obj any, args map[string]any) (any, error) {
		v, err := as[T](obj)
		if err != nil {
			return nil, err
		}
		return fn(ctx, v, args)
	}
}

func prop[T any](get func(T) any) ResolveFunc {
	return field(func(_ context.Context, obj T, _ map[string]any) (any, error) {
		return get(obj), nil
	})
}

// as accepts both T and *T parents.
func as[T any](obj any) (T, error) {
	switch v := obj.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, apierr.Internal("resolve field", fmt.Errorf("unexpected parent %T", obj))
}
