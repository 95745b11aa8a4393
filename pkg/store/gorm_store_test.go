package store

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"graphdj/pkg/domain"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewGormStoreFromDB(db), mock
}

func TestGormStoreGetBook(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectQuery(`SELECT \* FROM "books" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "description", "year_published", "author_id"}).
			AddRow(1, "Go", "desc", 2023, 7))

	b, ok, err := s.GetBook(1)
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if b.Title != "Go" || b.AuthorID != 7 || b.YearPublished != 2023 {
		t.Fatalf("unexpected book: %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStoreGetBookMissing(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectQuery(`SELECT \* FROM "books" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, ok, err := s.GetBook(99); err != nil || ok {
		t.Fatalf("expected missing book, ok=%v err=%v", ok, err)
	}
}

func TestGormStoreCreateBookAssignsID(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectQuery(`INSERT INTO "books"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	b := domain.Book{Title: "Go", Description: "desc", YearPublished: 2023, AuthorID: 7}
	if err := s.CreateBook(&b); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if b.ID != 42 {
		t.Fatalf("expected id 42, got %d", b.ID)
	}
}

func TestGormStoreUpdateBookGuardsOwner(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectExec(`UPDATE "books" SET .* WHERE id = \$\d+ AND author_id = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateBook(domain.Book{ID: 1, Title: "x", AuthorID: 8})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found when no row matches owner, got %v", err)
	}
}

func TestGormStoreDeleteBook(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectExec(`DELETE FROM "books" WHERE id = \$1 AND author_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "books" WHERE id = \$1 AND author_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteBook(1, 7); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if err := s.DeleteBook(1, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on repeated delete, got %v", err)
	}
}

func TestGormStoreCreateUserDuplicate(t *testing.T) {
	s, mock := newMockGormStore(t)
	mock.ExpectQuery(`INSERT INTO "users"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	u := domain.User{Username: "alice", Email: "a@example.com", PasswordHash: "x"}
	if err := s.CreateUser(&u); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape: %q", got)
	}
}
