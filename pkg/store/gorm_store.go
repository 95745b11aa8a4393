package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"graphdj/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &BookModel{}, &ProfileModel{}, &ReviewModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an already opened connection without migrating.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateUser registers a user and assigns its ID.
func (s *GormStore) CreateUser(u *domain.User) error {
	model := userToModel(*u)
	if err := s.db.Create(&model).Error; err != nil {
		return translateError(err)
	}
	u.ID = model.ID
	return nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by ID.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// DeleteUser removes a user; owned rows go through ON DELETE CASCADE.
func (s *GormStore) DeleteUser(id int64) error {
	res := s.db.Where("id = ?", id).Delete(&UserModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBook stores a new book and assigns its ID.
func (s *GormStore) CreateBook(b *domain.Book) error {
	model := bookToModel(*b)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return translateError(err)
	}
	b.ID = model.ID
	return nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks filters, orders and paginates books in SQL.
func (s *GormStore) ListBooks(q BookQuery) ([]domain.Book, error) {
	tx := s.db.Model(&BookModel{})
	if q.AuthorID != 0 {
		tx = tx.Where("author_id = ?", q.AuthorID)
	}
	if q.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.Search)) + "%"
		tx = tx.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
	}
	if q.Newest {
		tx = tx.Order("id DESC")
	} else {
		tx = tx.Order("id ASC")
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	if q.Limit >= 0 {
		tx = tx.Limit(q.Limit)
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook writes all mutable fields of a book owned by b.AuthorID.
func (s *GormStore) UpdateBook(b domain.Book) error {
	res := s.db.Model(&BookModel{}).
		Where("id = ? AND author_id = ?", b.ID, b.AuthorID).
		Updates(map[string]any{
			"title":          b.Title,
			"description":    b.Description,
			"year_published": b.YearPublished,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes a book owned by authorID; reviews cascade.
func (s *GormStore) DeleteBook(id, authorID int64) error {
	res := s.db.Where("id = ? AND author_id = ?", id, authorID).Delete(&BookModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateProfile stores a profile; the unique index on user_id backs the
// one-profile-per-user rule.
func (s *GormStore) CreateProfile(p *domain.Profile) error {
	model := profileToModel(*p)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return translateError(err)
	}
	p.ID = model.ID
	return nil
}

// GetProfile retrieves a profile by ID.
func (s *GormStore) GetProfile(id int64) (domain.Profile, bool, error) {
	return s.firstProfile("id = ?", id)
}

// GetProfileByUser returns the profile owned by userID.
func (s *GormStore) GetProfileByUser(userID int64) (domain.Profile, bool, error) {
	return s.firstProfile("user_id = ?", userID)
}

func (s *GormStore) firstProfile(cond string, arg any) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.Where(cond, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// ListProfiles returns all profiles ordered by ID.
func (s *GormStore) ListProfiles() ([]domain.Profile, error) {
	var models []ProfileModel
	if err := s.db.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Profile, 0, len(models))
	for _, m := range models {
		res = append(res, profileFromModel(m))
	}
	return res, nil
}

// UpdateProfile locks the row, replaces name and image and returns the
// previous state.
func (s *GormStore) UpdateProfile(p domain.Profile) (domain.Profile, error) {
	var prev ProfileModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", p.ID, p.UserID).
			First(&prev).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Model(&ProfileModel{}).
			Where("id = ?", p.ID).
			Updates(map[string]any{"name": p.Name, "image": p.Image}).Error
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return profileFromModel(prev), nil
}

// DeleteProfile removes a profile owned by userID and returns the deleted row.
func (s *GormStore) DeleteProfile(id, userID int64) (domain.Profile, error) {
	var model ProfileModel
	res := s.db.Clauses(clause.Returning{}).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model)
	if res.Error != nil {
		return domain.Profile{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Profile{}, ErrNotFound
	}
	return profileFromModel(model), nil
}

// CreateReview stores a review.
func (s *GormStore) CreateReview(r *domain.Review) error {
	model := reviewToModel(*r)
	if err := s.db.Omit(clause.Associations).Create(&model).Error; err != nil {
		return translateError(err)
	}
	r.ID = model.ID
	return nil
}

// GetReview retrieves a review by ID.
func (s *GormStore) GetReview(id int64) (domain.Review, bool, error) {
	var model ReviewModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Review{}, false, nil
		}
		return domain.Review{}, false, err
	}
	return reviewFromModel(model), true, nil
}

// ListReviews returns reviews matching q ordered by ID.
func (s *GormStore) ListReviews(q ReviewQuery) ([]domain.Review, error) {
	tx := s.db.Model(&ReviewModel{})
	if q.UserID != 0 {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.BookID != 0 {
		tx = tx.Where("book_id = ?", q.BookID)
	}
	var models []ReviewModel
	if err := tx.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Review, 0, len(models))
	for _, m := range models {
		res = append(res, reviewFromModel(m))
	}
	return res, nil
}

// UpdateReview replaces the text of a review owned by r.UserID.
func (s *GormStore) UpdateReview(r domain.Review) error {
	res := s.db.Model(&ReviewModel{}).
		Where("id = ? AND user_id = ?", r.ID, r.UserID).
		Update("text", r.Text)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReview removes a review owned by userID.
func (s *GormStore) DeleteReview(id, userID int64) error {
	res := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&ReviewModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return ErrNotFound
	default:
		return err
	}
}

// escapeLike escapes LIKE wildcards so the search term matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		DateJoined:   u.DateJoined,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		DateJoined:   m.DateJoined,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Description:   b.Description,
		YearPublished: b.YearPublished,
		AuthorID:      b.AuthorID,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		YearPublished: m.YearPublished,
		AuthorID:      m.AuthorID,
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{ID: p.ID, Name: p.Name, Image: p.Image, UserID: p.UserID}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{ID: m.ID, Name: m.Name, Image: m.Image, UserID: m.UserID}
}

func reviewToModel(r domain.Review) ReviewModel {
	return ReviewModel{ID: r.ID, Text: r.Text, UserID: r.UserID, BookID: r.BookID}
}

func reviewFromModel(m ReviewModel) domain.Review {
	return domain.Review{ID: m.ID, Text: m.Text, UserID: m.UserID, BookID: m.BookID}
}
