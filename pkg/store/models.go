package store

import "time"

// GORM models used for persistence. Foreign keys cascade on delete so that
// removing a user removes their books, profile and reviews.
type UserModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:150;uniqueIndex;not null"`
	Email        string    `gorm:"size:254;not null"`
	PasswordHash string    `gorm:"not null"`
	DateJoined   time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type BookModel struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Title         string    `gorm:"size:255;not null"`
	Description   string    `gorm:"type:text;not null"`
	YearPublished int       `gorm:"not null;check:chk_books_year_published,year_published >= 0"`
	AuthorID      int64     `gorm:"not null;index"`
	Author        UserModel `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE"`
}

func (BookModel) TableName() string { return "books" }

type ProfileModel struct {
	ID     int64     `gorm:"primaryKey;autoIncrement"`
	Name   string    `gorm:"size:255;not null"`
	Image  string    `gorm:"not null"`
	UserID int64     `gorm:"not null;uniqueIndex"`
	User   UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (ProfileModel) TableName() string { return "profiles" }

type ReviewModel struct {
	ID     int64     `gorm:"primaryKey;autoIncrement"`
	Text   string    `gorm:"type:text;not null"`
	UserID int64     `gorm:"not null;index"`
	BookID int64     `gorm:"not null;index"`
	User   UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Book   BookModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

func (ReviewModel) TableName() string { return "reviews" }
