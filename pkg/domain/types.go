package domain

import (
	"io"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	DateJoined   time.Time `json:"dateJoined"`
}

type Book struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	YearPublished int    `json:"yearPublished"`
	AuthorID      int64  `json:"authorId"`
}

// Profile is the at-most-one profile of a user. Image holds the blob handle.
type Profile struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"-"`
	UserID int64  `json:"userId"`
}

type Review struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	UserID int64  `json:"userId"`
	BookID int64  `json:"bookId"`
}

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	File        io.Reader
}
