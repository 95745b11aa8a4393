package store

import (
	"sort"
	"strings"
	"sync"

	"graphdj/pkg/domain"
)

// MemoryStore keeps all entities in-process. It is used by tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      map[string]int64
	users    map[int64]domain.User
	books    map[int64]domain.Book
	profiles map[int64]domain.Profile
	reviews  map[int64]domain.Review
	username map[string]int64 // username -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seq:      make(map[string]int64),
		users:    make(map[int64]domain.User),
		books:    make(map[int64]domain.Book),
		profiles: make(map[int64]domain.Profile),
		reviews:  make(map[int64]domain.Review),
		username: make(map[string]int64),
	}
}

func (m *MemoryStore) nextID(kind string) int64 {
	m.seq[kind]++
	return m.seq[kind]
}

// CreateUser registers a user and assigns its ID.
func (m *MemoryStore) CreateUser(u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.username[u.Username]; exists {
		return ErrConflict
	}
	u.ID = m.nextID("user")
	m.users[u.ID] = *u
	m.username[u.Username] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id int64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by ID.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.users), nil
}

// DeleteUser removes a user together with their books, profile and reviews.
// Reviews written by others on the user's books go with the books.
func (m *MemoryStore) DeleteUser(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	for bookID, b := range m.books {
		if b.AuthorID == id {
			m.deleteBookLocked(bookID)
		}
	}
	for reviewID, r := range m.reviews {
		if r.UserID == id {
			delete(m.reviews, reviewID)
		}
	}
	for profileID, p := range m.profiles {
		if p.UserID == id {
			delete(m.profiles, profileID)
		}
	}
	delete(m.username, u.Username)
	delete(m.users, id)
	return nil
}

// CreateBook stores a new book and assigns its ID.
func (m *MemoryStore) CreateBook(b *domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[b.AuthorID]; !ok {
		return ErrNotFound
	}
	b.ID = m.nextID("book")
	m.books[b.ID] = *b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id int64) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks filters, orders and paginates books.
func (m *MemoryStore) ListBooks(q BookQuery) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(q.Search)
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range sortedValues(m.books) {
		if q.AuthorID != 0 && b.AuthorID != q.AuthorID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Title), search) &&
			!strings.Contains(strings.ToLower(b.Description), search) {
			continue
		}
		res = append(res, b)
	}
	if q.Newest {
		for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
			res[i], res[j] = res[j], res[i]
		}
	}
	return paginate(res, q.Offset, q.Limit), nil
}

// UpdateBook replaces a book's fields when it exists and is owned by b.AuthorID.
func (m *MemoryStore) UpdateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.books[b.ID]
	if !ok || cur.AuthorID != b.AuthorID {
		return ErrNotFound
	}
	m.books[b.ID] = b
	return nil
}

// DeleteBook removes a book owned by authorID and its reviews.
func (m *MemoryStore) DeleteBook(id, authorID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok || b.AuthorID != authorID {
		return ErrNotFound
	}
	m.deleteBookLocked(id)
	return nil
}

func (m *MemoryStore) deleteBookLocked(id int64) {
	delete(m.books, id)
	for reviewID, r := range m.reviews {
		if r.BookID == id {
			delete(m.reviews, reviewID)
		}
	}
}

// CreateProfile stores a profile. A user may own at most one.
func (m *MemoryStore) CreateProfile(p *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[p.UserID]; !ok {
		return ErrNotFound
	}
	for _, existing := range m.profiles {
		if existing.UserID == p.UserID {
			return ErrConflict
		}
	}
	p.ID = m.nextID("profile")
	m.profiles[p.ID] = *p
	return nil
}

// GetProfile retrieves a profile by ID.
func (m *MemoryStore) GetProfile(id int64) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// GetProfileByUser returns the profile owned by userID.
func (m *MemoryStore) GetProfileByUser(userID int64) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.UserID == userID {
			return p, true, nil
		}
	}
	return domain.Profile{}, false, nil
}

// ListProfiles returns all profiles ordered by ID.
func (m *MemoryStore) ListProfiles() ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.profiles), nil
}

// UpdateProfile replaces name and image of a profile owned by p.UserID.
func (m *MemoryStore) UpdateProfile(p domain.Profile) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.profiles[p.ID]
	if !ok || prev.UserID != p.UserID {
		return domain.Profile{}, ErrNotFound
	}
	m.profiles[p.ID] = p
	return prev, nil
}

// DeleteProfile removes a profile owned by userID.
func (m *MemoryStore) DeleteProfile(id, userID int64) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return domain.Profile{}, ErrNotFound
	}
	delete(m.profiles, id)
	return p, nil
}

// CreateReview stores a review for an existing book.
func (m *MemoryStore) CreateReview(r *domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[r.BookID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.users[r.UserID]; !ok {
		return ErrNotFound
	}
	r.ID = m.nextID("review")
	m.reviews[r.ID] = *r
	return nil
}

// GetReview retrieves a review by ID.
func (m *MemoryStore) GetReview(id int64) (domain.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	return r, ok, nil
}

// ListReviews returns reviews matching q ordered by ID.
func (m *MemoryStore) ListReviews(q ReviewQuery) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Review, 0, len(m.reviews))
	for _, r := range sortedValues(m.reviews) {
		if q.UserID != 0 && r.UserID != q.UserID {
			continue
		}
		if q.BookID != 0 && r.BookID != q.BookID {
			continue
		}
		res = append(res, r)
	}
	return res, nil
}

// UpdateReview replaces the text of a review owned by r.UserID.
func (m *MemoryStore) UpdateReview(r domain.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.reviews[r.ID]
	if !ok || cur.UserID != r.UserID {
		return ErrNotFound
	}
	cur.Text = r.Text
	m.reviews[r.ID] = cur
	return nil
}

// DeleteReview removes a review owned by userID.
func (m *MemoryStore) DeleteReview(id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reviews[id]
	if !ok || r.UserID != userID {
		return ErrNotFound
	}
	delete(m.reviews, id)
	return nil
}

func sortedValues[T any](items map[int64]T) []T {
	ids := make([]int64, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	res := make([]T, 0, len(ids))
	for _, id := range ids {
		res = append(res, items[id])
	}
	return res
}
