package main

import (
	"context"
	"os"
	"sync"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

type MockBookStorage struct {
	AddFunc          func(ctx context.Context, id string, book Book) error
	GetOneFunc       func(ctx context.Context, id string) (Book, error)
	DeleteFunc       func(ctx context.Context, id string, check BookMutator) (Book, error)
	UpdateFunc       func(ctx context.Context, id string, mutate BookMutator) (Book, error)
	GetAllFunc       func(ctx context.Context) ([]Book, error)
	GetBestRatedFunc func(ctx context.Context, limit int) ([]Book, error)
}

// Add mocks the behavior of book creation by the repository.
func (m *MockBookStorage) Add(ctx context.Context, id string, book Book) error {
	return m.AddFunc(ctx, id, book)
}

// GetOne mocks the behavior of retrieving a book by the repository.
func (m *MockBookStorage) GetOne(ctx context.Context, id string) (Book, error) {
	return m.GetOneFunc(ctx, id)
}

// Delete mocks the behavior of deleting a book by the repository.
func (m *MockBookStorage) Delete(ctx context.Context, id string, check BookMutator) (Book, error) {
	return m.DeleteFunc(ctx, id, check)
}

// Update mocks the behavior of updating a book by the repository.
func (m *MockBookStorage) Update(ctx context.Context, id string, mutate BookMutator) (Book, error) {
	return m.UpdateFunc(ctx, id, mutate)
}

// GetAll mocks the behavior of retrieving all books by the repository.
func (m *MockBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	return m.GetAllFunc(ctx)
}

// GetBestRated mocks the behavior of retrieving the best rated books by the repository.
func (m *MockBookStorage) GetBestRated(ctx context.Context, limit int) ([]Book, error) {
	return m.GetBestRatedFunc(ctx, limit)
}

// Close is a no-op.
func (m *MockBookStorage) Close() error {
	return nil
}

type MockUserStorage struct {
	AddFunc        func(ctx context.Context, user User) error
	GetOneFunc     func(ctx context.Context, id string) (User, error)
	GetByEmailFunc func(ctx context.Context, email string) (User, error)
	UpdateFunc     func(ctx context.Context, id string, mutate UserMutator) (User, error)
}

func (m *MockUserStorage) Add(ctx context.Context, user User) error {
	return m.AddFunc(ctx, user)
}

func (m *MockUserStorage) GetOne(ctx context.Context, id string) (User, error) {
	return m.GetOneFunc(ctx, id)
}

func (m *MockUserStorage) GetByEmail(ctx context.Context, email string) (User, error) {
	return m.GetByEmailFunc(ctx, email)
}

func (m *MockUserStorage) Update(ctx context.Context, id string, mutate UserMutator) (User, error) {
	return m.UpdateFunc(ctx, id, mutate)
}

// MockQueuer records pushed references. PushErr makes every push fail.
type MockQueuer struct {
	mu      sync.Mutex
	Pushed  []string
	PushErr error
}

func (m *MockQueuer) Push(_ context.Context, _ string, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PushErr != nil {
		return m.PushErr
	}
	m.Pushed = append(m.Pushed, ref)
	return nil
}

func (m *MockQueuer) Pop(ctx context.Context, _ ...string) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}

// Refs returns a copy of the pushed references.
func (m *MockQueuer) Refs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Pushed...)
}

// MockImageHandler hands out predictable references and records removals.
type MockImageHandler struct {
	mu        sync.Mutex
	NextRef   string
	IngestErr error
	Ingested  []string
	Removed   []string
}

func (m *MockImageHandler) Ingest(_ context.Context, _ *ImageUpload) (StoredImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IngestErr != nil {
		return StoredImage{}, m.IngestErr
	}
	m.Ingested = append(m.Ingested, m.NextRef)
	return StoredImage{Ref: m.NextRef, Size: 1}, nil
}

func (m *MockImageHandler) Remove(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed = append(m.Removed, ref)
	return nil
}

func (m *MockImageHandler) Open(_ string) (*os.File, error) {
	return nil, ErrImageNotFound
}

// RemovedRefs returns a copy of the removed references.
func (m *MockImageHandler) RemovedRefs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Removed...)
}

// MockTokenManager maps tokens to user ids without any signature.
// Generated tokens are remembered so they verify afterwards.
type MockTokenManager struct {
	mu     sync.Mutex
	Tokens map[string]string
}

func (m *MockTokenManager) Generate(userID string) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Tokens == nil {
		m.Tokens = make(map[string]string)
	}
	token := "token-" + userID
	m.Tokens[token] = userID
	return token, NewMockClocker().Now().Add(time.Hour), nil
}

func (m *MockTokenManager) Verify(token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.Tokens[token]; ok {
		return id, nil
	}
	return "", ErrUnauthenticated
}

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
// equals to `2023-07-02 00:00:00 +0000 UTC` in String format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// NewTicker returns a real ticker so that MockClocker also satisfies TickerClocker.
func (mck *MockClocker) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}
