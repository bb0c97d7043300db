package service

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
	"go-auth-service/pkg/apierror"
)

// memoryStore is an IdentityStore held in maps. Password "hashes" are
// reversible on purpose so tests stay fast.
type memoryStore struct {
	mu    sync.Mutex
	users map[string]model.User
	roles map[string][]string
	calls atomic.Int64

	compares   atomic.Int64
	setHashErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[string]model.User{}, roles: map[string][]string{}}
}

func (s *memoryStore) find(match func(model.User) bool) (model.User, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if !u.IsDeleted && match(u) {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (s *memoryStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	return s.find(func(u model.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *memoryStore) FindByPhone(_ context.Context, phone string) (model.User, error) {
	return s.find(func(u model.User) bool { return u.PhoneNumber == phone })
}

func (s *memoryStore) FindByIdentity(_ context.Context, identity string) (model.User, error) {
	return s.find(func(u model.User) bool {
		return strings.EqualFold(u.Email, identity) || u.PhoneNumber == identity
	})
}

func (s *memoryStore) FindByID(_ context.Context, id string) (model.User, error) {
	return s.find(func(u model.User) bool { return u.ID == id })
}

func (s *memoryStore) CreateWithPassword(_ context.Context, nu model.NewUser, password string) (model.User, error) {
	s.calls.Add(1)
	if fields := security.ValidatePassword(password); len(fields) > 0 {
		return model.User{}, apierror.BadRequest("registration is invalid", fields...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, nu.Email) || u.PhoneNumber == nu.PhoneNumber {
			return model.User{}, apierror.BadRequest("User already exists")
		}
	}

	u := model.User{
		ID:           uuid.NewString(),
		Email:        nu.Email,
		PhoneNumber:  nu.PhoneNumber,
		Username:     nu.Username,
		FullName:     nu.FullName,
		PasswordHash: "hash:" + password,
		Status:       model.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *memoryStore) VerifyPassword(u model.User, password string) bool {
	s.compares.Add(1)
	return u.PasswordHash != "" && u.PasswordHash == "hash:"+password
}

func (s *memoryStore) SetPasswordHash(_ context.Context, userID string, password string) error {
	s.calls.Add(1)
	if fields := security.ValidatePassword(password); len(fields) > 0 {
		return apierror.BadRequest("password does not meet policy", fields...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setHashErr != nil {
		return s.setHashErr
	}
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = "hash:" + password
	s.users[userID] = u
	return nil
}

func (s *memoryStore) ListRoles(_ context.Context, userID string) ([]string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roles[userID]...), nil
}

func (s *memoryStore) AddRoles(_ context.Context, userID string, roles ...string) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = append(s.roles[userID], roles...)
	return nil
}

func (s *memoryStore) failSetHash(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setHashErr = err
}

func (s *memoryStore) setStatus(userID string, status model.UserStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.Status = status
	s.users[userID] = u
}

type slot struct {
	hash      string
	expiresAt time.Time
}

// memoryLedger mirrors the Postgres ledger: one slot per key, compare-and-swap
// rotation and consume, lazy expiry.
type memoryLedger struct {
	mu    sync.Mutex
	slots map[model.TokenKey]slot
	now   func() time.Time
	calls atomic.Int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{slots: map[model.TokenKey]slot{}, now: time.Now}
}

func (l *memoryLedger) Replace(_ context.Context, key model.TokenKey, tokenHash string, expiresAt time.Time) error {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[key] = slot{hash: tokenHash, expiresAt: expiresAt}
	return nil
}

func (l *memoryLedger) live(key model.TokenKey, presentedHash string) bool {
	s, ok := l.slots[key]
	return ok && subtle.ConstantTimeCompare([]byte(s.hash), []byte(presentedHash)) == 1 &&
		s.expiresAt.After(l.now())
}

func (l *memoryLedger) Rotate(_ context.Context, key model.TokenKey, presentedHash string, newHash string, expiresAt time.Time) error {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.live(key, presentedHash) {
		return model.ErrTokenNotFound
	}
	l.slots[key] = slot{hash: newHash, expiresAt: expiresAt}
	return nil
}

func (l *memoryLedger) Consume(_ context.Context, key model.TokenKey, presentedHash string) (time.Time, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.live(key, presentedHash) {
		return time.Time{}, model.ErrTokenNotFound
	}
	expiresAt := l.slots[key].expiresAt
	delete(l.slots, key)
	return expiresAt, nil
}

func (l *memoryLedger) Revoke(_ context.Context, key model.TokenKey) error {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.slots, key)
	return nil
}

func (l *memoryLedger) RevokeAllForUser(_ context.Context, userID string) error {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.slots {
		if k.UserID == userID {
			delete(l.slots, k)
		}
	}
	return nil
}

func (l *memoryLedger) expiry(key model.TokenKey) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slots[key].expiresAt
}

func (l *memoryLedger) verify(key model.TokenKey, value string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live(key, security.HashToken(value))
}

func (l *memoryLedger) count(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k := range l.slots {
		if k.UserID == userID {
			n++
		}
	}
	return n
}

type stubThrottle struct {
	allow bool
	err   error
}

func (t stubThrottle) Allow(context.Context, string) (bool, error) {
	return t.allow, t.err
}
