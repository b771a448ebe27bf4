package users

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/storage"
)

// ErrAuthenticationFailed is returned for wrong credentials or a
// disabled account; it deliberately does not distinguish the two.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Service persists users in the reserved /users/ namespace.
type Service struct {
	store  *storage.Store
	logger *zap.Logger
}

// NewService creates a user service over the store.
func NewService(store *storage.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// Path returns the storage path of a user object.
func Path(id string) vpath.Path {
	return vpath.MustParse("/users/").Child(id)
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	obj, err := s.store.Load(ctx, Path(id))
	if err != nil {
		return nil, err
	}
	dict, err := obj.PersistDict()
	if err != nil {
		return nil, err
	}
	u := &User{}
	if err := u.FromDict(dict); err != nil {
		return nil, err
	}
	return u, nil
}

// Save persists a user.
func (s *Service) Save(ctx context.Context, u *User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user has no id", storage.ErrInvalidArgument)
	}
	return s.store.Put(ctx, Path(u.ID), storage.NewTyped(u), storage.PutOptions{})
}

// Delete removes the stored user object only; role definitions the user
// referenced are unaffected.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Remove(ctx, Path(id))
}

// Authenticate verifies id/password credentials. Disabled users fail.
func (s *Service) Authenticate(ctx context.Context, id, password string) (*User, error) {
	u, err := s.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Equalize timing between unknown user and wrong password.
		_ = (&User{PasswordHash: dummyHash}).CheckPassword(password)
		return nil, ErrAuthenticationFailed
	}
	if err != nil {
		return nil, err
	}
	if !u.Enabled || !u.CheckPassword(password) {
		return nil, ErrAuthenticationFailed
	}
	return u, nil
}

// ByToken resolves a user by API token.
func (s *Service) ByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrAuthenticationFailed
	}
	mds, err := s.store.Query(vpath.MustParse("/users/")).Depth(0).Run(ctx)
	if err != nil {
		return nil, err
	}
	for _, md := range mds {
		u, err := s.Get(ctx, md.Path.Name())
		if err != nil {
			continue
		}
		if u.Token != "" && subtle.ConstantTimeCompare([]byte(u.Token), []byte(token)) == 1 {
			if !u.Enabled {
				return nil, ErrAuthenticationFailed
			}
			return u, nil
		}
	}
	return nil, ErrAuthenticationFailed
}

// IssueToken generates, stores and returns a fresh API token.
func (s *Service) IssueToken(ctx context.Context, id string) (string, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	u.Token = hex.EncodeToString(b)
	if err := s.Save(ctx, u); err != nil {
		return "", err
	}
	return u.Token, nil
}

// dummyHash is a bcrypt hash of an unguessable value, used to equalize
// authentication timing for unknown users.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
