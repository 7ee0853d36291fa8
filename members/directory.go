/*
Package members manages the fixed group of ledger users.

PURPOSE:
  The ledger only needs user ids and display names. This package owns the
  rest of a member's lifecycle: seeding the group, checking a login, and
  profile changes.

SEEDING:
  Seed is idempotent. A missing user is created with a bcrypt hash of the
  seed password. An existing user keeps its password (it may have been
  changed since) and only has its display name refreshed from the seed.

PASSWORDS:
  Stored as bcrypt hashes, never in plain text. An unknown user and a wrong
  password return the same ErrInvalidCredentials.
*/
package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/debt-ledger/ledger"
)

// MinPasswordLength matches the length of the seeded default password.
const MinPasswordLength = 6

// Directory reads and writes members through a ledger store.
type Directory struct {
	store ledger.Store
	cost  int
	now   func() time.Time
}

// NewDirectory creates a directory hashing with bcrypt.DefaultCost.
func NewDirectory(store ledger.Store) *Directory {
	return &Directory{
		store: store,
		cost:  bcrypt.DefaultCost,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func (d *Directory) WithCost(cost int) *Directory {
	d.cost = cost
	return d
}

// Seed creates missing members and refreshes display names of existing ones.
func (d *Directory) Seed(ctx context.Context, seed []SeedUser) error {
	for _, s := range seed {
		id := ledger.UserID(s.ID)
		existing, err := d.store.GetUser(ctx, id)
		switch {
		case err == nil:
			if existing.DisplayName == s.DisplayName {
				continue
			}
			existing.DisplayName = s.DisplayName
			existing.UpdatedAt = d.now()
			if err := d.store.SaveUser(ctx, *existing); err != nil {
				return fmt.Errorf("failed to refresh user %s: %w", id, err)
			}
			zap.L().Info("User display name refreshed", zap.String("user_id", s.ID))

		case ledger.IsNotFound(err):
			hash, err := d.hash(s.Password)
			if err != nil {
				return err
			}
			now := d.now()
			u := ledger.User{
				ID:           id,
				DisplayName:  s.DisplayName,
				PasswordHash: hash,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := d.store.SaveUser(ctx, u); err != nil {
				return fmt.Errorf("failed to create user %s: %w", id, err)
			}
			zap.L().Info("User initialized", zap.String("user_id", s.ID))

		default:
			return fmt.Errorf("failed to load user %s: %w", id, err)
		}
	}
	return nil
}

// Authenticate checks a username (the user id) and password.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*ledger.User, error) {
	u, err := d.store.GetUser(ctx, ledger.UserID(strings.TrimSpace(username)))
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, ledger.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ledger.ErrInvalidCredentials
	}
	return u, nil
}

// ProfileUpdate changes a member's display name and, optionally, password.
type ProfileUpdate struct {
	DisplayName string
	Password    string // empty keeps the current password
}

// UpdateProfile applies update to the member id.
func (d *Directory) UpdateProfile(ctx context.Context, id ledger.UserID, update ProfileUpdate) (*ledger.User, error) {
	name := strings.TrimSpace(update.DisplayName)
	if name == "" {
		return nil, &ledger.ValidationError{Field: "display_name", Message: "display name is required"}
	}
	if update.Password != "" && len(update.Password) < MinPasswordLength {
		return nil, &ledger.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength),
		}
	}

	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.DisplayName = name
	if update.Password != "" {
		if u.PasswordHash, err = d.hash(update.Password); err != nil {
			return nil, err
		}
	}
	u.UpdatedAt = d.now()

	if err := d.store.SaveUser(ctx, *u); err != nil {
		return nil, &ledger.StoreError{Op: "save user", Err: err}
	}
	return u, nil
}

// List returns every member ordered by id.
func (d *Directory) List(ctx context.Context) ([]ledger.User, error) {
	return d.store.ListUsers(ctx)
}

func (d *Directory) hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &ledger.ValidationError{Field: "password", Message: "password is too long"}
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}
