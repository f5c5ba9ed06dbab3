package library

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// NewUser is the registration record for AddUser. An empty Type defaults to
// student. New users are active.
type NewUser struct {
	Name  string
	Email string
	Phone string
	Type  UserType
}

// UserPatch lists the fields UpdateUser should change. An empty Email clears
// it.
type UserPatch struct {
	Name     *string
	Email    *string
	Phone    *string
	Type     *UserType
	IsActive *bool
}

func (lm *LibraryManager) AddUser(ctx context.Context, nu NewUser) (*User, error) {
	now := lm.clock()
	u := &User{
		Name:      strings.TrimSpace(nu.Name),
		Email:     optional(nu.Email),
		Phone:     strings.TrimSpace(nu.Phone),
		Type:      nu.Type,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u.Type == "" {
		u.Type = UserTypeStudent
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}
	id, err := lm.store.InsertUser(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	lm.log.Info("user added", "user_id", u.ID, "type", u.Type)
	return u, nil
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.store.GetUser(ctx, id)
}

// UpdateUser edits a user. Deactivating a user with active loans is allowed;
// it only stops new loans.
func (lm *LibraryManager) UpdateUser(ctx context.Context, id int64, p UserPatch) (*User, error) {
	u, err := lm.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		u.Email = optional(*p.Email)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Type != nil {
		u.Type = *p.Type
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}
	u.UpdatedAt = lm.clock()
	if err := lm.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	lm.log.Info("user updated", "user_id", u.ID, "active", u.IsActive)
	return u, nil
}

func (lm *LibraryManager) ListUsers(ctx context.Context, f UserFilter, p Page) ([]*User, int, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, invalid("unknown user type %q", f.Type)
	}
	return lm.store.ListUsers(ctx, f, p)
}

// SetUserPassword stores a bcrypt hash of password for the user.
func (lm *LibraryManager) SetUserPassword(ctx context.Context, id int64, password string) error {
	if password == "" {
		return invalid("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return invalid("password longer than 72 bytes")
	}
	if err != nil {
		return err
	}
	if err := lm.store.SetPasswordHash(ctx, id, string(hash), lm.clock()); err != nil {
		return err
	}
	lm.log.Info("user password set", "user_id", id)
	return nil
}

// AuthenticateUser checks password against the stored hash. A user without
// a password never authenticates.
func (lm *LibraryManager) AuthenticateUser(ctx context.Context, id int64, password string) (*User, error) {
	u, err := lm.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		lm.log.Debug("authentication failed", "user_id", id)
		return nil, ErrUnauthenticated
	}
	return u, nil
}

func validateUser(u *User) error {
	if u.Name == "" {
		return invalid("name is required")
	}
	if !u.Type.Valid() {
		return invalid("unknown user type %q", u.Type)
	}
	if u.Email != nil && !strings.Contains(*u.Email, "@") {
		return invalid("email %q is malformed", *u.Email)
	}
	return nil
}
