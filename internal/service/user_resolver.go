package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"travel-auth/internal/models"
	"travel-auth/internal/oauth"
	"travel-auth/internal/repository"
	"travel-auth/internal/util"
)

// UserResolver finds the account a verified phone or provider identity
// belongs to, creating it on first sight.
type UserResolver struct {
	users repository.UserRepository
	links repository.LinkRepository
	now   func() time.Time
}

func NewUserResolver(users repository.UserRepository, links repository.LinkRepository) *UserResolver {
	return &UserResolver{users: users, links: links, now: time.Now}
}

// ByPhone returns the user owning phone, marking it verified. fullName only
// fills an empty name.
func (r *UserResolver) ByPhone(ctx context.Context, phone, fullName string) (*models.User, error) {
	u, err := r.users.GetByPhone(ctx, phone)
	if errors.Is(err, repository.ErrNotFound) {
		u, err = r.create(ctx, &models.User{PhoneNumber: phone, FullName: fullName})
		if errors.Is(err, repository.ErrConflict) {
			// a concurrent verification created it first
			u, err = r.users.GetByPhone(ctx, phone)
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if u.FullName == "" && fullName != "" {
		u.FullName = fullName
	}
	return r.touch(ctx, u)
}

// ByIdentity resolves an OAuth identity whose phone was just verified: an
// existing link wins, then a user with the provider email, then the phone
// owner. Otherwise a new user is created.
func (r *UserResolver) ByIdentity(ctx context.Context, id *oauth.Identity, phone string) (*models.User, error) {
	u, err := r.find(ctx, id, phone)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u, err = r.create(ctx, &models.User{PhoneNumber: phone, Email: id.Email, FullName: id.Name})
		if errors.Is(err, repository.ErrConflict) {
			if u, err = r.find(ctx, id, phone); err == nil && u == nil {
				err = fmt.Errorf("%w: user vanished after conflict", ErrStorage)
			}
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}

	if u.PhoneNumber == "" {
		u.PhoneNumber = phone
	} else if u.PhoneNumber != phone {
		util.Warn("Verified phone differs from linked account phone",
			util.String("user_id", u.UserID), util.Phone(phone))
	}
	if u.Email == "" {
		u.Email = id.Email
	}
	if u.FullName == "" {
		u.FullName = id.Name
	}
	return r.touch(ctx, u)
}

func (r *UserResolver) find(ctx context.Context, id *oauth.Identity, phone string) (*models.User, error) {
	link, err := r.links.GetByIdentity(ctx, id.Provider, id.ProviderUserID)
	switch {
	case err == nil:
		u, err := r.users.GetByID(ctx, link.UserID)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		util.Warn("OAuth link points at a missing user", util.String("user_id", link.UserID))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	lookups := []func() (*models.User, error){
		func() (*models.User, error) {
			if id.Email == "" {
				return nil, repository.ErrNotFound
			}
			return r.users.GetByEmail(ctx, id.Email)
		},
		func() (*models.User, error) { return r.users.GetByPhone(ctx, phone) },
	}
	for _, lookup := range lookups {
		u, err := lookup()
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}
	return nil, nil
}

func (r *UserResolver) create(ctx context.Context, u *models.User) (*models.User, error) {
	now := r.now().UTC()
	u.UserID = uuid.NewString()
	u.IsVerified = true
	u.CreatedAt = now
	u.UpdatedAt = now
	u.LastLoginAt = &now
	if err := r.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	util.Info("User created", util.String("user_id", u.UserID), util.Phone(u.PhoneNumber))
	return u, nil
}

func (r *UserResolver) touch(ctx context.Context, u *models.User) (*models.User, error) {
	now := r.now().UTC()
	u.IsVerified = true
	u.UpdatedAt = now
	u.LastLoginAt = &now
	if err := r.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrContactTaken
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return u, nil
}
