package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/apperr"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/gateway/auth"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

type Profile struct {
	ID    uuid.UUID
	Role  rolegate.Role
	Name  string
	Email string
}

// SyncProfile records the caller's identity-provider profile so staff can be
// looked up by role and customers have a display name for reports.
func (s *Service) SyncProfile(ctx context.Context, profile Profile) (models.User, error) {
	if profile.ID == uuid.Nil {
		return models.User{}, apperr.Validation("user id is required")
	}
	if !profile.Role.Valid() || profile.Role == rolegate.RoleSystem {
		return models.User{}, apperr.Validation("role %q cannot hold a user profile", profile.Role)
	}
	return s.repo.UpsertUser(ctx, UpsertUserInput{
		ID:    profile.ID,
		Email: profile.Email,
		Name:  profile.Name,
		Role:  string(profile.Role),
	})
}

// RegisterStaff lets an admin provision a staff profile ahead of first login.
func (s *Service) RegisterStaff(ctx context.Context, actor models.Actor, profile Profile) (models.User, error) {
	if !rolegate.IsAdmin(actor.Role) {
		return models.User{}, apperr.Forbidden("only admins can register staff")
	}
	if !rolegate.IsStaffRole(profile.Role) {
		return models.User{}, apperr.Validation("role %q is not a staff role", profile.Role)
	}
	if profile.Name == "" {
		return models.User{}, apperr.Validation("name is required")
	}
	return s.SyncProfile(ctx, profile)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user", id)
	}
	return user, err
}

func (s *Service) ListByRole(ctx context.Context, role rolegate.Role) ([]models.User, error) {
	if !role.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	return s.repo.ListByRole(ctx, string(role))
}

// SyncIdentity is called on every authenticated request; it only writes
// when the token's profile differs from the stored one.
func (s *Service) SyncIdentity(ctx context.Context, identity auth.Identity) error {
	existing, err := s.repo.GetUserByID(ctx, identity.UserID)
	if err == nil && existing.Role == string(identity.Role) && existing.Name == identity.Name && existing.Email == strings.ToLower(identity.Email) {
		return nil
	}
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	_, err = s.SyncProfile(ctx, Profile{ID: identity.UserID, Role: identity.Role, Name: identity.Name, Email: identity.Email})
	return err
}
