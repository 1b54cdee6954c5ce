package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type UserModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"index"`
	Name      string
	Role      string `gorm:"index"`
	Metadata  datatypes.JSONMap
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "users"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&UserModel{})
}

type UpsertUserInput struct {
	ID       uuid.UUID
	Email    string
	Name     string
	Role     string
	Metadata map[string]interface{}
}

// UpsertUser mirrors a profile asserted by the identity provider. Role,
// name and email are refreshed on every call; the row id never changes.
func (r *Repository) UpsertUser(ctx context.Context, input UpsertUserInput) (models.User, error) {
	now := time.Now().UTC()
	user := UserModel{
		ID:        input.ID,
		Email:     strings.ToLower(strings.TrimSpace(input.Email)),
		Name:      strings.TrimSpace(input.Name),
		Role:      input.Role,
		Metadata:  datatypes.JSONMap(input.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "role", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return models.User{}, err
	}

	return r.GetUserByID(ctx, input.ID)
}

func (r *Repository) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	var user UserModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return mapUserModel(user), nil
}

func (r *Repository) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	var users []UserModel
	if err := r.db.WithContext(ctx).Where("role = ?", role).Order("name ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(users))
	for _, user := range users {
		out = append(out, mapUserModel(user))
	}
	return out, nil
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

func mapUserModel(user UserModel) models.User {
	return models.User{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
