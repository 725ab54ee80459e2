package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Hdd5ps/sheet-to-sound/model"

	"gorm.io/gorm"
)

// ErrDuplicateUser is returned when an account with the same email already exists.
var ErrDuplicateUser = errors.New("user with this email already exists")

// UserRepository defines the interface for user account operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	// GetUserByEmail returns nil, nil when no account matches.
	GetUserByEmail(email string) (*model.User, error)
	GetUserByID(id int64) (*model.User, error)
}

// gormUserRepository implements UserRepository on MySQL through GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new instance of gormUserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) CreateUser(user *model.User) (int64, error) {
	if err := r.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(strings.ToLower(err.Error()), "duplicate entry") {
			return 0, ErrDuplicateUser
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return user.ID, nil
}

func (r *gormUserRepository) GetUserByEmail(email string) (*model.User, error) {
	user := &model.User{}
	if err := r.db.Where("email = ?", email).First(user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return user, nil
}

func (r *gormUserRepository) GetUserByID(id int64) (*model.User, error) {
	user := &model.User{}
	if err := r.db.First(user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user by id %d: %w", id, err)
	}
	return user, nil
}
