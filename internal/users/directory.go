// Package users implements the user directory backed by GORM.
package users

import (
	"context"
	"errors"
	"fmt"

	dbutil "github.com/router-for-me/PromptLedger/internal/db"
	"github.com/router-for-me/PromptLedger/internal/models"
	"gorm.io/gorm"
)

// ErrConflict indicates the username or email is already registered.
var ErrConflict = errors.New("username or email already exists")

// Directory provides lookups and registration over user records.
type Directory struct {
	db *gorm.DB
}

// NewDirectory constructs a Directory.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Register inserts a new user. Duplicate usernames or emails yield ErrConflict,
// whether caught by the pre-check or by the unique indexes on insert.
func (d *Directory) Register(ctx context.Context, username, email, hashedPassword string) (*models.User, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("user directory: not initialized")
	}
	var existing int64
	if errCount := d.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&existing).Error; errCount != nil {
		return nil, fmt.Errorf("user directory: check existing: %w", errCount)
	}
	if existing > 0 {
		return nil, ErrConflict
	}

	user := models.User{
		Username:       username,
		Email:          email,
		HashedPassword: hashedPassword,
	}
	if errCreate := d.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("user directory: create: %w", errCreate)
	}
	return &user, nil
}

// FindByUsername returns the user with the given username, or nil when absent.
func (d *Directory) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return d.findOne(ctx, "username = ?", username)
}

// FindByEmail returns the user with the given email, or nil when absent.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.findOne(ctx, "email = ?", email)
}

// FindByID returns the user with the given ID, or nil when absent.
func (d *Directory) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	if id == 0 {
		return nil, nil
	}
	return d.findOne(ctx, "id = ?", id)
}

func (d *Directory) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("user directory: not initialized")
	}
	var user models.User
	if errFind := d.db.WithContext(ctx).Where(query, arg).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("user directory: find: %w", errFind)
	}
	return &user, nil
}
