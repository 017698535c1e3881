// Package ledger persists prompt/response pairs owned by users.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/PromptLedger/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ledger stores and retrieves request records.
type Ledger struct {
	db *gorm.DB
}

// New constructs a Ledger.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Create inserts a request record and returns it with ID and timestamp assigned.
func (l *Ledger) Create(ctx context.Context, userID uint64, model, prompt string, parameters map[string]any, response string) (*models.Request, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger: not initialized")
	}
	if userID == 0 {
		return nil, fmt.Errorf("ledger: missing user id")
	}
	if parameters == nil {
		parameters = map[string]any{}
	}

	row := models.Request{
		Model:      strings.ToLower(strings.TrimSpace(model)),
		Prompt:     prompt,
		Parameters: datatypes.JSONMap(parameters),
		Response:   response,
		UserID:     userID,
	}
	if errCreate := l.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: create: %w", errCreate)
	}
	return &row, nil
}

// ListByUser returns every request owned by userID in insertion order.
func (l *Ledger) ListByUser(ctx context.Context, userID uint64) ([]models.Request, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger: not initialized")
	}
	var rows []models.Request
	if errFind := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list: %w", errFind)
	}
	return rows, nil
}

// FindByID returns the request with the given ID, or nil when absent.
func (l *Ledger) FindByID(ctx context.Context, id uint64) (*models.Request, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger: not initialized")
	}
	var row models.Request
	if errFind := l.db.WithContext(ctx).Take(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: find: %w", errFind)
	}
	return &row, nil
}
