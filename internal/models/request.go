package models

import (
	"time"

	"gorm.io/datatypes"
)

// Request records a prompt forwarded upstream together with the generated text.
type Request struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Model      string            `gorm:"type:varchar(50);not null"` // Lowercased model name.
	Prompt     string            `gorm:"type:text;not null"`        // Prompt as submitted.
	Parameters datatypes.JSONMap `gorm:"not null"`                  // Upstream parameters, passed through verbatim.
	Response   string            `gorm:"type:text;not null"`        // Generated text.

	UserID uint64 `gorm:"not null;index"` // Owning user ID.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}
