package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username       string `gorm:"type:varchar(50);not null;uniqueIndex"`  // Unique login name.
	Email          string `gorm:"type:varchar(100);not null;uniqueIndex"` // Unique email address.
	HashedPassword string `gorm:"type:varchar(128);not null"`             // Bcrypt hash; plaintext is never stored.

	Requests []Request `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"` // Owned ledger entries.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
