package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one persisted engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"autoIncrement:false;index"`
	Type       string    `gorm:"size:64;index"`
	Account    string    `gorm:"size:42;index"`
	Attributes string    `gorm:"type:text"`
	Digest     string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"index"`
}

// IdempotencyKey stores the response of a mutating request so a retried
// request with the same key from the same caller replays it. Status stays
// IdempotencyPending until the request completes.
type IdempotencyKey struct {
	Caller    string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Entry{},
		&IdempotencyKey{},
	)
}
