// Package audit keeps an append-only history of incident lifecycle events.
// Active sessions are never loaded from it; it exists for after-the-fact
// review (`signalbox incidents`).
package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Event kinds.
const (
	KindDeclared = "declared"
	KindRejected = "rejected"
	KindResolved = "resolved"
	KindEnded    = "ended"
	KindExpired  = "expired"
)

// Event is one recorded lifecycle transition.
type Event struct {
	ID          uint      `gorm:"primaryKey"`
	IncidentID  string    `gorm:"size:36;index"`
	ChatID      string    `gorm:"size:128;index"`
	Kind        string    `gorm:"size:16;index"`
	Actor       string    `gorm:"size:128"`
	MeetingLink string    `gorm:"size:512"`
	Summary     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
}

// TableName pins the table name.
func (Event) TableName() string { return "incident_events" }

// Store persists Events with GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured driver ("sqlite" or "mysql") and migrates
// the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: db is required")
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends an event. CreatedAt defaults to now.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.ChatID == "" {
		return fmt.Errorf("audit: chat id is required")
	}
	if ev.Kind == "" {
		return fmt.Errorf("audit: kind is required")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("audit: record %s: %w", ev.Kind, err)
	}
	return nil
}

// ListOpts filters List results.
type ListOpts struct {
	ChatID string
	Kind   string
	Limit  int // defaults to 50
}

// List returns events newest first.
func (s *Store) List(ctx context.Context, opts ListOpts) ([]Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&Event{})
	if opts.ChatID != "" {
		q = q.Where("chat_id = ?", opts.ChatID)
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", opts.Kind)
	}
	var events []Event
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("audit: close: %w", err)
	}
	return sqlDB.Close()
}
