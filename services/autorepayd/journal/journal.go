package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autorepay/core/events"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Open connects to the journal database for the given driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
}

// Journal is the append-only audit log of engine events. It satisfies
// events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New migrates db and returns a journal writing to it.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{db: db, logger: log.With(slog.String("component", "journal")), now: time.Now}
	var last Entry
	if err := db.Order("seq desc").Limit(1).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	j.seq = last.Seq
	return j, nil
}

// DB exposes the underlying handle for the idempotency middleware.
func (j *Journal) DB() *gorm.DB { return j.db }

// Emit implements events.Emitter. Failures are logged and do not reach the
// engine.
func (j *Journal) Emit(ev events.Event) {
	rec := events.ToRecord(ev)
	if rec == nil {
		return
	}
	if _, err := j.Append(context.Background(), rec); err != nil {
		j.logger.Error("journal append failed", slog.String("type", rec.Type), slog.Any("error", err))
	}
}

// Append persists rec and returns the stored entry.
func (j *Journal) Append(ctx context.Context, rec *events.Record) (*Entry, error) {
	if rec == nil {
		return nil, errors.New("journal: nil record")
	}
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		ID:         uuid.New(),
		Seq:        j.seq + 1,
		Type:       rec.Type,
		Account:    strings.ToLower(rec.Attributes["account"]),
		Attributes: string(attrs),
		Digest:     Digest(rec.Type, attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	j.seq = entry.Seq
	return entry, nil
}

// List returns the newest entries first. An empty account lists every entry.
func (j *Journal) List(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := j.db.WithContext(ctx).Order("seq desc").Limit(limit)
	if account = strings.ToLower(strings.TrimSpace(account)); account != "" {
		query = query.Where("account = ?", account)
	}
	var out []Entry
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Record decodes the stored attributes back into an event record.
func (e Entry) Record() (*events.Record, error) {
	attrs := map[string]string{}
	if e.Attributes != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return &events.Record{Type: e.Type, Attributes: attrs}, nil
}

// Verify reports whether the stored digest still matches the payload.
func (e Entry) Verify() bool {
	return e.Digest == Digest(e.Type, []byte(e.Attributes))
}

// Digest is the BLAKE3-256 of the event type and its encoded attributes.
func Digest(eventType string, attrs []byte) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(attrs)
	return hex.EncodeToString(h.Sum(nil))
}
