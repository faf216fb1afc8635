package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyPending is the status of a reserved key whose request has not
// finished yet.
const IdempotencyPending = 0

const anonymousCaller = "anonymous"

func idempotencyScope(caller, key string) (string, string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = anonymousCaller
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", errors.New("journal: idempotency key required")
	}
	return caller, key, nil
}

// LookupIdempotency returns the record stored for caller and key, if any.
func (j *Journal) LookupIdempotency(ctx context.Context, caller, key string) (*IdempotencyKey, bool, error) {
	caller, key, err := idempotencyScope(caller, key)
	if err != nil {
		return nil, false, err
	}
	var record IdempotencyKey
	err = j.db.WithContext(ctx).First(&record, "caller = ? AND key = ?", caller, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &record, true, nil
}

// ReserveIdempotency claims key for caller before the request runs. It
// reports true when this call inserted the pending row. Otherwise the
// existing record is returned, pending or completed.
func (j *Journal) ReserveIdempotency(ctx context.Context, caller, key, method, path string) (*IdempotencyKey, bool, error) {
	caller, key, err := idempotencyScope(caller, key)
	if err != nil {
		return nil, false, err
	}
	record := IdempotencyKey{
		Caller:    caller,
		Key:       key,
		RequestID: uuid.NewString(),
		Method:    method,
		Path:      path,
		Status:    IdempotencyPending,
		CreatedAt: j.now().UTC(),
	}
	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return &record, true, nil
	}
	existing, ok, err := j.LookupIdempotency(ctx, caller, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Released between the insert and the read; the caller may retry.
		return nil, false, errors.New("journal: idempotency key released concurrently")
	}
	return existing, false, nil
}

// CompleteIdempotency stores the response of a reserved request. Only a
// pending row is updated, so the first completion wins.
func (j *Journal) CompleteIdempotency(ctx context.Context, caller, key string, status int, body string) error {
	caller, key, err := idempotencyScope(caller, key)
	if err != nil {
		return err
	}
	if status == IdempotencyPending {
		return errors.New("journal: completion status required")
	}
	return j.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("caller = ? AND key = ? AND status = ?", caller, key, IdempotencyPending).
		Updates(map[string]any{"status": status, "response": body}).Error
}

// ReleaseIdempotency drops a pending reservation so the request can be
// retried with the same key.
func (j *Journal) ReleaseIdempotency(ctx context.Context, caller, key string) error {
	caller, key, err := idempotencyScope(caller, key)
	if err != nil {
		return err
	}
	return j.db.WithContext(ctx).
		Where("caller = ? AND key = ? AND status = ?", caller, key, IdempotencyPending).
		Delete(&IdempotencyKey{}).Error
}

// PruneIdempotency removes keys older than the cutoff, including pending
// reservations left behind by interrupted requests.
func (j *Journal) PruneIdempotency(ctx context.Context, olderThan time.Time) (int64, error) {
	res := j.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&IdempotencyKey{})
	return res.RowsAffected, res.Error
}
