package journal

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"autorepay/core/events"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestJournalAppendAndList(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)

	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	j.Emit(events.Deposit{Account: alice, Amount: big.NewInt(10)})
	j.Emit(events.Deposit{Account: bob, Amount: big.NewInt(20)})
	j.Emit(events.Withdraw{Account: alice, Requested: big.NewInt(5)})
	j.Emit(events.Sweep{Accounts: 2})

	all, err := j.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, events.TypeSweep, all[0].Type)
	require.Equal(t, uint64(4), all[0].Seq)

	mine, err := j.List(context.Background(), alice.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, events.TypeWithdraw, mine[0].Type)
	for _, entry := range mine {
		require.True(t, entry.Verify())
	}

	rec, err := mine[1].Record()
	require.NoError(t, err)
	require.Equal(t, "10", rec.Attributes["amount"])
}

func TestJournalDetectsTampering(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)

	entry, err := j.Append(context.Background(), &events.Record{Type: events.TypeFeeRouted, Attributes: map[string]string{"amount": "3"}})
	require.NoError(t, err)
	require.NoError(t, db.Model(&Entry{}).Where("id = ?", entry.ID).Update("attributes", `{"amount":"300"}`).Error)

	var stored Entry
	require.NoError(t, db.First(&stored, "id = ?", entry.ID).Error)
	require.False(t, stored.Verify())
}

func TestJournalResumesSequence(t *testing.T) {
	db := setupTestDB(t)
	first, err := New(db, nil)
	require.NoError(t, err)
	first.Emit(events.Sweep{Accounts: 1})
	first.Emit(events.Sweep{Accounts: 1})

	second, err := New(db, nil)
	require.NoError(t, err)
	entry, err := second.Append(context.Background(), &events.Record{Type: events.TypeSweep})
	require.NoError(t, err)
	require.Equal(t, uint64(3), entry.Seq)
}

func TestIdempotencyReserveCompleteReplay(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)
	ctx := context.Background()
	path := "/v1/positions/x/deposit"

	_, ok, err := j.LookupIdempotency(ctx, "ops", "key-1")
	require.NoError(t, err)
	require.False(t, ok)

	record, reserved, err := j.ReserveIdempotency(ctx, "ops", "key-1", "POST", path)
	require.NoError(t, err)
	require.True(t, reserved)
	require.Equal(t, IdempotencyPending, record.Status)

	pending, reserved, err := j.ReserveIdempotency(ctx, "ops", "key-1", "POST", path)
	require.NoError(t, err)
	require.False(t, reserved)
	require.Equal(t, IdempotencyPending, pending.Status)

	require.NoError(t, j.CompleteIdempotency(ctx, "ops", "key-1", 200, `{"ok":true}`))
	require.NoError(t, j.CompleteIdempotency(ctx, "ops", "key-1", 409, `{"ok":false}`))

	done, reserved, err := j.ReserveIdempotency(ctx, "ops", "key-1", "POST", path)
	require.NoError(t, err)
	require.False(t, reserved)
	require.Equal(t, 200, done.Status)
	require.Equal(t, `{"ok":true}`, done.Response)

	_, reserved, err = j.ReserveIdempotency(ctx, "someone-else", "key-1", "POST", path)
	require.NoError(t, err)
	require.True(t, reserved, "keys are scoped per caller")

	_, _, err = j.ReserveIdempotency(ctx, "ops", " ", "POST", "/")
	require.Error(t, err)
	require.Error(t, j.CompleteIdempotency(ctx, "ops", "key-1", IdempotencyPending, ""))

	removed, err := j.PruneIdempotency(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
}

func TestIdempotencyReleaseAllowsRetry(t *testing.T) {
	db := setupTestDB(t)
	j, err := New(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, reserved, err := j.ReserveIdempotency(ctx, "", "key-2", "POST", "/v1/sweep/run")
	require.NoError(t, err)
	require.True(t, reserved)
	require.NoError(t, j.ReleaseIdempotency(ctx, "", "key-2"))

	_, ok, err := j.LookupIdempotency(ctx, "", "key-2")
	require.NoError(t, err)
	require.False(t, ok)

	_, reserved, err = j.ReserveIdempotency(ctx, "", "key-2", "POST", "/v1/sweep/run")
	require.NoError(t, err)
	require.True(t, reserved)

	require.NoError(t, j.CompleteIdempotency(ctx, "", "key-2", 200, "{}"))
	require.NoError(t, j.ReleaseIdempotency(ctx, "", "key-2"))
	_, ok, err = j.LookupIdempotency(ctx, "", "key-2")
	require.NoError(t, err)
	require.True(t, ok, "completed keys are not released")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
