package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/reminder/domain"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var now = time.Date(2025, 4, 8, 9, 0, 0, 0, time.UTC)

func seedEntry(t *testing.T, db *gorm.DB, id snowflake.ID) {
	t.Helper()
	inserted, err := Provide().InsertIfAbsent(context.Background(), db, &domain.Entry{
		ID:             id,
		InvoiceID:      snowflake.ID(900),
		PractitionerID: snowflake.ID(42),
		OffsetDays:     7,
		ScheduledFor:   now.Add(-time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestMarkSentRequiresCurrentLease(t *testing.T) {
	db := testutil.OpenSQLite(t)
	repo := Provide()
	ctx := context.Background()
	id := snowflake.ID(1)
	seedEntry(t, db, id)

	claimed, err := repo.Claim(ctx, db, id, "worker-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	// worker-a stalls past its lease and worker-b takes over.
	later := now.Add(2 * time.Minute)
	claimed, err = repo.Claim(ctx, db, id, "worker-b", later, later.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	err = repo.MarkSent(ctx, db, id, "worker-a", later, nil)
	require.ErrorIs(t, err, domain.ErrLeaseLost)

	require.NoError(t, repo.MarkSent(ctx, db, id, "worker-b", later, nil))

	var stored domain.Entry
	require.NoError(t, db.Table("reminder_queue").Where("id = ?", id).Take(&stored).Error)
	assert.True(t, stored.Sent)
	assert.Nil(t, stored.ClaimedBy)

	err = repo.MarkSent(ctx, db, id, "worker-b", later, nil)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
}

func TestMarkFailedRequiresCurrentLease(t *testing.T) {
	db := testutil.OpenSQLite(t)
	repo := Provide()
	ctx := context.Background()
	id := snowflake.ID(2)
	seedEntry(t, db, id)

	err := repo.MarkFailed(ctx, db, id, "worker-a", "smtp timeout", now)
	require.ErrorIs(t, err, domain.ErrLeaseLost)

	claimed, err := repo.Claim(ctx, db, id, "worker-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, repo.MarkFailed(ctx, db, id, "worker-a", "smtp timeout", now))

	var stored domain.Entry
	require.NoError(t, db.Table("reminder_queue").Where("id = ?", id).Take(&stored).Error)
	assert.Equal(t, 1, stored.Attempts)
	assert.False(t, stored.Sent)
	require.NotNil(t, stored.ErrorDetail)
	assert.Equal(t, "smtp timeout", *stored.ErrorDetail)
}
