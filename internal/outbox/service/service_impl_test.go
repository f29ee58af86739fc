package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/outbox/domain"
	"github.com/smallbiznis/clinicledger/internal/outbox/repository"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testTopic = "test.topic"

type stubHandler struct {
	err      error
	received []domain.Message
}

func (h *stubHandler) Topic() string { return testTopic }

func (h *stubHandler) Handle(ctx context.Context, msg domain.Message) error {
	h.received = append(h.received, msg)
	return h.err
}

func setup(t *testing.T, handler *stubHandler, opts domain.Options) (*gorm.DB, *clock.FakeClock, domain.Service) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	clk := clock.NewFakeClock(time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC))
	var handlers []domain.Handler
	if handler != nil {
		handlers = append(handlers, handler)
	}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    testutil.Node(t),
		Clock:    clk,
		Repo:     repository.Provide(),
		Handlers: handlers,
		Options:  opts,
	})
	return db, clk, svc
}

func enqueue(t *testing.T, db *gorm.DB, svc domain.Service, topic string) *domain.Message {
	t.Helper()
	var msg *domain.Message
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = svc.EnqueueTx(context.Background(), tx, topic, map[string]any{"invoice_id": "42"})
		return err
	}))
	return msg
}

func load(t *testing.T, db *gorm.DB, msg *domain.Message) domain.Message {
	t.Helper()
	var stored domain.Message
	require.NoError(t, db.Where("id = ?", msg.ID).Take(&stored).Error)
	return stored
}

func TestEnqueueRollsBackWithCaller(t *testing.T) {
	db, _, svc := setup(t, &stubHandler{}, domain.Options{})

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.EnqueueTx(context.Background(), tx, testTopic, map[string]any{"x": 1}); err != nil {
			return err
		}
		return errors.New("caller failed")
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&domain.Message{}).Count(&n).Error)
	assert.Zero(t, n)

	_, err = svc.EnqueueTx(context.Background(), nil, " ", nil)
	require.ErrorIs(t, err, domain.ErrInvalidTopic)
}

func TestDrainDelivers(t *testing.T) {
	handler := &stubHandler{}
	db, _, svc := setup(t, handler, domain.Options{})
	msg := enqueue(t, db, svc, testTopic)

	summary, err := svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DrainSummary{Processed: 1, Sent: 1}, summary)
	require.Len(t, handler.received, 1)
	assert.JSONEq(t, `{"invoice_id":"42"}`, string(handler.received[0].Payload))

	stored := load(t, db, msg)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.SentAt)
	assert.Nil(t, stored.ClaimedBy)

	summary, err = svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

func TestDrainReschedulesWithBackoff(t *testing.T) {
	handler := &stubHandler{err: errors.New("smtp unavailable")}
	db, clk, svc := setup(t, handler, domain.Options{MaxAttempts: 2})
	msg := enqueue(t, db, svc, testTopic)

	summary, err := svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.DrainSummary{Processed: 1, Failed: 1}, summary)

	stored := load(t, db, msg)
	assert.Equal(t, domain.StatusPending, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "smtp unavailable", *stored.LastError)
	assert.True(t, stored.AvailableAt.Equal(clk.Now().Add(30*time.Second)))

	summary, err = svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed, "not available before the backoff elapses")

	clk.Advance(31 * time.Second)
	summary, err = svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dead)
	assert.Equal(t, domain.StatusDead, load(t, db, msg).Status)
}

func TestDrainMarksUnknownTopicDead(t *testing.T) {
	db, _, svc := setup(t, &stubHandler{}, domain.Options{})
	msg := enqueue(t, db, svc, "nobody.listens")

	summary, err := svc.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Dead)

	stored := load(t, db, msg)
	assert.Equal(t, domain.StatusDead, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "nobody.listens")
}

func TestClaimIsExclusive(t *testing.T) {
	db, clk, svc := setup(t, &stubHandler{}, domain.Options{})
	msg := enqueue(t, db, svc, testTopic)
	repo := repository.Provide()
	ctx := context.Background()
	now := clk.Now()

	first, err := repo.Claim(ctx, db, msg.ID, "worker-a", now, now.Add(time.Minute))
	require.NoError(t, err)
	second, err := repo.Claim(ctx, db, msg.ID, "worker-b", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	later := now.Add(2 * time.Minute)
	expired, err := repo.Claim(ctx, db, msg.ID, "worker-b", later, later.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, repo.MarkSent(ctx, db, msg.ID, "worker-a", later))
	assert.Equal(t, domain.StatusPending, load(t, db, msg).Status, "stale worker cannot settle a reclaimed row")
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(1))
	assert.Equal(t, time.Minute, RetryDelay(2))
	assert.Equal(t, 4*time.Minute, RetryDelay(4))
	assert.Equal(t, time.Hour, RetryDelay(20))
}
