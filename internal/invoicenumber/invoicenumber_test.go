package invoicenumber

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFormat(t *testing.T) {
	issuedAt := time.Date(2025, 2, 7, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		template string
		seq      int64
		want     string
	}{
		{PlatformTemplate, 12, "INV-20250207-000012"},
		{ConsultationTemplate, 3, "CONS-202502-00003"},
		{"{YY}/{SEQ}", 42, "25/42"},
		{"X-{SEQ2}", 1234, "X-1234"},
	}
	for _, tt := range tests {
		got, err := Format(tt.template, issuedAt, tt.seq)
		require.NoError(t, err, tt.template)
		assert.Equal(t, tt.want, got)
	}

	_, err := Format("", issuedAt, 1)
	assert.Error(t, err)
	_, err = Format(PlatformTemplate, issuedAt, 0)
	assert.Error(t, err)
	_, err = Format("INV-{QQ}", issuedAt, 1)
	assert.Error(t, err)
}

func TestGeneratorScopesAreIndependent(t *testing.T) {
	db := testutil.OpenSQLite(t)
	now := time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)
	gen := NewGenerator(Params{DB: db, Clock: clock.NewFakeClock(now)})
	ctx := context.Background()

	first, err := gen.Next(ctx, nil, ScopePlatform, now)
	require.NoError(t, err)
	second, err := gen.Next(ctx, nil, ScopePlatform, now)
	require.NoError(t, err)
	cons, err := gen.Next(ctx, nil, ScopeConsultation, now)
	require.NoError(t, err)

	assert.Equal(t, "INV-20250207-000001", first)
	assert.Equal(t, "INV-20250207-000002", second)
	assert.Equal(t, "CONS-202502-00001", cons)

	_, err = gen.Next(ctx, nil, Scope("refund"), now)
	assert.Error(t, err)
}

func TestGeneratorRollbackDoesNotReuseCommittedValues(t *testing.T) {
	db := testutil.OpenSQLite(t)
	now := time.Date(2025, 2, 7, 10, 0, 0, 0, time.UTC)
	gen := NewGenerator(Params{DB: db, Clock: clock.NewFakeClock(now)})
	ctx := context.Background()

	_, err := gen.Next(ctx, nil, ScopeConsultation, now)
	require.NoError(t, err)

	_ = db.Transaction(func(tx *gorm.DB) error {
		_, err := gen.Next(ctx, tx, ScopeConsultation, now)
		require.NoError(t, err)
		return assert.AnError
	})

	next, err := gen.Next(ctx, nil, ScopeConsultation, now)
	require.NoError(t, err)
	assert.Equal(t, "CONS-202502-00002", next)
}
