package invoicenumber

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/clinicledger/internal/clock"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Scope names an independent number sequence.
type Scope string

const (
	ScopePlatform     Scope = "platform"
	ScopeConsultation Scope = "consultation"
)

var templates = map[Scope]string{
	ScopePlatform:     PlatformTemplate,
	ScopeConsultation: ConsultationTemplate,
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
}

// Generator hands out invoice numbers backed by the invoice_sequences table.
type Generator struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGenerator(p Params) *Generator {
	return &Generator{db: p.DB, clock: p.Clock}
}

// Next reserves the next value of scope inside tx and formats it for issuedAt.
// A rolled back tx releases nothing: gaps are acceptable, reuse is not.
func (g *Generator) Next(ctx context.Context, tx *gorm.DB, scope Scope, issuedAt time.Time) (string, error) {
	template, ok := templates[scope]
	if !ok {
		return "", fmt.Errorf("unknown invoice number scope %q", scope)
	}
	if tx == nil {
		tx = g.db
	}
	if issuedAt.IsZero() {
		issuedAt = g.clock.Now()
	}

	seq, err := g.nextValue(ctx, tx, scope)
	if err != nil {
		return "", err
	}
	return Format(template, issuedAt, seq)
}

func (g *Generator) nextValue(ctx context.Context, tx *gorm.DB, scope Scope) (int64, error) {
	var value int64
	err := tx.WithContext(ctx).Raw(
		`INSERT INTO invoice_sequences (scope, last_value, updated_at)
		 VALUES (?, 1, ?)
		 ON CONFLICT (scope) DO UPDATE
		 SET last_value = invoice_sequences.last_value + 1, updated_at = excluded.updated_at
		 RETURNING last_value`,
		strings.TrimSpace(string(scope)),
		g.clock.Now(),
	).Scan(&value).Error
	if err != nil {
		return 0, fmt.Errorf("next invoice sequence %s: %w", scope, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("next invoice sequence %s: no value returned", scope)
	}
	return value, nil
}
