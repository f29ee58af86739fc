package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
	"github.com/smallbiznis/clinicledger/internal/observability/metrics"
	"github.com/smallbiznis/clinicledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("billinghistory.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) error {
	return s.RecordTx(ctx, s.db, entry)
}

func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, entry domain.Entry) error {
	if entry.PractitionerID == 0 {
		return domain.ErrInvalidPractitioner
	}
	eventType := strings.TrimSpace(entry.EventType)
	if eventType == "" {
		return domain.ErrInvalidEventType
	}
	if tx == nil {
		tx = s.db
	}

	row := domain.BillingHistory{
		ID:             s.genID.Generate(),
		PractitionerID: entry.PractitionerID,
		EventType:      eventType,
		SubscriptionID: entry.SubscriptionID,
		InvoiceID:      entry.InvoiceID,
		Metadata:       datatypes.JSONMap(buildMetadata(ctx, entry.Metadata)),
		CreatedAt:      s.clock.Now(),
	}
	if entry.InvoiceKind != "" {
		kind := entry.InvoiceKind
		row.InvoiceKind = &kind
	}
	if sourceID := strings.TrimSpace(entry.SourceEventID); sourceID != "" {
		row.SourceEventID = &sourceID
	}

	if err := s.repo.Insert(ctx, tx, &row); err != nil {
		s.log.Warn("failed to append billing history",
			zap.String("event_type", eventType),
			zap.String("practitioner_id", entry.PractitionerID.String()),
			zap.Error(err),
		)
		return err
	}
	s.metrics.RecordHistoryEntry(ctx, eventType)
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.PractitionerID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidPractitioner
	}

	var cursor *domain.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: snowflake.ID(decoded.ID), CreatedAt: decoded.CreatedAt}
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, domain.ListFilter{
		PractitionerID: req.PractitionerID,
		EventType:      req.EventType,
		InvoiceID:      req.InvoiceID,
		Cursor:         cursor,
		Limit:          limit,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	rows, pageInfo, err := pagination.Trim(rows, limit, func(row domain.BillingHistory) pagination.Cursor {
		return pagination.Cursor{ID: row.ID.Int64(), CreatedAt: row.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	return domain.ListResponse{PageInfo: pageInfo, Entries: rows}, nil
}

func buildMetadata(ctx context.Context, metadata map[string]any) map[string]any {
	payload := make(map[string]any, len(metadata)+3)
	for key, value := range metadata {
		if key == "" || value == nil {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		payload["actor_type"] = actorType
		if actorID != "" {
			payload["actor_id"] = actorID
		}
	}
	return payload
}

