package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"github.com/smallbiznis/clinicledger/internal/clock"
	"github.com/smallbiznis/clinicledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("billingsettings.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Get(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (domain.BillingSettings, error) {
	if practitionerID == 0 {
		return domain.BillingSettings{}, domain.ErrInvalidPractitioner
	}
	if tx == nil {
		tx = s.db
	}
	item, err := s.repo.Find(ctx, tx, practitionerID)
	if err != nil {
		return domain.BillingSettings{}, err
	}
	if item == nil {
		return domain.Defaults(practitionerID), nil
	}
	return *item, nil
}

func (s *Service) UpdateReminders(ctx context.Context, req domain.UpdateRemindersRequest) (domain.BillingSettings, error) {
	if req.PractitionerID == 0 {
		return domain.BillingSettings{}, domain.ErrInvalidPractitioner
	}
	if req.Offsets != nil {
		if _, invalid := lo.Find(req.Offsets, func(offset int) bool {
			return !lo.Contains(domain.AllowedOffsets, offset)
		}); invalid {
			return domain.BillingSettings{}, domain.ErrInvalidOffset
		}
	}
	for offset, tpl := range req.Templates {
		if !lo.Contains(domain.AllowedOffsets, offset) {
			return domain.BillingSettings{}, domain.ErrInvalidOffset
		}
		if strings.TrimSpace(tpl.Subject) == "" {
			return domain.BillingSettings{}, domain.ErrInvalidTemplate
		}
		if strings.TrimSpace(tpl.HTML) == "" && strings.TrimSpace(tpl.Text) == "" {
			return domain.BillingSettings{}, domain.ErrInvalidTemplate
		}
	}

	var saved domain.BillingSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, req.PractitionerID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		settings := domain.Defaults(req.PractitionerID)
		settings.CreatedAt = now
		if current != nil {
			settings = *current
		}
		settings.UpdatedAt = now

		if req.PractitionerName != nil {
			settings.PractitionerName = strings.TrimSpace(*req.PractitionerName)
		}
		if req.ReplyToEmail != nil {
			settings.ReplyToEmail = lo.EmptyableToPtr(strings.TrimSpace(*req.ReplyToEmail))
		}
		if req.RemindersEnabled != nil {
			settings.RemindersEnabled = *req.RemindersEnabled
		}
		if req.Offsets != nil {
			offsets := lo.Uniq(req.Offsets)
			settings.ReminderOffsets = datatypes.JSONSlice[int](offsets)
		}
		if req.Templates != nil {
			templates := make(map[int]domain.Template, len(req.Templates))
			for offset, tpl := range req.Templates {
				templates[offset] = domain.Template{
					Subject: strings.TrimSpace(tpl.Subject),
					HTML:    tpl.HTML,
					Text:    tpl.Text,
				}
			}
			settings.ReminderTemplates = datatypes.NewJSONType(templates)
		}

		if err := s.repo.UpsertReminders(ctx, tx, &settings); err != nil {
			return err
		}
		saved = settings
		return nil
	})
	if err != nil {
		return domain.BillingSettings{}, err
	}

	s.log.Info("reminder settings updated",
		zap.String("practitioner_id", req.PractitionerID.String()),
		zap.Bool("reminders_enabled", saved.RemindersEnabled),
		zap.Ints("offsets", saved.EnabledOffsets()),
	)
	return saved, nil
}

func (s *Service) FindByConnectedAccount(ctx context.Context, tx *gorm.DB, accountID string) (*domain.BillingSettings, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.FindByConnectedAccount(ctx, tx, accountID)
}

func (s *Service) AttachConnectedAccount(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID, accountID string) error {
	if practitionerID == 0 {
		return domain.ErrInvalidPractitioner
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.ErrInvalidAccount
	}
	if tx == nil {
		tx = s.db
	}
	err := s.repo.AttachConnectedAccount(ctx, tx, practitionerID, accountID, s.clock.Now())
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrAccountAlreadyLinked
	}
	return err
}

func (s *Service) ApplyAccountStatus(ctx context.Context, tx *gorm.DB, status domain.AccountStatus) (domain.AccountStatusResult, error) {
	status.AccountID = strings.TrimSpace(status.AccountID)
	if status.AccountID == "" {
		return domain.AccountStatusResult{}, domain.ErrInvalidAccount
	}
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	matched, err := s.repo.UpdateAccountFlags(ctx, tx, status, now)
	if err != nil {
		return domain.AccountStatusResult{}, err
	}
	if !matched {
		return domain.AccountStatusResult{}, nil
	}

	onboarded := false
	if status.ChargesEnabled && status.DetailsSubmitted {
		onboarded, err = s.repo.StampConnected(ctx, tx, status.AccountID, now)
		if err != nil {
			return domain.AccountStatusResult{}, err
		}
	}

	settings, err := s.repo.FindByConnectedAccount(ctx, tx, status.AccountID)
	if err != nil {
		return domain.AccountStatusResult{}, err
	}
	return domain.AccountStatusResult{Settings: settings, Matched: settings != nil, Onboarded: onboarded}, nil
}

func (s *Service) Deauthorize(ctx context.Context, tx *gorm.DB, accountID string) (*domain.BillingSettings, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, domain.ErrInvalidAccount
	}
	if tx == nil {
		tx = s.db
	}

	settings, err := s.repo.FindByConnectedAccount(ctx, tx, accountID)
	if err != nil || settings == nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := s.repo.ClearConnectedAccount(ctx, tx, settings.PractitionerID, now); err != nil {
		return nil, err
	}

	settings.ConnectedAccountID = nil
	settings.OnboardingCompleted = false
	settings.ChargesEnabled = false
	settings.DetailsSubmitted = false
	settings.UpdatedAt = now
	return settings, nil
}
