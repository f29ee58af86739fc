package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	historydomain "github.com/smallbiznis/clinicledger/internal/billinghistory/domain"
	settingsdomain "github.com/smallbiznis/clinicledger/internal/billingsettings/domain"
	"github.com/smallbiznis/clinicledger/internal/connectedaccount/domain"
	paymentprovider "github.com/smallbiznis/clinicledger/internal/providers/payment"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	SettingsSvc settingsdomain.Service
	HistorySvc  historydomain.Service
	Processor   paymentprovider.Processor
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	settingsSvc settingsdomain.Service
	historySvc  historydomain.Service
	processor   paymentprovider.Processor
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("connectedaccount.service"),
		settingsSvc: p.SettingsSvc,
		historySvc:  p.HistorySvc,
		processor:   p.Processor,
	}
}

func (s *Service) Sync(ctx context.Context, input domain.SyncInput) (domain.SyncResult, error) {
	input.AccountID = strings.TrimSpace(input.AccountID)
	if input.AccountID == "" {
		return domain.SyncResult{}, domain.ErrInvalidAccount
	}

	var result domain.SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.settingsSvc.ApplyAccountStatus(ctx, tx, settingsdomain.AccountStatus{
			AccountID:        input.AccountID,
			ChargesEnabled:   input.ChargesEnabled,
			DetailsSubmitted: input.DetailsSubmitted,
		})
		if err != nil {
			return err
		}
		result = domain.SyncResult{Settings: applied.Settings, Matched: applied.Matched, Onboarded: applied.Onboarded}
		if !applied.Matched || !applied.Onboarded {
			return nil
		}
		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: applied.Settings.PractitionerID,
			EventType:      historydomain.EventAccountOnboarded,
			SourceEventID:  input.EventID,
			Metadata: map[string]any{
				"connected_account_id": input.AccountID,
				"charges_enabled":      input.ChargesEnabled,
				"details_submitted":    input.DetailsSubmitted,
			},
		})
	})
	if err != nil {
		return domain.SyncResult{}, err
	}

	if !result.Matched {
		s.log.Warn("account update for unknown connected account",
			zap.String("connected_account_id", input.AccountID),
			zap.String("event_id", input.EventID),
		)
	}
	return result, nil
}

func (s *Service) Deauthorize(ctx context.Context, eventID string, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.ErrInvalidAccount
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := s.settingsSvc.Deauthorize(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if settings == nil {
			s.log.Warn("deauthorization for unknown connected account",
				zap.String("connected_account_id", accountID),
				zap.String("event_id", eventID),
			)
			return nil
		}
		return s.historySvc.RecordTx(ctx, tx, historydomain.Entry{
			PractitionerID: settings.PractitionerID,
			EventType:      historydomain.EventAccountDeauthorized,
			SourceEventID:  eventID,
			Metadata: map[string]any{
				"connected_account_id": accountID,
			},
		})
	})
}

func (s *Service) StartOnboarding(ctx context.Context, input domain.StartOnboardingInput) (paymentprovider.OnboardingLink, error) {
	settings, err := s.settingsSvc.Get(ctx, nil, input.PractitionerID)
	if err != nil {
		return paymentprovider.OnboardingLink{}, err
	}

	accountID := ""
	if settings.ConnectedAccountID != nil {
		accountID = *settings.ConnectedAccountID
	}
	if accountID == "" {
		email := strings.TrimSpace(input.Email)
		if email == "" && settings.ReplyToEmail != nil {
			email = *settings.ReplyToEmail
		}
		account, err := s.processor.CreateExpressAccount(ctx, paymentprovider.CreateAccountInput{
			PractitionerID: input.PractitionerID.String(),
			Email:          email,
			Country:        strings.ToUpper(strings.TrimSpace(input.Country)),
		})
		if err != nil {
			return paymentprovider.OnboardingLink{}, err
		}
		if err := s.settingsSvc.AttachConnectedAccount(ctx, nil, input.PractitionerID, account.ID); err != nil {
			return paymentprovider.OnboardingLink{}, err
		}
		accountID = account.ID
		s.log.Info("connected account created",
			zap.String("practitioner_id", input.PractitionerID.String()),
			zap.String("connected_account_id", accountID),
		)
	}

	return s.processor.CreateOnboardingLink(ctx, accountID)
}

func (s *Service) Refresh(ctx context.Context, practitionerID snowflake.ID) (settingsdomain.BillingSettings, error) {
	settings, err := s.settingsSvc.Get(ctx, nil, practitionerID)
	if err != nil {
		return settingsdomain.BillingSettings{}, err
	}
	if settings.ConnectedAccountID == nil || *settings.ConnectedAccountID == "" {
		return settingsdomain.BillingSettings{}, domain.ErrNotConnected
	}

	account, err := s.processor.GetAccount(ctx, *settings.ConnectedAccountID)
	if err != nil {
		return settingsdomain.BillingSettings{}, err
	}
	result, err := s.Sync(ctx, domain.SyncInput{
		AccountID:        account.ID,
		ChargesEnabled:   account.ChargesEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
	})
	if err != nil {
		return settingsdomain.BillingSettings{}, err
	}
	if result.Settings == nil {
		return settingsdomain.BillingSettings{}, domain.ErrNotConnected
	}
	return *result.Settings, nil
}
