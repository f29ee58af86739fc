package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AllowedOffsets are the reminder offsets, in days after issuance, a practitioner can enable.
var AllowedOffsets = []int{7, 15, 30}

// Template is a practitioner override of the default reminder copy for one offset.
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

type BillingSettings struct {
	PractitionerID      snowflake.ID                         `json:"practitioner_id" gorm:"primaryKey"`
	PractitionerName    string                               `json:"practitioner_name"`
	ReplyToEmail        *string                              `json:"reply_to_email,omitempty"`
	RemindersEnabled    bool                                 `json:"reminders_enabled"`
	ReminderOffsets     datatypes.JSONSlice[int]             `json:"reminder_offsets"`
	ReminderTemplates   datatypes.JSONType[map[int]Template] `json:"reminder_templates"`
	ConnectedAccountID  *string                              `json:"connected_account_id,omitempty"`
	ChargesEnabled      bool                                 `json:"charges_enabled"`
	DetailsSubmitted    bool                                 `json:"details_submitted"`
	OnboardingCompleted bool                                 `json:"onboarding_completed"`
	ConnectedAt         *time.Time                           `json:"connected_at,omitempty"`
	CreatedAt           time.Time                            `json:"created_at"`
	UpdatedAt           time.Time                            `json:"updated_at"`
}

func (BillingSettings) TableName() string { return "billing_settings" }

// Defaults is what applies to a practitioner who never saved settings.
func Defaults(practitionerID snowflake.ID) BillingSettings {
	return BillingSettings{
		PractitionerID:    practitionerID,
		RemindersEnabled:  true,
		ReminderOffsets:   datatypes.JSONSlice[int](slices.Clone(AllowedOffsets)),
		ReminderTemplates: datatypes.NewJSONType(map[int]Template{}),
	}
}

// EnabledOffsets returns the enabled offsets in ascending order, or none when
// reminders are switched off.
func (s BillingSettings) EnabledOffsets() []int {
	if !s.RemindersEnabled {
		return nil
	}
	offsets := make([]int, 0, len(s.ReminderOffsets))
	for _, offset := range s.ReminderOffsets {
		if slices.Contains(AllowedOffsets, offset) && !slices.Contains(offsets, offset) {
			offsets = append(offsets, offset)
		}
	}
	slices.Sort(offsets)
	return offsets
}

// TemplateFor returns the practitioner's custom template for offset, if any.
func (s BillingSettings) TemplateFor(offset int) (Template, bool) {
	tpl, ok := s.ReminderTemplates.Data()[offset]
	if !ok || tpl.Subject == "" {
		return Template{}, false
	}
	return tpl, true
}

// IsConnected reports whether the practitioner can take payments on their connected account.
func (s BillingSettings) IsConnected() bool {
	return s.ConnectedAccountID != nil && *s.ConnectedAccountID != "" && s.ChargesEnabled
}
