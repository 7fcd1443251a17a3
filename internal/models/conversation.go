package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Conversation is one thread with a single external contact.
type Conversation struct {
	ID uint `gorm:"primaryKey" json:"id"`
	// ExternalUserID is the customer's channel identifier (a phone number for most channels).
	ExternalUserID string `gorm:"type:text;not null;uniqueIndex" json:"external_user_id"`
	DisplayName    string `gorm:"type:text" json:"display_name"`
	// StatusID is never null once the conversation exists.
	StatusID uint                `gorm:"not null;index" json:"status_id"`
	Status   *ConversationStatus `gorm:"foreignKey:StatusID" json:"status,omitempty"`
	// AssignedTo is the User.ID of the responsible agent.
	AssignedTo *string `gorm:"type:text;index" json:"assigned_to,omitempty"`

	LastMessagePreview string     `gorm:"type:text" json:"last_message_preview"`
	LastMessageAt      *time.Time `gorm:"index" json:"last_message_at,omitempty"`

	// CycleCount only grows; it equals the number of completed cycles.
	CycleCount            int       `gorm:"not null;default:0" json:"cycle_count"`
	CurrentCycleStartedAt time.Time `gorm:"not null" json:"current_cycle_started_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAssignedTo reports whether userID is the conversation's agent.
func (c *Conversation) IsAssignedTo(userID string) bool {
	return c.AssignedTo != nil && *c.AssignedTo == userID
}

// RequiredField describes one entry a status expects in the field payload of a transition.
type RequiredField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// ConversationStatus is a pipeline stage definition.
type ConversationStatus struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Name         string `gorm:"type:text;not null" json:"name"`
	DisplayOrder int    `gorm:"not null;default:0" json:"display_order"`
	IsFinal      bool   `gorm:"not null;default:false" json:"is_final"`
	// At most one status is the default; enforced with a partial unique index.
	IsDefault bool `gorm:"not null;default:false;index:idx_status_single_default,unique,where:is_default" json:"is_default"`
	IsActive  bool `gorm:"not null;default:true" json:"is_active"`
	// AutoResetToStatusID is where a completed cycle lands when the conversation sits in this status.
	AutoResetToStatusID *uint          `json:"auto_reset_to_status_id,omitempty"`
	Color               string         `gorm:"type:text" json:"color"`
	Icon                string         `gorm:"type:text" json:"icon"`
	RequiredFields      datatypes.JSON `gorm:"type:jsonb" json:"required_fields,omitempty"`
}

// ErrSelfReset is returned when a status names itself as its auto-reset target.
var ErrSelfReset = errors.New("status cannot auto-reset to itself")

// BeforeSave rejects a status whose auto-reset target points back at itself.
func (s *ConversationStatus) BeforeSave(tx *gorm.DB) error {
	if s.AutoResetToStatusID != nil && s.ID != 0 && *s.AutoResetToStatusID == s.ID {
		return ErrSelfReset
	}
	return nil
}

// Fields decodes the required-field schema. An empty schema yields no fields.
func (s *ConversationStatus) Fields() ([]RequiredField, error) {
	if len(s.RequiredFields) == 0 {
		return nil, nil
	}
	var fields []RequiredField
	if err := json.Unmarshal(s.RequiredFields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// ConversationStatusHistory is an append-only record of one status transition.
type ConversationStatusHistory struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	ConversationID uint    `gorm:"not null;index" json:"conversation_id"`
	OldStatusID    *uint   `json:"old_status_id,omitempty"`
	NewStatusID    uint    `gorm:"not null" json:"new_status_id"`
	ChangedBy      *string `gorm:"type:text" json:"changed_by,omitempty"`
	Reason         string  `gorm:"type:text" json:"reason"`
	// FieldData is the structured payload collected for the new status.
	FieldData datatypes.JSON `gorm:"type:jsonb" json:"field_data,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

// Event kinds of the conversation audit trail.
const (
	EventStatusChange   = "status_change"
	EventCycleCompleted = "cycle_completed"
)

// ConversationEvent is a human-readable system entry shown in the conversation timeline.
type ConversationEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"not null;index" json:"conversation_id"`
	Kind           string         `gorm:"type:text;not null" json:"kind"`
	Text           string         `gorm:"type:text;not null" json:"text"`
	ActorID        *string        `gorm:"type:text" json:"actor_id,omitempty"`
	Metadata       datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CycleOutcome is the free-form result recorded when a cycle is closed.
type CycleOutcome struct {
	SaleAmount             *decimal.Decimal `json:"sale_amount,omitempty"`
	Notes                  string           `json:"notes,omitempty"`
	Reason                 string           `json:"reason,omitempty"`
	WinningQuotationID     *uint            `json:"winning_quotation_id,omitempty"`
	WinningQuotationNumber string           `json:"winning_quotation_number,omitempty"`
	WinningQuotationAmount *decimal.Decimal `json:"winning_quotation_amount,omitempty"`
}

// ExplicitSaleAmount returns the amount stated in the outcome, preferring the
// winning quotation. Only positive amounts count as stated.
func (o CycleOutcome) ExplicitSaleAmount() (decimal.Decimal, bool) {
	if o.WinningQuotationAmount != nil && o.WinningQuotationAmount.IsPositive() {
		return *o.WinningQuotationAmount, true
	}
	if o.SaleAmount != nil && o.SaleAmount.IsPositive() {
		return *o.SaleAmount, true
	}
	return decimal.Zero, false
}

// ConversationCycle is the immutable ledger row of one completed service interval.
type ConversationCycle struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ConversationID  uint           `gorm:"not null;uniqueIndex:idx_cycle_conversation_number" json:"conversation_id"`
	CycleNumber     int            `gorm:"not null;uniqueIndex:idx_cycle_conversation_number" json:"cycle_number"`
	StartedAt       time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt     time.Time      `gorm:"not null;index" json:"completed_at"`
	InitialStatusID *uint          `json:"initial_status_id,omitempty"`
	FinalStatusID   uint           `gorm:"not null" json:"final_status_id"`
	MessageCount    int64          `gorm:"not null;default:0" json:"message_count"`
	AssignedTo      *string        `gorm:"type:text" json:"assigned_to,omitempty"`
	CompletedBy     *string        `gorm:"type:text" json:"completed_by,omitempty"`
	Outcome         datatypes.JSON `gorm:"type:jsonb" json:"outcome,omitempty"`
	Quotations      []Quotation    `gorm:"foreignKey:CycleID" json:"quotations,omitempty"`
}

// DecodeOutcome unmarshals the outcome payload. A missing payload is an empty outcome.
func (c *ConversationCycle) DecodeOutcome() (CycleOutcome, error) {
	var out CycleOutcome
	if len(c.Outcome) == 0 {
		return out, nil
	}
	err := json.Unmarshal(c.Outcome, &out)
	return out, err
}

// SetOutcome marshals o into the outcome payload.
func (c *ConversationCycle) SetOutcome(o CycleOutcome) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	c.Outcome = datatypes.JSON(raw)
	return nil
}

// Quotation is a priced offer sent to the customer during a cycle.
// CycleID stays nil while the cycle is still open.
type Quotation struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ConversationID uint            `gorm:"not null;index" json:"conversation_id"`
	CycleID        *uint           `gorm:"index" json:"cycle_id,omitempty"`
	Number         string          `gorm:"type:text;not null" json:"number"`
	Amount         decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	CreatedBy      *string         `gorm:"type:text" json:"created_by,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}
