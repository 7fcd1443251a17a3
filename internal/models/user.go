package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Agent roles carried in access tokens.
const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

// User is a helpdesk operator: an agent working conversations or an administrator.
type User struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"type:text;not null" json:"name"`
	Email string `gorm:"uniqueIndex" json:"email"`
	// Role is either RoleAdmin or RoleAgent.
	Role string `gorm:"type:text;not null;default:'agent'" json:"role"`
	// Phone is the channel number SLA alerts are delivered to. Empty disables alerts.
	Phone     string    `gorm:"type:text" json:"phone"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates a UUID for the user if the ID is not set yet.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// IsAdmin reports whether the user may act on any conversation.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
