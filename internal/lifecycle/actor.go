package lifecycle

import "helpdesk/backend/internal/models"

// Actor is whoever performs a lifecycle operation. The zero UserID is the system.
type Actor struct {
	UserID string
	Name   string
	Role   string
}

// SystemActor performs automatic transitions.
var SystemActor = Actor{Role: models.RoleAdmin}

// IsSystem reports whether the actor is the automatic system actor.
func (a Actor) IsSystem() bool {
	return a.UserID == ""
}

func (a Actor) idPtr() *string {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}

// authorize lets administrators and the system act on any conversation and agents
// only on conversations assigned to them.
func authorize(a Actor, conv *models.Conversation) error {
	if a.IsSystem() || a.Role == models.RoleAdmin {
		return nil
	}
	if conv.IsAssignedTo(a.UserID) {
		return nil
	}
	return ErrForbidden
}
