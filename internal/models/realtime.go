package models

import "encoding/json"

// Names of the events pushed to viewers.
const (
	EventMessages      = "messages"
	EventStatus        = "status"
	EventConversations = "conversations"
	EventComments      = "comments"
	EventCall          = "call"
)

// ViewerEvent is one named update pushed to connected viewers.
// ConversationID is zero for list-level updates.
type ViewerEvent struct {
	Name           string          `json:"event"`
	ConversationID uint            `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// NewViewerEvent encodes payload into a ViewerEvent.
func NewViewerEvent(name string, conversationID uint, payload any) (ViewerEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ViewerEvent{}, err
	}
	return ViewerEvent{Name: name, ConversationID: conversationID, Data: data}, nil
}
