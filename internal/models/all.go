package models

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&User{},
		&ConversationStatus{},
		&Conversation{},
		&Message{},
		&ConversationStatusHistory{},
		&ConversationEvent{},
		&ConversationCycle{},
		&Quotation{},
		&AutoReplyRule{},
		&AutoReplySetting{},
		&BusinessHour{},
		&AutoReplyLog{},
		&UnrecognizedMessage{},
		&SlaSettings{},
		&SlaBreachLog{},
		&AgentNotification{},
	}
}
