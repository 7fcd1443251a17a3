// Package channel speaks the messaging channel's wire formats: the inbound
// webhook payload and the outbound send API.
package channel

// WebhookPayload is the body of an event delivery.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue bundles new messages with their sender profiles, status reports and call events.
type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Contacts         []Contact         `json:"contacts"`
	Messages         []InboundMessage  `json:"messages"`
	Statuses         []StatusReport    `json:"statuses"`
	Calls            []CallNotice      `json:"calls"`
	Metadata         map[string]string `json:"metadata"`
}

// Contact is the sender profile attached to inbound messages.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is the raw message variant. Exactly one of the typed fields is set,
// selected by Type.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`

	Text        *TextBody       `json:"text,omitempty"`
	Image       *Media          `json:"image,omitempty"`
	Video       *Media          `json:"video,omitempty"`
	Audio       *Media          `json:"audio,omitempty"`
	Voice       *Media          `json:"voice,omitempty"`
	Document    *Media          `json:"document,omitempty"`
	Sticker     *Media          `json:"sticker,omitempty"`
	Interactive *Interactive    `json:"interactive,omitempty"`
	Button      *ButtonReply    `json:"button,omitempty"`
	Location    *Location       `json:"location,omitempty"`
	Contacts    []SharedContact `json:"contacts,omitempty"`
	Reaction    *Reaction       `json:"reaction,omitempty"`
	Context     *ReplyContext   `json:"context,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"list_reply,omitempty"`
}

type ButtonReply struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type SharedContact struct {
	Name struct {
		FormattedName string `json:"formatted_name"`
	} `json:"name"`
	Phones []struct {
		Phone string `json:"phone"`
	} `json:"phones"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ReplyContext struct {
	ID   string `json:"id"`
	From string `json:"from"`
}

// StatusReport is a delivery status update for a message we sent.
type StatusReport struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code      int    `json:"code"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		ErrorData struct {
			Details string `json:"details"`
		} `json:"error_data"`
	} `json:"errors,omitempty"`
}

// CallNotice is a voice call lifecycle notification.
type CallNotice struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Event     string `json:"event"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}
