package channel

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"helpdesk/backend/internal/models"
)

// Event is one normalized item of a webhook delivery: a MessageEvent,
// StatusEvent, ReactionEvent or CallEvent.
type Event interface {
	isEvent()
}

// MessageEvent is a new or redelivered customer message in canonical shape.
type MessageEvent struct {
	ExternalUserID string
	ProfileName    string
	Message        models.Message
}

// StatusEvent reports the delivery state of an outbound message.
type StatusEvent struct {
	ExternalID  string
	RecipientID string
	Status      string
	At          time.Time
	ErrorCode   *int
	ErrorTitle  string
}

// ReactionEvent sets or clears the customer's reaction on an existing message.
type ReactionEvent struct {
	ExternalUserID   string
	ProfileName      string
	TargetExternalID string
	Emoji            string
	At               time.Time
}

// CallEvent is forwarded to viewers as-is.
type CallEvent struct {
	ExternalUserID string
	CallID         string
	Event          string
	Status         string
	Direction      string
	At             time.Time
}

func (MessageEvent) isEvent()  {}
func (StatusEvent) isEvent()   {}
func (ReactionEvent) isEvent() {}
func (CallEvent) isEvent()     {}

// content is the canonical type/body/media triple a variant normalizes into.
type content struct {
	Type     string
	Body     string
	MediaID  string
	MimeType string
}

type normalizer func(m *InboundMessage) content

// normalizers has one entry per channel message variant.
var normalizers = map[string]normalizer{
	"text":        normalizeText,
	"image":       mediaNormalizer(models.MessageImage, "[Image]", func(m *InboundMessage) *Media { return m.Image }),
	"video":       mediaNormalizer(models.MessageVideo, "[Video]", func(m *InboundMessage) *Media { return m.Video }),
	"audio":       mediaNormalizer(models.MessageAudio, "[Audio]", func(m *InboundMessage) *Media { return m.Audio }),
	"voice":       mediaNormalizer(models.MessageAudio, "[Audio]", func(m *InboundMessage) *Media { return m.Voice }),
	"sticker":     mediaNormalizer(models.MessageSticker, "[Sticker]", func(m *InboundMessage) *Media { return m.Sticker }),
	"document":    normalizeDocument,
	"interactive": normalizeInteractive,
	"button":      normalizeButton,
	"location":    normalizeLocation,
	"contacts":    normalizeContacts,
}

// Normalize flattens a webhook delivery into events, preserving payload order.
// Statuses of a change come before its messages.
func Normalize(p *WebhookPayload) []Event {
	var events []Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			profiles := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				profiles[c.WaID] = c.Profile.Name
			}
			// Some deliveries omit wa_id; the single profile then belongs to every message.
			fallbackName := ""
			if len(v.Contacts) == 1 {
				fallbackName = v.Contacts[0].Profile.Name
			}

			for _, st := range v.Statuses {
				events = append(events, normalizeStatus(st))
			}
			for i := range v.Messages {
				m := &v.Messages[i]
				name := profiles[m.From]
				if name == "" {
					name = fallbackName
				}
				events = append(events, normalizeMessage(m, name))
			}
			for _, call := range v.Calls {
				events = append(events, CallEvent{
					ExternalUserID: call.From,
					CallID:         call.ID,
					Event:          call.Event,
					Status:         call.Status,
					Direction:      call.Direction,
					At:             parseUnix(call.Timestamp),
				})
			}
		}
	}
	return events
}

func normalizeMessage(m *InboundMessage, profileName string) Event {
	at := parseUnix(m.Timestamp)
	if m.Type == "reaction" && m.Reaction != nil {
		return ReactionEvent{
			ExternalUserID:   m.From,
			ProfileName:      profileName,
			TargetExternalID: m.Reaction.MessageID,
			Emoji:            m.Reaction.Emoji,
			At:               at,
		}
	}

	var c content
	if fn, ok := normalizers[m.Type]; ok {
		c = fn(m)
	} else {
		c = content{Type: models.MessageUnknown, Body: fmt.Sprintf("[%s]", m.Type)}
	}

	msg := models.Message{
		Direction:      models.DirectionInbound,
		Type:           c.Type,
		Body:           c.Body,
		MediaID:        c.MediaID,
		MimeType:       c.MimeType,
		Timestamp:      at,
		DeliveryStatus: models.DeliveryReceived,
	}
	if m.ID != "" {
		id := m.ID
		msg.ExternalID = &id
	}
	if m.Context != nil && m.Context.ID != "" {
		ref := m.Context.ID
		msg.ReplyToExternalID = &ref
	}
	return MessageEvent{ExternalUserID: m.From, ProfileName: profileName, Message: msg}
}

func normalizeStatus(st StatusReport) StatusEvent {
	ev := StatusEvent{
		ExternalID:  st.ID,
		RecipientID: st.RecipientID,
		Status:      strings.ToLower(st.Status),
		At:          parseUnix(st.Timestamp),
	}
	if len(st.Errors) > 0 {
		code := st.Errors[0].Code
		ev.ErrorCode = &code
		ev.ErrorTitle = st.Errors[0].Title
		if d := st.Errors[0].ErrorData.Details; d != "" {
			ev.ErrorTitle = ev.ErrorTitle + ": " + d
		}
	}
	return ev
}

func normalizeText(m *InboundMessage) content {
	if m.Text == nil {
		return content{Type: models.MessageText}
	}
	return content{Type: models.MessageText, Body: m.Text.Body}
}

func mediaNormalizer(kind, placeholder string, pick func(*InboundMessage) *Media) normalizer {
	return func(m *InboundMessage) content {
		media := pick(m)
		if media == nil {
			return content{Type: kind, Body: placeholder}
		}
		body := media.Caption
		if body == "" {
			body = placeholder
		}
		return content{Type: kind, Body: body, MediaID: media.ID, MimeType: media.MimeType}
	}
}

func normalizeDocument(m *InboundMessage) content {
	c := content{Type: models.MessageDocument, Body: "[Document]"}
	if m.Document == nil {
		return c
	}
	c.MediaID = m.Document.ID
	c.MimeType = m.Document.MimeType
	switch {
	case m.Document.Caption != "":
		c.Body = m.Document.Caption
	case m.Document.Filename != "":
		c.Body = m.Document.Filename
	}
	return c
}

func normalizeInteractive(m *InboundMessage) content {
	c := content{Type: models.MessageInteractive, Body: "[Interactive]"}
	if m.Interactive == nil {
		return c
	}
	switch {
	case m.Interactive.ButtonReply != nil:
		c.Body = m.Interactive.ButtonReply.Title
	case m.Interactive.ListReply != nil:
		c.Body = m.Interactive.ListReply.Title
	}
	return c
}

func normalizeButton(m *InboundMessage) content {
	c := content{Type: models.MessageInteractive, Body: "[Button]"}
	if m.Button != nil && m.Button.Text != "" {
		c.Body = m.Button.Text
	}
	return c
}

func normalizeLocation(m *InboundMessage) content {
	c := content{Type: models.MessageLocation, Body: "[Location]"}
	if m.Location == nil {
		return c
	}
	coords := strconv.FormatFloat(m.Location.Latitude, 'f', 6, 64) + "," + strconv.FormatFloat(m.Location.Longitude, 'f', 6, 64)
	if m.Location.Name != "" {
		c.Body = fmt.Sprintf("[Location] %s (%s)", m.Location.Name, coords)
	} else {
		c.Body = "[Location] " + coords
	}
	return c
}

func normalizeContacts(m *InboundMessage) content {
	names := make([]string, 0, len(m.Contacts))
	for _, sc := range m.Contacts {
		if sc.Name.FormattedName != "" {
			names = append(names, sc.Name.FormattedName)
		}
	}
	if len(names) == 0 {
		return content{Type: models.MessageContacts, Body: "[Contact]"}
	}
	return content{Type: models.MessageContacts, Body: "[Contact] " + strings.Join(names, ", ")}
}

// parseUnix reads the channel's unix-seconds timestamps. Missing or invalid values mean now.
func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
