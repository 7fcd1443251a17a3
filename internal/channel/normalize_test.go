package channel_test

import (
	"encoding/json"
	"testing"
	"time"

	"helpdesk/backend/internal/channel"
	"helpdesk/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *channel.WebhookPayload {
	t.Helper()
	var p channel.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestNormalize_TextMessageWithProfileAndReply(t *testing.T) {
	// Arrange
	p := decode(t, `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"5215551234","profile":{"name":"Maria"}}],
		"messages":[{"id":"wamid.1","from":"5215551234","timestamp":"1767261600","type":"text",
			"text":{"body":"Hola, precio?"},"context":{"id":"wamid.0"}}]}}]}]}`)

	// Act
	events := channel.Normalize(p)

	// Assert
	require.Len(t, events, 1)
	ev, ok := events[0].(channel.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "5215551234", ev.ExternalUserID)
	assert.Equal(t, "Maria", ev.ProfileName)
	assert.Equal(t, models.MessageText, ev.Message.Type)
	assert.Equal(t, models.DirectionInbound, ev.Message.Direction)
	assert.Equal(t, "Hola, precio?", ev.Message.Body)
	require.NotNil(t, ev.Message.ExternalID)
	assert.Equal(t, "wamid.1", *ev.Message.ExternalID)
	require.NotNil(t, ev.Message.ReplyToExternalID)
	assert.Equal(t, "wamid.0", *ev.Message.ReplyToExternalID)
	assert.Equal(t, time.Unix(1767261600, 0).UTC(), ev.Message.Timestamp)
}

func TestNormalize_MessageVariants(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantType string
		wantBody string
		wantID   string
	}{
		{"image with caption", `{"type":"image","image":{"id":"m1","mime_type":"image/jpeg","caption":"my car"}}`, models.MessageImage, "my car", "m1"},
		{"image placeholder", `{"type":"image","image":{"id":"m2","mime_type":"image/png"}}`, models.MessageImage, "[Image]", "m2"},
		{"voice note", `{"type":"voice","voice":{"id":"m3","mime_type":"audio/ogg"}}`, models.MessageAudio, "[Audio]", "m3"},
		{"document filename", `{"type":"document","document":{"id":"m4","filename":"quote.pdf"}}`, models.MessageDocument, "quote.pdf", "m4"},
		{"sticker", `{"type":"sticker","sticker":{"id":"m5"}}`, models.MessageSticker, "[Sticker]", "m5"},
		{"button reply", `{"type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"b1","title":"Yes"}}}`, models.MessageInteractive, "Yes", ""},
		{"list reply", `{"type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"l1","title":"Option B"}}}`, models.MessageInteractive, "Option B", ""},
		{"template button", `{"type":"button","button":{"text":"Stop","payload":"STOP"}}`, models.MessageInteractive, "Stop", ""},
		{"location", `{"type":"location","location":{"latitude":19.4326,"longitude":-99.1332}}`, models.MessageLocation, "[Location] 19.432600,-99.133200", ""},
		{"contacts", `{"type":"contacts","contacts":[{"name":{"formatted_name":"Juan Perez"}}]}`, models.MessageContacts, "[Contact] Juan Perez", ""},
		{"unknown", `{"type":"order"}`, models.MessageUnknown, "[order]", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decode(t, `{"entry":[{"changes":[{"value":{"messages":[`+tt.message+`]}}]}]}`)

			events := channel.Normalize(p)

			require.Len(t, events, 1)
			ev := events[0].(channel.MessageEvent)
			assert.Equal(t, tt.wantType, ev.Message.Type)
			assert.Equal(t, tt.wantBody, ev.Message.Body)
			assert.Equal(t, tt.wantID, ev.Message.MediaID)
		})
	}
}

func TestNormalize_StatusReactionAndCall(t *testing.T) {
	// Arrange
	p := decode(t, `{"entry":[{"changes":[{"value":{
		"statuses":[{"id":"wamid.out","status":"FAILED","timestamp":"1767261700","recipient_id":"5215551234",
			"errors":[{"code":131047,"title":"Re-engagement message","error_data":{"details":"window closed"}}]}],
		"messages":[{"id":"wamid.r","from":"5215551234","timestamp":"1767261800","type":"reaction",
			"reaction":{"message_id":"wamid.out","emoji":"👍"}}],
		"calls":[{"id":"call.1","from":"5215551234","event":"connect","timestamp":"1767261900"}]}}]}]}`)

	// Act
	events := channel.Normalize(p)

	// Assert
	require.Len(t, events, 3)

	st := events[0].(channel.StatusEvent)
	assert.Equal(t, "wamid.out", st.ExternalID)
	assert.Equal(t, models.DeliveryFailed, st.Status)
	require.NotNil(t, st.ErrorCode)
	assert.Equal(t, 131047, *st.ErrorCode)
	assert.Equal(t, "Re-engagement message: window closed", st.ErrorTitle)

	re := events[1].(channel.ReactionEvent)
	assert.Equal(t, "wamid.out", re.TargetExternalID)
	assert.Equal(t, "👍", re.Emoji)

	call := events[2].(channel.CallEvent)
	assert.Equal(t, "call.1", call.CallID)
	assert.Equal(t, "connect", call.Event)
}

func TestNormalize_SingleProfileWithoutWaID(t *testing.T) {
	p := decode(t, `{"entry":[{"changes":[{"value":{
		"contacts":[{"profile":{"name":"Carlos"}}],
		"messages":[{"id":"wamid.9","from":"5215550000","timestamp":"1767261600","type":"text","text":{"body":"hi"}}]}}]}]}`)

	events := channel.Normalize(p)

	require.Len(t, events, 1)
	assert.Equal(t, "Carlos", events[0].(channel.MessageEvent).ProfileName)
}
