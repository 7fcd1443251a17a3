package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Sender delivers outbound messages through the channel.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*SendResult, error)
	SendTemplate(ctx context.Context, to string, tpl Template) (*SendResult, error)
}

// Template is a pre-approved message template with positional body parameters.
type Template struct {
	Name       string
	Language   string
	BodyParams []string
}

// SendResult is the channel's answer to a send call.
type SendResult struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageID returns the external id of the first sent message, or "".
func (r *SendResult) MessageID() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// ErrSenderDisabled is returned when no channel credentials are configured.
var ErrSenderDisabled = errors.New("channel sender is not configured")

// CloudSender talks to the channel's HTTP send API.
type CloudSender struct {
	http    *resty.Client
	phoneID string
	limiter *rate.Limiter
}

// NewCloudSender builds a sender for baseURL/{phoneID}/messages. ratePerSecond caps
// outbound calls; zero disables the limit. Sends are not idempotent, so only
// connection failures before the request left are retried.
func NewCloudSender(baseURL, phoneID, token string, ratePerSecond float64) *CloudSender {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return isDialError(err)
		})

	s := &CloudSender{http: httpClient, phoneID: phoneID}
	if ratePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	return s
}

// isDialError reports whether err happened while connecting, before any byte of the
// request was written.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

type sendRequest struct {
	MessagingProduct string         `json:"messaging_product"`
	RecipientType    string         `json:"recipient_type"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             *textPayload   `json:"text,omitempty"`
	Template         *templateBlock `json:"template,omitempty"`
}

type textPayload struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type templateBlock struct {
	Name       string              `json:"name"`
	Language   map[string]string   `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []map[string]string `json:"parameters"`
}

// SendText sends a plain text message.
func (s *CloudSender) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	return s.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

// SendTemplate sends a template message.
func (s *CloudSender) SendTemplate(ctx context.Context, to string, tpl Template) (*SendResult, error) {
	block := &templateBlock{Name: tpl.Name, Language: map[string]string{"code": tpl.Language}}
	if len(tpl.BodyParams) > 0 {
		params := make([]map[string]string, 0, len(tpl.BodyParams))
		for _, p := range tpl.BodyParams {
			params = append(params, map[string]string{"type": "text", "text": p})
		}
		block.Components = []templateComponent{{Type: "body", Parameters: params}}
	}
	return s.send(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "template",
		Template:         block,
	})
}

func (s *CloudSender) send(ctx context.Context, req sendRequest) (*SendResult, error) {
	if s == nil || s.phoneID == "" {
		return nil, ErrSenderDisabled
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("send rate limit: %w", err)
		}
	}

	var result SendResult
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/" + s.phoneID + "/messages")
	if err != nil {
		return nil, fmt.Errorf("channel send request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("channel send error (%d): %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
