package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/go-resty/resty/v2"
)

type pushGatewayRequest struct {
	Token string         `json:"token"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// PushSender posts notifications to a mobile push gateway endpoint.
type PushSender struct {
	client   *resty.Client
	endpoint string
}

func NewPushSender(endpoint string) (*PushSender, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewPushSenderWithClient(endpoint, client)
}

func NewPushSenderWithClient(endpoint string, client *resty.Client) (*PushSender, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}

	return &PushSender{client: client, endpoint: trimmed}, nil
}

func (s *PushSender) Send(ctx context.Context, user domain.User, notification domain.Notification) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("push sender is not initialized")
	}
	if strings.TrimSpace(user.PushToken) == "" {
		return &SendError{
			Channel:   domain.ChannelPush.String(),
			Message:   "user has no registered device token",
			Transient: false,
		}
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(pushGatewayRequest{
			Token: user.PushToken,
			Title: notification.Title,
			Body:  notification.Message,
			Data:  notification.Payload,
		}).
		Post(s.endpoint)
	if err != nil {
		return &SendError{
			Channel:   domain.ChannelPush.String(),
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &SendError{
		Channel:    domain.ChannelPush.String(),
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
