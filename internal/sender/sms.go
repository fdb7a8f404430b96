package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/go-resty/resty/v2"
)

const defaultGatewayTimeout = 10 * time.Second

type smsGatewayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SMSSender posts notifications to an SMS gateway endpoint.
type SMSSender struct {
	client   *resty.Client
	endpoint string
}

func NewSMSSender(endpoint string) (*SMSSender, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	client.SetRetryCount(0)

	return NewSMSSenderWithClient(endpoint, client)
}

func NewSMSSenderWithClient(endpoint string, client *resty.Client) (*SMSSender, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("sms gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid sms gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}

	return &SMSSender{client: client, endpoint: trimmed}, nil
}

func (s *SMSSender) Send(ctx context.Context, user domain.User, notification domain.Notification) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("sms sender is not initialized")
	}
	if strings.TrimSpace(user.Phone) == "" {
		return &SendError{
			Channel:   domain.ChannelSMS.String(),
			Message:   "user has no phone number",
			Transient: false,
		}
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsGatewayRequest{To: user.Phone, Message: notification.Message}).
		Post(s.endpoint)
	if err != nil {
		return &SendError{
			Channel:   domain.ChannelSMS.String(),
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
		Channel:    domain.ChannelSMS.String(),
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
