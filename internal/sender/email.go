package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/cartlane/notification-engine/internal/domain"
	"gopkg.in/gomail.v2"
)

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(host string, port int, username, password, from string) (*EmailSender, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	return &EmailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}, nil
}

func (s *EmailSender) Send(ctx context.Context, user domain.User, notification domain.Notification) error {
	if s == nil || s.dialer == nil {
		return fmt.Errorf("email sender is not initialized")
	}
	if strings.TrimSpace(user.Email) == "" {
		return &SendError{
			Channel:   domain.ChannelEmail.String(),
			Message:   "user has no email address",
			Transient: false,
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", notification.Title)
	msg.SetBody("text/plain", notification.Message)

	// gomail has no context support; SMTP dial/send timeouts bound the call.
	if err := s.dialer.DialAndSend(msg); err != nil {
		return &SendError{
			Channel:   domain.ChannelEmail.String(),
			Message:   "smtp delivery failed",
			Transient: true,
			Cause:     err,
		}
	}

	return nil
}
