package sender

import (
	"context"
	"fmt"

	"github.com/cartlane/notification-engine/internal/domain"
)

// Sender is the outbound delivery port for one external channel.
type Sender interface {
	Send(ctx context.Context, user domain.User, notification domain.Notification) error
}

// Registry is the closed set of channel senders. New channels are added as
// new variants here, not by string matching at call sites.
type Registry struct {
	email Sender
	sms   Sender
	push  Sender
}

func NewRegistry(email, sms, push Sender) (*Registry, error) {
	if email == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if sms == nil {
		return nil, fmt.Errorf("sms sender is required")
	}
	if push == nil {
		return nil, fmt.Errorf("push sender is required")
	}
	return &Registry{email: email, sms: sms, push: push}, nil
}

// ForChannel resolves the sender variant for an external channel. The in_app
// channel has no sender; its delivery is the stored record itself.
func (r *Registry) ForChannel(channel domain.Channel) (Sender, bool) {
	switch channel {
	case domain.ChannelEmail:
		return r.email, true
	case domain.ChannelSMS:
		return r.sms, true
	case domain.ChannelPush:
		return r.push, true
	}
	return nil, false
}
