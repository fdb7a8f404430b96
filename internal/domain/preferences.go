package domain

import (
	"fmt"
	"time"
)

// Preference channel keys accepted in updates. The in_app channel has no
// preference gate and always delivers.
const (
	prefKeyEmail = "email"
	prefKeySMS   = "sms"
	prefKeyPush  = "push"
)

// ChannelToggles holds the per-channel opt-in flags for one category.
type ChannelToggles struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// Preferences is the fixed-shape per-user preference matrix. Only the six
// gated categories appear; transactional categories (welcome, password_reset,
// email_verification, order_confirmation) always deliver.
type Preferences struct {
	UserID        string
	OrderUpdate   ChannelToggles
	Promotion     ChannelToggles
	Wishlist      ChannelToggles
	Inventory     ChannelToggles
	ReviewRequest ChannelToggles
	AbandonedCart ChannelToggles
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GatedCategories returns the categories subject to preference gating.
func GatedCategories() []Category {
	return []Category{
		CategoryOrderUpdate,
		CategoryPromotion,
		CategoryWishlist,
		CategoryInventory,
		CategoryReviewRequest,
		CategoryAbandonedCart,
	}
}

// DefaultPreferences returns the default matrix: everything enabled except
// promotional SMS.
func DefaultPreferences(userID string) *Preferences {
	allOn := ChannelToggles{Email: true, SMS: true, Push: true}
	return &Preferences{
		UserID:        userID,
		OrderUpdate:   allOn,
		Promotion:     ChannelToggles{Email: true, SMS: false, Push: true},
		Wishlist:      allOn,
		Inventory:     allOn,
		ReviewRequest: allOn,
		AbandonedCart: allOn,
	}
}

func (p *Preferences) toggles(category Category) *ChannelToggles {
	switch category {
	case CategoryOrderUpdate:
		return &p.OrderUpdate
	case CategoryPromotion:
		return &p.Promotion
	case CategoryWishlist:
		return &p.Wishlist
	case CategoryInventory:
		return &p.Inventory
	case CategoryReviewRequest:
		return &p.ReviewRequest
	case CategoryAbandonedCart:
		return &p.AbandonedCart
	}
	return nil
}

// Allows reports whether the category/channel pair may be delivered and
// whether the pair is preference-gated at all. Ungated pairs always deliver.
func (p *Preferences) Allows(category Category, channel Channel) (allowed bool, gated bool) {
	if !channel.External() {
		return true, false
	}

	toggles := p.toggles(category)
	if toggles == nil {
		return true, false
	}

	switch channel {
	case ChannelEmail:
		return toggles.Email, true
	case ChannelSMS:
		return toggles.SMS, true
	case ChannelPush:
		return toggles.Push, true
	}
	return true, false
}

// ApplyUpdate merges a partial update into the matrix. The whole input is
// validated before any mutation: an unknown category, unknown channel key, or
// non-boolean value rejects the update and leaves the matrix unchanged.
// Merge is shallow per category; omitted channels keep their current value.
func (p *Preferences) ApplyUpdate(update map[string]map[string]any) error {
	if len(update) == 0 {
		return fmt.Errorf("%w: preference update is empty", ErrValidation)
	}

	for rawCategory, channels := range update {
		category, err := ParseCategoryFromString(rawCategory)
		if err != nil || p.toggles(category) == nil {
			return fmt.Errorf("%w: unknown preference category %q", ErrValidation, rawCategory)
		}
		if len(channels) == 0 {
			return fmt.Errorf("%w: no channels supplied for category %q", ErrValidation, rawCategory)
		}
		for key, value := range channels {
			switch key {
			case prefKeyEmail, prefKeySMS, prefKeyPush:
			default:
				return fmt.Errorf("%w: unknown preference channel %q", ErrValidation, key)
			}
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("%w: preference %s.%s must be a boolean", ErrValidation, rawCategory, key)
			}
		}
	}

	for rawCategory, channels := range update {
		category, _ := ParseCategoryFromString(rawCategory)
		toggles := p.toggles(category)
		for key, value := range channels {
			enabled := value.(bool)
			switch key {
			case prefKeyEmail:
				toggles.Email = enabled
			case prefKeySMS:
				toggles.SMS = enabled
			case prefKeyPush:
				toggles.Push = enabled
			}
		}
	}

	return nil
}
