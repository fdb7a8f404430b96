package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cartlane/notification-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// PreferenceService is the preference surface the HTTP layer depends on.
type PreferenceService interface {
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
	Update(ctx context.Context, userID string, update map[string]map[string]any) (*domain.Preferences, error)
	Reset(ctx context.Context, userID string) (*domain.Preferences, error)
}

type PreferenceHandler struct {
	service PreferenceService
}

func NewPreferenceHandler(service PreferenceService) (*PreferenceHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("preference service is required")
	}
	return &PreferenceHandler{service: service}, nil
}

type channelTogglesResponse struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

type preferencesResponse struct {
	UserID        string                 `json:"userId"`
	OrderUpdate   channelTogglesResponse `json:"order_update"`
	Promotion     channelTogglesResponse `json:"promotion"`
	Wishlist      channelTogglesResponse `json:"wishlist"`
	Inventory     channelTogglesResponse `json:"inventory"`
	ReviewRequest channelTogglesResponse `json:"review_request"`
	AbandonedCart channelTogglesResponse `json:"abandoned_cart"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

func (h *PreferenceHandler) Get(c *fiber.Ctx) error {
	prefs, err := h.service.Get(c.UserContext(), authenticatedUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferencesResponse(prefs))
}

func (h *PreferenceHandler) Update(c *fiber.Ctx) error {
	var update map[string]map[string]any
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	prefs, err := h.service.Update(c.UserContext(), authenticatedUserID(c), update)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferencesResponse(prefs))
}

func (h *PreferenceHandler) Reset(c *fiber.Ctx) error {
	prefs, err := h.service.Reset(c.UserContext(), authenticatedUserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toPreferencesResponse(prefs))
}

func toPreferencesResponse(p *domain.Preferences) preferencesResponse {
	if p == nil {
		return preferencesResponse{}
	}

	return preferencesResponse{
		UserID:        p.UserID,
		OrderUpdate:   channelTogglesResponse(p.OrderUpdate),
		Promotion:     channelTogglesResponse(p.Promotion),
		Wishlist:      channelTogglesResponse(p.Wishlist),
		Inventory:     channelTogglesResponse(p.Inventory),
		ReviewRequest: channelTogglesResponse(p.ReviewRequest),
		AbandonedCart: channelTogglesResponse(p.AbandonedCart),
		UpdatedAt:     p.UpdatedAt,
	}
}
