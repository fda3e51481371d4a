package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type ProviderOnboardingRequest struct {
	FullName        string                    `json:"full_name" validate:"required"`
	DocumentNumber  string                    `json:"document_number" validate:"required"`
	BirthDate       string                    `json:"birth_date,omitempty"`
	Phone           string                    `json:"phone,omitempty"`
	AddressText     string                    `json:"address_text,omitempty"`
	ServiceRadiusKm float64                   `json:"service_radius_km" validate:"gt=0"`
	Bio             string                    `json:"bio,omitempty"`
	CategoryIDs     []int                     `json:"category_ids" validate:"min=1,dive,gt=0"`
	Documents       []domain.ProviderDocument `json:"documents,omitempty"`
}

type ProviderList struct {
	Items  []domain.ProviderProfile `json:"items"`
	Total  int                      `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// ReviewNotes is the optional body of admin approve/reject calls.
type ReviewNotes struct {
	Notes string `json:"notes,omitempty"`
}

func (c *Client) SubmitProviderOnboarding(ctx context.Context, req ProviderOnboardingRequest) (domain.ProviderProfile, error) {
	if err := c.check(req); err != nil {
		return domain.ProviderProfile{}, err
	}
	var p domain.ProviderProfile
	if err := c.doJSON(ctx, http.MethodPost, "/v1/provider/onboarding", nil, bearer, req, &p); err != nil {
		return domain.ProviderProfile{}, err
	}
	return p, nil
}

func (c *Client) GetProviderProfile(ctx context.Context) (domain.ProviderProfile, error) {
	var p domain.ProviderProfile
	if err := c.doJSON(ctx, http.MethodGet, "/v1/provider/me", nil, bearer, nil, &p); err != nil {
		return domain.ProviderProfile{}, err
	}
	return p, nil
}

// ListPendingProviders requires the admin role.
func (c *Client) ListPendingProviders(ctx context.Context, p Page) (ProviderList, error) {
	var list ProviderList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/admin/providers/pending", p.apply(nil), bearer, nil, &list); err != nil {
		return ProviderList{}, err
	}
	return list, nil
}

func (c *Client) ApproveProvider(ctx context.Context, userID, notes string) (domain.ProviderProfile, error) {
	return c.reviewProvider(ctx, userID, "approve", notes)
}

func (c *Client) RejectProvider(ctx context.Context, userID, notes string) (domain.ProviderProfile, error) {
	return c.reviewProvider(ctx, userID, "reject", notes)
}

func (c *Client) reviewProvider(ctx context.Context, userID, action, notes string) (domain.ProviderProfile, error) {
	var p domain.ProviderProfile
	path := "/v1/admin/providers/" + escape(userID) + "/" + action
	if err := c.doJSON(ctx, http.MethodPost, path, nil, bearer, ReviewNotes{Notes: notes}, &p); err != nil {
		return domain.ProviderProfile{}, err
	}
	return p, nil
}
