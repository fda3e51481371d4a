package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type CreateOfferRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3"`
	Message     string `json:"message,omitempty"`
}

type OfferList struct {
	Items []domain.Offer `json:"items"`
}

func (c *Client) CreateOffer(ctx context.Context, jobID string, req CreateOfferRequest) (domain.Offer, error) {
	if err := c.check(req); err != nil {
		return domain.Offer{}, err
	}
	var offer domain.Offer
	path := "/v1/provider/jobs/" + escape(jobID) + "/offers"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, bearer, req, &offer); err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}

// ListJobOffers lists offers on a job owned by the caller.
func (c *Client) ListJobOffers(ctx context.Context, jobID string) ([]domain.Offer, error) {
	var list OfferList
	path := "/v1/consumer/jobs/" + escape(jobID) + "/offers"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, bearer, nil, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		return []domain.Offer{}, nil
	}
	return list.Items, nil
}

func (c *Client) AcceptOffer(ctx context.Context, offerID string) (domain.Offer, error) {
	var offer domain.Offer
	path := "/v1/consumer/offers/" + escape(offerID) + "/accept"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, bearer, nil, &offer); err != nil {
		return domain.Offer{}, err
	}
	return offer, nil
}
