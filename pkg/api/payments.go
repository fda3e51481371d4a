package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type CheckoutRequest struct {
	JobID   string `json:"job_id" validate:"required"`
	OfferID string `json:"offer_id" validate:"required"`
}

// Checkout opens a payment session for an accepted offer.
func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (domain.Checkout, error) {
	if err := c.check(req); err != nil {
		return domain.Checkout{}, err
	}
	var out domain.Checkout
	if err := c.doJSON(ctx, http.MethodPost, "/v1/consumer/payments/checkout", nil, bearer, req, &out); err != nil {
		return domain.Checkout{}, err
	}
	return out, nil
}

// SettlePayment releases a pending payment into the provider's available
// balance and completes the job. Admin only.
func (c *Client) SettlePayment(ctx context.Context, paymentID string) (domain.Checkout, error) {
	var out domain.Checkout
	path := "/v1/admin/payments/" + escape(paymentID) + "/settle"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, bearer, nil, &out); err != nil {
		return domain.Checkout{}, err
	}
	return out, nil
}
