package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type TransactionList struct {
	Items  []domain.WalletTransaction `json:"items"`
	Total  int                        `json:"total"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

type CreatePayoutRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Destination string `json:"destination,omitempty"`
}

type PayoutResponse struct {
	Payout domain.Payout `json:"payout"`
	Wallet domain.Wallet `json:"wallet"`
}

func (c *Client) GetWallet(ctx context.Context) (domain.Wallet, error) {
	var w domain.Wallet
	if err := c.doJSON(ctx, http.MethodGet, "/v1/wallet/me", nil, bearer, nil, &w); err != nil {
		return domain.Wallet{}, err
	}
	return w, nil
}

func (c *Client) ListWalletTransactions(ctx context.Context, p Page) (TransactionList, error) {
	var list TransactionList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/wallet/tx", p.apply(nil), bearer, nil, &list); err != nil {
		return TransactionList{}, err
	}
	return list, nil
}

// CreatePayout requests a withdrawal from the available balance.
func (c *Client) CreatePayout(ctx context.Context, req CreatePayoutRequest) (PayoutResponse, error) {
	if err := c.check(req); err != nil {
		return PayoutResponse{}, err
	}
	var out PayoutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/wallet/payouts", nil, bearer, req, &out); err != nil {
		return PayoutResponse{}, err
	}
	return out, nil
}
