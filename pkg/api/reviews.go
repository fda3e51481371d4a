package api

import (
	"context"
	"net/http"
	"net/url"

	"opus/pkg/domain"
)

type CreateReviewRequest struct {
	JobID     string                 `json:"job_id" validate:"required"`
	Rating    int                    `json:"rating" validate:"min=1,max=5"`
	Comment   string                 `json:"comment,omitempty"`
	Direction domain.ReviewDirection `json:"direction" validate:"oneof=consumer_to_provider provider_to_consumer"`
}

type ReviewList struct {
	Items  []domain.Review `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (c *Client) CreateReview(ctx context.Context, req CreateReviewRequest) (domain.Review, error) {
	if err := c.check(req); err != nil {
		return domain.Review{}, err
	}
	var r domain.Review
	if err := c.doJSON(ctx, http.MethodPost, "/v1/reviews", nil, bearer, req, &r); err != nil {
		return domain.Review{}, err
	}
	return r, nil
}

// ListUserReviews lists reviews received by a user. An empty direction lists both.
func (c *Client) ListUserReviews(ctx context.Context, userID string, direction domain.ReviewDirection, p Page) (ReviewList, error) {
	q := url.Values{}
	if direction != "" {
		q.Set("direction", string(direction))
	}
	var list ReviewList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/reviews/user/"+escape(userID), p.apply(q), bearer, nil, &list); err != nil {
		return ReviewList{}, err
	}
	return list, nil
}

func (c *Client) GetUserReviewSummary(ctx context.Context, userID string, direction domain.ReviewDirection) (domain.ReviewSummary, error) {
	q := url.Values{}
	if direction != "" {
		q.Set("direction", string(direction))
	}
	var s domain.ReviewSummary
	path := "/v1/reviews/user/" + escape(userID) + "/summary"
	if err := c.doJSON(ctx, http.MethodGet, path, q, bearer, nil, &s); err != nil {
		return domain.ReviewSummary{}, err
	}
	return s, nil
}
