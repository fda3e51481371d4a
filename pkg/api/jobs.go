package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"opus/pkg/domain"
)

// JobsQuery filters the public nearby-jobs listing. Lat, Lng and RadiusKm are always sent.
type JobsQuery struct {
	Lat        float64          `validate:"gte=-90,lte=90"`
	Lng        float64          `validate:"gte=-180,lte=180"`
	RadiusKm   float64          `validate:"gt=0"`
	CategoryID int              `validate:"gte=0"`
	Status     domain.JobStatus `validate:"omitempty,oneof=open negotiating accepted in_progress completed cancelled"`
	Limit      int              `validate:"gte=0"`
	Offset     int              `validate:"gte=0"`
}

func (q JobsQuery) values() url.Values {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	v.Set("lng", strconv.FormatFloat(q.Lng, 'f', -1, 64))
	v.Set("radius_km", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	if q.CategoryID > 0 {
		v.Set("category_id", strconv.Itoa(q.CategoryID))
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	return Page{Limit: q.Limit, Offset: q.Offset}.apply(v)
}

type JobList struct {
	Items  []domain.Job `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type CreateJobRequest struct {
	CategoryID        int        `json:"category_id" validate:"gt=0"`
	Title             string     `json:"title" validate:"required"`
	Description       string     `json:"description" validate:"required"`
	AddressText       string     `json:"address_text" validate:"required"`
	Lat               float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng               float64    `json:"lng" validate:"gte=-180,lte=180"`
	PreferredDatetime *time.Time `json:"preferred_datetime,omitempty"`
	PhotoURLs         []string   `json:"photo_urls,omitempty" validate:"omitempty,dive,url"`
}

// ListJobs lists jobs near a point. Public.
func (c *Client) ListJobs(ctx context.Context, q JobsQuery) (JobList, error) {
	if err := c.check(q); err != nil {
		return JobList{}, err
	}
	var list JobList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs", q.values(), public, nil, &list); err != nil {
		return JobList{}, err
	}
	if list.Items == nil {
		list.Items = []domain.Job{}
	}
	return list, nil
}

// GetJob returns one job. Public.
func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var job domain.Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+escape(id), nil, public, nil, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (domain.Job, error) {
	if err := c.check(req); err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := c.doJSON(ctx, http.MethodPost, "/v1/consumer/jobs", nil, bearer, req, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// ListMyJobs lists jobs posted by the caller, newest first.
func (c *Client) ListMyJobs(ctx context.Context, p Page) (JobList, error) {
	var list JobList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/consumer/jobs", p.apply(nil), bearer, nil, &list); err != nil {
		return JobList{}, err
	}
	if list.Items == nil {
		list.Items = []domain.Job{}
	}
	return list, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) (domain.Job, error) {
	var job domain.Job
	path := "/v1/consumer/jobs/" + escape(id) + "/cancel"
	if err := c.doJSON(ctx, http.MethodPatch, path, nil, bearer, nil, &job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}
