// Package nearby queries jobs around a point. Distance filtering is left to the backend.
package nearby

import (
	"context"
	"log/slog"
	"sync"

	"opus/pkg/api"
	"opus/pkg/domain"
)

// JobsAPI is the slice of the REST client used by Query.
type JobsAPI interface {
	ListJobs(ctx context.Context, q api.JobsQuery) (api.JobList, error)
}

// Params identifies one query. Any field change counts as a new query.
type Params struct {
	Lat        float64
	Lng        float64
	RadiusKm   float64
	CategoryID int
	Status     domain.JobStatus
	Limit      int
	Offset     int
}

func (p Params) query() api.JobsQuery {
	return api.JobsQuery{
		Lat:        p.Lat,
		Lng:        p.Lng,
		RadiusKm:   p.RadiusKm,
		CategoryID: p.CategoryID,
		Status:     p.Status,
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
}

// Snapshot is a point-in-time copy of the query state.
type Snapshot struct {
	Params  Params
	Jobs    []domain.Job
	Total   int
	Loading bool
	Error   string
}

// Option configures a Query built by New.
type Option func(*Query)

// WithAutoFetch toggles fetching on Start and on parameter changes. Default on.
func WithAutoFetch(on bool) Option {
	return func(q *Query) { q.autoFetch = on }
}

// WithOnChange registers a callback receiving a snapshot after every state change.
func WithOnChange(fn func(Snapshot)) Option {
	return func(q *Query) { q.onChange = fn }
}

// Query holds the nearby-jobs results for one parameter set at a time.
// It is safe for concurrent use.
type Query struct {
	api       JobsAPI
	autoFetch bool
	onChange  func(Snapshot)

	mu      sync.Mutex
	params  Params
	jobs    []domain.Job
	total   int
	loading int
	err     string
	issued  uint64
	applied uint64
}

// New builds a Query for p. Nothing is fetched until Start, SetParams or Refresh.
func New(jobs JobsAPI, p Params, opts ...Option) *Query {
	q := &Query{api: jobs, autoFetch: true, params: p, jobs: []domain.Job{}}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start performs the initial fetch when auto-fetch is on.
func (q *Query) Start(ctx context.Context) error {
	if !q.autoFetch {
		return nil
	}
	return q.Refresh(ctx)
}

// SetParams swaps the query parameters. With auto-fetch on, a change triggers exactly one fetch;
// identical parameters trigger none. It reports whether a fetch ran.
func (q *Query) SetParams(ctx context.Context, p Params) (bool, error) {
	q.mu.Lock()
	changed := p != q.params
	q.params = p
	q.mu.Unlock()
	if !changed || !q.autoFetch {
		return false, nil
	}
	return true, q.Refresh(ctx)
}

// Refresh fetches with the current parameters, regardless of auto-fetch.
// Results replace the previous ones wholesale; a failure clears them.
func (q *Query) Refresh(ctx context.Context) error {
	q.mu.Lock()
	p := q.params
	q.issued++
	ord := q.issued
	q.loading++
	q.mu.Unlock()
	q.notify()

	list, err := q.api.ListJobs(ctx, p.query())

	q.mu.Lock()
	q.loading--
	if ord > q.applied {
		q.applied = ord
		if err != nil {
			q.jobs = []domain.Job{}
			q.total = 0
			q.err = err.Error()
		} else {
			q.jobs = list.Items
			q.total = list.Total
			q.err = ""
		}
	}
	q.mu.Unlock()
	if err != nil {
		slog.Warn("nearby jobs fetch failed", "lat", p.Lat, "lng", p.Lng, "radius_km", p.RadiusKm, "err", err)
	}
	q.notify()
	return err
}

// Snapshot returns a copy of the current results.
func (q *Query) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]domain.Job, len(q.jobs))
	copy(jobs, q.jobs)
	return Snapshot{Params: q.params, Jobs: jobs, Total: q.total, Loading: q.loading > 0, Error: q.err}
}

func (q *Query) notify() {
	if q.onChange != nil {
		q.onChange(q.Snapshot())
	}
}
