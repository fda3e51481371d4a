package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"opus/pkg/domain"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, bool) {
	return string(s), s != ""
}

func newTestClient(t *testing.T, h http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Tokens: staticTokens(token)})
}

func TestErrorMessageFromBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"email already registered","code":"EMAIL_TAKEN"}`))
	}, "")

	_, err := c.Register(context.Background(), RegisterRequest{Email: "a@b.com", Password: "secret123", Name: "Ana"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "email already registered" || apiErr.Code != "EMAIL_TAKEN" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if err.Error() != "email already registered" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestErrorMessageFallsBackToStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}, "tok")

	_, err := c.GetWallet(context.Background())
	if err == nil || err.Error() != "HTTP 502" {
		t.Fatalf("expected HTTP 502, got %v", err)
	}
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected IsStatus to match 502")
	}
}

func TestBearerCallWithoutTokenSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, "")

	if _, err := c.GetWallet(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if err := c.MarkConversationRead(context.Background(), "c1"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestPublicCallsNeverSendToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("public call sent Authorization %q", got)
		}
		_ = json.NewEncoder(w).Encode(domain.Job{ID: "j1", Title: "Trocar tomada"})
	}, "tok")

	job, err := c.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.ID != "j1" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestBearerHeaderAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/provider/jobs/j1/offers" {
			t.Errorf("unexpected route %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type %q", got)
		}
		var req CreateOfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(domain.Offer{ID: "o1", JobID: "j1", AmountCents: req.AmountCents, Status: domain.OfferPending})
	}, "tok")

	offer, err := c.CreateOffer(context.Background(), "j1", CreateOfferRequest{AmountCents: 15000, Currency: "BRL"})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.AmountCents != 15000 || offer.Status != domain.OfferPending {
		t.Fatalf("unexpected offer: %+v", offer)
	}
}

func TestListJobsQueryOmitsZeroValues(t *testing.T) {
	var rawQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":null,"total":0,"limit":20,"offset":0}`))
	}, "")

	list, err := c.ListJobs(context.Background(), JobsQuery{Lat: -23.55, Lng: -46.63, RadiusKm: 10})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if rawQuery != "lat=-23.55&lng=-46.63&radius_km=10" {
		t.Fatalf("unexpected query %q", rawQuery)
	}
	if list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("expected empty non-nil items")
	}

	_, err = c.ListJobs(context.Background(), JobsQuery{Lat: 1, Lng: 2, RadiusKm: 5, CategoryID: 3, Status: domain.JobOpen, Limit: 20, Offset: 40})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, want := range []string{"category_id=3", "status=open", "limit=20", "offset=40"} {
		if !strings.Contains(rawQuery, want) {
			t.Fatalf("query %q missing %s", rawQuery, want)
		}
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})

	_, err := c.GetJob(context.Background(), "slow")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": `))
	}, "tok")

	if _, err := c.GetConversation(context.Background(), "c1"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNoContentIgnoresBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/conversations/c1/read" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}, "tok")

	if err := c.MarkConversationRead(context.Background(), "c1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
}

func TestValidationRunsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}, "tok")

	_, err := c.CreateReview(context.Background(), CreateReviewRequest{JobID: "j1", Rating: 6, Direction: domain.ConsumerToProvider})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(vErr.Error(), "rating") {
		t.Fatalf("expected rating field in %q", vErr.Error())
	}
	if _, err := c.CreateOffer(context.Background(), "j1", CreateOfferRequest{AmountCents: 0}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for zero amount, got %v", err)
	}
	if _, err := c.ListJobs(context.Background(), JobsQuery{Lat: 91, Lng: 0, RadiusKm: 1}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for latitude, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("validation failures must not reach the server")
	}
}

func TestMeAcceptsWrappedAndBareUser(t *testing.T) {
	bodies := []string{
		`{"user":{"id":"u1","email":"a@b.com","name":"Ana"}}`,
		`{"id":"u1","email":"a@b.com","name":"Ana"}`,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}, "tok")
		user, err := c.Me(context.Background())
		if err != nil {
			t.Fatalf("me: %v", err)
		}
		if user.ID != "u1" || user.Email != "a@b.com" {
			t.Fatalf("unexpected user from %s: %+v", body, user)
		}
	}
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}, "")
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestBaseURLTrimmed(t *testing.T) {
	c := NewClient(Config{BaseURL: " http://localhost:3030/// "})
	if c.BaseURL() != "http://localhost:3030" {
		t.Fatalf("unexpected base url %q", c.BaseURL())
	}
}
