package devserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"opus/pkg/api"
	"opus/pkg/domain"
)

const adminEmail = "admin@opus.dev"

type tokenHolder struct {
	mu    sync.Mutex
	token string
}

func (h *tokenHolder) Token(context.Context) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, h.token != ""
}

func (h *tokenHolder) set(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// steppingClock advances one second per reading so ordering never ties.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEnv struct {
	srv *Server
	url string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Tokens == nil {
		tokens, err := NewTokenIssuer("test-secret-0123456789", time.Hour)
		if err != nil {
			t.Fatalf("token issuer: %v", err)
		}
		cfg.Tokens = tokens
	}
	if cfg.AdminEmails == nil {
		cfg.AdminEmails = []string{adminEmail}
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	clock := &steppingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	srv.now = clock.Now
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return &testEnv{srv: srv, url: ts.URL}
}

func (e *testEnv) anonymous() *api.Client {
	return api.NewClient(api.Config{BaseURL: e.url, Tokens: &tokenHolder{}})
}

// register signs up a new account and returns a client holding its token.
func (e *testEnv) register(t *testing.T, email, name string) (*api.Client, domain.User) {
	t.Helper()
	holder := &tokenHolder{}
	c := api.NewClient(api.Config{BaseURL: e.url, Tokens: holder})
	resp, err := c.Register(context.Background(), api.RegisterRequest{Email: email, Password: "secret123", Name: name})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	holder.set(resp.Token)
	return c, resp.User
}

// provider registers an account and takes it through onboarding approval.
func (e *testEnv) provider(t *testing.T, admin *api.Client, email, name string) (*api.Client, domain.User) {
	t.Helper()
	ctx := context.Background()
	c, user := e.register(t, email, name)
	_, err := c.SubmitProviderOnboarding(ctx, api.ProviderOnboardingRequest{
		FullName:        name,
		DocumentNumber:  "123.456.789-00",
		ServiceRadiusKm: 10,
		CategoryIDs:     []int{1},
	})
	if err != nil {
		t.Fatalf("onboarding %s: %v", email, err)
	}
	if _, err := admin.ApproveProvider(ctx, user.ID, "ok"); err != nil {
		t.Fatalf("approve %s: %v", email, err)
	}
	return c, user
}

func newJob(title string, lat, lng float64) api.CreateJobRequest {
	return api.CreateJobRequest{
		CategoryID:  1,
		Title:       title,
		Description: "Fix the kitchen sink",
		AddressText: "Rua Augusta, 100",
		Lat:         lat,
		Lng:         lng,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{})
	if err := env.anonymous().Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestNewRequiresStoreAndTokens(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(Config{Store: NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without token issuer")
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	c, user := env.register(t, "Ana@Example.com", "Ana")
	if user.Email != "ana@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if !user.HasRole(domain.RoleConsumer) || user.HasRole(domain.RoleAdmin) {
		t.Fatalf("unexpected roles: %+v", user.Roles)
	}

	anon := env.anonymous()
	_, err := anon.Register(ctx, api.RegisterRequest{Email: "ana@example.com", Password: "secret123", Name: "Other"})
	if !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for duplicate email, got %v", err)
	}
	if _, err := anon.Login(ctx, api.LoginRequest{Email: "ana@example.com", Password: "wrong-pass"}); !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 for bad password, got %v", err)
	}
	resp, err := anon.Login(ctx, api.LoginRequest{Email: "ANA@example.com", Password: "secret123"})
	if err != nil || resp.Token == "" || resp.User.ID != user.ID {
		t.Fatalf("login: resp=%+v err=%v", resp, err)
	}

	me, err := c.Me(ctx)
	if err != nil || me.ID != user.ID {
		t.Fatalf("me: %+v err=%v", me, err)
	}
	updated, err := c.UpdateMe(ctx, api.UpdateUserRequest{Name: "Ana Maria", PreferredMode: domain.ModeProvider})
	if err != nil {
		t.Fatalf("update me: %v", err)
	}
	if updated.Name != "Ana Maria" || updated.PreferredMode != domain.ModeProvider {
		t.Fatalf("unexpected profile: %+v", updated)
	}
	if _, err := anon.GetMe(ctx); !errors.Is(err, api.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestRejectsForeignToken(t *testing.T) {
	env := newTestEnv(t, Config{})
	other, err := NewTokenIssuer("another-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, err := other.Issue("someone")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c := api.NewClient(api.Config{BaseURL: env.url, Tokens: &tokenHolder{token: token}})
	if _, err := c.GetMe(context.Background()); !api.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user, _ := env.register(t, "user@example.com", "User")
	if _, err := user.ListPendingProviders(ctx, api.Page{}); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403, got %v", err)
	}
	admin, adminUser := env.register(t, adminEmail, "Admin")
	if !adminUser.HasRole(domain.RoleAdmin) {
		t.Fatalf("expected admin role, got %+v", adminUser.Roles)
	}
	list, err := admin.ListPendingProviders(ctx, api.Page{})
	if err != nil || list.Total != 0 {
		t.Fatalf("pending providers: %+v err=%v", list, err)
	}
}

func TestProviderOnboardingAndReview(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	admin, _ := env.register(t, adminEmail, "Admin")
	c, user := env.register(t, "joao@example.com", "João")

	if _, err := c.GetProviderProfile(ctx); !api.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 before onboarding, got %v", err)
	}
	req := api.ProviderOnboardingRequest{FullName: "João Silva", DocumentNumber: "987", ServiceRadiusKm: 15, CategoryIDs: []int{1, 2}}
	profile, err := c.SubmitProviderOnboarding(ctx, req)
	if err != nil {
		t.Fatalf("onboarding: %v", err)
	}
	if profile.Status != domain.ProviderPending || profile.SubmittedAt == nil {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	pending, err := admin.ListPendingProviders(ctx, api.Page{})
	if err != nil || pending.Total != 1 || pending.Items[0].UserID != user.ID {
		t.Fatalf("pending: %+v err=%v", pending, err)
	}
	if _, err := admin.RejectProvider(ctx, user.ID, "document unreadable"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := admin.ApproveProvider(ctx, user.ID, ""); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 approving a rejected profile, got %v", err)
	}
	rejected, err := c.GetProviderProfile(ctx)
	if err != nil || rejected.Status != domain.ProviderRejected || rejected.ReviewNotes != "document unreadable" {
		t.Fatalf("rejected profile: %+v err=%v", rejected, err)
	}

	if _, err := c.SubmitProviderOnboarding(ctx, req); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	approved, err := admin.ApproveProvider(ctx, user.ID, "welcome")
	if err != nil || approved.Status != domain.ProviderApproved || approved.ReviewedAt == nil {
		t.Fatalf("approve: %+v err=%v", approved, err)
	}
	me, err := c.GetMe(ctx)
	if err != nil || !me.HasRole(domain.RoleProvider) {
		t.Fatalf("expected provider role after approval: %+v err=%v", me, err)
	}
	if _, err := c.SubmitProviderOnboarding(ctx, req); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 resubmitting an approved profile, got %v", err)
	}
}

func TestMarketplaceFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	admin, _ := env.register(t, adminEmail, "Admin")
	consumer, consumerUser := env.register(t, "maria@example.com", "Maria")
	p1, p1User := env.provider(t, admin, "joao@example.com", "João")
	p2, _ := env.provider(t, admin, "pedro@example.com", "Pedro")

	job, err := consumer.CreateJob(ctx, newJob("Kitchen sink", -23.5505, -46.6333))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != domain.JobOpen || job.ConsumerUserID != consumerUser.ID {
		t.Fatalf("unexpected job: %+v", job)
	}
	if _, err := consumer.CreateJob(ctx, newJob("Far away", -22.9068, -43.1729)); err != nil {
		t.Fatalf("create far job: %v", err)
	}

	near, err := p1.ListJobs(ctx, api.JobsQuery{Lat: -23.56, Lng: -46.64, RadiusKm: 5})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if near.Total != 1 || near.Items[0].ID != job.ID {
		t.Fatalf("expected only the nearby job, got %+v", near.Items)
	}
	mine, err := consumer.ListMyJobs(ctx, api.Page{})
	if err != nil || mine.Total != 2 || mine.Items[0].Title != "Far away" {
		t.Fatalf("my jobs should be newest first: %+v err=%v", mine, err)
	}

	if _, err := consumer.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 100}); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 for non-provider offer, got %v", err)
	}
	o1, err := p1.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 15000, Message: "Posso ir hoje"})
	if err != nil {
		t.Fatalf("offer 1: %v", err)
	}
	if _, err := p1.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 14000}); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for duplicate pending offer, got %v", err)
	}
	o2, err := p2.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 12000, Currency: "brl"})
	if err != nil {
		t.Fatalf("offer 2: %v", err)
	}
	if o1.Currency != "BRL" || o2.Currency != "BRL" {
		t.Fatalf("unexpected currencies: %q %q", o1.Currency, o2.Currency)
	}
	got, err := consumer.GetJob(ctx, job.ID)
	if err != nil || got.Status != domain.JobNegotiating {
		t.Fatalf("expected negotiating job: %+v err=%v", got, err)
	}
	if _, err := p1.ListJobOffers(ctx, job.ID); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 listing offers of another user's job, got %v", err)
	}

	accepted, err := consumer.AcceptOffer(ctx, o1.ID)
	if err != nil || accepted.Status != domain.OfferAccepted {
		t.Fatalf("accept: %+v err=%v", accepted, err)
	}
	offers, err := consumer.ListJobOffers(ctx, job.ID)
	if err != nil || len(offers) != 2 {
		t.Fatalf("list offers: %+v err=%v", offers, err)
	}
	for _, o := range offers {
		want := domain.OfferRejected
		if o.ID == o1.ID {
			want = domain.OfferAccepted
		}
		if o.Status != want {
			t.Fatalf("offer %s: expected %s, got %s", o.ID, want, o.Status)
		}
	}
	if _, err := consumer.AcceptOffer(ctx, o2.ID); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 accepting a rejected offer, got %v", err)
	}
	if _, err := consumer.CreateReview(ctx, api.CreateReviewRequest{JobID: job.ID, Rating: 5, Direction: domain.ConsumerToProvider}); err != nil {
		t.Fatalf("review after accept: %v", err)
	}

	checkout, err := consumer.Checkout(ctx, api.CheckoutRequest{JobID: job.ID, OfferID: o1.ID})
	if err != nil || checkout.Status != domain.PaymentPending || checkout.CheckoutURL == "" {
		t.Fatalf("checkout: %+v err=%v", checkout, err)
	}
	if _, err := consumer.Checkout(ctx, api.CheckoutRequest{JobID: job.ID, OfferID: o1.ID}); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for second checkout, got %v", err)
	}
	if _, err := consumer.CancelJob(ctx, job.ID); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 cancelling a job in progress, got %v", err)
	}
	wallet, err := p1.GetWallet(ctx)
	if err != nil || wallet.PendingCents != 15000 || wallet.AvailableCents != 0 {
		t.Fatalf("wallet after checkout: %+v err=%v", wallet, err)
	}

	if _, err := consumer.SettlePayment(ctx, checkout.PaymentID); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 for non-admin settle, got %v", err)
	}
	settled, err := admin.SettlePayment(ctx, checkout.PaymentID)
	if err != nil || settled.Status != domain.PaymentCompleted {
		t.Fatalf("settle: %+v err=%v", settled, err)
	}
	if _, err := admin.SettlePayment(ctx, checkout.PaymentID); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 settling twice, got %v", err)
	}
	done, err := consumer.GetJob(ctx, job.ID)
	if err != nil || done.Status != domain.JobCompleted {
		t.Fatalf("expected completed job: %+v err=%v", done, err)
	}

	if _, err := p1.CreatePayout(ctx, api.CreatePayoutRequest{AmountCents: 20000}); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for payout above balance, got %v", err)
	}
	payout, err := p1.CreatePayout(ctx, api.CreatePayoutRequest{AmountCents: 5000, Destination: "pix:joao"})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if payout.Wallet.AvailableCents != 10000 || payout.Payout.Status != domain.PaymentPending {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	txs, err := p1.ListWalletTransactions(ctx, api.Page{})
	if err != nil || txs.Total != 2 {
		t.Fatalf("transactions: %+v err=%v", txs, err)
	}
	if txs.Items[0].Direction != "debit" || txs.Items[1].Direction != "credit" || txs.Items[1].Status != domain.PaymentCompleted {
		t.Fatalf("unexpected transactions: %+v", txs.Items)
	}

	if _, err := p2.CreateReview(ctx, api.CreateReviewRequest{JobID: job.ID, Rating: 1, Direction: domain.ProviderToConsumer}); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 for provider that was not hired, got %v", err)
	}
	if _, err := p1.CreateReview(ctx, api.CreateReviewRequest{JobID: job.ID, Rating: 4, Comment: "Ótima cliente", Direction: domain.ProviderToConsumer}); err != nil {
		t.Fatalf("provider review: %v", err)
	}
	if _, err := consumer.CreateReview(ctx, api.CreateReviewRequest{JobID: job.ID, Rating: 3, Direction: domain.ConsumerToProvider}); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 for duplicate review, got %v", err)
	}
	summary, err := consumer.GetUserReviewSummary(ctx, p1User.ID, domain.ConsumerToProvider)
	if err != nil || summary.Count != 1 || summary.AvgRating != 5 {
		t.Fatalf("provider summary: %+v err=%v", summary, err)
	}
	reviews, err := p1.ListUserReviews(ctx, consumerUser.ID, "", api.Page{})
	if err != nil || reviews.Total != 1 || reviews.Items[0].Comment != "Ótima cliente" {
		t.Fatalf("consumer reviews: %+v err=%v", reviews, err)
	}
}

func TestCancelJobCancelsPendingOffers(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	admin, _ := env.register(t, adminEmail, "Admin")
	consumer, _ := env.register(t, "maria@example.com", "Maria")
	provider, _ := env.provider(t, admin, "joao@example.com", "João")

	job, err := consumer.CreateJob(ctx, newJob("Paint wall", -23.55, -46.63))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := provider.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 5000}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if _, err := provider.CancelJob(ctx, job.ID); !api.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 cancelling another user's job, got %v", err)
	}
	cancelled, err := consumer.CancelJob(ctx, job.ID)
	if err != nil || cancelled.Status != domain.JobCancelled {
		t.Fatalf("cancel: %+v err=%v", cancelled, err)
	}
	offers, err := consumer.ListJobOffers(ctx, job.ID)
	if err != nil || len(offers) != 1 || offers[0].Status != domain.OfferCancelled {
		t.Fatalf("offers after cancel: %+v err=%v", offers, err)
	}
	if _, err := provider.CreateOffer(ctx, job.ID, api.CreateOfferRequest{AmountCents: 4000}); !api.IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected 409 offering on a cancelled job, got %v", err)
	}
	near, err := provider.ListJobs(ctx, api.JobsQuery{Lat: -23.55, Lng: -46.63, RadiusKm: 1})
	if err != nil || near.Total != 0 {
		t.Fatalf("cancelled job should not be listed: %+v err=%v", near, err)
	}
	all, err := provider.ListJobs(ctx, api.JobsQuery{Lat: -23.55, Lng: -46.63, RadiusKm: 1, Status: domain.JobCancelled})
	if err != nil || all.Total != 1 {
		t.Fatalf("status filter: %+v err=%v", all, err)
	}
}

func TestListJobsValidatesQuery(t *testing.T) {
	env := newTestEnv(t, Config{})
	for _, q := range []string{"", "lat=1&lng=2", "lat=100&lng=0&radius_km=1", "lat=0&lng=0&radius_km=0", "lat=0&lng=0&radius_km=1&status=bogus"} {
		resp, err := http.Get(env.url + "/v1/jobs?" + q)
		if err != nil {
			t.Fatalf("get %q: %v", q, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, Config{RedisAddr: mr.Addr(), LoginRateLimitPerMinute: 2})

	body := `{"email":"nobody@example.com","password":"secret123"}`
	for i := 0; i < 2; i++ {
		resp, err := http.Post(env.url+"/v1/auth/login", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp, err := http.Post(env.url+"/v1/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}
