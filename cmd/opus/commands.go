package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"opus/internal/appstate"
	"opus/internal/nearby"
	"opus/pkg/api"
	"opus/pkg/domain"
)

func runHealth(ctx context.Context, e *env, _ []string) error {
	if err := e.client.Health(ctx); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "ok %s\n", e.client.BaseURL())
	return nil
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parseFlags(fs, args, "email", "password"); err != nil {
		return err
	}
	resp, err := e.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	return e.print(resp.User)
}

func runRegister(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	name := fs.String("name", "", "display name")
	phone := fs.String("phone", "", "phone number")
	if err := parseFlags(fs, args, "email", "password", "name"); err != nil {
		return err
	}
	resp, err := e.session.Register(ctx, *email, *password, *name, *phone)
	if err != nil {
		return err
	}
	return e.print(resp.User)
}

func runLogout(ctx context.Context, e *env, _ []string) error {
	return e.session.Logout(ctx)
}

func runWhoami(ctx context.Context, e *env, _ []string) error {
	if !e.session.IsAuthenticated(ctx) {
		return errors.New("not signed in")
	}
	user, err := e.session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return e.print(user)
}

func runJobs(ctx context.Context, e *env, args []string) error {
	sub, args, err := subcommand(args, "nearby", "show", "create", "cancel", "mine")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("jobs "+sub, flag.ContinueOnError)
	switch sub {
	case "nearby":
		lat := fs.Float64("lat", 0, "latitude")
		lng := fs.Float64("lng", 0, "longitude")
		radius := fs.Float64("radius", 10, "radius in km")
		category := fs.Int("category", 0, "category id")
		status := fs.String("status", "", "job status filter")
		limit := fs.Int("limit", 20, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		q := nearby.New(e.client, nearby.Params{
			Lat: *lat, Lng: *lng, RadiusKm: *radius,
			CategoryID: *category, Status: domain.JobStatus(*status),
			Limit: *limit, Offset: *offset,
		})
		if err := q.Start(ctx); err != nil {
			return err
		}
		snap := q.Snapshot()
		return e.print(api.JobList{Items: snap.Jobs, Total: snap.Total, Limit: *limit, Offset: *offset})
	case "show":
		id := fs.String("id", "", "job id")
		if err := parseFlags(fs, args, "id"); err != nil {
			return err
		}
		job, err := e.client.GetJob(ctx, *id)
		if err != nil {
			return err
		}
		return e.print(job)
	case "create":
		var req api.CreateJobRequest
		fs.IntVar(&req.CategoryID, "category", 0, "category id")
		fs.StringVar(&req.Title, "title", "", "title")
		fs.StringVar(&req.Description, "description", "", "description")
		fs.StringVar(&req.AddressText, "address", "", "address")
		fs.Float64Var(&req.Lat, "lat", 0, "latitude")
		fs.Float64Var(&req.Lng, "lng", 0, "longitude")
		when := fs.String("when", "", "preferred date and time (RFC 3339)")
		photos := fs.String("photos", "", "comma separated photo URLs")
		if err := parseFlags(fs, args, "title", "description", "address"); err != nil {
			return err
		}
		if *when != "" {
			t, err := time.Parse(time.RFC3339, *when)
			if err != nil {
				return fmt.Errorf("-when: %w", err)
			}
			req.PreferredDatetime = &t
		}
		for _, p := range strings.Split(*photos, ",") {
			if p = strings.TrimSpace(p); p != "" {
				req.PhotoURLs = append(req.PhotoURLs, p)
			}
		}
		job, err := e.client.CreateJob(ctx, req)
		if err != nil {
			return err
		}
		return e.print(job)
	case "cancel":
		id := fs.String("id", "", "job id")
		if err := parseFlags(fs, args, "id"); err != nil {
			return err
		}
		job, err := e.client.CancelJob(ctx, *id)
		if err != nil {
			return err
		}
		return e.print(job)
	default:
		limit := fs.Int("limit", 20, "page size")
		offset := fs.Int("offset", 0, "page offset")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		list, err := e.client.ListMyJobs(ctx, api.Page{Limit: *limit, Offset: *offset})
		if err != nil {
			return err
		}
		return e.print(list)
	}
}

func runOffers(ctx context.Context, e *env, args []string) error {
	sub, args, err := subcommand(args, "list", "create", "accept")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("offers "+sub, flag.ContinueOnError)
	switch sub {
	case "list":
		job := fs.String("job", "", "job id")
		if err := parseFlags(fs, args, "job"); err != nil {
			return err
		}
		offers, err := e.client.ListJobOffers(ctx, *job)
		if err != nil {
			return err
		}
		return e.print(offers)
	case "create":
		job := fs.String("job", "", "job id")
		var req api.CreateOfferRequest
		fs.Int64Var(&req.AmountCents, "amount", 0, "amount in cents")
		fs.StringVar(&req.Currency, "currency", "", "ISO currency code")
		fs.StringVar(&req.Message, "message", "", "message to the consumer")
		if err := parseFlags(fs, args, "job"); err != nil {
			return err
		}
		offer, err := e.client.CreateOffer(ctx, *job, req)
		if err != nil {
			return err
		}
		return e.print(offer)
	default:
		id := fs.String("id", "", "offer id")
		if err := parseFlags(fs, args, "id"); err != nil {
			return err
		}
		offer, err := e.client.AcceptOffer(ctx, *id)
		if err != nil {
			return err
		}
		return e.print(offer)
	}
}

func runCheckout(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	var req api.CheckoutRequest
	fs.StringVar(&req.JobID, "job", "", "job id")
	fs.StringVar(&req.OfferID, "offer", "", "accepted offer id")
	if err := parseFlags(fs, args, "job", "offer"); err != nil {
		return err
	}
	checkout, err := e.client.Checkout(ctx, req)
	if err != nil {
		return err
	}
	return e.print(checkout)
}

type walletView struct {
	Wallet       domain.Wallet       `json:"wallet"`
	Transactions api.TransactionList `json:"transactions"`
}

func runWallet(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("wallet", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "transactions to show")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var view walletView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := e.client.GetWallet(gctx)
		view.Wallet = w
		return err
	})
	g.Go(func() error {
		txs, err := e.client.ListWalletTransactions(gctx, api.Page{Limit: *limit})
		view.Transactions = txs
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return e.print(view)
}

func runPayout(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("payout", flag.ContinueOnError)
	var req api.CreatePayoutRequest
	fs.Int64Var(&req.AmountCents, "amount", 0, "amount in cents")
	fs.StringVar(&req.Destination, "destination", "", "payout destination")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	resp, err := e.client.CreatePayout(ctx, req)
	if err != nil {
		return err
	}
	return e.print(resp)
}

func runReviews(ctx context.Context, e *env, args []string) error {
	sub, args, err := subcommand(args, "list", "summary", "create")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("reviews "+sub, flag.ContinueOnError)
	if sub == "create" {
		var req api.CreateReviewRequest
		direction := fs.String("direction", string(domain.ConsumerToProvider), "consumer_to_provider or provider_to_consumer")
		fs.StringVar(&req.JobID, "job", "", "job id")
		fs.IntVar(&req.Rating, "rating", 5, "rating from 1 to 5")
		fs.StringVar(&req.Comment, "comment", "", "comment")
		if err := parseFlags(fs, args, "job"); err != nil {
			return err
		}
		req.Direction = domain.ReviewDirection(*direction)
		review, err := e.client.CreateReview(ctx, req)
		if err != nil {
			return err
		}
		return e.print(review)
	}
	user := fs.String("user", "", "reviewed user id")
	direction := fs.String("direction", "", "filter by direction")
	if err := parseFlags(fs, args, "user"); err != nil {
		return err
	}
	if sub == "summary" {
		summary, err := e.client.GetUserReviewSummary(ctx, *user, domain.ReviewDirection(*direction))
		if err != nil {
			return err
		}
		return e.print(summary)
	}
	list, err := e.client.ListUserReviews(ctx, *user, domain.ReviewDirection(*direction), api.Page{})
	if err != nil {
		return err
	}
	return e.print(list)
}

// runOrders loads the order board from the backend and optionally applies one action.
func runOrders(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	accept := fs.String("accept", "", "accept a proposal: ORDER_ID:PROPOSAL_ID")
	cancel := fs.String("cancel", "", "cancel an order by id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	state := appstate.New(e.session, appstate.NewRemoteBackend(e.client))
	return driveState(ctx, e, state, *accept, *cancel, "")
}

func runDemo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	policyName := fs.String("accept-policy", appstate.AcceptKeepSiblings.String(), "keep-siblings or exclusive")
	accept := fs.String("accept", "", "accept a proposal: ORDER_ID:PROPOSAL_ID")
	cancel := fs.String("cancel", "", "cancel an order by id")
	send := fs.String("send", "", "send a message: CONVERSATION_ID:TEXT")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	policy, ok := appstate.ParseAcceptPolicy(*policyName)
	if !ok {
		return fmt.Errorf("unknown accept policy %q", *policyName)
	}
	backend := appstate.NewDemoBackend(appstate.WithAcceptPolicy(policy))
	state := appstate.New(appstate.NewDemoAuthenticator(), backend)
	return driveState(ctx, e, state, *accept, *cancel, *send)
}

type stateView struct {
	User          *domain.User            `json:"user,omitempty"`
	Categories    []appstate.Category     `json:"categories"`
	Orders        []appstate.Order        `json:"orders"`
	Conversations []appstate.Conversation `json:"conversations"`
}

func driveState(ctx context.Context, e *env, state *appstate.State, accept, cancel, send string) error {
	if err := state.Init(ctx); err != nil {
		return err
	}
	if accept != "" {
		orderID, proposalID, ok := strings.Cut(accept, ":")
		if !ok {
			return errors.New("-accept wants ORDER_ID:PROPOSAL_ID")
		}
		if _, err := state.AcceptProposal(ctx, orderID, proposalID); err != nil {
			return err
		}
	}
	if cancel != "" {
		if _, err := state.UpdateOrderStatus(ctx, cancel, appstate.OrderCancelled); err != nil {
			return err
		}
	}
	if send != "" {
		convID, text, ok := strings.Cut(send, ":")
		if !ok || strings.TrimSpace(text) == "" {
			return errors.New("-send wants CONVERSATION_ID:TEXT")
		}
		if _, err := state.SendMessage(ctx, convID, text); err != nil {
			return err
		}
	}
	view := stateView{
		Categories:    state.Categories(),
		Orders:        state.Orders(),
		Conversations: state.Conversations(),
	}
	if u, ok := state.User(); ok {
		view.User = &u
	}
	return e.print(view)
}
