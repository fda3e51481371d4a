package appstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"opus/pkg/api"
	"opus/pkg/domain"
)

const (
	remoteListLimit   = 50
	remoteFanOut      = 4
	clientSenderLabel = "Você"
)

// RemoteAPI is the subset of *api.Client the remote backend calls.
type RemoteAPI interface {
	ListMyJobs(ctx context.Context, p api.Page) (api.JobList, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	CreateJob(ctx context.Context, req api.CreateJobRequest) (domain.Job, error)
	CancelJob(ctx context.Context, id string) (domain.Job, error)
	ListJobOffers(ctx context.Context, jobID string) ([]domain.Offer, error)
	AcceptOffer(ctx context.Context, offerID string) (domain.Offer, error)
	GetUserReviewSummary(ctx context.Context, userID string, direction domain.ReviewDirection) (domain.ReviewSummary, error)
	ListConversations(ctx context.Context, p api.Page) (api.ConversationList, error)
	ListMessages(ctx context.Context, conversationID string, p api.Page) (api.MessageList, error)
	SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (domain.Message, error)
}

// RemoteBackend maps the marketplace API onto the app model: jobs become
// orders, offers become proposals.
type RemoteBackend struct {
	api RemoteAPI

	mu      sync.Mutex
	ratings map[string]float64
}

func NewRemoteBackend(client RemoteAPI) *RemoteBackend {
	return &RemoteBackend{api: client, ratings: map[string]float64{}}
}

// Categories has no endpoint; the catalogue is the same fixed list the server seeds.
func (b *RemoteBackend) Categories(context.Context) ([]Category, error) {
	return append([]Category(nil), DefaultCategories...), nil
}

func (b *RemoteBackend) Orders(ctx context.Context) ([]Order, error) {
	list, err := b.api.ListMyJobs(ctx, api.Page{Limit: remoteListLimit})
	if errors.Is(err, api.ErrNoToken) {
		return []Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	orders := make([]Order, len(list.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteFanOut)
	for i, job := range list.Items {
		g.Go(func() error {
			order, err := b.toOrder(gctx, job)
			if err != nil {
				return err
			}
			orders[i] = order
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (b *RemoteBackend) Conversations(ctx context.Context) ([]Conversation, error) {
	list, err := b.api.ListConversations(ctx, api.Page{Limit: remoteListLimit})
	if errors.Is(err, api.ErrNoToken) {
		return []Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]Conversation, len(list.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(remoteFanOut)
	for i, c := range list.Items {
		g.Go(func() error {
			msgs, err := b.api.ListMessages(gctx, c.ID, api.Page{Limit: 100})
			if err != nil {
				return fmt.Errorf("list messages %s: %w", c.ID, err)
			}
			convs[i] = toConversation(c, msgs.Items)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return convs, nil
}

func (b *RemoteBackend) CreateOrder(ctx context.Context, draft OrderDraft) (Order, error) {
	categoryID, err := strconv.Atoi(draft.CategoryID)
	if err != nil {
		return Order{}, fmt.Errorf("category id %q: %w", draft.CategoryID, err)
	}
	req := api.CreateJobRequest{
		CategoryID:  categoryID,
		Title:       draft.CategoryName,
		Description: draft.Description,
		AddressText: draft.Address,
		Lat:         draft.Latitude,
		Lng:         draft.Longitude,
		PhotoURLs:   draft.Photos,
	}
	if !draft.Date.IsZero() {
		d := draft.Date
		req.PreferredDatetime = &d
	}
	job, err := b.api.CreateJob(ctx, req)
	if err != nil {
		return Order{}, err
	}
	order := jobToOrder(job, nil)
	order.Duration = draft.Duration
	order.Observations = draft.Observations
	return order, nil
}

// AcceptProposal checks the offer belongs to the order before accepting it.
// The server rejects the sibling offers itself.
func (b *RemoteBackend) AcceptProposal(ctx context.Context, orderID, proposalID string) (Order, error) {
	offers, err := b.api.ListJobOffers(ctx, orderID)
	if err != nil {
		return Order{}, notFound(err, ErrOrderNotFound)
	}
	found := false
	for _, o := range offers {
		if o.ID == proposalID {
			found = true
			break
		}
	}
	if !found {
		return Order{}, ErrProposalNotFound
	}
	if _, err := b.api.AcceptOffer(ctx, proposalID); err != nil {
		return Order{}, notFound(err, ErrProposalNotFound)
	}
	job, err := b.api.GetJob(ctx, orderID)
	if err != nil {
		return Order{}, notFound(err, ErrOrderNotFound)
	}
	return b.toOrder(ctx, job)
}

// UpdateOrderStatus only supports cancelling; the remaining transitions are
// driven by the server (accept, checkout, completion).
func (b *RemoteBackend) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) (Order, error) {
	if status != OrderCancelled {
		return Order{}, fmt.Errorf("set status %s: %w", status, ErrUnsupported)
	}
	job, err := b.api.CancelJob(ctx, orderID)
	if err != nil {
		return Order{}, notFound(err, ErrOrderNotFound)
	}
	return b.toOrder(ctx, job)
}

func (b *RemoteBackend) SendMessage(ctx context.Context, conversationID string, sender *domain.User, text string) (Message, error) {
	msg, err := b.api.SendMessage(ctx, conversationID, api.SendMessageRequest{Content: text})
	if err != nil {
		return Message{}, notFound(err, ErrConversationNotFound)
	}
	out := Message{
		ID:           msg.ID,
		SenderID:     msg.SenderUserID,
		SenderName:   clientSenderLabel,
		Text:         msg.Content,
		Timestamp:    msg.CreatedAt,
		IsFromClient: true,
	}
	if sender != nil && sender.ID != msg.SenderUserID {
		out.IsFromClient = false
		out.SenderName = msg.SenderUserID
	}
	return out, nil
}

func (b *RemoteBackend) toOrder(ctx context.Context, job domain.Job) (Order, error) {
	offers, err := b.api.ListJobOffers(ctx, job.ID)
	if err != nil {
		return Order{}, fmt.Errorf("list offers %s: %w", job.ID, err)
	}
	order := jobToOrder(job, offers)
	for i := range order.Proposals {
		order.Proposals[i].ProfessionalRating = b.rating(ctx, order.Proposals[i].ProfessionalID)
	}
	return order, nil
}

// rating caches provider averages; a failed lookup shows as zero.
func (b *RemoteBackend) rating(ctx context.Context, providerID string) float64 {
	b.mu.Lock()
	r, ok := b.ratings[providerID]
	b.mu.Unlock()
	if ok {
		return r
	}
	sum, err := b.api.GetUserReviewSummary(ctx, providerID, domain.ConsumerToProvider)
	if err != nil {
		slog.Debug("review summary unavailable", "user_id", providerID, "err", err)
		return 0
	}
	b.mu.Lock()
	b.ratings[providerID] = sum.AvgRating
	b.mu.Unlock()
	return sum.AvgRating
}

func jobToOrder(job domain.Job, offers []domain.Offer) Order {
	order := Order{
		ID:          job.ID,
		CategoryID:  strconv.Itoa(job.CategoryID),
		Description: job.Description,
		Address:     job.AddressText,
		Latitude:    job.Lat,
		Longitude:   job.Lng,
		Date:        job.CreatedAt,
		Status:      orderStatus(job.Status, len(offers)),
		Proposals:   make([]Proposal, 0, len(offers)),
		CreatedAt:   job.CreatedAt,
	}
	if job.PreferredDatetime != nil {
		order.Date = *job.PreferredDatetime
	}
	for _, c := range DefaultCategories {
		if c.ID == order.CategoryID {
			order.CategoryName = c.Name
		}
	}
	if order.CategoryName == "" {
		order.CategoryName = job.Title
	}
	for _, p := range job.Photos {
		order.Photos = append(order.Photos, p.URL)
	}
	for _, o := range offers {
		order.Proposals = append(order.Proposals, Proposal{
			ID:               o.ID,
			ProfessionalID:   o.ProviderUserID,
			ProfessionalName: o.ProviderUserID,
			Price:            float64(o.AmountCents) / 100,
			Message:          o.Message,
			CreatedAt:        o.CreatedAt,
			Accepted:         o.Status == domain.OfferAccepted,
		})
	}
	return order
}

func orderStatus(s domain.JobStatus, offers int) OrderStatus {
	switch s {
	case domain.JobOpen:
		if offers > 0 {
			return OrderProposals
		}
		return OrderPublished
	case domain.JobNegotiating:
		return OrderProposals
	case domain.JobAccepted:
		return OrderConfirmed
	case domain.JobInProgress:
		return OrderInProgress
	case domain.JobCompleted:
		return OrderCompleted
	case domain.JobCancelled:
		return OrderCancelled
	}
	return OrderPublished
}

func toConversation(c domain.Conversation, msgs []domain.Message) Conversation {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	out := Conversation{
		ID:               c.ID,
		OrderID:          c.JobID,
		ProfessionalID:   c.ProviderUserID,
		ProfessionalName: c.ProviderUserID,
		UnreadCount:      c.UnreadCount,
		Messages:         make([]Message, 0, len(msgs)),
	}
	if c.LastMessageAt != nil {
		out.LastMessageTime = *c.LastMessageAt
	}
	for _, m := range msgs {
		fromClient := m.SenderUserID == c.ConsumerUserID
		name := c.ProviderUserID
		if fromClient {
			name = clientSenderLabel
		}
		text := m.Content
		if text == "" && m.AttachmentURL != "" {
			text = m.AttachmentURL
		}
		out.Messages = append(out.Messages, Message{
			ID:           m.ID,
			SenderID:     m.SenderUserID,
			SenderName:   name,
			Text:         text,
			Timestamp:    m.CreatedAt,
			IsFromClient: fromClient,
		})
	}
	if n := len(out.Messages); n > 0 {
		last := out.Messages[n-1]
		out.LastMessage = last.Text
		if out.LastMessageTime.IsZero() {
			out.LastMessageTime = last.Timestamp
		}
	}
	return out
}

func notFound(err, sentinel error) error {
	if api.IsStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}
