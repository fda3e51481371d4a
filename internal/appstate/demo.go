package appstate

import (
	"context"
	"strconv"
	"sync"
	"time"

	"opus/pkg/domain"
)

// AcceptPolicy decides what happens to the other proposals of an order when
// one is accepted.
type AcceptPolicy int

const (
	// AcceptKeepSiblings marks only the chosen proposal; the others keep their flag.
	AcceptKeepSiblings AcceptPolicy = iota
	// AcceptExclusive also clears the accepted flag of every other proposal.
	AcceptExclusive
)

func (p AcceptPolicy) String() string {
	if p == AcceptExclusive {
		return "exclusive"
	}
	return "keep-siblings"
}

// ParseAcceptPolicy accepts "exclusive" or "keep-siblings" (the default for "").
func ParseAcceptPolicy(s string) (AcceptPolicy, bool) {
	switch s {
	case "", "keep-siblings":
		return AcceptKeepSiblings, true
	case "exclusive":
		return AcceptExclusive, true
	}
	return AcceptKeepSiblings, false
}

// DemoBackend serves the fixture data from memory. It never touches the
// network and is only used when demo mode is chosen explicitly.
type DemoBackend struct {
	mu            sync.RWMutex
	orders        []Order
	conversations []Conversation
	policy        AcceptPolicy
	now           func() time.Time
	seq           int64
}

type DemoOption func(*DemoBackend)

func WithAcceptPolicy(p AcceptPolicy) DemoOption {
	return func(b *DemoBackend) { b.policy = p }
}

func withClock(now func() time.Time) DemoOption {
	return func(b *DemoBackend) { b.now = now }
}

func NewDemoBackend(opts ...DemoOption) *DemoBackend {
	b := &DemoBackend{
		orders:        demoOrders(),
		conversations: demoConversations(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DemoBackend) Categories(context.Context) ([]Category, error) {
	return append([]Category(nil), DefaultCategories...), nil
}

func (b *DemoBackend) Orders(context.Context) ([]Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneOrders(b.orders), nil
}

func (b *DemoBackend) Conversations(context.Context) ([]Conversation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneConversations(b.conversations), nil
}

func (b *DemoBackend) CreateOrder(_ context.Context, draft OrderDraft) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	order := Order{
		ID:           b.nextID(now),
		CategoryID:   draft.CategoryID,
		CategoryName: draft.CategoryName,
		Description:  draft.Description,
		Address:      draft.Address,
		Latitude:     draft.Latitude,
		Longitude:    draft.Longitude,
		Date:         draft.Date,
		Duration:     draft.Duration,
		Observations: draft.Observations,
		Photos:       append([]string(nil), draft.Photos...),
		Status:       OrderPublished,
		Proposals:    []Proposal{},
		CreatedAt:    now,
	}
	b.orders = append([]Order{order}, b.orders...)
	return order.clone(), nil
}

func (b *DemoBackend) AcceptProposal(_ context.Context, orderID, proposalID string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.orderIndex(orderID)
	if i < 0 {
		return Order{}, ErrOrderNotFound
	}
	order := &b.orders[i]
	found := false
	for j := range order.Proposals {
		switch {
		case order.Proposals[j].ID == proposalID:
			order.Proposals[j].Accepted = true
			found = true
		case b.policy == AcceptExclusive:
			order.Proposals[j].Accepted = false
		}
	}
	if !found {
		return Order{}, ErrProposalNotFound
	}
	order.Status = OrderConfirmed
	return order.clone(), nil
}

func (b *DemoBackend) UpdateOrderStatus(_ context.Context, orderID string, status OrderStatus) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.orderIndex(orderID)
	if i < 0 {
		return Order{}, ErrOrderNotFound
	}
	b.orders[i].Status = status
	return b.orders[i].clone(), nil
}

func (b *DemoBackend) SendMessage(_ context.Context, conversationID string, sender *domain.User, text string) (Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.conversations {
		conv := &b.conversations[i]
		if conv.ID != conversationID {
			continue
		}
		now := b.now()
		senderID := "client1"
		if sender != nil {
			senderID = sender.ID
		}
		msg := Message{
			ID:           b.nextID(now),
			SenderID:     senderID,
			SenderName:   "Você",
			Text:         text,
			Timestamp:    now,
			IsFromClient: true,
		}
		conv.Messages = append(conv.Messages, msg)
		conv.LastMessage = text
		conv.LastMessageTime = now
		return msg, nil
	}
	return Message{}, ErrConversationNotFound
}

// nextID derives ids from the clock, bumping the sequence so two calls in
// the same millisecond still differ.
func (b *DemoBackend) nextID(now time.Time) string {
	ms := now.UnixMilli()
	if ms <= b.seq {
		ms = b.seq + 1
	}
	b.seq = ms
	return strconv.FormatInt(ms, 10)
}

func (b *DemoBackend) orderIndex(id string) int {
	for i := range b.orders {
		if b.orders[i].ID == id {
			return i
		}
	}
	return -1
}

// DemoAuthenticator keeps DemoUser signed in until Logout.
type DemoAuthenticator struct {
	mu       sync.Mutex
	loggedIn bool
}

func NewDemoAuthenticator() *DemoAuthenticator {
	return &DemoAuthenticator{loggedIn: true}
}

func (a *DemoAuthenticator) IsAuthenticated(context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loggedIn
}

func (a *DemoAuthenticator) CurrentUser(ctx context.Context) (domain.User, error) {
	if !a.IsAuthenticated(ctx) {
		return domain.User{}, ErrUnsupported
	}
	return DemoUser, nil
}

func (a *DemoAuthenticator) Logout(context.Context) error {
	a.mu.Lock()
	a.loggedIn = false
	a.mu.Unlock()
	return nil
}
