package appstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"opus/pkg/domain"
)

// State is the single process-wide store the screens read from. It is created
// once at start-up and passed to whatever needs it.
type State struct {
	auth    Authenticator
	backend Backend

	initOnce sync.Once
	initErr  error

	mu            sync.RWMutex
	user          *domain.User
	loading       bool
	categories    []Category
	orders        []Order
	conversations []Conversation
}

func New(auth Authenticator, backend Backend) *State {
	return &State{
		auth:          auth,
		backend:       backend,
		loading:       true,
		categories:    []Category{},
		orders:        []Order{},
		conversations: []Conversation{},
	}
}

// Init resolves the session and loads the collections. Only the first call
// does any work; IsLoading stays true until it finishes.
func (s *State) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.load(ctx)
	})
	return s.initErr
}

// load fetches the three collections concurrently. Each one that loads is
// applied even when a sibling fails, so a broken orders call still leaves
// the categories in place.
func (s *State) load(ctx context.Context) error {
	defer s.setLoading(false)
	s.resolveUser(ctx)

	var (
		categories    []Category
		orders        []Order
		conversations []Conversation
	)
	var g errgroup.Group
	g.Go(func() error {
		c, err := s.backend.Categories(ctx)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		categories = c
		return nil
	})
	g.Go(func() error {
		o, err := s.backend.Orders(ctx)
		if err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		orders = o
		return nil
	})
	g.Go(func() error {
		c, err := s.backend.Conversations(ctx)
		if err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}
		conversations = c
		return nil
	})
	err := g.Wait()

	s.mu.Lock()
	if categories != nil {
		s.categories = categories
	}
	if orders != nil {
		s.orders = orders
	}
	if conversations != nil {
		s.conversations = conversations
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("app state load failed", "err", err)
		return err
	}
	return nil
}

// RefreshUser re-reads the signed-in user. Any failure leaves the state
// signed out; the session layer has already dropped a rejected token.
func (s *State) RefreshUser(ctx context.Context) {
	s.setLoading(true)
	defer s.setLoading(false)
	s.resolveUser(ctx)
}

func (s *State) resolveUser(ctx context.Context) {
	if !s.auth.IsAuthenticated(ctx) {
		s.setUser(nil)
		return
	}
	u, err := s.auth.CurrentUser(ctx)
	if err != nil {
		slog.Warn("refresh user failed", "err", err)
		s.setUser(nil)
		return
	}
	s.setUser(&u)
}

func (s *State) Logout(ctx context.Context) error {
	err := s.auth.Logout(ctx)
	s.setUser(nil)
	return err
}

func (s *State) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *State) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *State) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) Categories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Category{}, s.categories...)
}

func (s *State) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOrders(s.orders)
}

func (s *State) OrderByID(id string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o.clone(), true
		}
	}
	return Order{}, false
}

func (s *State) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConversations(s.conversations)
}

func (s *State) ConversationByID(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c.clone(), true
		}
	}
	return Conversation{}, false
}

// CreateOrder publishes a new order and puts it first in the list.
func (s *State) CreateOrder(ctx context.Context, draft OrderDraft) (Order, error) {
	order, err := s.backend.CreateOrder(ctx, draft)
	if err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	s.orders = append([]Order{order.clone()}, s.orders...)
	s.mu.Unlock()
	return order, nil
}

func (s *State) AcceptProposal(ctx context.Context, orderID, proposalID string) (Order, error) {
	order, err := s.backend.AcceptProposal(ctx, orderID, proposalID)
	if err != nil {
		return Order{}, err
	}
	s.replaceOrder(order)
	return order, nil
}

func (s *State) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) (Order, error) {
	if !status.Valid() {
		return Order{}, errors.New("invalid order status: " + string(status))
	}
	order, err := s.backend.UpdateOrderStatus(ctx, orderID, status)
	if err != nil {
		return Order{}, err
	}
	s.replaceOrder(order)
	return order, nil
}

// SendMessage appends the message to the conversation and moves its
// last-message preview forward.
func (s *State) SendMessage(ctx context.Context, conversationID, text string) (Message, error) {
	s.mu.RLock()
	var sender *domain.User
	if s.user != nil {
		u := *s.user
		sender = &u
	}
	s.mu.RUnlock()

	msg, err := s.backend.SendMessage(ctx, conversationID, sender, text)
	if err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.ID != conversationID {
			continue
		}
		c.Messages = append(c.Messages, msg)
		c.LastMessage = msg.Text
		c.LastMessageTime = msg.Timestamp
		break
	}
	return msg, nil
}

func (s *State) replaceOrder(order Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == order.ID {
			s.orders[i] = order.clone()
			return
		}
	}
	s.orders = append([]Order{order.clone()}, s.orders...)
}

func (s *State) setUser(u *domain.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *State) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}
