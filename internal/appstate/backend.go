// Package appstate holds the client-side view of the signed-in user's
// marketplace data: categories, orders with their proposals, and conversations.
// The data source is a Backend, either the remote API or the offline demo.
package appstate

import (
	"context"
	"errors"
	"time"

	"opus/pkg/domain"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUnsupported          = errors.New("operation not supported by backend")
)

type OrderStatus string

const (
	OrderPublished  OrderStatus = "published"
	OrderProposals  OrderStatus = "proposals"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPublished, OrderProposals, OrderConfirmed, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

type Proposal struct {
	ID                 string    `json:"id"`
	ProfessionalID     string    `json:"professional_id"`
	ProfessionalName   string    `json:"professional_name"`
	ProfessionalRating float64   `json:"professional_rating"`
	ProfessionalAvatar string    `json:"professional_avatar"`
	Price              float64   `json:"price"`
	Message            string    `json:"message"`
	CreatedAt          time.Time `json:"created_at"`
	Accepted           bool      `json:"accepted,omitempty"`
}

type Order struct {
	ID           string      `json:"id"`
	CategoryID   string      `json:"category_id"`
	CategoryName string      `json:"category_name"`
	Description  string      `json:"description"`
	Address      string      `json:"address"`
	Latitude     float64     `json:"latitude"`
	Longitude    float64     `json:"longitude"`
	Date         time.Time   `json:"date"`
	Duration     int         `json:"duration"`
	Observations string      `json:"observations,omitempty"`
	Photos       []string    `json:"photos,omitempty"`
	Status       OrderStatus `json:"status"`
	Proposals    []Proposal  `json:"proposals"`
	CreatedAt    time.Time   `json:"created_at"`
}

// OrderDraft is what the user fills in when publishing an order.
type OrderDraft struct {
	CategoryID   string
	CategoryName string
	Description  string
	Address      string
	Latitude     float64
	Longitude    float64
	Date         time.Time
	Duration     int
	Observations string
	Photos       []string
}

type Message struct {
	ID           string    `json:"id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	IsFromClient bool      `json:"is_from_client"`
}

type Conversation struct {
	ID                 string    `json:"id"`
	OrderID            string    `json:"order_id"`
	ProfessionalID     string    `json:"professional_id"`
	ProfessionalName   string    `json:"professional_name"`
	ProfessionalAvatar string    `json:"professional_avatar"`
	LastMessage        string    `json:"last_message"`
	LastMessageTime    time.Time `json:"last_message_time"`
	UnreadCount        int       `json:"unread_count"`
	Messages           []Message `json:"messages"`
}

// Backend is the data source behind State. Mutations return the updated
// entity so State can replace its local copy.
type Backend interface {
	Categories(ctx context.Context) ([]Category, error)
	Orders(ctx context.Context) ([]Order, error)
	Conversations(ctx context.Context) ([]Conversation, error)
	CreateOrder(ctx context.Context, draft OrderDraft) (Order, error)
	AcceptProposal(ctx context.Context, orderID, proposalID string) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) (Order, error)
	SendMessage(ctx context.Context, conversationID string, sender *domain.User, text string) (Message, error)
}

// Authenticator is the part of session.Manager the state depends on.
type Authenticator interface {
	IsAuthenticated(ctx context.Context) bool
	CurrentUser(ctx context.Context) (domain.User, error)
	Logout(ctx context.Context) error
}

func (o Order) clone() Order {
	o.Proposals = append([]Proposal(nil), o.Proposals...)
	if o.Proposals == nil {
		o.Proposals = []Proposal{}
	}
	o.Photos = append([]string(nil), o.Photos...)
	return o
}

func (c Conversation) clone() Conversation {
	c.Messages = append([]Message(nil), c.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return c
}

func cloneOrders(in []Order) []Order {
	out := make([]Order, len(in))
	for i, o := range in {
		out[i] = o.clone()
	}
	return out
}

func cloneConversations(in []Conversation) []Conversation {
	out := make([]Conversation, len(in))
	for i, c := range in {
		out[i] = c.clone()
	}
	return out
}
