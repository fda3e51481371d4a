package domain

import "time"

type JobStatus string

const (
	JobOpen        JobStatus = "open"
	JobNegotiating JobStatus = "negotiating"
	JobAccepted    JobStatus = "accepted"
	JobInProgress  JobStatus = "in_progress"
	JobCompleted   JobStatus = "completed"
	JobCancelled   JobStatus = "cancelled"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

type ProviderStatus string

const (
	ProviderPending  ProviderStatus = "pending"
	ProviderApproved ProviderStatus = "approved"
	ProviderRejected ProviderStatus = "rejected"
)

type ReviewDirection string

const (
	ConsumerToProvider ReviewDirection = "consumer_to_provider"
	ProviderToConsumer ReviewDirection = "provider_to_consumer"
)

type Mode string

const (
	ModeConsumer Mode = "consumer"
	ModeProvider Mode = "provider"
)

const (
	RoleConsumer = "consumer"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
)

type Role struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	PreferredMode Mode   `json:"preferred_mode,omitempty"`
	Roles         []Role `json:"roles,omitempty"`
}

// HasRole reports whether the user carries the named role.
func (u User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

type Photo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Job struct {
	ID                string     `json:"id"`
	ConsumerUserID    string     `json:"consumer_user_id"`
	CategoryID        int        `json:"category_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	AddressText       string     `json:"address_text"`
	Lat               float64    `json:"lat"`
	Lng               float64    `json:"lng"`
	PreferredDatetime *time.Time `json:"preferred_datetime,omitempty"`
	Status            JobStatus  `json:"status"`
	CoverPhoto        *Photo     `json:"cover_photo,omitempty"`
	Photos            []Photo    `json:"photos,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type Offer struct {
	ID             string      `json:"id"`
	JobID          string      `json:"job_id"`
	ProviderUserID string      `json:"provider_user_id"`
	AmountCents    int64       `json:"amount_cents"`
	Currency       string      `json:"currency"`
	Message        string      `json:"message,omitempty"`
	Status         OfferStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type PaymentProvider struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Checkout struct {
	PaymentID   string          `json:"payment_id"`
	Status      PaymentStatus   `json:"status"`
	CheckoutURL string          `json:"checkout_url"`
	Provider    PaymentProvider `json:"provider"`
}

type Wallet struct {
	WalletAccountID string `json:"wallet_account_id"`
	UserID          string `json:"user_id"`
	Currency        string `json:"currency"`
	AvailableCents  int64  `json:"available_cents"`
	PendingCents    int64  `json:"pending_cents"`
}

type WalletTransaction struct {
	ID            string        `json:"id"`
	Direction     string        `json:"direction"`
	Kind          string        `json:"kind"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	ReferenceType string        `json:"reference_type"`
	ReferenceID   string        `json:"reference_id"`
	Description   string        `json:"description"`
	CreatedAt     time.Time     `json:"created_at"`
}

type Payout struct {
	ID          string        `json:"id"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Status      PaymentStatus `json:"status"`
	Destination string        `json:"destination,omitempty"`
	ReviewNotes string        `json:"review_notes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type Review struct {
	ID             string          `json:"id"`
	JobID          string          `json:"job_id"`
	ReviewerUserID string          `json:"reviewer_user_id"`
	RevieweeUserID string          `json:"reviewee_user_id"`
	Direction      ReviewDirection `json:"direction"`
	Rating         int             `json:"rating"`
	Comment        string          `json:"comment,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ReviewSummary struct {
	RevieweeUserID string          `json:"reviewee_user_id"`
	Direction      ReviewDirection `json:"direction"`
	AvgRating      float64         `json:"avg_rating"`
	Count          int             `json:"count"`
}

type ProviderDocument struct {
	DocType string `json:"doc_type"`
	URL     string `json:"url"`
}

type ProviderProfile struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Status          ProviderStatus     `json:"status"`
	FullName        string             `json:"full_name"`
	DocumentNumber  string             `json:"document_number"`
	BirthDate       string             `json:"birth_date,omitempty"`
	Phone           string             `json:"phone,omitempty"`
	AddressText     string             `json:"address_text,omitempty"`
	ServiceRadiusKm float64            `json:"service_radius_km"`
	Bio             string             `json:"bio,omitempty"`
	CategoryIDs     []int              `json:"category_ids"`
	Documents       []ProviderDocument `json:"documents,omitempty"`
	SubmittedAt     *time.Time         `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time         `json:"reviewed_at,omitempty"`
	ReviewNotes     string             `json:"review_notes,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Conversation is a per-job, per-provider thread between consumer and provider.
type Conversation struct {
	ID                  string     `json:"id"`
	JobID               string     `json:"job_id"`
	ConsumerUserID      string     `json:"consumer_user_id"`
	ProviderUserID      string     `json:"provider_user_id"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastMessageByUserID string     `json:"last_message_by_user_id,omitempty"`
	ConsumerLastReadAt  *time.Time `json:"consumer_last_read_at,omitempty"`
	ProviderLastReadAt  *time.Time `json:"provider_last_read_at,omitempty"`
	UnreadCount         int        `json:"unread_count"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Message is append-only; lists are ordered by CreatedAt ascending.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderUserID   string     `json:"sender_user_id"`
	Content        string     `json:"content"`
	AttachmentURL  string     `json:"attachment_url,omitempty"`
	AttachmentType string     `json:"attachment_type,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}
