package appstate

import (
	"time"

	"opus/pkg/domain"
)

// DefaultCategories is the fixed service catalogue shown on the home screen.
var DefaultCategories = []Category{
	{ID: "1", Name: "Eletricista", Icon: "zap"},
	{ID: "2", Name: "Encanador", Icon: "droplet"},
	{ID: "3", Name: "Faxina", Icon: "sparkles"},
	{ID: "4", Name: "Pedreiro", Icon: "hammer"},
	{ID: "5", Name: "Pintor", Icon: "paint-bucket"},
	{ID: "6", Name: "Montagem", Icon: "wrench"},
	{ID: "7", Name: "Jardinagem", Icon: "leaf"},
	{ID: "8", Name: "Chaveiro", Icon: "key"},
}

// DemoUser is the account the demo backend signs in as.
var DemoUser = domain.User{
	ID:       "client1",
	Name:     "Maria Oliveira",
	Email:    "maria@email.com",
	Phone:    "(11) 98765-4321",
	PhotoURL: "https://i.pravatar.cc/150?img=5",
}

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func demoOrders() []Order {
	return []Order{
		{
			ID:           "1",
			CategoryID:   "1",
			CategoryName: "Eletricista",
			Description:  "Trocar disjuntor e instalar tomadas",
			Address:      "Rua das Flores, 123 - Centro",
			Latitude:     -23.5505,
			Longitude:    -46.6333,
			Date:         at("2024-01-15T14:00"),
			Duration:     2,
			Status:       OrderProposals,
			Proposals: []Proposal{
				{
					ID:                 "p1",
					ProfessionalID:     "prof1",
					ProfessionalName:   "João Silva",
					ProfessionalRating: 4.8,
					ProfessionalAvatar: "https://i.pravatar.cc/150?img=12",
					Price:              250,
					Message:            "Posso fazer hoje mesmo! Tenho experiência em instalações elétricas.",
					CreatedAt:          at("2024-01-14T10:30"),
				},
				{
					ID:                 "p2",
					ProfessionalID:     "prof2",
					ProfessionalName:   "Carlos Santos",
					ProfessionalRating: 4.9,
					ProfessionalAvatar: "https://i.pravatar.cc/150?img=13",
					Price:              220,
					Message:            "Sou eletricista certificado. Posso ir amanhã pela manhã.",
					CreatedAt:          at("2024-01-14T11:15"),
				},
			},
			CreatedAt: at("2024-01-14T09:00"),
		},
		{
			ID:           "2",
			CategoryID:   "2",
			CategoryName: "Encanador",
			Description:  "Vazamento no banheiro",
			Address:      "Av. Paulista, 1000 - Bela Vista",
			Latitude:     -23.5629,
			Longitude:    -46.6544,
			Date:         at("2024-01-16T09:00"),
			Duration:     3,
			Status:       OrderPublished,
			Proposals:    []Proposal{},
			CreatedAt:    at("2024-01-14T15:30"),
		},
	}
}

func demoConversations() []Conversation {
	return []Conversation{
		{
			ID:                 "c1",
			OrderID:            "1",
			ProfessionalID:     "prof1",
			ProfessionalName:   "João Silva",
			ProfessionalAvatar: "https://i.pravatar.cc/150?img=12",
			LastMessage:        "Posso confirmar para amanhã às 14h?",
			LastMessageTime:    at("2024-01-14T16:45"),
			UnreadCount:        2,
			Messages: []Message{
				{ID: "m1", SenderID: "prof1", SenderName: "João Silva", Text: "Olá! Vi seu pedido de eletricista.", Timestamp: at("2024-01-14T16:30")},
				{ID: "m2", SenderID: "client1", SenderName: "Você", Text: "Oi! Pode fazer amanhã?", Timestamp: at("2024-01-14T16:35"), IsFromClient: true},
				{ID: "m3", SenderID: "prof1", SenderName: "João Silva", Text: "Posso confirmar para amanhã às 14h?", Timestamp: at("2024-01-14T16:45")},
			},
		},
	}
}
