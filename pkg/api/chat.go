package api

import (
	"context"
	"net/http"

	"opus/pkg/domain"
)

type ConversationList struct {
	Items  []domain.Conversation `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type MessageList struct {
	Items  []domain.Message `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type CreateConversationRequest struct {
	JobID          string `json:"job_id" validate:"required"`
	ProviderUserID string `json:"provider_user_id,omitempty"`
}

type SendMessageRequest struct {
	Content        string `json:"content" validate:"required_without=AttachmentURL"`
	AttachmentURL  string `json:"attachment_url,omitempty" validate:"omitempty,url"`
	AttachmentType string `json:"attachment_type,omitempty"`
}

func (c *Client) ListConversations(ctx context.Context, p Page) (ConversationList, error) {
	var list ConversationList
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chat/conversations", p.apply(nil), bearer, nil, &list); err != nil {
		return ConversationList{}, err
	}
	if list.Items == nil {
		list.Items = []domain.Conversation{}
	}
	return list, nil
}

func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (domain.Conversation, error) {
	if err := c.check(req); err != nil {
		return domain.Conversation{}, err
	}
	var conv domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/v1/chat/conversations", nil, bearer, req, &conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// GetJobConversation returns the caller's conversation for a job, creating it if needed.
func (c *Client) GetJobConversation(ctx context.Context, jobID string) (domain.Conversation, error) {
	var conv domain.Conversation
	path := "/v1/chat/jobs/" + escape(jobID) + "/conversation"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, bearer, nil, &conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chat/conversations/"+escape(id), nil, bearer, nil, &conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// ListMessages returns the most recent messages of a conversation in creation
// order. Offset skips that many of the newest messages.
func (c *Client) ListMessages(ctx context.Context, conversationID string, p Page) (MessageList, error) {
	var list MessageList
	path := "/v1/chat/conversations/" + escape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, p.apply(nil), bearer, nil, &list); err != nil {
		return MessageList{}, err
	}
	if list.Items == nil {
		list.Items = []domain.Message{}
	}
	return list, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (domain.Message, error) {
	if err := c.check(req); err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	path := "/v1/chat/conversations/" + escape(conversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, bearer, req, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// MarkConversationRead marks every message in the conversation as read by the caller.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/v1/chat/conversations/" + escape(conversationID) + "/read"
	return c.doJSON(ctx, http.MethodPost, path, nil, bearer, nil, nil)
}
