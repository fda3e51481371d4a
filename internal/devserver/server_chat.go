package devserver

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"opus/internal/util"
	"opus/pkg/domain"
)

type createConversationRequest struct {
	JobID          string `json:"job_id"`
	ProviderUserID string `json:"provider_user_id"`
}

type sendMessageRequest struct {
	Content        string `json:"content"`
	AttachmentURL  string `json:"attachment_url"`
	AttachmentType string `json:"attachment_type"`
}

// Conversations are indexed twice: by consumer through OwnerID and by
// provider through Status, so each participant can list theirs. Key is
// jobID|providerID and makes get-or-create idempotent.
func (s *Server) saveConversation(r *http.Request, c domain.Conversation) error {
	c.UnreadCount = 0
	return putDoc(contextWithoutCancel(r), s.store, kindConversation, c.ID, index{
		OwnerID:   c.ConsumerUserID,
		Key:       conversationKey(c.JobID, c.ProviderUserID),
		Status:    c.ProviderUserID,
		CreatedAt: c.CreatedAt,
	}, c)
}

func conversationKey(jobID, providerID string) string {
	return jobID + "|" + providerID
}

func isParticipant(c domain.Conversation, userID string) bool {
	return c.ConsumerUserID == userID || c.ProviderUserID == userID
}

// lastReadBy returns the viewer's read marker.
func lastReadBy(c domain.Conversation, userID string) *time.Time {
	if userID == c.ConsumerUserID {
		return c.ConsumerLastReadAt
	}
	return c.ProviderLastReadAt
}

// withUnread fills UnreadCount for the viewer: messages from the other party
// newer than the viewer's read marker.
func (s *Server) withUnread(r *http.Request, c domain.Conversation, viewerID string) (domain.Conversation, error) {
	msgs, err := findDocs[domain.Message](r.Context(), s.store, kindMessage, Filter{OwnerID: c.ID})
	if err != nil {
		return domain.Conversation{}, err
	}
	readAt := lastReadBy(c, viewerID)
	c.UnreadCount = 0
	for _, m := range msgs {
		if m.SenderUserID == viewerID {
			continue
		}
		if readAt == nil || m.CreatedAt.After(*readAt) {
			c.UnreadCount++
		}
	}
	return c, nil
}

// conversation loads a conversation the caller participates in.
func (s *Server) conversation(w http.ResponseWriter, r *http.Request, user domain.User) (domain.Conversation, bool) {
	c, err := getDoc[domain.Conversation](r.Context(), s.store, kindConversation, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return domain.Conversation{}, false
	}
	if err != nil {
		s.internalError(w, r, err)
		return domain.Conversation{}, false
	}
	if !isParticipant(c, user.ID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return domain.Conversation{}, false
	}
	return c, true
}

func (s *Server) conversationFor(r *http.Request, jobID, providerID string) (domain.Conversation, bool, error) {
	convs, err := findDocs[domain.Conversation](r.Context(), s.store, kindConversation, Filter{Key: conversationKey(jobID, providerID)})
	if err != nil || len(convs) == 0 {
		return domain.Conversation{}, false, err
	}
	return convs[0], true, nil
}

// getOrCreateConversation must be called with s.mu held.
func (s *Server) getOrCreateConversation(r *http.Request, job domain.Job, providerID string) (domain.Conversation, bool, error) {
	if c, ok, err := s.conversationFor(r, job.ID, providerID); err != nil || ok {
		return c, false, err
	}
	now := s.clock()
	c := domain.Conversation{
		ID:             util.NewID(),
		JobID:          job.ID,
		ConsumerUserID: job.ConsumerUserID,
		ProviderUserID: providerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveConversation(r, c); err != nil {
		return domain.Conversation{}, false, err
	}
	return c, true, nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, offset, ok := pageParams(w, r, 20, 100)
	if !ok {
		return
	}
	asConsumer, err := findDocs[domain.Conversation](r.Context(), s.store, kindConversation, Filter{OwnerID: user.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	asProvider, err := findDocs[domain.Conversation](r.Context(), s.store, kindConversation, Filter{Status: user.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	convs := make([]domain.Conversation, 0, len(asConsumer)+len(asProvider))
	seen := make(map[string]struct{}, cap(convs))
	for _, c := range append(asConsumer, asProvider...) {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		c, err = s.withUnread(r, c, user.ID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		convs = append(convs, c)
	}
	slices.SortStableFunc(convs, func(a, b domain.Conversation) int {
		return activity(b).Compare(activity(a))
	})
	writeJSON(w, http.StatusOK, newList(convs, limit, offset))
}

// activity is the last message time, or creation for empty threads.
func activity(c domain.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// handleCreateConversation opens the thread for a job. Consumers name the
// provider; providers always open their own thread with the job's consumer.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req createConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, req.JobID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	providerID := user.ID
	if user.ID == job.ConsumerUserID {
		providerID = strings.TrimSpace(req.ProviderUserID)
		if providerID == "" {
			writeError(w, http.StatusBadRequest, "provider_user_id is required")
			return
		}
		if providerID == user.ID {
			writeError(w, http.StatusBadRequest, "cannot open a conversation with yourself")
			return
		}
	}
	c, created, err := s.getOrCreateConversation(r, job, providerID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if c, err = s.withUnread(r, c, user.ID); err != nil {
		s.internalError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// handleJobConversation returns the caller's thread for a job. Providers get
// one created on demand; consumers see the hired provider's thread, or their
// only thread when nobody has been hired yet.
func (s *Server) handleJobConversation(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := getDoc[domain.Job](r.Context(), s.store, kindJob, r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	var c domain.Conversation
	if user.ID == job.ConsumerUserID {
		providerID, hired, err := s.acceptedProvider(r, job.ID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if hired {
			c, _, err = s.getOrCreateConversation(r, job, providerID)
			if err != nil {
				s.internalError(w, r, err)
				return
			}
		} else {
			convs, err := findDocs[domain.Conversation](r.Context(), s.store, kindConversation, Filter{OwnerID: user.ID})
			if err != nil {
				s.internalError(w, r, err)
				return
			}
			convs = slices.DeleteFunc(convs, func(x domain.Conversation) bool { return x.JobID != job.ID })
			if len(convs) == 0 {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			c = convs[len(convs)-1]
		}
	} else {
		c, _, err = s.getOrCreateConversation(r, job, user.ID)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
	}
	if c, err = s.withUnread(r, c, user.ID); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, user domain.User) {
	c, ok := s.conversation(w, r, user)
	if !ok {
		return
	}
	c, err := s.withUnread(r, c, user.ID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleListMessages serves the newest page of a thread, oldest first.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	limit, offset, ok := pageParams(w, r, 50, 200)
	if !ok {
		return
	}
	c, ok := s.conversation(w, r, user)
	if !ok {
		return
	}
	msgs, err := findDocs[domain.Message](r.Context(), s.store, kindMessage, Filter{OwnerID: c.ID})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domain.Message]{
		Items:  paginateRecent(msgs, limit, offset),
		Total:  len(msgs),
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	req.AttachmentURL = strings.TrimSpace(req.AttachmentURL)
	if req.Content == "" && req.AttachmentURL == "" {
		writeError(w, http.StatusBadRequest, "content or attachment_url is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversation(w, r, user)
	if !ok {
		return
	}
	now := s.clock()
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: c.ID,
		SenderUserID:   user.ID,
		Content:        req.Content,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: strings.TrimSpace(req.AttachmentType),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := putDoc(contextWithoutCancel(r), s.store, kindMessage, msg.ID, index{
		OwnerID:   c.ID,
		Key:       user.ID,
		CreatedAt: now,
	}, msg)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	c.LastMessageAt = &now
	c.LastMessageByUserID = user.ID
	c.UpdatedAt = now
	if err := s.saveConversation(r, c); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversation(w, r, user)
	if !ok {
		return
	}
	now := s.clock()
	if user.ID == c.ConsumerUserID {
		c.ConsumerLastReadAt = &now
	} else {
		c.ProviderLastReadAt = &now
	}
	if err := s.saveConversation(r, c); err != nil {
		s.internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
