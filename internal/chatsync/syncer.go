// Package chatsync keeps chat state close to the server by polling full snapshots.
package chatsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"opus/pkg/api"
	"opus/pkg/domain"
	"opus/pkg/storage"
)

const (
	DefaultPollInterval          = 5 * time.Second
	DefaultConversationsInterval = 30 * time.Second
	DefaultMessageLimit          = 100
)

var (
	ErrNoConversation = errors.New("conversation not available")
	ErrAlreadyStarted = errors.New("syncer already started")
)

// ChatAPI is the slice of the REST client used by this package.
type ChatAPI interface {
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	GetJobConversation(ctx context.Context, jobID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, p api.Page) (api.ConversationList, error)
	ListMessages(ctx context.Context, conversationID string, p api.Page) (api.MessageList, error)
	SendMessage(ctx context.Context, conversationID string, req api.SendMessageRequest) (domain.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Uploader stores an attachment before it is referenced by a message.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (storage.Attachment, error)
}

// Options configures a Syncer. Zero values pick the defaults noted per field.
type Options struct {
	// ConversationID wins over JobID when both are set.
	ConversationID string
	// JobID resolves the conversation through get-or-create.
	JobID string
	// PollInterval defaults to 5s. Negative disables polling.
	PollInterval time.Duration
	// DisableAutoMarkRead skips the mark-read call after the first load.
	DisableAutoMarkRead bool
	// MessageLimit defaults to 100.
	MessageLimit int
	// OnChange, when set, receives a snapshot after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a point-in-time copy of the syncer state.
type Snapshot struct {
	Conversation *domain.Conversation
	Messages     []domain.Message
	Loading      bool
	Sending      bool
	Error        string
}

// Syncer mirrors one conversation. Create with New, then Start; Stop releases the poll loop.
type Syncer struct {
	api       ChatAPI
	opts      Options
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu       sync.Mutex
	started  bool
	conv     *domain.Conversation
	messages []domain.Message
	loading  bool
	sends    int
	err      string
	issued   uint64
	applied  uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a Syncer for one conversation. Nothing is fetched until Start.
func New(chat ChatAPI, opts Options) *Syncer {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = DefaultMessageLimit
	}
	return &Syncer{
		api:       chat,
		opts:      opts,
		newTicker: realTicker,
		messages:  []domain.Message{},
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Start resolves the conversation, loads its messages, marks it read and begins polling.
// A resolution failure is terminal: the error is kept and no polling starts.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.loading = true
	s.mu.Unlock()
	s.notify()

	conv, err := s.resolve(ctx)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.err = err.Error()
		s.mu.Unlock()
		s.notify()
		slog.Error("chat conversation resolve failed", "conversation_id", s.opts.ConversationID, "job_id", s.opts.JobID, "err", err)
		return err
	}
	s.mu.Lock()
	s.conv = &conv
	s.mu.Unlock()

	if err := s.fetch(ctx); err != nil {
		slog.Warn("chat initial load failed", "conversation_id", conv.ID, "err", err)
	}
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.notify()

	if !s.opts.DisableAutoMarkRead {
		_ = s.MarkRead(ctx)
	}

	if s.opts.PollInterval > 0 {
		pollCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		tick, stop := s.newTicker(s.opts.PollInterval)
		s.mu.Lock()
		s.cancel = cancel
		s.done = done
		s.mu.Unlock()
		go s.poll(pollCtx, tick, stop, done)
	}
	return nil
}

func (s *Syncer) resolve(ctx context.Context) (domain.Conversation, error) {
	switch {
	case s.opts.ConversationID != "":
		return s.api.GetConversation(ctx, s.opts.ConversationID)
	case s.opts.JobID != "":
		return s.api.GetJobConversation(ctx, s.opts.JobID)
	default:
		return domain.Conversation{}, ErrNoConversation
	}
}

// poll runs ticks one after another, so a slow fetch delays the next one instead of overlapping it.
func (s *Syncer) poll(ctx context.Context, tick <-chan time.Time, stop func(), done chan struct{}) {
	defer close(done)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := s.fetch(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("chat poll failed", "conversation_id", s.conversationID(), "err", err)
			}
		}
	}
}

// Stop ends polling and waits for the poll goroutine. In-flight poll requests are cancelled.
func (s *Syncer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LoadMessages re-fetches the message list and replaces it wholesale.
func (s *Syncer) LoadMessages(ctx context.Context) error {
	return s.fetch(ctx)
}

// fetch applies its result only when no newer fetch or send has been applied meanwhile.
func (s *Syncer) fetch(ctx context.Context) error {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return ErrNoConversation
	}
	convID := s.conv.ID
	s.issued++
	ord := s.issued
	s.mu.Unlock()

	list, err := s.api.ListMessages(ctx, convID, api.Page{Limit: s.opts.MessageLimit})

	s.mu.Lock()
	if ord <= s.applied {
		s.mu.Unlock()
		slog.Debug("chat discarded stale poll", "conversation_id", convID, "ordinal", ord)
		return err
	}
	if err != nil && ctx.Err() != nil {
		s.mu.Unlock()
		return err
	}
	s.applied = ord
	if err != nil {
		s.err = err.Error()
	} else {
		s.messages = list.Items
		s.err = ""
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// Send posts a message and appends the server copy. Sending stays true for the whole call.
func (s *Syncer) Send(ctx context.Context, content, attachmentURL, attachmentType string) (domain.Message, error) {
	convID, err := s.beginSend()
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := s.api.SendMessage(ctx, convID, api.SendMessageRequest{
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
	})
	s.endSend(msg, err)
	return msg, err
}

// SendAttachment uploads a file and sends it with an optional caption.
func (s *Syncer) SendAttachment(ctx context.Context, up Uploader, name string, r io.Reader, size int64, contentType, caption string) (domain.Message, error) {
	convID, err := s.beginSend()
	if err != nil {
		return domain.Message{}, err
	}
	att, err := up.Upload(ctx, name, r, size, contentType)
	if err != nil {
		s.endSend(domain.Message{}, err)
		return domain.Message{}, err
	}
	msg, err := s.api.SendMessage(ctx, convID, api.SendMessageRequest{
		Content:        caption,
		AttachmentURL:  att.URL,
		AttachmentType: att.Type,
	})
	s.endSend(msg, err)
	return msg, err
}

func (s *Syncer) beginSend() (string, error) {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return "", ErrNoConversation
	}
	convID := s.conv.ID
	s.sends++
	s.err = ""
	s.mu.Unlock()
	s.notify()
	return convID, nil
}

func (s *Syncer) endSend(msg domain.Message, err error) {
	s.mu.Lock()
	s.sends--
	if err != nil {
		s.err = err.Error()
	} else {
		if !containsMessage(s.messages, msg.ID) {
			s.messages = append(s.messages, msg)
		}
		// polls issued before this send no longer reflect the list
		s.applied = s.issued
	}
	s.mu.Unlock()
	s.notify()
}

// MarkRead marks the conversation read and zeroes the local unread counter on success.
// Failures are logged and leave state, including the error field, untouched.
func (s *Syncer) MarkRead(ctx context.Context) error {
	convID := s.conversationID()
	if convID == "" {
		return ErrNoConversation
	}
	if err := s.api.MarkConversationRead(ctx, convID); err != nil {
		slog.Warn("chat mark read failed", "conversation_id", convID, "err", err)
		return err
	}
	s.mu.Lock()
	if s.conv != nil {
		conv := *s.conv
		conv.UnreadCount = 0
		s.conv = &conv
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Syncer) snapshotLocked() Snapshot {
	msgs := make([]domain.Message, len(s.messages))
	copy(msgs, s.messages)
	snap := Snapshot{
		Messages: msgs,
		Loading:  s.loading,
		Sending:  s.sends > 0,
		Error:    s.err,
	}
	if s.conv != nil {
		conv := *s.conv
		snap.Conversation = &conv
	}
	return snap
}

func (s *Syncer) conversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.ID
}

func (s *Syncer) notify() {
	if s.opts.OnChange == nil {
		return
	}
	s.opts.OnChange(s.Snapshot())
}

func containsMessage(msgs []domain.Message, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
