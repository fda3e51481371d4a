package chatsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opus/pkg/api"
	"opus/pkg/domain"
)

// ListOptions configures a ConversationList.
type ListOptions struct {
	Page api.Page
	// PollInterval defaults to 30s. Negative disables polling.
	PollInterval time.Duration
	OnChange     func(ListSnapshot)
}

// ListSnapshot is a point-in-time copy of the conversation list.
type ListSnapshot struct {
	Items   []domain.Conversation
	Total   int
	Loading bool
	Error   string
}

// ConversationList polls the caller's conversations with the same full-refresh policy as Syncer.
type ConversationList struct {
	api       ChatAPI
	opts      ListOptions
	newTicker func(time.Duration) (<-chan time.Time, func())

	mu      sync.Mutex
	items   []domain.Conversation
	total   int
	loading int
	err     string
	issued  uint64
	applied uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConversationList builds a list poller; nothing is fetched until Start or Refresh.
func NewConversationList(chat ChatAPI, opts ListOptions) *ConversationList {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultConversationsInterval
	}
	return &ConversationList{
		api:       chat,
		opts:      opts,
		newTicker: realTicker,
		items:     []domain.Conversation{},
	}
}

// Start loads the list once and then polls until Stop. A failed first load
// is kept in the snapshot error and the next tick retries, so Start only
// fails with ErrAlreadyStarted; after a nil return the caller owns Stop.
func (l *ConversationList) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	pollCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	if err := l.Refresh(ctx); err != nil {
		slog.Warn("conversations initial load failed", "err", err)
	}
	if l.opts.PollInterval > 0 {
		done := make(chan struct{})
		tick, stop := l.newTicker(l.opts.PollInterval)
		l.mu.Lock()
		l.done = done
		l.mu.Unlock()
		go func() {
			defer close(done)
			defer stop()
			for {
				select {
				case <-pollCtx.Done():
					return
				case <-tick:
					if err := l.Refresh(pollCtx); err != nil && pollCtx.Err() == nil {
						slog.Warn("conversations poll failed", "err", err)
					}
				}
			}
		}()
	}
	return nil
}

// Stop ends polling and waits for the poll goroutine to exit.
func (l *ConversationList) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.done = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Refresh re-fetches the list and replaces it wholesale.
func (l *ConversationList) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.issued++
	ord := l.issued
	l.loading++
	l.mu.Unlock()
	l.notify()

	list, err := l.api.ListConversations(ctx, l.opts.Page)

	l.mu.Lock()
	l.loading--
	switch {
	case ord <= l.applied:
	case err != nil && ctx.Err() != nil:
	case err != nil:
		l.applied = ord
		l.err = err.Error()
	default:
		l.applied = ord
		l.items = list.Items
		l.total = list.Total
		l.err = ""
	}
	l.mu.Unlock()
	l.notify()
	return err
}

// Snapshot returns a copy of the current list state.
func (l *ConversationList) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]domain.Conversation, len(l.items))
	copy(items, l.items)
	return ListSnapshot{Items: items, Total: l.total, Loading: l.loading > 0, Error: l.err}
}

func (l *ConversationList) notify() {
	if l.opts.OnChange == nil {
		return
	}
	l.opts.OnChange(l.Snapshot())
}
