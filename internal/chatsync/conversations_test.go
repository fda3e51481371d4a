package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"opus/pkg/domain"
)

func TestConversationListPollsAndKeepsItemsOnError(t *testing.T) {
	chat := newFakeChat()
	chat.convFn = func(call int) ([]domain.Conversation, error) {
		switch call {
		case 1:
			return []domain.Conversation{{ID: "c1"}}, nil
		case 2:
			return nil, errors.New("HTTP 502")
		default:
			return []domain.Conversation{{ID: "c1"}, {ID: "c2"}}, nil
		}
	}
	l := NewConversationList(chat, ListOptions{})
	if l.opts.PollInterval != DefaultConversationsInterval {
		t.Fatalf("default interval = %v", l.opts.PollInterval)
	}
	tick := make(chan time.Time)
	l.newTicker = func(time.Duration) (<-chan time.Time, func()) { return tick, func() {} }

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()
	if snap := l.Snapshot(); snap.Total != 1 || len(snap.Items) != 1 || snap.Loading {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}

	tick <- time.Now()
	waitFor(t, "poll error", func() bool { return l.Snapshot().Error == "HTTP 502" })
	if len(l.Snapshot().Items) != 1 {
		t.Fatalf("failed poll must keep previous items")
	}

	tick <- time.Now()
	waitFor(t, "recovery", func() bool {
		snap := l.Snapshot()
		return snap.Error == "" && snap.Total == 2
	})
}

func TestConversationListManualRefresh(t *testing.T) {
	chat := newFakeChat()
	l := NewConversationList(chat, ListOptions{PollInterval: -1})
	if err := l.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap := l.Snapshot(); snap.Total != 1 || snap.Items[0].ID != "c1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	l.Stop()
}

func TestConversationListFailedFirstLoadKeepsPolling(t *testing.T) {
	chat := newFakeChat()
	chat.convFn = func(call int) ([]domain.Conversation, error) {
		if call == 1 {
			return nil, errors.New("HTTP 503")
		}
		return []domain.Conversation{{ID: "c1"}}, nil
	}
	l := NewConversationList(chat, ListOptions{})
	tick := make(chan time.Time)
	stopped := make(chan struct{})
	l.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return tick, func() { close(stopped) }
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start should not fail on a failed first load: %v", err)
	}
	if snap := l.Snapshot(); snap.Error != "HTTP 503" || len(snap.Items) != 0 {
		t.Fatalf("unexpected snapshot after failed load %+v", snap)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	tick <- time.Now()
	waitFor(t, "recovery", func() bool {
		snap := l.Snapshot()
		return snap.Error == "" && snap.Total == 1
	})

	l.Stop()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("poll loop still running after Stop")
	}
}
