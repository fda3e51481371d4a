package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"opus/pkg/api"
	"opus/pkg/domain"
	"opus/pkg/storage"
)

type fakeChat struct {
	mu         sync.Mutex
	conv       domain.Conversation
	resolveErr error
	jobCalls   int
	listFn     func(call int) ([]domain.Message, error)
	listCalls  int
	listed     chan int
	sendFn     func(req api.SendMessageRequest) (domain.Message, error)
	markErr    error
	markCalls  int
	convFn     func(call int) ([]domain.Conversation, error)
	convCalls  int
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		conv:   domain.Conversation{ID: "c1", JobID: "j1", UnreadCount: 3},
		listed: make(chan int, 64),
	}
}

func (f *fakeChat) GetConversation(_ context.Context, id string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return domain.Conversation{}, f.resolveErr
	}
	conv := f.conv
	conv.ID = id
	return conv, nil
}

func (f *fakeChat) GetJobConversation(_ context.Context, jobID string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobCalls++
	if f.resolveErr != nil {
		return domain.Conversation{}, f.resolveErr
	}
	conv := f.conv
	conv.JobID = jobID
	return conv, nil
}

func (f *fakeChat) ListConversations(_ context.Context, _ api.Page) (api.ConversationList, error) {
	f.mu.Lock()
	f.convCalls++
	n, fn := f.convCalls, f.convFn
	f.mu.Unlock()
	if fn == nil {
		return api.ConversationList{Items: []domain.Conversation{f.conv}, Total: 1}, nil
	}
	items, err := fn(n)
	if err != nil {
		return api.ConversationList{}, err
	}
	return api.ConversationList{Items: items, Total: len(items)}, nil
}

func (f *fakeChat) ListMessages(_ context.Context, conversationID string, p api.Page) (api.MessageList, error) {
	f.mu.Lock()
	f.listCalls++
	n, fn := f.listCalls, f.listFn
	f.mu.Unlock()
	f.listed <- n
	if p.Limit != DefaultMessageLimit {
		return api.MessageList{}, fmt.Errorf("unexpected limit %d", p.Limit)
	}
	if fn == nil {
		return api.MessageList{Items: msgs(conversationID, "m1", "m2")}, nil
	}
	items, err := fn(n)
	if err != nil {
		return api.MessageList{}, err
	}
	return api.MessageList{Items: items}, nil
}

func (f *fakeChat) SendMessage(_ context.Context, conversationID string, req api.SendMessageRequest) (domain.Message, error) {
	f.mu.Lock()
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domain.Message{ID: "sent-1", ConversationID: conversationID, Content: req.Content}, nil
}

func (f *fakeChat) MarkConversationRead(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	return f.markErr
}

func (f *fakeChat) calls() (list, mark int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.markCalls
}

func msgs(convID string, ids ...string) []domain.Message {
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Message{ID: id, ConversationID: convID, Content: "msg " + id})
	}
	return out
}

func messageIDs(ms []domain.Message) []string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID)
	}
	return ids
}

// manualTicker replaces the wall clock ticker so tests decide when an interval elapses.
func manualTicker(s *Syncer) chan time.Time {
	tick := make(chan time.Time)
	s.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return tick, func() {}
	}
	return tick
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartLoadsMessagesAndMarksRead(t *testing.T) {
	chat := newFakeChat()
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := s.Snapshot()
	if snap.Conversation == nil || snap.Conversation.ID != "c1" {
		t.Fatalf("expected resolved conversation, got %+v", snap.Conversation)
	}
	if got := messageIDs(snap.Messages); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Fatalf("unexpected messages %v", got)
	}
	if snap.Loading || snap.Error != "" {
		t.Fatalf("unexpected state loading=%v err=%q", snap.Loading, snap.Error)
	}
	list, mark := chat.calls()
	if list != 1 || mark != 1 {
		t.Fatalf("expected one fetch and one mark read, got %d and %d", list, mark)
	}
	if snap.Conversation.UnreadCount != 0 {
		t.Fatalf("expected unread reset after auto mark read")
	}
}

func TestStartResolvesByJob(t *testing.T) {
	chat := newFakeChat()
	s := New(chat, Options{JobID: "job-9", PollInterval: -1, DisableAutoMarkRead: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if chat.jobCalls != 1 {
		t.Fatalf("expected get-or-create by job, got %d calls", chat.jobCalls)
	}
	if _, mark := chat.calls(); mark != 0 {
		t.Fatalf("auto mark read should be disabled")
	}
	if s.Snapshot().Conversation.JobID != "job-9" {
		t.Fatalf("unexpected conversation %+v", s.Snapshot().Conversation)
	}
}

func TestResolveFailureIsTerminal(t *testing.T) {
	chat := newFakeChat()
	chat.resolveErr = errors.New("HTTP 404")
	s := New(chat, Options{ConversationID: "missing"})
	tickers := 0
	s.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		tickers++
		return make(chan time.Time), func() {}
	}

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected resolve error")
	}
	snap := s.Snapshot()
	if snap.Error != "HTTP 404" || snap.Loading {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if list, _ := chat.calls(); list != 0 || tickers != 0 {
		t.Fatalf("no fetch or timer expected after resolve failure, got %d fetches %d tickers", list, tickers)
	}
	s.Stop()
}

func TestStartWithoutIdentity(t *testing.T) {
	s := New(newFakeChat(), Options{})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestPollIntervalTriggersExactlyOneFetch(t *testing.T) {
	chat := newFakeChat()
	s := New(chat, Options{ConversationID: "c1", DisableAutoMarkRead: true})
	tick := manualTicker(s)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	<-chat.listed

	tick <- time.Now()
	select {
	case n := <-chat.listed:
		if n != 2 {
			t.Fatalf("expected second fetch, got call %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poll tick did not fetch")
	}
	select {
	case n := <-chat.listed:
		t.Fatalf("unexpected extra fetch %d", n)
	case <-time.After(50 * time.Millisecond):
	}
	if list, _ := chat.calls(); list != 2 {
		t.Fatalf("expected exactly two fetches, got %d", list)
	}
}

func TestPollFailureKeepsPollingAndSelfHeals(t *testing.T) {
	chat := newFakeChat()
	chat.listFn = func(call int) ([]domain.Message, error) {
		switch call {
		case 2:
			return nil, errors.New("HTTP 503")
		case 3:
			return msgs("c1", "m1", "m2", "m3"), nil
		default:
			return msgs("c1", "m1", "m2"), nil
		}
	}
	s := New(chat, Options{ConversationID: "c1", DisableAutoMarkRead: true})
	tick := manualTicker(s)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	tick <- time.Now()
	waitFor(t, "poll error", func() bool { return s.Snapshot().Error == "HTTP 503" })
	if got := len(s.Snapshot().Messages); got != 2 {
		t.Fatalf("failed poll must keep the previous list, got %d messages", got)
	}

	tick <- time.Now()
	waitFor(t, "recovery", func() bool {
		snap := s.Snapshot()
		return snap.Error == "" && len(snap.Messages) == 3
	})
}

func TestStopEndsPolling(t *testing.T) {
	chat := newFakeChat()
	s := New(chat, Options{ConversationID: "c1", DisableAutoMarkRead: true})
	tick := manualTicker(s)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	select {
	case tick <- time.Now():
		t.Fatalf("poll loop still receiving ticks after Stop")
	case <-time.After(50 * time.Millisecond):
	}
	s.Stop()
}

func TestSendingFlagSpansTheCall(t *testing.T) {
	chat := newFakeChat()
	entered := make(chan struct{})
	release := make(chan struct{})
	chat.sendFn = func(req api.SendMessageRequest) (domain.Message, error) {
		close(entered)
		<-release
		return domain.Message{ID: "m3", ConversationID: "c1", Content: req.Content}, nil
	}
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.Send(context.Background(), "Olá, posso ir amanhã?", "", "")
		done <- result{msg, err}
	}()

	<-entered
	if !s.Snapshot().Sending {
		t.Fatalf("sending should be true while the request is outstanding")
	}
	close(release)
	res := <-done
	if res.err != nil {
		t.Fatalf("send: %v", res.err)
	}
	snap := s.Snapshot()
	if snap.Sending {
		t.Fatalf("sending should be false after success")
	}
	if got := messageIDs(snap.Messages); len(got) != 3 || got[2] != "m3" {
		t.Fatalf("expected sent message appended, got %v", got)
	}
}

func TestSendFailureLeavesListUntouched(t *testing.T) {
	chat := newFakeChat()
	chat.sendFn = func(api.SendMessageRequest) (domain.Message, error) {
		return domain.Message{}, errors.New("conversation closed")
	}
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := s.Send(context.Background(), "oi", "", ""); err == nil {
		t.Fatalf("expected send error")
	}
	snap := s.Snapshot()
	if snap.Sending {
		t.Fatalf("sending should be false after failure")
	}
	if snap.Error != "conversation closed" {
		t.Fatalf("unexpected error %q", snap.Error)
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("failed send must not change messages, got %d", len(snap.Messages))
	}
}

func TestSendWithoutConversation(t *testing.T) {
	s := New(newFakeChat(), Options{ConversationID: "c1"})
	if _, err := s.Send(context.Background(), "oi", "", ""); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestMarkReadUpdatesUnreadOnlyOnSuccess(t *testing.T) {
	chat := newFakeChat()
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1, DisableAutoMarkRead: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := s.Snapshot().Conversation.UnreadCount; got != 3 {
		t.Fatalf("unread = %d, want 3", got)
	}

	chat.mu.Lock()
	chat.markErr = errors.New("HTTP 500")
	chat.mu.Unlock()
	if err := s.MarkRead(context.Background()); err == nil {
		t.Fatalf("expected mark read error")
	}
	snap := s.Snapshot()
	if snap.Conversation.UnreadCount != 3 {
		t.Fatalf("failed mark read must leave unread at 3, got %d", snap.Conversation.UnreadCount)
	}
	if snap.Error != "" {
		t.Fatalf("mark read failures are not surfaced, got %q", snap.Error)
	}

	chat.mu.Lock()
	chat.markErr = nil
	chat.mu.Unlock()
	if err := s.MarkRead(context.Background()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got := s.Snapshot().Conversation.UnreadCount; got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

func TestAutoMarkReadFailureIsNonFatal(t *testing.T) {
	chat := newFakeChat()
	chat.markErr = errors.New("HTTP 500")
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start should ignore mark read failure: %v", err)
	}
	if s.Snapshot().Error != "" || len(s.Snapshot().Messages) != 2 {
		t.Fatalf("unexpected snapshot %+v", s.Snapshot())
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	chat := newFakeChat()
	slowEntered := make(chan struct{})
	releaseSlow := make(chan struct{})
	chat.listFn = func(call int) ([]domain.Message, error) {
		switch call {
		case 2:
			close(slowEntered)
			<-releaseSlow
			return msgs("c1", "old"), nil
		case 3:
			return msgs("c1", "m1", "m2", "new"), nil
		default:
			return msgs("c1", "m1", "m2"), nil
		}
	}
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1, DisableAutoMarkRead: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	slowDone := make(chan error, 1)
	go func() { slowDone <- s.LoadMessages(context.Background()) }()
	<-slowEntered
	if err := s.LoadMessages(context.Background()); err != nil {
		t.Fatalf("fast load: %v", err)
	}
	close(releaseSlow)
	if err := <-slowDone; err != nil {
		t.Fatalf("slow load: %v", err)
	}

	if got := messageIDs(s.Snapshot().Messages); len(got) != 3 || got[2] != "new" {
		t.Fatalf("late response overwrote newer state: %v", got)
	}
}

func TestPollIssuedBeforeSendDoesNotDropSentMessage(t *testing.T) {
	chat := newFakeChat()
	pollEntered := make(chan struct{})
	releasePoll := make(chan struct{})
	chat.listFn = func(call int) ([]domain.Message, error) {
		if call == 2 {
			close(pollEntered)
			<-releasePoll
		}
		return msgs("c1", "m1", "m2"), nil
	}
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1, DisableAutoMarkRead: true})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	pollDone := make(chan struct{})
	go func() {
		_ = s.LoadMessages(context.Background())
		close(pollDone)
	}()
	<-pollEntered
	if _, err := s.Send(context.Background(), "oi", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	close(releasePoll)
	<-pollDone

	if got := messageIDs(s.Snapshot().Messages); len(got) != 3 || got[2] != "sent-1" {
		t.Fatalf("sent message lost to a stale poll: %v", got)
	}
}

type fakeUploader struct {
	name string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, name string, r io.Reader, _ int64, contentType string) (storage.Attachment, error) {
	if u.err != nil {
		return storage.Attachment{}, u.err
	}
	u.name = name
	_, _ = io.ReadAll(r)
	return storage.Attachment{URL: "https://files.test/" + name, Type: storage.AttachmentType(contentType), Key: name}, nil
}

func TestSendAttachment(t *testing.T) {
	chat := newFakeChat()
	var got api.SendMessageRequest
	chat.sendFn = func(req api.SendMessageRequest) (domain.Message, error) {
		got = req
		return domain.Message{ID: "att-1", ConversationID: "c1", AttachmentURL: req.AttachmentURL, AttachmentType: req.AttachmentType}, nil
	}
	s := New(chat, Options{ConversationID: "c1", PollInterval: -1})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	up := &fakeUploader{}
	if _, err := s.SendAttachment(context.Background(), up, "orcamento.png", strings.NewReader("png"), 3, "image/png", "segue a foto"); err != nil {
		t.Fatalf("send attachment: %v", err)
	}
	if got.AttachmentURL != "https://files.test/orcamento.png" || got.AttachmentType != "image" || got.Content != "segue a foto" {
		t.Fatalf("unexpected request %+v", got)
	}

	up.err = errors.New("bucket unavailable")
	if _, err := s.SendAttachment(context.Background(), up, "b.png", strings.NewReader("png"), 3, "image/png", ""); err == nil {
		t.Fatalf("expected upload error")
	}
	snap := s.Snapshot()
	if snap.Sending || snap.Error != "bucket unavailable" {
		t.Fatalf("unexpected snapshot after failed upload %+v", snap)
	}
}
