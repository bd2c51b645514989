package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/775kkk/logic-signal-protector-sub000/internal/telegraph"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Compile-time interface compliance checks.
var (
	_ telegraph.Adapter        = (*Adapter)(nil)
	_ telegraph.BotUserIDer    = (*Adapter)(nil)
	_ telegraph.MessageDeleter = (*Adapter)(nil)
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErr   error
	postFails int // rate-limit this many posts before succeeding
	deleted   []string
	deleteErr error
	users     map[string]*slackapi.User
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123"},
		users:    make(map[string]*slackapi.User),
	}
}

func (m *mockSlackClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	if m.postFails > 0 {
		m.postFails--
		return "", "", &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

func (m *mockSlackClient) DeleteMessage(channelID, ts string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return "", "", m.deleteErr
	}
	m.deleted = append(m.deleted, channelID+":"+ts)
	return channelID, ts, nil
}

func (m *mockSlackClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user not found: %s", userID)
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

// --- Mock Socket Mode client ---

type mockSocketClient struct {
	events chan socketmode.Event
	acked  []socketmode.Request
	mu     sync.Mutex
	done   chan struct{}
}

func newMockSocketClient() *mockSocketClient {
	return &mockSocketClient{
		events: make(chan socketmode.Event, 100),
		done:   make(chan struct{}),
	}
}

func (m *mockSocketClient) Run() error {
	<-m.done
	return nil
}

func (m *mockSocketClient) EventsChan() chan socketmode.Event {
	return m.events
}

func (m *mockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, req)
}

func (m *mockSocketClient) ackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// --- Helpers ---

func newTestAdapter(t *testing.T) (*Adapter, *mockSlackClient, *mockSocketClient) {
	t.Helper()
	client := newMockSlackClient()
	socket := newMockSocketClient()

	a, err := New(AdapterOpts{
		Client:    client,
		Socket:    socket,
		ChannelID: "C_DEFAULT",
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		close(socket.done)
		a.Close()
	})
	return a, client, socket
}

func listen(t *testing.T, a *Adapter) <-chan telegraph.InboundMessage {
	t.Helper()
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan telegraph.InboundMessage) telegraph.InboundMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound message")
	}
	return telegraph.InboundMessage{}
}

func expectNone(t *testing.T, ch <-chan telegraph.InboundMessage) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected inbound message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func messageEvent(ev *slackevents.MessageEvent) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: ev},
		},
		Request: &socketmode.Request{EnvelopeID: "env-1"},
	}
}

func blockActionEvent(user, channel, thread string, values ...string) socketmode.Event {
	cb := slackapi.InteractionCallback{Type: slackapi.InteractionTypeBlockActions}
	cb.User.ID = user
	cb.User.Name = "alice"
	cb.Channel.ID = channel
	cb.Message.ThreadTimestamp = thread
	for i, v := range values {
		cb.ActionCallback.BlockActions = append(cb.ActionCallback.BlockActions,
			&slackapi.BlockAction{ActionID: fmt.Sprintf("btn-%d", i), Value: v})
	}
	return socketmode.Event{
		Type:    socketmode.EventTypeInteractive,
		Data:    cb,
		Request: &socketmode.Request{EnvelopeID: "env-2"},
	}
}

// --- New / Connect ---

func TestNew_RequiresTokens(t *testing.T) {
	if _, err := New(AdapterOpts{AppToken: "xapp-test"}); err == nil {
		t.Error("expected error for missing bot token")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-test"}); err == nil {
		t.Error("expected error for missing app token")
	}
}

func TestConnect_Success(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	if a.BotUserID() != "U_BOT_123" {
		t.Errorf("bot user ID = %q, want U_BOT_123", a.BotUserID())
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should not error: %v", err)
	}
}

func TestConnect_AuthError(t *testing.T) {
	client := newMockSlackClient()
	client.authErr = fmt.Errorf("invalid token")

	a, _ := New(AdapterOpts{Client: client, Socket: newMockSocketClient()})
	err := a.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "auth test") {
		t.Fatalf("err = %v, want auth test error", err)
	}
}

func TestConnect_AfterClose(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error for closed adapter")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}

// --- Listen ---

func TestListen_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error for not connected")
	}
}

func TestListen_ReceivesMessages(t *testing.T) {
	a, client, socket := newTestAdapter(t)
	client.users["U_ALICE"] = &slackapi.User{ID: "U_ALICE", Profile: slackapi.UserProfile{DisplayName: "alice"}}
	ch := listen(t, a)

	socket.events <- messageEvent(&slackevents.MessageEvent{
		User:            "U_ALICE",
		Channel:         "C1",
		Text:            "/help",
		TimeStamp:       "1700000000.000001",
		ThreadTimeStamp: "1699999999.000001",
	})

	msg := receive(t, ch)
	if msg.Platform != "slack" || msg.ChannelID != "C1" || msg.UserID != "U_ALICE" {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Text != "/help" || msg.UserName != "alice" {
		t.Errorf("text/user = %q/%q", msg.Text, msg.UserName)
	}
	if msg.MessageID != "1700000000.000001" || msg.ThreadID != "1699999999.000001" {
		t.Errorf("message/thread id = %q/%q", msg.MessageID, msg.ThreadID)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestListen_FiltersSelfBotAndSubtypes(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch := listen(t, a)

	for _, ev := range []*slackevents.MessageEvent{
		{User: "U_BOT_123", Channel: "C1", Text: "self"},
		{User: "U_OTHER", BotID: "B1", Channel: "C1", Text: "other bot"},
		{User: "U_ALICE", SubType: "message_changed", Channel: "C1", Text: "edit"},
	} {
		socket.events <- messageEvent(ev)
	}
	expectNone(t, ch)
}

func TestListen_AppMentionStripsMention(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch := listen(t, a)

	socket.events <- socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.AppMentionEvent{
					User:      "U_ALICE",
					Channel:   "C1",
					Text:      "<@U_BOT_123> /market quote SBER",
					TimeStamp: "1700000000.000002",
				},
			},
		},
	}

	msg := receive(t, ch)
	if msg.Text != "/market quote SBER" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestListen_BlockActionsBecomeCallbacks(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch := listen(t, a)

	socket.events <- blockActionEvent("U_ALICE", "C1", "171.5", "h:s1:1")

	msg := receive(t, ch)
	if msg.CallbackData != "h:s1:1" || msg.Text != "" {
		t.Errorf("callback/text = %q/%q", msg.CallbackData, msg.Text)
	}
	if msg.ChannelID != "C1" || msg.ThreadID != "171.5" || msg.UserID != "U_ALICE" {
		t.Errorf("msg = %+v", msg)
	}
	if socket.ackedCount() != 1 {
		t.Errorf("acked = %d, want 1", socket.ackedCount())
	}
}

func TestListen_IgnoresOtherInteractions(t *testing.T) {
	a, _, socket := newTestAdapter(t)
	ch := listen(t, a)

	ev := blockActionEvent("U_ALICE", "C1", "", "cmd:help")
	cb := ev.Data.(slackapi.InteractionCallback)
	cb.Type = slackapi.InteractionTypeViewSubmission
	ev.Data = cb
	socket.events <- ev
	socket.events <- blockActionEvent("U_ALICE", "C1", "", "")

	expectNone(t, ch)
}

func TestHandleSocketEvent_ConnectionEvents(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	ctx := context.Background()
	// These should not panic and should be handled gracefully.
	a.handleSocketEvent(ctx, socketmode.Event{Type: socketmode.EventTypeConnecting})
	a.handleSocketEvent(ctx, socketmode.Event{Type: socketmode.EventTypeConnected})
	a.handleSocketEvent(ctx, socketmode.Event{Type: socketmode.EventTypeConnectionError, Data: "test error"})
	a.handleSocketEvent(ctx, socketmode.Event{Type: socketmode.EventTypeDisconnect})
	a.handleSocketEvent(ctx, socketmode.Event{Type: socketmode.EventTypeEventsAPI, Data: "not an event"})
}

// --- Send / DeleteMessage ---

func TestSend_DefaultChannel(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.posted[0].channelID != "C_DEFAULT" {
		t.Errorf("channel = %q, want C_DEFAULT", client.posted[0].channelID)
	}
}

func TestSend_NoChannel(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	a.Connect(context.Background())
	if err := a.Send(context.Background(), telegraph.OutboundMessage{Text: "hi"}); err == nil {
		t.Fatal("expected error with no channel")
	}
}

func TestSend_NotConnected(t *testing.T) {
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: newMockSocketClient()})
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "hi"}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestSend_PostError(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postErr = fmt.Errorf("channel_not_found")
	err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "post message") {
		t.Fatalf("err = %v", err)
	}
}

func TestSend_RetriesOnRateLimit(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	client.postFails = 2
	if err := a.Send(context.Background(), telegraph.OutboundMessage{ChannelID: "C1", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if client.postedCount() != 1 {
		t.Errorf("posted = %d, want 1", client.postedCount())
	}
}

func TestDeleteMessage(t *testing.T) {
	a, client, _ := newTestAdapter(t)
	if err := a.DeleteMessage(context.Background(), "C1", "1700000000.000001"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "C1:1700000000.000001" {
		t.Errorf("deleted = %v", client.deleted)
	}

	client.deleteErr = fmt.Errorf("cant_delete_message")
	if err := a.DeleteMessage(context.Background(), "C1", "1"); err == nil {
		t.Error("expected delete error")
	}
}

// --- Message building ---

func TestBuildMessageOptions(t *testing.T) {
	tests := []struct {
		name string
		msg  telegraph.OutboundMessage
		want int
	}{
		{"text only", telegraph.OutboundMessage{Text: "hello"}, 1},
		{"thread", telegraph.OutboundMessage{Text: "reply", ThreadID: "1234.5678"}, 2},
		{"events without text", telegraph.OutboundMessage{Events: []telegraph.FormattedEvent{{Title: "E"}}}, 1},
		{"events with text", telegraph.OutboundMessage{Text: "t", Events: []telegraph.FormattedEvent{{Title: "E"}}}, 2},
		{"buttons", telegraph.OutboundMessage{Text: "menu", Buttons: []telegraph.Button{{Label: "/help", Data: "cmd:help"}}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(buildMessageOptions(tt.msg)); got != tt.want {
				t.Errorf("options = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildBlocks(t *testing.T) {
	if blocks := buildBlocks(telegraph.OutboundMessage{Text: "plain"}); blocks != nil {
		t.Errorf("blocks without buttons = %v", blocks)
	}

	blocks := buildBlocks(telegraph.OutboundMessage{
		Text: "Available commands",
		Buttons: []telegraph.Button{
			{Label: "« Prev", Data: "h:s1:0"},
			{Label: "Next »", Data: "h:s1:2"},
		},
	})
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	section, ok := blocks[0].(*slackapi.SectionBlock)
	if !ok || section.Text.Text != "Available commands" {
		t.Fatalf("section = %#v", blocks[0])
	}
	actions, ok := blocks[1].(*slackapi.ActionBlock)
	if !ok {
		t.Fatalf("actions = %#v", blocks[1])
	}
	if n := len(actions.Elements.ElementSet); n != 2 {
		t.Fatalf("elements = %d, want 2", n)
	}
	btn := actions.Elements.ElementSet[1].(*slackapi.ButtonBlockElement)
	if btn.Value != "h:s1:2" || btn.ActionID != "btn-1" || btn.Text.Text != "Next »" {
		t.Errorf("button = %+v", btn)
	}
}

func TestBuildBlocks_LimitsButtons(t *testing.T) {
	var buttons []telegraph.Button
	for i := 0; i < maxButtons+5; i++ {
		buttons = append(buttons, telegraph.Button{Label: "b", Data: fmt.Sprintf("cmd:%d", i)})
	}
	blocks := buildBlocks(telegraph.OutboundMessage{Buttons: buttons})
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1 (no section without text)", len(blocks))
	}
	if n := len(blocks[0].(*slackapi.ActionBlock).Elements.ElementSet); n != maxButtons {
		t.Errorf("elements = %d, want %d", n, maxButtons)
	}
}

func TestEventToAttachment(t *testing.T) {
	att := eventToAttachment(telegraph.FormattedEvent{
		Title: "The market service is unavailable.",
		Body:  "Try again in a moment.",
		Color: telegraph.ColorError,
		Fields: []telegraph.Field{
			{Name: "Code", Value: "UPSTREAM_FAILURE", Short: true},
		},
	})
	if att.Title != "The market service is unavailable." || att.Text != "Try again in a moment." {
		t.Errorf("title/text = %q/%q", att.Title, att.Text)
	}
	if att.Color != telegraph.ColorError || att.Fallback != att.Title {
		t.Errorf("color/fallback = %q/%q", att.Color, att.Fallback)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "Code" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		text, bot, want string
	}{
		{"<@U1> /help", "U1", "/help"},
		{"  <@U1>   /me ", "U1", "/me"},
		{"/help", "U1", "/help"},
		{"<@U2> hi", "U1", "<@U2> hi"},
		{" text ", "", "text"},
	}
	for _, tt := range tests {
		if got := stripMention(tt.text, tt.bot); got != tt.want {
			t.Errorf("stripMention(%q, %q) = %q, want %q", tt.text, tt.bot, got, tt.want)
		}
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	tests := []struct {
		ts   string
		want int64
	}{
		{"1700000000.000001", 1700000000},
		{"1700000000", 1700000000},
	}
	for _, tt := range tests {
		if got := parseSlackTimestamp(tt.ts).Unix(); got != tt.want {
			t.Errorf("parseSlackTimestamp(%q) = %d, want %d", tt.ts, got, tt.want)
		}
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("expected zero time for invalid timestamp")
	}
}

// --- retryOnRateLimit ---

func TestRetryOnRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		fails     int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success", 0, nil, 1, false},
		{"non rate limit error", 1, fmt.Errorf("boom"), 1, true},
		{"retries and succeeds", 2, &slackapi.RateLimitedError{RetryAfter: time.Millisecond}, 3, false},
		{"exhausts retries", 100, &slackapi.RateLimitedError{RetryAfter: time.Millisecond}, maxRetries + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOnRateLimit(context.Background(), func() error {
				calls++
				if calls <= tt.fails {
					return tt.err
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnRateLimit(ctx, func() error {
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- runWithReconnect ---

// failingSocketClient fails Run() a specified number of times before succeeding.
type failingSocketClient struct {
	mu        sync.Mutex
	runCalls  int
	failCount int
	events    chan socketmode.Event
}

func (f *failingSocketClient) Run() error {
	f.mu.Lock()
	f.runCalls++
	n := f.runCalls
	f.mu.Unlock()
	if n <= f.failCount {
		return fmt.Errorf("connection failed (attempt %d)", n)
	}
	return nil
}

func (f *failingSocketClient) EventsChan() chan socketmode.Event { return f.events }

func (f *failingSocketClient) Ack(req socketmode.Request, payload ...interface{}) {}

func TestRunWithReconnect_RetriesOnError(t *testing.T) {
	socket := &failingSocketClient{failCount: 2, events: make(chan socketmode.Event, 1)}
	a, err := New(AdapterOpts{Client: newMockSlackClient(), Socket: socket})
	if err != nil {
		t.Fatal(err)
	}
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		a.runWithReconnect(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout: runWithReconnect should finish after retries succeed")
	}

	socket.mu.Lock()
	defer socket.mu.Unlock()
	if socket.runCalls != 3 {
		t.Errorf("Run() calls = %d, want 3", socket.runCalls)
	}
}

func TestRunWithReconnect_StopsOnContextCancel(t *testing.T) {
	socket := &failingSocketClient{failCount: 100, events: make(chan socketmode.Event, 1)}
	a, _ := New(AdapterOpts{Client: newMockSlackClient(), Socket: socket})
	a.baseBackoff = time.Millisecond
	a.maxBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.runWithReconnect(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout: runWithReconnect should stop on context cancel")
	}
}

func TestClose_ClosesInbound(t *testing.T) {
	client := newMockSlackClient()
	socket := newMockSocketClient()
	defer close(socket.done)
	a, _ := New(AdapterOpts{Client: client, Socket: socket})
	a.Connect(context.Background())
	ch := listen(t, a)

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("inbound channel not closed")
	}
}
