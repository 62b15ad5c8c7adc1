package gateway

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/channel"
	"github.com/stellarlinkco/parrot/internal/config"
	"github.com/stellarlinkco/parrot/internal/cron"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := NewWithOptions(testConfig(t), Options{})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown() })
	return g
}

// mockSendChannel implements channel.Channel and records deliveries.
type mockSendChannel struct {
	name     string
	sent     chan bus.OutboundMessage
	sendRes  bus.SendResult
	approved chan bus.InviteRequest
}

func newMockSendChannel(name string) *mockSendChannel {
	return &mockSendChannel{
		name:     name,
		sent:     make(chan bus.OutboundMessage, 16),
		approved: make(chan bus.InviteRequest, 16),
	}
}

func (m *mockSendChannel) Name() string { return m.name }

func (m *mockSendChannel) Start(ctx context.Context) error { return nil }

func (m *mockSendChannel) Stop() error { return nil }

func (m *mockSendChannel) Identities() []string { return nil }

func (m *mockSendChannel) Send(msg bus.OutboundMessage) bus.SendResult {
	m.sent <- msg
	return m.sendRes
}

func (m *mockSendChannel) Approve(req bus.InviteRequest) error {
	m.approved <- req
	return nil
}

func TestNewWithOptions_CreatesStores(t *testing.T) {
	cfg := testConfig(t)
	g, err := NewWithOptions(cfg, Options{})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	defer g.Shutdown()

	if _, err := os.Stat(filepath.Join(cfg.DataDir, "corpus.db")); err != nil {
		t.Errorf("corpus.db not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "accounts.db")); err != nil {
		t.Errorf("accounts.db not created: %v", err)
	}
}

func TestGateway_HandleMessage_Echo(t *testing.T) {
	g := newTestGateway(t)

	mock := newMockSendChannel("mock")
	g.channels.Register(mock)
	g.runner.SetPacing(func(time.Duration) {}, nil)

	msg := func(id, speaker, text string) bus.InboundEvent {
		return bus.InboundEvent{Kind: bus.KindMessage, Message: &bus.ChatEvent{
			Channel:   "mock",
			RoomID:    "room-1",
			SpeakerID: speaker,
			BotID:     "bot-1",
			MessageID: id,
			RawText:   text,
			Text:      text,
			Timestamp: time.Now(),
		}}
	}

	g.handleMessage(msg("m1", "alice", "完了又有新bug"))
	select {
	case sent := <-mock.sent:
		t.Fatalf("first speaker should not trigger a send, got %+v", sent)
	case <-time.After(50 * time.Millisecond):
	}

	g.handleMessage(msg("m2", "bob", "完了又有新bug"))
	select {
	case sent := <-mock.sent:
		if sent.Text != "完了又有新bug" {
			t.Errorf("sent text = %q, want 完了又有新bug", sent.Text)
		}
		if sent.RoomID != "room-1" || sent.BotID != "bot-1" {
			t.Errorf("sent = %+v", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected echo after second speaker")
	}
}

func TestGateway_HandleMessage_RoomBanned(t *testing.T) {
	g := newTestGateway(t)

	if err := g.acct.BanRoom("room-1"); err != nil {
		t.Fatalf("BanRoom: %v", err)
	}

	g.handleMessage(bus.InboundEvent{Kind: bus.KindMessage, Message: &bus.ChatEvent{
		Channel: "mock", RoomID: "room-1", SpeakerID: "alice", BotID: "bot-1",
		MessageID: "m1", RawText: "hello", Text: "hello", Timestamp: time.Now(),
	}})

	entries, _ := g.corpus.Stats()
	if entries != 0 {
		t.Errorf("banned room should not be learned from, got %d entries", entries)
	}
}

func TestGateway_HandleMessage_AdminBanReply(t *testing.T) {
	g := newTestGateway(t)

	if err := g.acct.AddAdmin("bot-1", "admin-1"); err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}

	g.handleMessage(bus.InboundEvent{Kind: bus.KindMessage, Message: &bus.ChatEvent{
		Channel: "mock", RoomID: "room-1", SpeakerID: "admin-1", BotID: "bot-1",
		MessageID: "m1", RawText: "不可以", Text: "不可以",
		ToBot: true, ReplyText: "bad line", Timestamp: time.Now(),
	}})

	if !g.corpus.IsBanned("room-1", "bot-1", "bad line") {
		t.Error("reply target should be banned")
	}
}

func TestGateway_HandleMessage_NonAdminBanIgnored(t *testing.T) {
	g := newTestGateway(t)

	g.handleMessage(bus.InboundEvent{Kind: bus.KindMessage, Message: &bus.ChatEvent{
		Channel: "mock", RoomID: "room-1", SpeakerID: "rando", BotID: "bot-1",
		MessageID: "m1", RawText: "不可以", Text: "不可以",
		ToBot: true, ReplyText: "bad line", Timestamp: time.Now(),
	}})

	if g.corpus.IsBanned("room-1", "bot-1", "bad line") {
		t.Error("non-admin ban command should be ignored")
	}
}

func TestGateway_HandleInvite_AutoAccept(t *testing.T) {
	g := newTestGateway(t)

	mock := newMockSendChannel("mock")
	g.channels.Register(mock)

	if err := g.acct.SetAutoAccept("bot-1", true); err != nil {
		t.Fatalf("SetAutoAccept: %v", err)
	}

	g.handleInvite(bus.InboundEvent{Kind: bus.KindInvite, Invite: &bus.InviteRequest{
		Channel: "mock", RoomID: "room-1", RequesterID: "alice", BotID: "bot-1", Kind: "invite",
	}})

	select {
	case req := <-mock.approved:
		if req.RoomID != "room-1" || req.RequesterID != "alice" {
			t.Errorf("approved = %+v", req)
		}
	default:
		t.Fatal("expected invite approval")
	}
}

func TestGateway_HandleInvite_Denied(t *testing.T) {
	g := newTestGateway(t)

	mock := newMockSendChannel("mock")
	g.channels.Register(mock)

	// No auto-accept, requester is not an admin.
	g.handleInvite(bus.InboundEvent{Kind: bus.KindInvite, Invite: &bus.InviteRequest{
		Channel: "mock", RoomID: "room-1", RequesterID: "alice", BotID: "bot-1", Kind: "invite",
	}})

	select {
	case req := <-mock.approved:
		t.Fatalf("invite should not be approved, got %+v", req)
	default:
	}
}

func TestGateway_HandleInvite_JoinKindDenied(t *testing.T) {
	g := newTestGateway(t)

	mock := newMockSendChannel("mock")
	g.channels.Register(mock)

	if err := g.acct.SetAutoAccept("bot-1", true); err != nil {
		t.Fatalf("SetAutoAccept: %v", err)
	}

	// Auto-accept covers invites only; a plain join request stays pending.
	g.handleInvite(bus.InboundEvent{Kind: bus.KindInvite, Invite: &bus.InviteRequest{
		Channel: "mock", RoomID: "room-1", RequesterID: "alice", BotID: "bot-1", Kind: "join",
	}})

	select {
	case req := <-mock.approved:
		t.Fatalf("join request should not be auto-approved, got %+v", req)
	default:
	}
}

func TestGateway_HandleInvite_BannedUserDenied(t *testing.T) {
	g := newTestGateway(t)

	mock := newMockSendChannel("mock")
	g.channels.Register(mock)

	if err := g.acct.SetAutoAccept("bot-1", true); err != nil {
		t.Fatal(err)
	}
	if err := g.acct.BanUser("alice"); err != nil {
		t.Fatal(err)
	}

	g.handleInvite(bus.InboundEvent{Kind: bus.KindInvite, Invite: &bus.InviteRequest{
		Channel: "mock", RoomID: "room-1", RequesterID: "alice", BotID: "bot-1", Kind: "invite",
	}})

	select {
	case <-mock.approved:
		t.Fatal("banned user's invite should not be approved")
	default:
	}
}

func TestGateway_EnsureEngineJobs(t *testing.T) {
	g := newTestGateway(t)

	if err := g.ensureEngineJobs(); err != nil {
		t.Fatalf("ensureEngineJobs: %v", err)
	}
	// Idempotent.
	if err := g.ensureEngineJobs(); err != nil {
		t.Fatalf("ensureEngineJobs second call: %v", err)
	}

	jobs := g.cron.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}

	kinds := map[string]bool{}
	for _, job := range jobs {
		kinds[job.Payload.Kind] = true
	}
	if !kinds["speak"] || !kinds["prune"] {
		t.Errorf("job kinds = %v, want speak and prune", kinds)
	}
}

func TestGateway_CronOnJob(t *testing.T) {
	g := newTestGateway(t)

	if err := g.cron.OnJob(cron.NewJob("speak", cron.Schedule{Kind: "every", EveryMs: 5000}, cron.Payload{Kind: "speak"})); err != nil {
		t.Errorf("speak job error: %v", err)
	}
	if err := g.cron.OnJob(cron.NewJob("prune", cron.Schedule{Kind: "cron", Expr: "0 0 4 * * *"}, cron.Payload{Kind: "prune"})); err != nil {
		t.Errorf("prune job error: %v", err)
	}
	if err := g.cron.OnJob(cron.NewJob("bogus", cron.Schedule{}, cron.Payload{Kind: "bogus"})); err == nil {
		t.Error("unknown job kind should error")
	}
}

func TestGateway_ProcessLoop_Dispatch(t *testing.T) {
	g := newTestGateway(t)

	if err := g.acct.AddAdmin("bot-1", "admin-1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- bus.InboundEvent{Kind: bus.KindMessage, Message: &bus.ChatEvent{
		Channel: "mock", RoomID: "room-1", SpeakerID: "admin-1", BotID: "bot-1",
		MessageID: "m1", RawText: "不可以", Text: "不可以",
		ToBot: true, ReplyText: "bad line", Timestamp: time.Now(),
	}}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.corpus.IsBanned("room-1", "bot-1", "bad line") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("event was not dispatched to the message handler")
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	cfg := testConfig(t)

	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, Options{SignalChan: sigCh})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()

	time.Sleep(200 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not shut down")
	}
}

func TestGateway_Shutdown_Twice(t *testing.T) {
	g, err := NewWithOptions(testConfig(t), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Shutdown(); err != nil {
		t.Errorf("first Shutdown: %v", err)
	}
	// Second shutdown logs close errors but must not panic.
	_ = g.Shutdown()
}

var _ channel.Channel = (*mockSendChannel)(nil)
