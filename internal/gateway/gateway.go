package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stellarlinkco/parrot/internal/accounts"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/channel"
	"github.com/stellarlinkco/parrot/internal/config"
	"github.com/stellarlinkco/parrot/internal/cooldown"
	"github.com/stellarlinkco/parrot/internal/corpus"
	"github.com/stellarlinkco/parrot/internal/cron"
	"github.com/stellarlinkco/parrot/internal/dedup"
	"github.com/stellarlinkco/parrot/internal/repeater"
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
}

// Gateway wires the stores, the decision engine, the scheduler and the
// channels together and runs the inbound event loop.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	channels *channel.Manager
	cron     *cron.Service

	corpus   *corpus.Store
	acct     *accounts.Store
	decider  *repeater.Decider
	runner   *repeater.Runner
	speaker  *repeater.Speaker
	presence *repeater.Presence

	handlers   map[bus.EventKind]func(bus.InboundEvent)
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	store, err := corpus.Open(filepath.Join(cfg.DataDir, "corpus.db"), cfg.Engine.RetentionDays, cfg.Engine.MinSpeakers)
	if err != nil {
		return nil, fmt.Errorf("open corpus store: %w", err)
	}
	g.corpus = store

	acct, err := accounts.Open(filepath.Join(cfg.DataDir, "accounts.db"), time.Duration(cfg.Engine.CooldownSeconds)*time.Second)
	if err != nil {
		_ = g.corpus.Close()
		return nil, fmt.Errorf("open accounts store: %w", err)
	}
	g.acct = acct

	ledger, err := dedup.NewLedger(cfg.Engine.DedupRooms, cfg.Engine.DedupWindow, cfg.Engine.DedupTrim)
	if err != nil {
		_ = g.acct.Close()
		_ = g.corpus.Close()
		return nil, fmt.Errorf("create dedup ledger: %w", err)
	}

	gate := cooldown.NewGate()
	g.presence = repeater.NewPresence()
	g.decider = repeater.NewDecider(ledger, g.corpus, gate, g.acct)

	// Channels (with gateway config for WebUI port)
	chMgr, err := channel.NewManager(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		_ = g.acct.Close()
		_ = g.corpus.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.runner = repeater.NewRunner(gate, g.corpus, g.acct, g.bus, g.channels.Send)
	g.speaker = repeater.NewSpeaker(g.corpus, gate, g.acct, g.presence, g.runner)

	// Cron drives the two background engine actions.
	g.cron = cron.NewService(filepath.Join(cfg.DataDir, "cron", "jobs.json"))
	g.cron.OnJob = func(job cron.Job) error {
		switch job.Payload.Kind {
		case "speak":
			g.speaker.Tick()
			return nil
		case "prune":
			removed := g.corpus.Prune(time.Now())
			log.Printf("[gateway] corpus prune removed %d entries", removed)
			return nil
		default:
			return fmt.Errorf("unknown job kind %q", job.Payload.Kind)
		}
	}

	g.handlers = map[bus.EventKind]func(bus.InboundEvent){
		bus.KindMessage: g.handleMessage,
		bus.KindInvite:  g.handleInvite,
	}

	// Signal channel for testing
	g.signalChan = opts.SignalChan

	return g, nil
}

func (g *Gateway) ensureEngineJobs() error {
	everyMs := int64(g.cfg.Engine.SpeakEverySec) * 1000
	if err := g.cron.EnsureJob("speak_tick", cron.Schedule{Kind: "every", EveryMs: everyMs}, cron.Payload{Kind: "speak"}); err != nil {
		return err
	}
	return g.cron.EnsureJob("corpus_prune", cron.Schedule{Kind: "cron", Expr: g.cfg.Engine.PruneSpec}, cron.Payload{Kind: "prune"})
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	// Connected bot identities never feed the corpus with their own lines.
	for _, id := range g.channels.Identities() {
		g.corpus.MarkOwn(id)
	}

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureEngineJobs(); err != nil {
		log.Printf("[gateway] ensure engine jobs warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case ev := <-g.bus.Inbound:
			if handler, ok := g.handlers[ev.Kind]; ok {
				// One goroutine per event: a paced send sequence in one
				// room must not hold up traffic from other rooms.
				go handler(ev)
			} else {
				log.Printf("[gateway] no handler for event kind %q", ev.Kind)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleMessage(inbound bus.InboundEvent) {
	if inbound.Message == nil {
		return
	}
	ev := *inbound.Message

	if g.acct.RoomBanned(ev.RoomID) || g.acct.UserBanned(ev.SpeakerID) {
		return
	}

	g.presence.Observe(ev.Channel, ev.RoomID, ev.BotID)

	// Moderation commands bypass the engine entirely.
	if ev.ToBot && g.acct.IsAdmin(ev.BotID, ev.SpeakerID) {
		if target, ok := repeater.BanReplyTarget(ev); ok {
			g.decider.BanText(ev.RoomID, ev.BotID, target, "admin:"+ev.SpeakerID)
			return
		}
		if repeater.IsBanLatest(ev) {
			g.decider.BanText(ev.RoomID, ev.BotID, "", "admin:"+ev.SpeakerID)
			return
		}
	}

	items := g.decider.OnEvent(ev)
	if len(items) == 0 {
		return
	}
	g.runner.Run(ev.Channel, ev.RoomID, ev.BotID, repeater.ActionRepeat, items)
}

func (g *Gateway) handleInvite(inbound bus.InboundEvent) {
	if inbound.Invite == nil {
		return
	}
	req := *inbound.Invite

	// Only invite-style requests qualify for auto-accept; plain join
	// requests are left for a human to handle.
	if req.Kind != "invite" {
		log.Printf("[gateway] ignoring %s request for bot %s in room %s from %s", req.Kind, req.BotID, req.RoomID, req.RequesterID)
		return
	}

	approve := g.acct.IsAdmin(req.BotID, req.RequesterID)
	if !approve {
		approve = g.acct.AutoAccept(req.BotID) &&
			!g.acct.RoomBanned(req.RoomID) &&
			!g.acct.UserBanned(req.RequesterID)
	}
	if !approve {
		log.Printf("[gateway] ignoring invite for bot %s in room %s from %s", req.BotID, req.RoomID, req.RequesterID)
		return
	}

	if err := g.channels.Approve(req); err != nil {
		log.Printf("[gateway] approve invite for room %s failed: %v", req.RoomID, err)
		return
	}
	log.Printf("[gateway] approved invite for bot %s in room %s from %s", req.BotID, req.RoomID, req.RequesterID)
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.acct.Close(); err != nil {
		log.Printf("[gateway] close accounts store: %v", err)
	}
	if err := g.corpus.Close(); err != nil {
		log.Printf("[gateway] close corpus store: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
