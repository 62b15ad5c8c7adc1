package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/config"
	"github.com/stellarlinkco/parrot/internal/normalize"
)

const telegramChannelName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// tgAccount is one connected bot identity. Several identities commonly sit
// in the same group, which is exactly why the engine dedups message ids.
type tgAccount struct {
	id       string
	username string
	bot      TelegramBot
}

type TelegramChannel struct {
	BaseChannel
	tokens     []string
	proxy      string
	accounts   []*tgAccount
	httpClient *http.Client
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("at least one telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		tokens:      cfg.Tokens,
		proxy:       cfg.Proxy,
		httpClient:  http.DefaultClient,
		botFactory:  factory,
	}
	return ch, nil
}

func (t *TelegramChannel) initBots() error {
	var client *http.Client
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	} else {
		client = http.DefaultClient
	}
	t.httpClient = client

	for _, token := range t.tokens {
		bot, err := t.botFactory(token, tgbotapi.APIEndpoint, client)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		self := bot.GetSelf()
		acc := &tgAccount{
			id:       strconv.FormatInt(self.ID, 10),
			username: self.UserName,
			bot:      bot,
		}
		t.accounts = append(t.accounts, acc)
		log.Printf("[telegram] authorized as @%s (%s)", acc.username, acc.id)
	}
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBots(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	for _, acc := range t.accounts {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 30
		u.AllowedUpdates = []string{"message", "chat_join_request"}
		updates := acc.bot.GetUpdatesChan(u)

		go func(acc *tgAccount, updates tgbotapi.UpdatesChannel) {
			for {
				select {
				case update := <-updates:
					t.handleUpdate(acc, update)
				case <-ctx.Done():
					return
				}
			}
		}(acc, updates)
	}

	log.Printf("[telegram] polling started for %d account(s)", len(t.accounts))
	return nil
}

func (t *TelegramChannel) handleUpdate(acc *tgAccount, update tgbotapi.Update) {
	if update.ChatJoinRequest != nil {
		t.handleJoinRequest(acc, update.ChatJoinRequest)
		return
	}
	if update.Message != nil {
		t.handleMessage(acc, update.Message)
	}
}

func (t *TelegramChannel) handleMessage(acc *tgAccount, msg *tgbotapi.Message) {
	if msg.From == nil || !(msg.Chat.IsGroup() || msg.Chat.IsSuperGroup()) {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	raw := msg.Text
	if raw == "" && msg.Caption != "" {
		raw = msg.Caption
	}
	if raw == "" {
		return
	}

	ev := bus.ChatEvent{
		Channel:   telegramChannelName,
		RoomID:    strconv.FormatInt(msg.Chat.ID, 10),
		SpeakerID: senderID,
		BotID:     acc.id,
		MessageID: strconv.Itoa(msg.MessageID),
		RawText:   raw,
		Text:      normalize.Normalize(raw),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if acc.username != "" && strings.Contains(raw, "@"+acc.username) {
		ev.ToBot = true
	}
	if reply := msg.ReplyToMessage; reply != nil {
		if reply.From != nil && strconv.FormatInt(reply.From.ID, 10) == acc.id {
			ev.ToBot = true
		}
		replyRaw := reply.Text
		if replyRaw == "" {
			replyRaw = reply.Caption
		}
		ev.ReplyText = normalize.Normalize(replyRaw)
	}

	t.Bus().Inbound <- bus.InboundEvent{Kind: bus.KindMessage, Message: &ev}
}

func (t *TelegramChannel) handleJoinRequest(acc *tgAccount, req *tgbotapi.ChatJoinRequest) {
	t.Bus().Inbound <- bus.InboundEvent{
		Kind: bus.KindInvite,
		Invite: &bus.InviteRequest{
			Channel:     telegramChannelName,
			RoomID:      strconv.FormatInt(req.Chat.ID, 10),
			RequesterID: strconv.FormatInt(req.From.ID, 10),
			BotID:       acc.id,
			Kind:        "invite",
		},
	}
}

func (t *TelegramChannel) account(botID string) *tgAccount {
	for _, acc := range t.accounts {
		if acc.id == botID {
			return acc
		}
	}
	if len(t.accounts) > 0 {
		return t.accounts[0]
	}
	return nil
}

// Send delivers one item through the selected bot identity. An API error is
// a rejection; the engine decides what that means.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) bus.SendResult {
	acc := t.account(msg.BotID)
	if acc == nil {
		log.Printf("[telegram] no account for send to room %s", msg.RoomID)
		return bus.SendRejected
	}

	chatID, err := strconv.ParseInt(msg.RoomID, 10, 64)
	if err != nil {
		log.Printf("[telegram] invalid room id %q: %v", msg.RoomID, err)
		return bus.SendRejected
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
	if _, err := acc.bot.Send(tgMsg); err != nil {
		log.Printf("[telegram] send to room %s failed: %v", msg.RoomID, err)
		return bus.SendRejected
	}
	return bus.SendOK
}

func (t *TelegramChannel) Approve(req bus.InviteRequest) error {
	acc := t.account(req.BotID)
	if acc == nil {
		return fmt.Errorf("no account %q", req.BotID)
	}

	chatID, err := strconv.ParseInt(req.RoomID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid room id %q: %w", req.RoomID, err)
	}
	userID, err := strconv.ParseInt(req.RequesterID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid requester id %q: %w", req.RequesterID, err)
	}

	_, err = acc.bot.Request(tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userID,
	})
	if err != nil {
		return fmt.Errorf("approve join request: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Identities() []string {
	ids := make([]string, 0, len(t.accounts))
	for _, acc := range t.accounts {
		ids = append(ids, acc.id)
	}
	return ids
}

// SetAccounts sets connected accounts directly (for testing)
func (t *TelegramChannel) SetAccounts(bots map[string]TelegramBot) {
	t.accounts = t.accounts[:0]
	for id, bot := range bots {
		t.accounts = append(t.accounts, &tgAccount{id: id, bot: bot})
	}
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	for _, acc := range t.accounts {
		acc.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}
