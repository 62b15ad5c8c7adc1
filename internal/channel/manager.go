package channel

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/config"
)

type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
}

func NewManager(cfg config.ChannelsConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      b,
	}

	if cfg.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Telegram, b)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.WebUI.Enabled {
		ch, err := NewWebUIChannel(cfg.WebUI, gwCfg, b)
		if err != nil {
			return nil, fmt.Errorf("init webui channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

// Register adds a channel directly (for testing)
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) StartAll(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(m.channels))

	for name, ch := range m.channels {
		wg.Add(1)
		go func(name string, ch Channel) {
			defer wg.Done()
			log.Printf("[channel-mgr] starting %s", name)
			if err := ch.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(name, ch)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

func (m *Manager) StopAll() error {
	for name, ch := range m.channels {
		log.Printf("[channel-mgr] stopping %s", name)
		if err := ch.Stop(); err != nil {
			log.Printf("[channel-mgr] error stopping %s: %v", name, err)
		}
	}
	return nil
}

// Send routes one item to its channel. An unknown channel counts as a
// rejection so the caller's failure handling applies uniformly.
func (m *Manager) Send(msg bus.OutboundMessage) bus.SendResult {
	ch, ok := m.channels[msg.Channel]
	if !ok {
		log.Printf("[channel-mgr] no channel %q for send to room %s", msg.Channel, msg.RoomID)
		return bus.SendRejected
	}
	return ch.Send(msg)
}

// Approve routes an invite approval to its channel.
func (m *Manager) Approve(req bus.InviteRequest) error {
	ch, ok := m.channels[req.Channel]
	if !ok {
		return fmt.Errorf("no channel %q", req.Channel)
	}
	return ch.Approve(req)
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Identities lists every connected bot identity across all channels.
func (m *Manager) Identities() []string {
	var ids []string
	for _, ch := range m.channels {
		ids = append(ids, ch.Identities()...)
	}
	return ids
}
