package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/parrot/internal/bus"
	"github.com/stellarlinkco/parrot/internal/config"
	"github.com/stellarlinkco/parrot/internal/normalize"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

// wsMessage is the wire format of the monitor: operators watch the engine's
// sends and can inject synthetic room events for manual testing.
type wsMessage struct {
	Type    string `json:"type"` // "event" in, "sent" out
	RoomID  string `json:"roomId,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	BotID   string `json:"botId,omitempty"`
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebUIChannel struct {
	BaseChannel
	port    int
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		port:        port,
	}
	return ch, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)

	w.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", w.port),
		Handler: mux,
	}

	go func() {
		log.Printf("[webui] listening on :%d", w.port)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webui] server error: %v", err)
		}
	}()

	// Mirror every send to connected monitors.
	w.Bus().SubscribeOutbound(webUIChannelName, func(msg bus.OutboundMessage) {
		w.broadcast(wsMessage{
			Type:    "sent",
			RoomID:  msg.RoomID,
			BotID:   msg.BotID,
			Content: msg.Text,
		})
	})

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	log.Printf("[webui] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "event" || msg.Content == "" || msg.RoomID == "" {
			continue
		}

		speaker := msg.Speaker
		if speaker == "" {
			speaker = clientID
		}
		botID := msg.BotID
		if botID == "" {
			botID = webUIChannelName
		}

		ev := bus.ChatEvent{
			Channel:   webUIChannelName,
			RoomID:    msg.RoomID,
			SpeakerID: speaker,
			BotID:     botID,
			RawText:   msg.Content,
			Text:      normalize.Normalize(msg.Content),
			Timestamp: time.Now(),
		}
		w.Bus().Inbound <- bus.InboundEvent{Kind: bus.KindMessage, Message: &ev}
	}
}

func (w *WebUIChannel) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.conn.Write(ctx, websocket.MessageText, data)
		return true
	})
}

// Send accepts items addressed to the webui channel itself (sends triggered
// by injected events land here). The outbound mirror shows the frame to
// monitors; there is no rejection path on this channel.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) bus.SendResult {
	return bus.SendOK
}

// Approve is a no-op: the monitor has no join requests.
func (w *WebUIChannel) Approve(req bus.InviteRequest) error {
	return nil
}

func (w *WebUIChannel) Identities() []string {
	return []string{webUIChannelName}
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
