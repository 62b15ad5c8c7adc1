package bus

import "time"

type EventKind string

const (
	KindMessage EventKind = "message"
	KindInvite  EventKind = "invite"
)

// ChatEvent is one inbound group message as observed by one bot identity.
// Text is the normalized form used as the learning/matching key; RawText is
// what the speaker actually sent.
type ChatEvent struct {
	Channel   string
	RoomID    string
	SpeakerID string
	BotID     string
	MessageID string
	RawText   string
	Text      string
	Timestamp time.Time

	// ToBot is set when the message addresses the receiving bot directly
	// (mention or reply). ReplyText carries the normalized text of the
	// message being replied to, if any.
	ToBot     bool
	ReplyText string
}

// InviteRequest is a request for a bot identity to join a room.
type InviteRequest struct {
	Channel     string
	RoomID      string
	RequesterID string
	BotID       string
	Kind        string // "invite" or "join"
}

// InboundEvent is the envelope the dispatch table switches on.
type InboundEvent struct {
	Kind    EventKind
	Message *ChatEvent
	Invite  *InviteRequest
}

// OutboundMessage is a single send item routed to a channel. BotID selects
// which connected identity performs the send.
type OutboundMessage struct {
	Channel string
	RoomID  string
	BotID   string
	Text    string
}

// SendResult is the synchronous outcome of one delivery attempt. It replaces
// exception-style control flow: the caller branches on the value.
type SendResult int

const (
	SendOK SendResult = iota
	SendRejected
)

