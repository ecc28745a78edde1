package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"chorus/internal/chat"
	"chorus/pkg/logger"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "chorus.room"

// Publisher is the part of a NATS connection the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the JSON body published for every notification.
type Envelope struct {
	Kind      string      `json:"kind"`
	RoomID    string      `json:"room_id"`
	UserID    string      `json:"user_id"`
	Character string      `json:"character,omitempty"`
	Text      string      `json:"text,omitempty"`
	Media     *chat.Media `json:"media,omitempty"`
	Menu      *chat.Menu  `json:"menu,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

var _ chat.Notifier = (*NATSNotifier)(nil)

// NATSNotifier publishes notifications on <prefix>.<room>.<kind>.
type NATSNotifier struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	now    func() time.Time
}

// NewNATSNotifier publishes through pub. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSNotifier(pub Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{pub: pub, prefix: prefix, now: time.Now}
}

// DialNATS connects to url and returns a notifier owning the connection.
func DialNATS(url, token, prefix string) (*NATSNotifier, error) {
	log := logger.Component("nats")
	opts := []nats.Option{
		nats.Name("chorus"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := NewNATSNotifier(nc, prefix)
	n.conn = nc
	return n, nil
}

// Subject returns the subject for a notification kind in a room.
func (n *NATSNotifier) Subject(roomID, kind string) string {
	if roomID == "" {
		roomID = "_"
	}
	return n.prefix + "." + roomID + "." + kind
}

func (n *NATSNotifier) publish(env Envelope, to chat.Target) error {
	env.RoomID = to.RoomID
	env.UserID = to.UserID
	env.SentAt = n.now()
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", env.Kind, err)
	}
	if err := n.pub.Publish(n.Subject(to.RoomID, env.Kind), payload); err != nil {
		return fmt.Errorf("publish %s notification: %w", env.Kind, err)
	}
	return nil
}

func (n *NATSNotifier) SendText(_ context.Context, to chat.Target, character, text string) error {
	return n.publish(Envelope{Kind: KindText, Character: character, Text: text}, to)
}

func (n *NATSNotifier) SendMedia(_ context.Context, to chat.Target, character string, media chat.Media) error {
	return n.publish(Envelope{Kind: KindMedia, Character: character, Media: &media}, to)
}

func (n *NATSNotifier) SendMenu(_ context.Context, to chat.Target, menu chat.Menu) error {
	return n.publish(Envelope{Kind: KindMenu, Menu: &menu}, to)
}

func (n *NATSNotifier) SendTyping(_ context.Context, to chat.Target) error {
	return n.publish(Envelope{Kind: KindTyping}, to)
}

// Close drains the connection opened by DialNATS.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
