package websocket

import (
	"context"
	"encoding/json"
	"time"

	"chorus/internal/chat"
	"chorus/internal/notify"
)

var _ chat.Notifier = (*Notifier)(nil)

// Notifier pushes notifications to the clients watching the target room or
// user. Delivery is best effort: nobody listening is not an error.
type Notifier struct {
	hub *Hub
	now func() time.Time
}

// NewNotifier creates a notifier broadcasting through hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub, now: time.Now}
}

func (n *Notifier) push(to chat.Target, env notify.Envelope) error {
	env.RoomID = to.RoomID
	env.UserID = to.UserID
	env.SentAt = n.now()
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(WSMessage{Type: TypeNotify, Room: to.RoomID, User: to.UserID, Data: data})
	if err != nil {
		return err
	}
	var topics []string
	if to.RoomID != "" {
		topics = append(topics, RoomTopic(to.RoomID))
	}
	if to.UserID != "" {
		topics = append(topics, UserTopic(to.UserID))
	}
	if len(topics) == 0 {
		return nil
	}
	n.hub.Broadcast(msg, topics...)
	return nil
}

func (n *Notifier) SendText(_ context.Context, to chat.Target, character, text string) error {
	return n.push(to, notify.Envelope{Kind: notify.KindText, Character: character, Text: text})
}

func (n *Notifier) SendMedia(_ context.Context, to chat.Target, character string, media chat.Media) error {
	return n.push(to, notify.Envelope{Kind: notify.KindMedia, Character: character, Media: &media})
}

func (n *Notifier) SendMenu(_ context.Context, to chat.Target, menu chat.Menu) error {
	return n.push(to, notify.Envelope{Kind: notify.KindMenu, Menu: &menu})
}

func (n *Notifier) SendTyping(_ context.Context, to chat.Target) error {
	return n.push(to, notify.Envelope{Kind: notify.KindTyping})
}
