package notify

import (
	"context"

	"github.com/rs/zerolog"

	"chorus/internal/chat"
	"chorus/pkg/logger"
)

var _ chat.Notifier = (*LogNotifier)(nil)

// LogNotifier writes every notification as a structured log line. It is the
// default transport when no bus is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

// NewLogNotifier creates a notifier on the "notify" component logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.Component("notify")}
}

func (n *LogNotifier) event(kind string, to chat.Target) *zerolog.Event {
	return n.log.Info().Str("kind", kind).Str("room", to.RoomID).Str("user", to.UserID)
}

func (n *LogNotifier) SendText(_ context.Context, to chat.Target, character, text string) error {
	n.event(KindText, to).Str("character", character).Str("text", text).Msg("send")
	return nil
}

func (n *LogNotifier) SendMedia(_ context.Context, to chat.Target, character string, media chat.Media) error {
	n.event(KindMedia, to).Str("character", character).Str("media", media.Kind).Str("url", media.URL).Msg("send")
	return nil
}

func (n *LogNotifier) SendMenu(_ context.Context, to chat.Target, menu chat.Menu) error {
	labels := make([]string, 0, len(menu.Items))
	for _, it := range menu.Items {
		labels = append(labels, it.Label)
	}
	n.event(KindMenu, to).Str("header", menu.Header).Strs("items", labels).Msg("send")
	return nil
}

func (n *LogNotifier) SendTyping(_ context.Context, to chat.Target) error {
	n.event(KindTyping, to).Msg("send")
	return nil
}
