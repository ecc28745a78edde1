package notify

import (
	"context"
	"errors"

	"chorus/internal/chat"
)

var _ chat.Notifier = Multi(nil)

// Multi sends every notification to each notifier in turn. All notifiers
// are tried; their errors are joined.
type Multi []chat.Notifier

func (m Multi) each(fn func(n chat.Notifier) error) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := fn(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendText(ctx context.Context, to chat.Target, character, text string) error {
	return m.each(func(n chat.Notifier) error { return n.SendText(ctx, to, character, text) })
}

func (m Multi) SendMedia(ctx context.Context, to chat.Target, character string, media chat.Media) error {
	return m.each(func(n chat.Notifier) error { return n.SendMedia(ctx, to, character, media) })
}

func (m Multi) SendMenu(ctx context.Context, to chat.Target, menu chat.Menu) error {
	return m.each(func(n chat.Notifier) error { return n.SendMenu(ctx, to, menu) })
}

func (m Multi) SendTyping(ctx context.Context, to chat.Target) error {
	return m.each(func(n chat.Notifier) error { return n.SendTyping(ctx, to) })
}
