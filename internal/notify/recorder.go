package notify

import (
	"context"
	"sync"

	"chorus/internal/chat"
)

var _ chat.Notifier = (*Recorder)(nil)

// Message is one notification captured by a Recorder.
type Message struct {
	Kind      string
	Target    chat.Target
	Character string
	Text      string
	Media     *chat.Media
	Menu      *chat.Menu
}

// Recorder keeps every notification in memory. The REPL prints from it and
// tests assert on it.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// OnSend, when set, is called for every captured message.
	OnSend func(Message)
	// Err, when set, is returned from every call after recording.
	Err error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(m Message) error {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	hook, err := r.OnSend, r.Err
	r.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return err
}

func (r *Recorder) SendText(_ context.Context, to chat.Target, character, text string) error {
	return r.record(Message{Kind: KindText, Target: to, Character: character, Text: text})
}

func (r *Recorder) SendMedia(_ context.Context, to chat.Target, character string, media chat.Media) error {
	return r.record(Message{Kind: KindMedia, Target: to, Character: character, Media: &media})
}

func (r *Recorder) SendMenu(_ context.Context, to chat.Target, menu chat.Menu) error {
	return r.record(Message{Kind: KindMenu, Target: to, Menu: &menu})
}

func (r *Recorder) SendTyping(_ context.Context, to chat.Target) error {
	return r.record(Message{Kind: KindTyping, Target: to})
}

// Messages returns a snapshot of everything recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// OfKind returns the recorded messages of one kind.
func (r *Recorder) OfKind(kind string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Texts returns the text of every recorded text message.
func (r *Recorder) Texts() []string {
	var out []string
	for _, m := range r.OfKind(KindText) {
		out = append(out, m.Text)
	}
	return out
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
