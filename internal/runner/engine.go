// Package runner is the entry point of a conversation turn. The Engine
// validates an inbound message, runs directives, loads the room and its
// history, then fans the turn out to every character of the room and
// applies the shared side effects once all of them are done.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/compaction"
	"chorus/internal/directive"
	"chorus/internal/dispatch"
	"chorus/internal/i18n"
	"chorus/internal/prompt"
	"chorus/internal/room"
	"chorus/pkg/logger"
)

// Dispatcher runs one character's turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, rc *chat.RunContext, character string) (*chat.RunResult, error)
}

// Compactor summarizes long histories.
type Compactor interface {
	NeedsCompaction(records []*chat.Record) bool
	Compact(ctx context.Context, rc *chat.RunContext) ([]*chat.Record, error)
}

var (
	_ Dispatcher = (*dispatch.Dispatcher)(nil)
	_ Compactor  = (*compaction.Compactor)(nil)
)

// Outcome says how a turn ended.
type Outcome string

const (
	OutcomeReplied           Outcome = "replied"
	OutcomeNoReply           Outcome = "no_reply"
	OutcomeStale             Outcome = "stale"
	OutcomeRejected          Outcome = "rejected"
	OutcomeDirective         Outcome = "directive"
	OutcomeNobodyHere        Outcome = "nobody_here"
	OutcomeNothingToContinue Outcome = "nothing_to_continue"
)

// Turn reports what handling one message did.
type Turn struct {
	RoomID   string            `json:"room_id,omitempty"`
	Outcome  Outcome           `json:"outcome"`
	Command  string            `json:"command,omitempty"`
	RecordID string            `json:"record_id,omitempty"`
	Results  []*chat.RunResult `json:"results,omitempty"`
}

// Engine handles inbound messages. It is safe for concurrent use.
type Engine struct {
	config     Config
	store      chat.Store
	registry   *character.Registry
	rooms      *room.Service
	directives *directive.Executor
	dispatcher Dispatcher
	notifier   chat.Notifier
	texts      chat.Texts

	// Optional components
	compactor   Compactor
	transcriber chat.Transcriber
	recognizer  chat.ImageRecognizer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates an Engine.
func New(config Config, store chat.Store, registry *character.Registry, dispatcher Dispatcher, notifier chat.Notifier, texts chat.Texts) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Unavailable == nil {
		config.Unavailable = directive.DefaultUnavailable
	}
	rooms := room.NewService(store, registry, config.MaxCharacters)
	limits := directive.Limits{
		FreeQuota:   config.FreeQuota,
		MemberQuota: config.MemberQuota,
		RenewLink:   config.RenewLink,
	}
	return &Engine{
		config:     config,
		store:      store,
		registry:   registry,
		rooms:      rooms,
		directives: directive.NewExecutor(rooms, store, notifier, texts, registry, limits),
		dispatcher: dispatcher,
		notifier:   notifier,
		texts:      texts,
		now:        time.Now,
		sleep:      sleep,
	}, nil
}

// SetCompactor enables history compaction before dispatching.
func (e *Engine) SetCompactor(c Compactor) {
	e.compactor = c
}

// SetTranscriber enables voice messages.
func (e *Engine) SetTranscriber(t chat.Transcriber) {
	e.transcriber = t
}

// SetImageRecognizer enables describing images for text-only characters.
func (e *Engine) SetImageRecognizer(r chat.ImageRecognizer) {
	e.recognizer = r
}

// Rooms returns the room service.
func (e *Engine) Rooms() *room.Service {
	return e.rooms
}

// HandleMessage runs one inbound message through the whole turn: input
// checks, directives, room and quota, media resolution, and the fan-out to
// the room's characters. Failures of single characters are not errors.
func (e *Engine) HandleMessage(ctx context.Context, entry chat.Entry) (*Turn, error) {
	if err := normalizeEntry(&entry); err != nil {
		return nil, err
	}
	user, err := e.user(ctx, entry)
	if err != nil {
		return nil, err
	}

	if entry.MsgType == chat.MsgText && utf8.RuneCountInString(entry.Text) > e.config.MaxInputRunes {
		e.sendText(ctx, chat.Target{UserID: user.ID}, e.t(user, "too_many_words", i18n.Vars{"maxWords": e.config.MaxInputRunes}))
		return &Turn{Outcome: OutcomeRejected}, nil
	}

	cmd := directive.Command{Kind: directive.None}
	if entry.MsgType == chat.MsgText {
		cmd = directive.Classify(entry.Text, e.candidates(), e.config.Unavailable)
	}
	if cmd.Kind.Terminal() {
		if err := e.directives.Execute(ctx, cmd, user); err != nil {
			return nil, fmt.Errorf("directive %s: %w", cmd.Kind, err)
		}
		return &Turn{Outcome: OutcomeDirective, Command: cmd.Kind.String()}, nil
	}

	r, err := e.rooms.GetOrCreate(ctx, user.ID, "")
	if err != nil {
		return nil, err
	}
	if !e.hasQuota(user) {
		e.warnQuota(ctx, user, r)
		return &Turn{RoomID: r.ID, Outcome: OutcomeRejected}, nil
	}
	if e.nobodyHere(ctx, user, r) {
		return &Turn{RoomID: r.ID, Outcome: OutcomeNobodyHere}, nil
	}
	if cmd.Kind == directive.Continue {
		return e.continueRoom(ctx, user, r, cmd.Character)
	}

	if err := e.resolveMedia(ctx, &entry); err != nil {
		return nil, err
	}

	trigger := &chat.Record{
		RoomID:      r.ID,
		UserID:      user.ID,
		Kind:        chat.KindUser,
		MsgType:     entry.MsgType,
		Text:        entry.Text,
		ImageURL:    entry.ImageURL,
		AudioURL:    entry.AudioURL,
		AudioBase64: entry.AudioBase64,
		Location:    entry.Location,
		CreatedAt:   entry.ReceivedAt,
	}
	if err := e.store.AppendRecord(ctx, trigger); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	records, err := e.store.LatestRecords(ctx, r.ID, e.config.WindowRecords)
	if err != nil {
		return nil, fmt.Errorf("latest records: %w", err)
	}
	prompt.DowngradeImages(records, e.t(user, "image_recognition", nil), e.now())

	rc := &chat.RunContext{
		Room:      r,
		User:      user,
		Trigger:   trigger,
		Records:   records,
		VoiceMode: entry.MsgType == chat.MsgVoice,
	}
	turn := e.orchestrate(ctx, rc, entry.MsgType == chat.MsgImage)
	turn.RecordID = trigger.ID
	return turn, nil
}

// normalizeEntry rejects entries without the content their type needs.
func normalizeEntry(entry *chat.Entry) error {
	if entry.UserID == "" {
		return fmt.Errorf("%w: missing user", ErrEmptyMessage)
	}
	if entry.MsgType == "" {
		entry.MsgType = chat.MsgText
	}
	entry.Text = strings.TrimSpace(entry.Text)

	var ok bool
	switch entry.MsgType {
	case chat.MsgText:
		ok = entry.Text != ""
	case chat.MsgImage:
		ok = entry.ImageURL != ""
	case chat.MsgVoice:
		ok = entry.AudioURL != "" || entry.Text != ""
	case chat.MsgLocation:
		ok = entry.Location != nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrEmptyMessage, entry.MsgType)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrEmptyMessage, entry.MsgType)
	}
	return nil
}

// user loads the sender, creating the user on first contact.
func (e *Engine) user(ctx context.Context, entry chat.Entry) (*chat.User, error) {
	u, err := e.store.GetUser(ctx, entry.UserID)
	if errors.Is(err, chat.ErrNotFound) {
		u = &chat.User{ID: entry.UserID, Locale: entry.Locale, Timezone: entry.Timezone}
		if u.Locale == "" {
			u.Locale = e.config.Locale
		}
		if err := e.store.SaveUser(ctx, u); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u.Locale == "" {
		u.Locale = e.config.Locale
	}
	return u, nil
}

// candidates lists the characters directives may name.
func (e *Engine) candidates() []directive.Candidate {
	return lo.FilterMap(e.registry.Characters(), func(c string, _ int) (directive.Candidate, bool) {
		p, ok := e.registry.Primary(c)
		return directive.Candidate{Character: c, Name: p.Name, Alias: p.Alias}, ok
	})
}

// resolveMedia turns a voice message into text, and describes an image
// when a recognizer is configured. A failed description is not fatal.
func (e *Engine) resolveMedia(ctx context.Context, entry *chat.Entry) error {
	switch {
	case entry.MsgType == chat.MsgVoice && entry.Text == "":
		if e.transcriber == nil {
			return ErrNoTranscriber
		}
		text, err := e.transcriber.Transcribe(ctx, entry.AudioURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTranscription, err)
		}
		if text = strings.TrimSpace(text); text == "" {
			return ErrTranscription
		}
		entry.Text = text
	case entry.MsgType == chat.MsgImage && entry.Text == "" && e.recognizer != nil:
		text, err := e.recognizer.Describe(ctx, entry.ImageURL)
		if err != nil {
			logger.Warn().Err(err).Str("user", entry.UserID).Msg("runner: image not described")
			return nil
		}
		entry.Text = strings.TrimSpace(text)
	}
	return nil
}

func (e *Engine) t(user *chat.User, key string, vars i18n.Vars) string {
	return e.texts.T(user.Locale, key, vars)
}

func (e *Engine) sendText(ctx context.Context, to chat.Target, text string) {
	if err := e.notifier.SendText(ctx, to, "", text); err != nil {
		logger.Warn().Err(err).Str("user", to.UserID).Msg("runner: send text failed")
	}
}

func (e *Engine) sendMenu(ctx context.Context, to chat.Target, menu chat.Menu) {
	if err := e.notifier.SendMenu(ctx, to, menu); err != nil {
		logger.Warn().Err(err).Str("user", to.UserID).Msg("runner: send menu failed")
	}
}

func target(user *chat.User, r *chat.Room) chat.Target {
	return chat.Target{RoomID: r.ID, UserID: user.ID}
}

// sleep waits for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
