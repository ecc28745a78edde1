package directive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/pkg/logger"
)

// Rooms is the room service used by the executor.
type Rooms interface {
	GetOrCreate(ctx context.Context, ownerID, wanted string) (*chat.Room, error)
	Kick(ctx context.Context, r *chat.Room, character string) (bool, error)
	Add(ctx context.Context, r *chat.Room, character string) error
	JustCreated(r *chat.Room) bool
	NonUsed(ctx context.Context, roomID string) ([]string, error)
}

// Roster resolves names and resting characters.
type Roster interface {
	Names
	Retired(character string) bool
}

// Store is the persistence used by the executor.
type Store interface {
	AppendRecord(ctx context.Context, rec *chat.Record) error
	AppendRoomEvent(ctx context.Context, ev *chat.RoomEvent) error
}

// Limits are the quota ceilings shown by the status command.
type Limits struct {
	FreeQuota   int
	MemberQuota int
	RenewLink   string
}

// Executor performs the side effects of terminal commands.
type Executor struct {
	rooms    Rooms
	store    Store
	notifier chat.Notifier
	texts    chat.Texts
	roster   Roster
	limits   Limits
	now      func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(rooms Rooms, store Store, notifier chat.Notifier, texts chat.Texts, roster Roster, limits Limits) *Executor {
	return &Executor{
		rooms:    rooms,
		store:    store,
		notifier: notifier,
		texts:    texts,
		roster:   roster,
		limits:   limits,
		now:      time.Now,
	}
}

// Execute runs cmd for user. Continue and None are not handled here.
func (e *Executor) Execute(ctx context.Context, cmd Command, user *chat.User) error {
	switch cmd.Kind {
	case Kick:
		return e.kick(ctx, user, cmd.Character)
	case Add:
		return e.add(ctx, user, cmd.Character)
	case BotNotAvailable:
		e.text(ctx, user, "", e.t(user, "bot_not_available", i18n.Vars{"botName": cmd.BotName}))
		return nil
	case ClearHistory:
		return e.clear(ctx, user)
	case GroupStatus:
		return e.status(ctx, user)
	default:
		return fmt.Errorf("directive %s has no executor", cmd.Kind)
	}
}

func (e *Executor) t(user *chat.User, key string, vars i18n.Vars) string {
	return e.texts.T(user.Locale, key, vars)
}

func (e *Executor) target(user *chat.User, r *chat.Room) chat.Target {
	t := chat.Target{UserID: user.ID}
	if r != nil {
		t.RoomID = r.ID
	}
	return t
}

func (e *Executor) text(ctx context.Context, user *chat.User, character, msg string) {
	e.textTo(ctx, e.target(user, nil), character, msg)
}

func (e *Executor) textTo(ctx context.Context, to chat.Target, character, msg string) {
	if err := e.notifier.SendText(ctx, to, character, msg); err != nil {
		logger.Warn().Err(err).Str("user", to.UserID).Msg("directive: send text failed")
	}
}

func (e *Executor) event(ctx context.Context, r *chat.Room, user *chat.User, kind, character string) {
	ev := &chat.RoomEvent{RoomID: r.ID, UserID: user.ID, Kind: kind, Character: character, CreatedAt: e.now()}
	if err := e.store.AppendRoomEvent(ctx, ev); err != nil {
		logger.Warn().Err(err).Str("room", r.ID).Str("kind", kind).Msg("directive: room event not saved")
	}
}

func (e *Executor) kick(ctx context.Context, user *chat.User, character string) error {
	r, err := e.rooms.GetOrCreate(ctx, user.ID, "")
	if err != nil {
		return err
	}
	to := e.target(user, r)
	name := e.roster.Name(character)
	before := append([]string(nil), r.Characters...)

	removed, err := e.rooms.Kick(ctx, r, character)
	if err != nil {
		return err
	}
	if !removed {
		e.textTo(ctx, to, "", e.t(user, "already_left", i18n.Vars{"botName": name}))
		return nil
	}

	suggest, err := e.rooms.NonUsed(ctx, r.ID)
	if err != nil {
		logger.Warn().Err(err).Str("room", r.ID).Msg("directive: non-used characters unavailable")
	}
	suggest = lo.Reject(suggest, func(c string, _ int) bool {
		return lo.Contains(before, c) || e.roster.Retired(c)
	})
	limit := 3
	if len(r.Characters) == 0 {
		limit = 4
	}
	if len(suggest) > limit {
		suggest = suggest[:limit]
	}

	msg := e.t(user, "bot_left", i18n.Vars{"botName": name})
	if len(suggest) > 0 {
		menu := chat.Menu{
			Header: msg + "\n\n" + e.t(user, "operation_title", nil),
			Items:  e.menu(user).AddAll(suggest),
		}
		if err := e.notifier.SendMenu(ctx, to, menu); err != nil {
			logger.Warn().Err(err).Str("room", r.ID).Msg("directive: send menu failed")
		}
	} else {
		e.textTo(ctx, to, "", msg)
	}

	e.event(ctx, r, user, chat.EventKick, character)
	return nil
}

func (e *Executor) add(ctx context.Context, user *chat.User, character string) error {
	r, err := e.rooms.GetOrCreate(ctx, user.ID, character)
	if err != nil {
		return err
	}
	if r.Has(character) {
		if e.rooms.JustCreated(r) {
			e.hello(ctx, user, r, character)
		} else {
			e.textTo(ctx, e.target(user, r), "", e.t(user, "already_exist", i18n.Vars{"botName": e.roster.Name(character)}))
		}
		return nil
	}

	if err := e.rooms.Add(ctx, r, character); err != nil {
		return err
	}
	e.hello(ctx, user, r, character)
	e.event(ctx, r, user, chat.EventAdd, character)
	return nil
}

var greetings = []string{"called_1", "called_2", "called_3", "called_4"}

func (e *Executor) hello(ctx context.Context, user *chat.User, r *chat.Room, character string) {
	msg := e.t(user, lo.Sample(greetings), i18n.Vars{"botName": e.roster.Name(character)})
	e.textTo(ctx, e.target(user, r), character, msg)
}

func (e *Executor) clear(ctx context.Context, user *chat.User) error {
	r, err := e.rooms.GetOrCreate(ctx, user.ID, "")
	if err != nil {
		return err
	}
	now := e.now()
	rec := &chat.Record{
		RoomID:    r.ID,
		UserID:    user.ID,
		Kind:      chat.KindClear,
		SortStamp: now.UnixMilli(),
		CreatedAt: now,
	}
	if err := e.store.AppendRecord(ctx, rec); err != nil {
		return fmt.Errorf("append clear record: %w", err)
	}
	e.event(ctx, r, user, chat.EventClear, "")
	e.textTo(ctx, e.target(user, r), "", e.t(user, "history_cleared", nil))
	return nil
}

func (e *Executor) status(ctx context.Context, user *chat.User) error {
	r, err := e.rooms.GetOrCreate(ctx, user.ID, "")
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(e.t(user, "status_1", nil) + "\n")
	if len(r.Characters) == 0 {
		b.WriteString(e.t(user, "no_member", nil) + "\n")
	}
	for _, c := range r.Characters {
		b.WriteString(e.roster.Name(c) + "\n")
	}
	b.WriteString("\n")

	b.WriteString(e.t(user, "status_2", nil) + "\n")
	q := user.Quota
	maxTimes := e.limits.FreeQuota
	if user.Subscribed {
		maxTimes = e.limits.MemberQuota
	}
	b.WriteString(e.t(user, "status_conversation", i18n.Vars{"usedTimes": q.ConversationCount, "maxTimes": maxTimes}) + "\n")
	cluster := e.t(user, "status_cluster", i18n.Vars{"usedTimes": q.ClusterCount, "maxTimes": maxTimes}) + "\n"
	switch {
	case q.ClusterCount > 0:
		b.WriteString(cluster)
		if q.ConversationCount >= e.limits.FreeQuota && !user.Subscribed {
			b.WriteString(e.t(user, "conversation_ad", i18n.Vars{"restTimes": q.AdCredits}) + "\n")
		}
	case q.ConversationCount >= e.limits.FreeQuota && !user.Subscribed:
		b.WriteString(e.t(user, "conversation_ad", i18n.Vars{"restTimes": q.AdCredits}) + "\n")
	default:
		b.WriteString(cluster)
	}

	if user.Subscribed {
		b.WriteString("\n\n" + e.t(user, "renew_premium", i18n.Vars{"link": e.limits.RenewLink}))
	}

	e.textTo(ctx, e.target(user, r), "", b.String())
	return nil
}

func (e *Executor) menu(user *chat.User) MenuBuilder {
	return MenuBuilder{Texts: e.texts, Names: e.roster, Locale: user.Locale}
}
