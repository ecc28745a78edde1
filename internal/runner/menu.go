package runner

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"chorus/internal/chat"
	"chorus/internal/directive"
	"chorus/internal/i18n"
	"chorus/internal/room"
	"chorus/pkg/logger"
)

// nobodyMenuSize caps the add entries offered to an empty room.
const nobodyMenuSize = 3

func (e *Engine) menuBuilder(u *chat.User) directive.MenuBuilder {
	return directive.MenuBuilder{Texts: e.texts, Names: e.registry, Locale: u.Locale}
}

// nobodyHere offers characters to an empty room. It reports whether the
// menu was sent.
func (e *Engine) nobodyHere(ctx context.Context, u *chat.User, r *chat.Room) bool {
	if len(r.Characters) > 0 {
		return false
	}
	added, err := e.rooms.NonUsed(ctx, r.ID)
	if err != nil {
		logger.Warn().Err(err).Str("room", r.ID).Msg("runner: no characters to offer")
		return false
	}
	if len(added) == 0 {
		return false
	}
	added = added[:min(len(added), nobodyMenuSize)]
	e.sendMenu(ctx, target(u, r), chat.Menu{
		Header: e.t(u, "nobody_here", nil) + "\n\n" + e.t(u, "operation_title", nil),
		Items:  e.menuBuilder(u).AddAll(added),
	})
	return true
}

var logSections = []struct {
	kind  string
	title string
}{
	{chat.LogPrivacy, "privacy_title"},
	{chat.LogWorking, "working_log_title"},
}

// fallbackMenu offers follow-up operations after a turn: what the tools
// did, kicking and adding characters, and clearing history.
func (e *Engine) fallbackMenu(ctx context.Context, rc *chat.RunContext, results []*chat.RunResult, logs []chat.RunLog) {
	u := rc.User
	var header strings.Builder
	for _, s := range logSections {
		lines := lo.Filter(logs, func(l chat.RunLog, _ int) bool { return l.Kind == s.kind })
		if len(lines) == 0 {
			continue
		}
		header.WriteString(e.t(u, s.title, nil) + "\n")
		for _, l := range lines {
			header.WriteString(l.Text + "\n")
		}
		header.WriteString("\n")
	}
	header.WriteString(e.t(u, "operation_title", nil))

	mb := e.menuBuilder(u)
	var items []chat.MenuItem
	for _, c := range room.KickOrder(rc.Room.Characters, results) {
		items = append(items, mb.Kick(c))
	}
	items = append(items, mb.AddAll(e.rooms.Suggestions(rc.Room))...)
	items = append(items, mb.Clear())

	if !e.sleep(ctx, e.config.MenuDelay) {
		return
	}
	e.sendMenu(ctx, rc.Target(), chat.Menu{
		Header: header.String(),
		Items:  items,
		Footer: e.t(u, "generative_ai_warning", nil),
	})
}

// voiceHello stores the default voice for a room that just got its first
// voice reply and tells the user where to change it.
func (e *Engine) voiceHello(ctx context.Context, rc *chat.RunContext) {
	if err := e.store.UpdateRoomVoice(ctx, rc.Room.ID, e.config.DefaultVoice); err != nil {
		logger.Warn().Err(err).Str("room", rc.Room.ID).Msg("runner: voice preference not saved")
		return
	}
	rc.Room.VoicePreference = e.config.DefaultVoice
	if !e.sleep(ctx, e.config.VoiceHelloDelay) {
		return
	}
	link := strings.TrimRight(e.config.LinkBase, "/") + "/ai-console"
	e.sendText(ctx, rc.Target(), e.t(rc.User, "hello_ai_voice", i18n.Vars{"link": link}))
}
