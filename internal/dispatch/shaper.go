package dispatch

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/directive"
	"chorus/internal/i18n"
	"chorus/internal/provider"
	"chorus/pkg/logger"
)

// Reply limits.
const (
	MaxReplyWords = 600
	MaxReplyWidth = MaxReplyWords * 2
	MaxVoiceRunes = 180
)

// displayWidth counts Han characters twice.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ClipReply cuts a long reply after the line that crosses MaxReplyWidth.
// It reports whether the text was cut.
func ClipReply(text string) (string, bool) {
	if utf8.RuneCountInString(text) < MaxReplyWords {
		return text, false
	}
	var b strings.Builder
	width := 0
	for _, line := range strings.Split(text, "\n") {
		b.WriteString(line)
		b.WriteByte('\n')
		width += displayWidth(line)
		if width > MaxReplyWidth {
			return strings.TrimSpace(b.String()), true
		}
	}
	return strings.TrimSpace(b.String()), false
}

// reply is one answer ready to be sent.
type reply struct {
	rc       *chat.RunContext
	profile  character.Profile
	text     string
	recordID string
	showCoT  bool
	finish   string
}

// send delivers a reply as a continue menu, a voice message or plain
// text. It reports whether the reply went out as voice.
func (d *Dispatcher) send(ctx context.Context, r reply) bool {
	locale := r.rc.Locale()
	to := r.rc.Target()
	c := r.profile.Character
	text := r.text

	if r.showCoT && r.recordID != "" {
		link := fmt.Sprintf("%s/CoT?chatId=%s", d.linkBase, r.recordID)
		text += fmt.Sprintf("\n\n<a href='%s'>%s</a>", link, d.texts.T(locale, "view_thinking", nil))
	}

	if r.finish == provider.FinishReasonLength {
		menus := directive.MenuBuilder{Texts: d.texts, Names: d.registry, Locale: locale}
		menu := chat.Menu{Header: text, Items: []chat.MenuItem{menus.Continue(c)}}
		if err := d.notifier.SendMenu(ctx, to, menu); err != nil {
			logger.Warn().Err(err).Str("character", c).Msg("dispatch: send continue menu failed")
		}
		return false
	}

	if voice := d.voiceFor(r); voice != "" {
		url, err := d.speaker.Speak(ctx, text, voice)
		if err == nil && url != "" {
			media := chat.Media{Kind: chat.MediaVoice, URL: url}
			if err := d.notifier.SendMedia(ctx, to, c, media); err != nil {
				logger.Warn().Err(err).Str("character", c).Msg("dispatch: send voice failed")
			}
			return true
		}
		logger.Warn().Err(err).Str("character", c).Msg("dispatch: speech failed, replying with text")
	}

	if err := d.notifier.SendText(ctx, to, c, text); err != nil {
		logger.Warn().Err(err).Str("character", c).Msg("dispatch: send text failed")
	}
	return false
}

// voiceFor returns the voice a reply is spoken with, or "" for text.
func (d *Dispatcher) voiceFor(r reply) string {
	if d.speaker == nil || !r.profile.Speaks || r.showCoT {
		return ""
	}
	if utf8.RuneCountInString(r.text) > MaxVoiceRunes {
		return ""
	}
	if r.rc.Room != nil && r.rc.Room.VoicePreference != "" {
		return r.rc.Room.VoicePreference
	}
	if r.rc.VoiceMode {
		return d.defaultVoice
	}
	return ""
}

// deliver normalizes a text response, persists it as an assistant record
// and replies. Reasoning characters that show their chain of thought
// persist first so the reply can link to it.
func (d *Dispatcher) deliver(ctx context.Context, rc *chat.RunContext, p character.Profile, resp *provider.ChatResponse) (*chat.RunResult, error) {
	DropLastLine(resp)
	if err := Normalize(resp, p); err != nil {
		return nil, err
	}

	text := resp.Content
	showCoT := resp.Content != "" && resp.Reasoning != ""
	if text == "" {
		text = d.texts.T(rc.Locale(), "thinking", i18n.Vars{"text": resp.Reasoning})
	}
	text, cut := ClipReply(text)
	if cut {
		resp.FinishReason = provider.FinishReasonLength
	}

	res := &chat.RunResult{Character: p.Character, Status: chat.StatusYes, FinishReason: resp.FinishReason}
	r := reply{rc: rc, profile: p, text: text, showCoT: showCoT, finish: resp.FinishReason}
	if !showCoT {
		res.VoiceReplied = d.send(ctx, r)
	}

	rec := d.assistantRecord(rc, p, resp)
	if err := d.store.AppendRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save assistant record: %w", err)
	}
	res.RecordID = rec.ID

	if showCoT {
		r.recordID = rec.ID
		res.VoiceReplied = d.send(ctx, r)
	}
	return res, nil
}

func (d *Dispatcher) assistantRecord(rc *chat.RunContext, p character.Profile, resp *provider.ChatResponse) *chat.Record {
	rec := &chat.Record{
		Kind:         chat.KindAssistant,
		Text:         resp.Content,
		Reasoning:    resp.Reasoning,
		Character:    p.Character,
		Model:        p.Model,
		RequestID:    resp.ID,
		BaseURL:      p.BaseURL,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
	}
	if rc.Room != nil {
		rec.RoomID = rc.Room.ID
		rec.UserID = rc.Room.OwnerID
	}
	return rec
}
