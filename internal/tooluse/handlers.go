package tooluse

import (
	"context"
	"fmt"

	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/tools"
	"chorus/pkg/logger"
)

// MaxLinkRunes caps the parsed page text handed to the model.
const MaxLinkRunes = 6666

// invoke runs an external tool and rejects failed or empty results.
func (r *Resolver) invoke(ctx context.Context, h *hop) (tools.ToolResult, error) {
	if !r.tools.Has(h.tag) {
		return tools.ToolResult{}, fmt.Errorf("%w: %s", ErrUnavailable, h.tag)
	}
	ctx = tools.WithUserID(tools.WithRoomID(ctx, h.turn.roomID()), h.turn.userID())
	res, err := r.tools.Execute(ctx, h.tag, h.args)
	if err != nil {
		return res, err
	}
	if res.IsError {
		return res, fmt.Errorf("%s: %s", h.tag, res.Content)
	}
	return res, nil
}

func (r *Resolver) webSearch(ctx context.Context, h *hop) (outcome, error) {
	if h.str("q") == "" {
		return outcome{}, fmt.Errorf("%w: web_search needs q", ErrBadArguments)
	}
	res, err := r.invoke(ctx, h)
	if err != nil {
		return outcome{}, err
	}
	if res.Content == "" {
		return outcome{}, fmt.Errorf("web_search: empty result")
	}

	rec := r.record(h)
	rec.Text = res.Content
	rec.Payload = res.Payload
	if len(rec.Payload) == 0 {
		rec.Payload = map[string]any{"q": h.str("q")}
	}
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}
	return outcome{cont: true, modelText: res.Content}, nil
}

func (r *Resolver) parseLink(ctx context.Context, h *hop) (outcome, error) {
	if h.str("link") == "" {
		return outcome{}, fmt.Errorf("%w: parse_link needs link", ErrBadArguments)
	}
	res, err := r.invoke(ctx, h)
	if err != nil {
		return outcome{}, err
	}
	if res.Content == "" {
		return outcome{}, fmt.Errorf("parse_link: empty page")
	}
	text := clipRunes(res.Content, MaxLinkRunes, "......")

	rec := r.record(h)
	rec.Text = text
	rec.Payload = res.Payload
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}
	return outcome{cont: true, modelText: text}, nil
}

func clipRunes(s string, n int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}

func (r *Resolver) maps(ctx context.Context, h *hop) (outcome, error) {
	res, err := r.invoke(ctx, h)
	if err != nil {
		return outcome{}, err
	}
	payload := res.Payload
	if len(payload) == 0 {
		if res.Content == "" {
			return outcome{}, fmt.Errorf("%s: empty result", h.tag)
		}
		payload = map[string]any{"result": res.Content}
	}

	rec := r.record(h)
	rec.Payload = payload
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}

	userText := res.Content
	if userText == "" {
		key := "see_map"
		if h.tag == tools.MapsGeo || h.tag == tools.MapsTextSearch || h.tag == tools.MapsAroundSearch {
			key = "search_address"
		}
		userText = r.t(h.turn, key, i18n.Vars{"bot": r.botName(h.turn.Profile)})
	}
	return outcome{
		cont:      true,
		modelText: res.ForModel(),
		logs:      []chat.RunLog{{Kind: chat.LogWorking, Text: userText}},
	}, nil
}

// privateRead handles get_schedule and get_cards, which read the user's
// own items.
func (r *Resolver) privateRead(ctx context.Context, h *hop) (outcome, error) {
	if h.tag == tools.GetCards && h.str("cardType") == "" {
		return outcome{}, fmt.Errorf("%w: get_cards needs cardType", ErrBadArguments)
	}
	res, err := r.invoke(ctx, h)
	if err != nil {
		return outcome{}, err
	}

	modelText := res.ForModel()
	if modelText == "" {
		modelText = r.t(h.turn, "no_data", nil)
	}
	userText := res.Content
	if userText == "" {
		userText = r.t(h.turn, readKey(h), i18n.Vars{"bot": r.botName(h.turn.Profile)})
	}

	rec := r.record(h)
	rec.Payload = res.Payload
	if res.HasData {
		rec.Text = userText
	} else {
		rec.Text = modelText
	}
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}
	return outcome{
		cont:      true,
		modelText: modelText,
		logs:      []chat.RunLog{{Kind: chat.LogPrivacy, Text: userText}},
	}, nil
}

func readKey(h *hop) string {
	if h.tag == tools.GetSchedule {
		if h.str("specificDate") == "today" {
			return "bot_read_today"
		}
		return "bot_read_future"
	}
	if h.str("cardType") == "TODO" {
		return "bot_read_todo"
	}
	return "bot_read_note"
}

func (r *Resolver) draw(ctx context.Context, h *hop) (outcome, error) {
	if r.drawer == nil {
		return outcome{}, fmt.Errorf("%w: draw_picture", ErrUnavailable)
	}
	promptText := h.str("prompt")
	if promptText == "" {
		return outcome{}, fmt.Errorf("%w: draw_picture needs a prompt", ErrBadArguments)
	}
	size := h.str("sizeType")
	switch size {
	case "":
		size = "square"
	case "square", "portrait":
	default:
		return outcome{}, fmt.Errorf("%w: sizeType %q", ErrBadArguments, size)
	}

	rec := r.record(h)
	rec.Text = promptText
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}

	img, err := r.drawer.Draw(ctx, promptText, size)
	if err != nil || img == nil || img.URL == "" {
		if err == nil {
			err = fmt.Errorf("draw_picture: no image")
		}
		logger.Warn().Err(err).Str("character", h.turn.Profile.Character).Msg("tooluse: drawing failed")
		text := r.t(h.turn, "fail_to_draw", nil)
		return outcome{modelText: text, logs: []chat.RunLog{{Kind: chat.LogWorking, Text: text}}}, nil
	}

	rec.Payload = map[string]any{"image_url": img.URL, "model": img.Model}
	if err := r.store.UpdateRecord(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("record", rec.ID).Msg("tooluse: drawing not saved")
	}
	media := chat.Media{Kind: chat.MediaImage, URL: img.URL}
	if err := r.notifier.SendMedia(ctx, h.turn.RC.Target(), h.turn.Profile.Character, media); err != nil {
		logger.Warn().Err(err).Str("room", h.turn.roomID()).Msg("tooluse: send image failed")
	}
	log := r.t(h.turn, "bot_draw", i18n.Vars{"botName": r.botName(h.turn.Profile), "model": img.Model})
	return outcome{modelText: log, logs: []chat.RunLog{{Kind: chat.LogWorking, Text: log}}}, nil
}
