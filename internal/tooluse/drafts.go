package tooluse

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"chorus/internal/chat"
	"chorus/internal/i18n"
	"chorus/internal/tools"
	"chorus/pkg/logger"
)

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

var draftKinds = map[tools.Tag]string{
	tools.AddNote:     chat.DraftNote,
	tools.AddTodo:     chat.DraftTodo,
	tools.AddCalendar: chat.DraftCalendar,
}

// validateDraft normalizes the arguments of a draft call in place.
func validateDraft(tag tools.Tag, args map[string]any) error {
	title, _ := args["title"].(string)
	desc, _ := args["description"].(string)
	switch tag {
	case tools.AddNote:
		if desc == "" && title != "" {
			args["description"] = title
			delete(args, "title")
			desc = title
		}
		if desc == "" {
			return fmt.Errorf("%w: add_note needs a description", ErrBadArguments)
		}
	case tools.AddTodo:
		if title == "" {
			return fmt.Errorf("%w: add_todo needs a title", ErrBadArguments)
		}
	case tools.AddCalendar:
		if desc == "" {
			return fmt.Errorf("%w: add_calendar needs a description", ErrBadArguments)
		}
		for _, key := range []string{"earlyMinute", "laterHour"} {
			if n, ok := args[key].(float64); ok {
				args[key] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
	return nil
}

func (r *Resolver) draft(ctx context.Context, h *hop) (outcome, error) {
	if err := validateDraft(h.tag, h.args); err != nil {
		return outcome{}, err
	}

	rec := r.record(h)
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return outcome{}, fmt.Errorf("save tool record: %w", err)
	}

	d := &chat.Draft{
		UserID:    h.turn.userID(),
		RoomID:    h.turn.roomID(),
		Kind:      draftKinds[h.tag],
		Status:    chat.DraftWaiting,
		Character: h.turn.Profile.Character,
		Title:     h.str("title"),
		Desc:      h.str("description"),
		Date:      h.str("date"),
		Time:      h.str("time"),
		RemindMe:  remindMe(h),
		CreatedAt: r.now(),
	}
	if err := r.store.SaveDraft(ctx, d); err != nil {
		return outcome{}, fmt.Errorf("save draft: %w", err)
	}
	rec.DraftID = d.ID
	if err := r.store.UpdateRecord(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("record", rec.ID).Msg("tooluse: draft link not saved")
	}

	msg := r.draftMessage(h, rec.ID)
	r.sendText(ctx, h.turn, msg)
	return outcome{modelText: msg}, nil
}

func remindMe(h *hop) string {
	if v := h.str("earlyMinute"); v != "" {
		return "early:" + v
	}
	if v := h.str("laterHour"); v != "" {
		return "later:" + v
	}
	return ""
}

// draftMessage renders the confirmation message of a staged draft. The
// links point at the tool_use record.
func (r *Resolver) draftMessage(h *hop, recordID string) string {
	vars := i18n.Vars{
		"botName":   r.botName(h.turn.Profile),
		"agreeLink": fmt.Sprintf("%s/agree?chatId=%s", r.linkBase, recordID),
		"editLink":  fmt.Sprintf("%s/compose?chatId=%s", r.linkBase, recordID),
		"title":     h.str("title"),
		"desc":      h.str("description"),
	}
	switch h.tag {
	case tools.AddNote:
		if vars["title"] != "" {
			return r.t(h.turn, "add_note_with_title", vars)
		}
		return r.t(h.turn, "add_note_only_desc", vars)
	case tools.AddTodo:
		return r.t(h.turn, "add_todo", vars)
	}
	return r.calendarMessage(h, vars)
}

// calendarMessage lists the calendar fields in the order date, time, early
// reminder and relative time. A date beats specificDate; laterHour only
// applies when neither a date nor a time was given.
func (r *Resolver) calendarMessage(h *hop, vars i18n.Vars) string {
	t := func(key string, v i18n.Vars) string { return r.t(h.turn, key, v) }

	msg := t("add_calendar_1", vars)
	if vars["title"] != "" {
		msg += t("add_calendar_2", vars)
	}
	msg += t("add_calendar_3", vars)

	hasDate := false
	if date := h.str("date"); datePattern.MatchString(date) {
		hasDate = true
		msg += t("add_calendar_4", i18n.Vars{"date": date})
	}
	if sd := h.str("specificDate"); sd != "" && !hasDate {
		if label := t(sd, nil); label != "" && label != sd {
			hasDate = true
			msg += t("add_calendar_4", i18n.Vars{"date": label})
		}
	}

	hasTime := false
	if tm := h.str("time"); timePattern.MatchString(tm) {
		hasTime = true
		msg += t("add_calendar_5", i18n.Vars{"time": tm})
	}

	early, _ := strconv.ParseFloat(h.str("earlyMinute"), 64)
	if early > 0 && hasTime {
		var reminder string
		switch {
		case early < 60:
			reminder = t("early_min", i18n.Vars{"min": h.str("earlyMinute")})
		case early == 60 || early == 120:
			reminder = t("early_hr", i18n.Vars{"hr": int(early / 60)})
		case early == 1440:
			reminder = t("early_day", i18n.Vars{"day": 1})
		}
		if reminder != "" {
			msg += t("add_calendar_6", i18n.Vars{"str": reminder})
		}
	}

	later, _ := strconv.ParseFloat(h.str("laterHour"), 64)
	if later > 0 && !hasTime && !hasDate {
		var when string
		switch {
		case later == 0.5:
			when = t("later_min", i18n.Vars{"min": 30})
		case later < 24:
			when = t("later_hr", i18n.Vars{"hr": h.str("laterHour")})
		case later == 24:
			when = t("later_day", i18n.Vars{"day": 1})
		}
		if when != "" {
			msg += t("add_calendar_6", i18n.Vars{"str": when})
		}
	}

	return msg + t("add_calendar_7", vars)
}
