// Package tooluse runs the tool-call loop of one character turn: it executes
// the requested tool, feeds the result back to the backend and repeats
// until the backend answers with text or the hop limit is reached.
package tooluse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/prompt"
	"chorus/internal/provider"
	"chorus/internal/tools"
	"chorus/pkg/logger"
)

// DefaultMaxHops is the number of follow-up calls allowed per turn.
const DefaultMaxHops = 3

// Store is the persistence the resolver needs.
type Store interface {
	AppendRecord(ctx context.Context, rec *chat.Record) error
	UpdateRecord(ctx context.Context, rec *chat.Record) error
	SaveDraft(ctx context.Context, draft *chat.Draft) error
}

// Backend re-invokes the character after a tool result.
type Backend interface {
	// Call sends msgs, oldest first, with the given reply cap.
	Call(ctx context.Context, msgs []provider.Message, maxTokens int) (*provider.ChatResponse, error)
	// Prepare reshapes a response and reports whether the turn is still
	// current.
	Prepare(ctx context.Context, resp *provider.ChatResponse) bool
}

// Config wires a Resolver.
type Config struct {
	Store    Store
	Notifier chat.Notifier
	Texts    chat.Texts
	Names    prompt.Names
	// Tools holds the externally implemented tools.
	Tools *tools.Registry
	// Drawer enables draw_picture when set.
	Drawer   chat.ImageGenerator
	LinkBase string
	MaxHops  int
}

// Resolver executes tool calls.
type Resolver struct {
	store    Store
	notifier chat.Notifier
	texts    chat.Texts
	names    prompt.Names
	tools    *tools.Registry
	drawer   chat.ImageGenerator
	linkBase string
	maxHops  int
	now      func() time.Time

	handlers map[tools.Tag]handler
}

// NewResolver creates a resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	r := &Resolver{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		texts:    cfg.Texts,
		names:    cfg.Names,
		tools:    cfg.Tools,
		drawer:   cfg.Drawer,
		linkBase: strings.TrimRight(cfg.LinkBase, "/"),
		maxHops:  cfg.MaxHops,
		now:      time.Now,
	}
	r.handlers = r.table()
	return r
}

// Offered returns the tags offered to p, in declaration order. Profiles
// without tool_use get none.
func (r *Resolver) Offered(p character.Profile) []tools.Tag {
	if !p.Has(character.AbilityToolUse) {
		return nil
	}
	builtin := []tools.Tag{tools.AddNote, tools.AddTodo, tools.AddCalendar}
	if r.drawer != nil {
		builtin = append(builtin, tools.DrawPicture)
	}
	return r.tools.Offered(builtin...)
}

// Definitions returns the function definitions offered to p.
func (r *Resolver) Definitions(p character.Profile) ([]provider.Tool, error) {
	tags := r.Offered(p)
	if len(tags) == 0 {
		return nil, nil
	}
	return tools.Definitions(tags)
}

// Turn is the state of the turn a tool call belongs to.
type Turn struct {
	RC      *chat.RunContext
	Profile character.Profile
	// Messages is the prompt of the call that produced the response,
	// oldest first.
	Messages []provider.Message
}

func (t *Turn) locale() string {
	return t.RC.Locale()
}

func (t *Turn) userID() string {
	if t.RC.User != nil {
		return t.RC.User.ID
	}
	if t.RC.Room != nil {
		return t.RC.Room.OwnerID
	}
	return ""
}

func (t *Turn) roomID() string {
	if t.RC.Room != nil {
		return t.RC.Room.ID
	}
	return ""
}

// Result is the outcome of a tool loop.
type Result struct {
	// Final is the response left to deliver as text, or nil when the loop
	// ended without one. It never asks for tools.
	Final *provider.ChatResponse
	// Stale is set when a newer user message arrived during the loop.
	Stale    bool
	Logs     []chat.RunLog
	UsedTool bool
	Hops     int
}

// Run resolves resp. A response without a tool call is returned as Final
// untouched. The calls of one response run in order: drafts and failures
// move on to the next call, the first call whose result goes back to the
// backend ends the round. At the hop limit the last response is returned
// as plain text. The returned error is reserved for context cancellation.
func (r *Resolver) Run(ctx context.Context, turn *Turn, resp *provider.ChatResponse, be Backend) (*Result, error) {
	res := &Result{}
	msgs := turn.Messages
	for hop := 0; ; hop++ {
		if resp.FinishReason != provider.FinishReasonToolCalls || len(resp.ToolCalls) == 0 {
			res.Final = resp
			return res, nil
		}
		if hop >= r.maxHops {
			logger.Debug().Str("character", turn.Profile.Character).Int("hops", hop).Msg("tooluse: hop limit reached")
			res.Final = asText(resp)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.UsedTool = true
		res.Hops++
		done, next := r.round(ctx, turn, resp, res)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if next == nil {
			return res, nil
		}

		trimmed, maxTokens, ok := RestAfterTool(msgs, resp.Usage, turn.Profile, resultsText(done))
		if !ok {
			logger.Info().Str("character", turn.Profile.Character).Msg("tooluse: no budget left after tool")
			return res, nil
		}
		msgs = AppendResults(trimmed, turn.Profile, done, r.texts, turn.locale())

		reply, err := be.Call(ctx, msgs, maxTokens)
		if err != nil {
			logger.Warn().Err(err).Str("character", turn.Profile.Character).Str("tool", next.Name).Msg("tooluse: follow-up call failed")
			return res, nil
		}
		if !be.Prepare(ctx, reply) {
			res.Stale = true
			return res, nil
		}
		resp = reply
	}
}

// round executes the calls of resp until one asks for a follow-up call.
// It returns the executed calls with their results and the call that
// continues, or nil when none does.
func (r *Resolver) round(ctx context.Context, turn *Turn, resp *provider.ChatResponse, res *Result) ([]CallResult, *provider.ToolCall) {
	var done []CallResult
	for i, call := range resp.ToolCalls {
		if ctx.Err() != nil {
			return done, nil
		}
		out := r.execute(ctx, turn, call, resp)
		res.Logs = append(res.Logs, out.logs...)
		done = append(done, CallResult{Call: call, Text: out.modelText})
		if out.cont {
			return done, &resp.ToolCalls[i]
		}
	}
	return done, nil
}

// asText turns a response that still asks for tools into a plain answer.
func asText(resp *provider.ChatResponse) *provider.ChatResponse {
	out := *resp
	out.ToolCalls = nil
	out.FinishReason = provider.FinishReasonStop
	return &out
}

// outcome is what a handler reports back to the loop.
type outcome struct {
	cont      bool
	modelText string
	logs      []chat.RunLog
}

type handler func(ctx context.Context, h *hop) (outcome, error)

// hop is one tool call being executed.
type hop struct {
	turn *Turn
	tag  tools.Tag
	call provider.ToolCall
	args map[string]any
	resp *provider.ChatResponse
}

func (h *hop) str(key string) string {
	s, _ := h.args[key].(string)
	return strings.TrimSpace(s)
}

func (r *Resolver) table() map[tools.Tag]handler {
	return map[tools.Tag]handler{
		tools.AddNote:          r.draft,
		tools.AddTodo:          r.draft,
		tools.AddCalendar:      r.draft,
		tools.WebSearch:        r.webSearch,
		tools.ParseLink:        r.parseLink,
		tools.MapsRegeo:        r.maps,
		tools.MapsGeo:          r.maps,
		tools.MapsTextSearch:   r.maps,
		tools.MapsAroundSearch: r.maps,
		tools.MapsDirection:    r.maps,
		tools.DrawPicture:      r.draw,
		tools.GetSchedule:      r.privateRead,
		tools.GetCards:         r.privateRead,
	}
}

func (r *Resolver) execute(ctx context.Context, turn *Turn, call provider.ToolCall, resp *provider.ChatResponse) outcome {
	h := &hop{turn: turn, call: call, resp: resp}
	tag, ok := tools.Parse(call.Name)
	fn := r.handlers[tag]
	if !ok || fn == nil {
		return r.fail(ctx, h, fmt.Errorf("%w: %s", ErrUnavailable, call.Name))
	}
	h.tag = tag

	args, err := DecodeArgs(call.Arguments)
	if err != nil {
		return r.fail(ctx, h, err)
	}
	h.args = args

	out, err := fn(ctx, h)
	if err != nil {
		return r.fail(ctx, h, err)
	}
	return out
}

// DecodeArgs parses tool arguments leniently: comments and trailing commas
// are accepted and empty arguments decode to an empty map.
func DecodeArgs(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	return args, nil
}

// fail persists the call with a placeholder result. The call does not
// continue the loop.
func (r *Resolver) fail(ctx context.Context, h *hop, cause error) outcome {
	text := r.t(h.turn, failureKey(h.tag), nil)
	logger.Warn().Err(cause).
		Str("character", h.turn.Profile.Character).
		Str("tool", h.call.Name).
		Msg("tooluse: tool failed")

	rec := r.record(h)
	rec.Text = text
	if err := r.store.AppendRecord(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("room", h.turn.roomID()).Msg("tooluse: tool record not saved")
	}
	return outcome{modelText: text, logs: []chat.RunLog{{Kind: chat.LogWorking, Text: text}}}
}

func failureKey(tag tools.Tag) string {
	switch tag {
	case tools.WebSearch:
		return "fail_to_search"
	case tools.ParseLink:
		return "fail_to_parse_link"
	case tools.DrawPicture:
		return "fail_to_draw"
	}
	return "tool_unavailable"
}

// record returns the tool_use record of a call.
func (r *Resolver) record(h *hop) *chat.Record {
	p := h.turn.Profile
	model := h.resp.Model
	if model == "" {
		model = p.Model
	}
	return &chat.Record{
		RoomID:       h.turn.roomID(),
		UserID:       h.turn.userID(),
		Kind:         chat.KindToolUse,
		Character:    p.Character,
		Model:        model,
		RequestID:    h.resp.ID,
		BaseURL:      p.BaseURL,
		Usage:        h.resp.Usage,
		FinishReason: provider.FinishReasonToolCalls,
		ToolCallID:   h.call.ID,
		FuncName:     h.call.Name,
		FuncArgs:     h.args,
	}
}

func (r *Resolver) t(turn *Turn, key string, vars map[string]any) string {
	return r.texts.T(turn.locale(), key, vars)
}

func (r *Resolver) botName(p character.Profile) string {
	if r.names != nil {
		if n := r.names.Name(p.Character); n != "" {
			return n
		}
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Character
}

func (r *Resolver) sendText(ctx context.Context, turn *Turn, text string) {
	if err := r.notifier.SendText(ctx, turn.RC.Target(), turn.Profile.Character, text); err != nil {
		logger.Warn().Err(err).Str("room", turn.roomID()).Msg("tooluse: send text failed")
	}
}
