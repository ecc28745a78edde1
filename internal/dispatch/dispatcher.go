// Package dispatch runs one character's turn against its backend: it picks
// the profile, builds and budgets the prompt, calls the backend with
// timeout and retry, resolves tool calls and shapes the reply.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"chorus/internal/budget"
	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/prompt"
	"chorus/internal/provider"
	"chorus/internal/tooluse"
	"chorus/pkg/logger"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultCallTimeout   = 59 * time.Second
	DefaultAttempts      = 2
	DefaultRateLimitWait = time.Second
	DefaultVoice         = "female"

	// canReplyWindow is how many records the staleness check looks at.
	canReplyWindow = 10
)

// continueTurn is appended for backends that need an explicit user turn to
// resume a truncated reply.
const continueTurn = "Continue / 继续"

// Store is the persistence a Dispatcher needs.
type Store interface {
	tooluse.Store
	LatestRecords(ctx context.Context, roomID string, limit int) ([]*chat.Record, error)
	AppendCallLog(ctx context.Context, log *chat.CallLog) error
}

// Config wires a Dispatcher.
type Config struct {
	Registry *character.Registry
	Builder  *prompt.Builder
	Resolver *tooluse.Resolver
	Store    Store
	Notifier chat.Notifier
	Texts    chat.Texts
	// Speaker enables voice replies for characters that speak.
	Speaker chat.Speaker

	LinkBase     string
	DefaultVoice string
	CallTimeout  time.Duration
	// Attempts is the total number of tries of a rate-limited call.
	Attempts      int
	RateLimitWait time.Duration
}

// Dispatcher runs character turns. It is safe for concurrent use; every
// call works on the RunContext it is given.
type Dispatcher struct {
	registry *character.Registry
	builder  *prompt.Builder
	resolver *tooluse.Resolver
	store    Store
	notifier chat.Notifier
	texts    chat.Texts
	speaker  chat.Speaker

	linkBase      string
	defaultVoice  string
	callTimeout   time.Duration
	attempts      int
	rateLimitWait time.Duration
	now           func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultRateLimitWait
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = DefaultVoice
	}
	return &Dispatcher{
		registry:      cfg.Registry,
		builder:       cfg.Builder,
		resolver:      cfg.Resolver,
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		texts:         cfg.Texts,
		speaker:       cfg.Speaker,
		linkBase:      strings.TrimRight(cfg.LinkBase, "/"),
		defaultVoice:  cfg.DefaultVoice,
		callTimeout:   cfg.CallTimeout,
		attempts:      cfg.Attempts,
		rateLimitWait: cfg.RateLimitWait,
		now:           time.Now,
	}
}

// Dispatch runs one turn of character c over rc, which it owns and may
// modify. A nil result with an error means the character produced no
// reply; the caller treats that as a soft failure.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *chat.RunContext, c string) (*chat.RunResult, error) {
	candidates, err := d.candidates(ctx, rc, c)
	if err != nil {
		return nil, err
	}
	p := candidates[0]

	pr, err := d.builder.Build(rc, p)
	if err != nil {
		return nil, err
	}
	if len(pr.Records) == 0 {
		return nil, ErrEmptyWindow
	}
	rc.Records = pr.Records

	msgs := pr.Messages
	if rc.Continue && p.Traits.AppendContinueTurn {
		msgs = append(msgs, provider.TextMessage(provider.RoleUser, continueTurn))
	}
	defs, err := d.resolver.Definitions(p)
	if err != nil {
		logger.Warn().Err(err).Str("character", c).Msg("dispatch: tools not offered")
	}
	req := provider.ChatRequest{
		Model:       p.Model,
		Messages:    prompt.Check(msgs, p, d.ack(rc)),
		Tools:       defs,
		Temperature: p.Traits.Temperature,
		MaxTokens:   budget.ReplyCap(pr.Cost, pr.Records[0], p.WindowK, p.IsReasoning()),
		Stream:      p.Stream,
	}

	resp, err := d.call(ctx, rc, p, req)
	if err != nil && len(candidates) > 1 && p.Traits.RetryWithSecondary && !rc.Continue {
		sec := candidates[1]
		logger.Warn().Err(err).Str("character", c).Str("model", sec.Model).Str("provider", sec.DisplayProvider()).Msg("dispatch: trying secondary profile")
		req, err = d.retarget(rc, req, sec)
		if err == nil {
			p = sec
			resp, err = d.call(ctx, rc, p, req)
		}
	}
	if err != nil {
		return nil, err
	}

	return d.handle(ctx, rc, p, req, resp)
}

// candidates returns the profiles that may answer the window, best first.
// A window with images goes to vision profiles; without one it is rewritten
// for text-only backends, or the user is told the images cannot be read.
func (d *Dispatcher) candidates(ctx context.Context, rc *chat.RunContext, c string) ([]character.Profile, error) {
	profiles := d.registry.Profiles(c)
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, c)
	}
	if !prompt.NeedsVision(rc.Records) {
		return profiles, nil
	}
	vision := lo.Filter(profiles, func(p character.Profile, _ int) bool {
		return p.Has(character.AbilityImageToText)
	})
	if len(vision) > 0 {
		return vision, nil
	}

	label := d.texts.T(rc.Locale(), "image_recognition", nil)
	records, ok := prompt.TextOnly(rc.Records, label)
	if !ok {
		text := d.texts.T(rc.Locale(), "cannot_read_images", nil)
		if err := d.notifier.SendText(ctx, rc.Target(), c, text); err != nil {
			logger.Warn().Err(err).Str("character", c).Msg("dispatch: send text failed")
		}
		return nil, fmt.Errorf("%w: %s", ErrCannotReadImages, c)
	}
	rc.Records = records
	return profiles, nil
}

// retarget points req at another profile of the same character, with that
// profile's system prompt.
func (d *Dispatcher) retarget(rc *chat.RunContext, req provider.ChatRequest, p character.Profile) (provider.ChatRequest, error) {
	out := req
	out.Model = p.Model
	out.Temperature = p.Traits.Temperature
	out.Messages = append([]provider.Message(nil), req.Messages...)
	if len(out.Messages) > 0 && out.Messages[0].Role == provider.RoleSystem {
		system, err := d.builder.System(p, rc.User)
		if err != nil {
			return req, err
		}
		out.Messages[0] = provider.TextMessage(provider.RoleSystem, system)
	}
	return out, nil
}

// handle takes a response through the staleness check, the tool loop and
// delivery.
func (d *Dispatcher) handle(ctx context.Context, rc *chat.RunContext, p character.Profile, req provider.ChatRequest, resp *provider.ChatResponse) (*chat.RunResult, error) {
	Transform(resp)
	if !d.canReply(ctx, rc, p) {
		return &chat.RunResult{Character: p.Character, Status: chat.StatusHasNewMsg}, nil
	}

	var loop *tooluse.Result
	if resp.FinishReason == provider.FinishReasonToolCalls && len(resp.ToolCalls) > 0 {
		turn := &tooluse.Turn{RC: rc, Profile: p, Messages: req.Messages}
		var err error
		loop, err = d.resolver.Run(ctx, turn, resp, &followUp{d: d, rc: rc, p: p, req: req})
		if err != nil {
			return nil, err
		}
		if loop.Stale {
			return &chat.RunResult{Character: p.Character, Status: chat.StatusHasNewMsg, Logs: loop.Logs, UsedTool: loop.UsedTool}, nil
		}
		resp = loop.Final
	}

	res := &chat.RunResult{Character: p.Character, Status: chat.StatusYes}
	if resp != nil {
		delivered, err := d.deliver(ctx, rc, p, resp)
		switch {
		case err == nil:
			res = delivered
		case loop == nil || !loop.UsedTool:
			return nil, err
		default:
			logger.Warn().Err(err).Str("character", p.Character).Msg("dispatch: no text after tool use")
			res.Status = chat.StatusNo
		}
	}
	if loop != nil {
		res.Logs = append(res.Logs, loop.Logs...)
		res.UsedTool = loop.UsedTool
	}
	return res, nil
}

// canReply reports whether the turn is still current. Reasoning
// characters always reply. A continuation is current while the
// character's newest record is not a finished reply; a normal turn while
// no newer user message has arrived.
func (d *Dispatcher) canReply(ctx context.Context, rc *chat.RunContext, p character.Profile) bool {
	if p.IsReasoning() || rc.Room == nil {
		return true
	}
	records, err := d.store.LatestRecords(ctx, rc.Room.ID, canReplyWindow)
	if err != nil {
		logger.Warn().Err(err).Str("room", rc.Room.ID).Msg("dispatch: staleness check failed")
		return false
	}
	for _, r := range records {
		if rc.Continue {
			if r.Character != p.Character {
				continue
			}
			return r.FinishReason != provider.FinishReasonStop
		}
		switch r.Kind {
		case chat.KindUser:
			return rc.Trigger != nil && r.ID == rc.Trigger.ID
		case chat.KindClear:
			return false
		}
	}
	return false
}

func (d *Dispatcher) ack(rc *chat.RunContext) string {
	return d.texts.T(rc.Locale(), "i_got_it", nil)
}

// followUp re-invokes the backend inside the tool loop with the tools of
// the first call.
type followUp struct {
	d   *Dispatcher
	rc  *chat.RunContext
	p   character.Profile
	req provider.ChatRequest
}

var _ tooluse.Backend = (*followUp)(nil)

func (f *followUp) Call(ctx context.Context, msgs []provider.Message, maxTokens int) (*provider.ChatResponse, error) {
	req := f.req
	req.Messages = prompt.Check(msgs, f.p, f.d.ack(f.rc))
	req.MaxTokens = maxTokens
	return f.d.call(ctx, f.rc, f.p, req)
}

func (f *followUp) Prepare(ctx context.Context, resp *provider.ChatResponse) bool {
	Transform(resp)
	return f.d.canReply(ctx, f.rc, f.p)
}
