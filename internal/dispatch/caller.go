package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chorus/internal/character"
	"chorus/internal/chat"
	"chorus/internal/provider"
	"chorus/pkg/logger"
)

// Call outcomes written to the call log.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

// call sends req to p's backend with a per-attempt timeout. Rate-limited
// attempts are retried after a fixed wait until the attempts run out.
func (d *Dispatcher) call(ctx context.Context, rc *chat.RunContext, p character.Profile, req provider.ChatRequest) (*provider.ChatResponse, error) {
	prov, err := d.registry.Provider(p)
	if err != nil {
		return nil, err
	}
	timeout := p.Traits.Timeout
	if timeout <= 0 {
		timeout = d.callTimeout
	}

	for attempt := 1; ; attempt++ {
		resp, err := d.attempt(ctx, rc, p, prov, req, timeout)
		if err == nil {
			return resp, nil
		}
		if !provider.IsRateLimited(err) || attempt >= d.attempts {
			return nil, err
		}
		logger.Warn().Err(err).Str("character", p.Character).Int("attempt", attempt).Msg("dispatch: rate limited, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.rateLimitWait):
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, rc *chat.RunContext, p character.Profile, prov provider.Provider, req provider.ChatRequest, timeout time.Duration) (*provider.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := d.now()
	resp, err := send(cctx, prov, req)
	latency := d.now().Sub(start)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %s after %s", provider.ErrTimeout, p.Character, timeout)
	}
	d.logCall(ctx, rc, p, resp, latency, err)
	return resp, err
}

func send(ctx context.Context, prov provider.Provider, req provider.ChatRequest) (*provider.ChatResponse, error) {
	if !req.Stream {
		return prov.Chat(ctx, req)
	}
	events, err := prov.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return provider.Collect(ctx, events)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case provider.IsRateLimited(err):
		return OutcomeRateLimited
	case provider.IsTimeout(err):
		return OutcomeTimeout
	}
	return OutcomeError
}

// logCall writes the "ai call" log line and the call log entry of one
// attempt, failed or not.
func (d *Dispatcher) logCall(ctx context.Context, rc *chat.RunContext, p character.Profile, resp *provider.ChatResponse, latency time.Duration, err error) {
	entry := &chat.CallLog{
		Character: p.Character,
		Model:     p.Model,
		BaseURL:   p.BaseURL,
		LatencyMS: latency.Milliseconds(),
		Outcome:   outcomeOf(err),
		CreatedAt: d.now(),
	}
	if rc.Room != nil {
		entry.RoomID = rc.Room.ID
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if resp != nil {
		entry.RequestID = resp.ID
		if resp.Model != "" {
			entry.Model = resp.Model
		}
		if u := resp.Usage; u != nil {
			entry.PromptTokens = u.PromptTokens
			entry.OutputTokens = u.CompletionTokens
			entry.TotalTokens = u.TotalTokens
		}
	}

	var ev *zerolog.Event
	if err != nil {
		ev = logger.Warn().Err(err)
	} else {
		ev = logger.Info()
	}
	ev.Str("character", entry.Character).
		Str("model", entry.Model).
		Str("base_url", entry.BaseURL).
		Str("request_id", entry.RequestID).
		Int64("latency_ms", entry.LatencyMS).
		Int("prompt_tokens", entry.PromptTokens).
		Int("completion_tokens", entry.OutputTokens).
		Int("total_tokens", entry.TotalTokens).
		Str("outcome", entry.Outcome).
		Msg("ai call")

	if err := d.store.AppendCallLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn().Err(err).Str("character", p.Character).Msg("dispatch: call log not saved")
	}
}
