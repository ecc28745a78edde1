package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"chorus/internal/provider"
	"chorus/pkg/logger"
)

var _ provider.Provider = (*Provider)(nil)

// ErrInvalidResponse is returned when the body cannot be decoded.
var ErrInvalidResponse = errors.New("invalid response from backend")

// Provider talks to one OpenAI-compatible endpoint.
type Provider struct {
	cfg          Config
	endpoint     string
	httpClient   *http.Client // unary calls, bounded by Timeout
	streamClient *http.Client // streamed calls, bounded by the caller's context
	models       *provider.Cache[[]string]
}

// New creates a Provider from cfg.
func New(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	return &Provider{
		cfg:        cfg,
		endpoint:   normalizeEndpoint(cfg.BaseURL),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		models: provider.NewCache[[]string](DefaultModelsTTL, nil),
	}
}

// normalizeEndpoint strips a trailing slash and /v1 so paths can be appended
// uniformly.
func normalizeEndpoint(base string) string {
	n := strings.TrimRight(strings.TrimSpace(base), "/")
	return strings.TrimSuffix(n, "/v1")
}

func (p *Provider) Name() string { return p.cfg.Name }

// Models lists the models served by the endpoint, cached for DefaultModelsTTL.
// It falls back to the configured model when listing fails.
func (p *Provider) Models() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	models, err := p.models.GetOrFetch(ctx, p.listModels)
	if err != nil || len(models) == 0 {
		if p.cfg.Model != "" {
			return []string{p.cfg.Model}
		}
		return nil
	}
	return models
}

func (p *Provider) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	p.setHeaders(req)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}
	var mr modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(mr.Data))
	for _, m := range mr.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

// Chat sends a unary completion request.
func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, p.httpClient, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.errorFromBody(resp.StatusCode, data)
	}
	if len(data) == 0 {
		return nil, provider.NewProviderError(provider.ErrCodeEmptyResponse, "empty body", p.cfg.Name, true)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		logger.Warn().Err(err).Str("provider", p.cfg.Name).Msg("decode completion failed")
		return nil, ErrInvalidResponse
	}
	if cr.Error != nil {
		return nil, provider.FromStatus(p.cfg.Name, resp.StatusCode, cr.Error.Message)
	}
	return convertResponse(&cr), nil
}

// Stream sends a streamed completion request.
func (p *Provider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := p.post(ctx, p.streamClient, body, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, p.errorFromBody(resp.StatusCode, data)
	}
	return ProcessStream(ctx, resp.Body), nil
}

func (p *Provider) post(ctx context.Context, client *http.Client, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	p.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%s: %w", p.cfg.Name, provider.ErrTimeout)
		}
		return nil, &provider.ProviderError{
			Code:      provider.ErrCodeNetworkError,
			Message:   err.Error(),
			Provider:  p.cfg.Name,
			Retryable: true,
		}
	}
	return resp, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
}

func (p *Provider) errorFromBody(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err == nil && cr.Error != nil {
		msg = cr.Error.Message
	}
	return provider.FromStatus(p.cfg.Name, status, msg)
}

func (p *Provider) buildRequest(req provider.ChatRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	out := &chatRequest{
		Model:     model,
		Messages:  make([]chatMessage, 0, len(req.Messages)),
		Stream:    stream,
		MaxTokens: req.MaxTokens,
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}

	for _, m := range req.Messages {
		out.Messages = append(out.Messages, convertMessage(m))
	}

	for _, t := range req.Tools {
		params := t.Function.Parameters
		if p.cfg.StringifyToolParams && len(params) > 0 {
			if quoted, err := json.Marshal(string(params)); err == nil {
				params = quoted
			}
		}
		typ := t.Type
		if typ == "" {
			typ = "function"
		}
		out.Tools = append(out.Tools, chatTool{
			Type: typ,
			Function: chatFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func convertMessage(m provider.Message) chatMessage {
	cm := chatMessage{
		Role:       m.Role,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
		Prefix:     m.Prefix,
		Partial:    m.Partial,
	}
	if m.IsMultipart() {
		parts := make([]chatPart, 0, len(m.Parts))
		for _, part := range m.Parts {
			cp := chatPart{Type: part.Type, Text: part.Text}
			if part.ImageURL != nil {
				cp.ImageURL = &imageURL{URL: part.ImageURL.URL}
			}
			if part.InputAudio != nil {
				cp.InputAudio = &inputAudio{Data: part.InputAudio.Data, Format: part.InputAudio.Format}
			}
			parts = append(parts, cp)
		}
		cm.Content = parts
	} else {
		cm.Content = m.Content
	}
	for _, tc := range m.ToolCalls {
		ct := chatToolCall{ID: tc.ID, Type: "function"}
		ct.Function.Name = tc.Name
		ct.Function.Arguments = tc.Arguments
		cm.ToolCalls = append(cm.ToolCalls, ct)
	}
	return cm
}

func convertResponse(cr *chatResponse) *provider.ChatResponse {
	out := &provider.ChatResponse{
		ID:           cr.ID,
		Model:        cr.Model,
		FinishReason: provider.FinishReasonStop,
	}
	if len(cr.Choices) > 0 {
		choice := cr.Choices[0]
		if choice.Message.Content != nil {
			out.Content = *choice.Message.Content
		}
		out.Reasoning = choice.Message.reasoning()
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, provider.ToolCall{
				ID:        tc.ID,
				Type:      "function",
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		switch choice.FinishReason {
		case provider.FinishReasonToolCalls, "function_call":
			out.FinishReason = provider.FinishReasonToolCalls
		case provider.FinishReasonLength:
			out.FinishReason = provider.FinishReasonLength
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = provider.FinishReasonToolCalls
	}
	if cr.Usage != nil {
		out.Usage = &provider.Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		}
	}
	return out
}
