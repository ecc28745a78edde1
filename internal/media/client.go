// Package media talks to the speech, transcription, image recognition and
// image generation services over JSON HTTP.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chorus/internal/chat"
)

var (
	_ chat.Speaker         = (*Speaker)(nil)
	_ chat.Transcriber     = (*Transcriber)(nil)
	_ chat.ImageRecognizer = (*Recognizer)(nil)
	_ chat.ImageGenerator  = (*Drawer)(nil)
)

// ErrEmptyResult is returned when a service answers 2xx without the field
// the caller needs.
var ErrEmptyResult = errors.New("media: empty result")

// StatusError is a non-2xx answer.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("media: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

const maxResponseSize = 1 << 20

// Client posts JSON to one endpoint.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

// NewClient creates a client with timeout. A zero timeout means 30s.
func NewClient(endpoint string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: timeout}}
}

func (c Client) post(ctx context.Context, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("media: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("media: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "chorus/1.0")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("media: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("media: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &StatusError{Endpoint: c.Endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("media: decode response: %w", err)
	}
	return nil
}

// Speaker synthesizes voice replies.
type Speaker struct{ Client }

func (s *Speaker) Speak(ctx context.Context, text, voice string) (string, error) {
	var out struct {
		AudioURL string `json:"audio_url"`
	}
	if err := s.post(ctx, map[string]string{"text": text, "voice": voice}, &out); err != nil {
		return "", err
	}
	if out.AudioURL == "" {
		return "", ErrEmptyResult
	}
	return out.AudioURL, nil
}

// Transcriber turns voice messages into text.
type Transcriber struct{ Client }

// Transcribe may return an empty string when nothing was recognised.
func (t *Transcriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := t.post(ctx, map[string]string{"audio_url": audioURL}, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

// Recognizer describes images for backends without vision.
type Recognizer struct{ Client }

func (r *Recognizer) Describe(ctx context.Context, imageURL string) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := r.post(ctx, map[string]string{"image_url": imageURL}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Description) == "" {
		return "", ErrEmptyResult
	}
	return out.Description, nil
}

// Drawer generates pictures for the draw_picture tool.
type Drawer struct{ Client }

func (d *Drawer) Draw(ctx context.Context, prompt, sizeType string) (*chat.Image, error) {
	var out chat.Image
	if err := d.post(ctx, map[string]string{"prompt": prompt, "size_type": sizeType}, &out); err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, ErrEmptyResult
	}
	return &out, nil
}

// Set holds the configured clients. A nil field means the service is not
// configured.
type Set struct {
	Speaker     *Speaker
	Transcriber *Transcriber
	Recognizer  *Recognizer
	Drawer      *Drawer
}

// Endpoints names the service URLs. Empty endpoints are skipped.
type Endpoints struct {
	Speak      string
	Transcribe string
	Describe   string
	Draw       string
	Timeout    time.Duration
}

// NewSet builds a client for every non-empty endpoint.
func NewSet(e Endpoints) Set {
	var s Set
	if e.Speak != "" {
		s.Speaker = &Speaker{NewClient(e.Speak, e.Timeout)}
	}
	if e.Transcribe != "" {
		s.Transcriber = &Transcriber{NewClient(e.Transcribe, e.Timeout)}
	}
	if e.Describe != "" {
		s.Recognizer = &Recognizer{NewClient(e.Describe, e.Timeout)}
	}
	if e.Draw != "" {
		s.Drawer = &Drawer{NewClient(e.Draw, e.Timeout)}
	}
	return s
}
