package chat

import (
	"context"

	"chorus/internal/i18n"
)

// Texts renders localized strings.
type Texts interface {
	T(locale, key string, vars i18n.Vars) string
}

// Transcriber turns a voice message into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// ImageRecognizer describes an image in text.
type ImageRecognizer interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// Speaker synthesizes a voice reply and returns its URL.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (string, error)
}

// Image is a generated picture.
type Image struct {
	URL   string `json:"url"`
	Model string `json:"model"`
}

// ImageGenerator draws a picture from a prompt.
type ImageGenerator interface {
	Draw(ctx context.Context, prompt, sizeType string) (*Image, error)
}
