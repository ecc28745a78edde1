package prompt

import (
	"strings"
	"time"

	"chorus/internal/chat"
)

// ImagePlaceholder stands in for an image without recognition text.
const ImagePlaceholder = "[image]"

// Limits for keeping images as images in a window.
const (
	MaxKeptImages    = 3
	MaxKeptImageIdx  = 12
	MaxKeptImageAge  = 24 * time.Hour
	imageCheckNewest = 2
	imageCheckWindow = 5
)

// RecognitionText labels an image's recognition text. It is idempotent.
func RecognitionText(label, text string) string {
	if text == "" || text == ImagePlaceholder {
		return ImagePlaceholder
	}
	if strings.HasPrefix(text, label) {
		return text
	}
	return label + "\n" + text
}

func isImage(r *chat.Record) bool {
	return r.MsgType == chat.MsgImage || r.ImageURL != ""
}

func toText(r *chat.Record, label string) {
	r.MsgType = chat.MsgText
	r.Text = RecognitionText(label, r.Text)
	r.ImageURL = ""
}

// DowngradeImages turns images that are too many, too deep in the window
// or too old into their recognition text. records are newest first and are
// modified in place.
func DowngradeImages(records []*chat.Record, label string, now time.Time) {
	n := 0
	for i, r := range records {
		if r.MsgType != chat.MsgImage {
			continue
		}
		n++
		if n > MaxKeptImages || i > MaxKeptImageIdx || now.Sub(r.CreatedAt) > MaxKeptImageAge {
			toText(r, label)
		}
	}
}

// NeedsVision reports whether any record in the window is an image.
func NeedsVision(records []*chat.Record) bool {
	for _, r := range records {
		if r.MsgType == chat.MsgImage {
			return true
		}
	}
	return false
}

// TextOnly rewrites a window for a backend that cannot read images. It
// fails when one of the two newest records is an image without text, or
// when a textless image among the five newest has no newer assistant or
// tool reply. The input is not modified.
func TextOnly(records []*chat.Record, label string) ([]*chat.Record, bool) {
	firstReply, firstPhoto := -1, -1
	for i := 0; i < len(records) && i < imageCheckWindow; i++ {
		r := records[i]
		if !isImage(r) || r.Text != "" {
			if firstReply < 0 && (r.Kind == chat.KindAssistant || r.Kind == chat.KindToolUse) {
				firstReply = i
			}
			continue
		}
		if i < imageCheckNewest {
			return nil, false
		}
		if firstPhoto < 0 {
			firstPhoto = i
		}
	}
	if firstPhoto >= 0 && (firstReply < 0 || firstReply > firstPhoto) {
		return nil, false
	}

	out := chat.CloneRecords(records)
	for _, r := range out {
		if isImage(r) {
			toText(r, label)
		}
	}
	return out, true
}
