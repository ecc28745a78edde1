// Package notify implements chat.Notifier transports: a structured log
// sink, a NATS publisher, an in-memory recorder and a fan-out combinator.
package notify

// Notification kinds, also used as the last token of NATS subjects.
const (
	KindText   = "text"
	KindMedia  = "media"
	KindMenu   = "menu"
	KindTyping = "typing"
)
