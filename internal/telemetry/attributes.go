// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by every span the orchestrator emits.
const (
	SessionIDKey        = "session.id"
	SessionUserKey      = "session.user"
	SessionVoiceKey     = "session.voice"
	SessionPrewarmedKey = "session.prewarmed"

	WebhookEventKey = "webhook.event"
	WebhookRoomKey  = "webhook.room"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes creates session span attributes. Empty fields are
// omitted so pooled sessions without a user stay clean.
func SessionAttributes(id, user, voice string, prewarmed bool) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if id != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, id))
	}
	if user != "" {
		attrs = append(attrs, attribute.String(SessionUserKey, user))
	}
	if voice != "" {
		attrs = append(attrs, attribute.String(SessionVoiceKey, voice))
	}
	attrs = append(attrs, attribute.Bool(SessionPrewarmedKey, prewarmed))
	return attrs
}

// WebhookAttributes creates media-webhook span attributes.
func WebhookAttributes(event, room string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if event != "" {
		attrs = append(attrs, attribute.String(WebhookEventKey, event))
	}
	if room != "" {
		attrs = append(attrs, attribute.String(WebhookRoomKey, room))
	}
	return attrs
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
