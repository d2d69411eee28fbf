package broadcast

import (
	"voxbot/internal/transport"
)

type payloadKind uint8

const (
	payloadNone payloadKind = iota
	payloadText
	payloadForward
)

// PreviewLimit caps the message preview stored in history, in runes.
const PreviewLimit = 100

// mediaPreview is stored for forwarded payloads, which have no text of their own.
const mediaPreview = "Media"

// Payload is either a text body or a reference to an existing message that
// is re-sent to every recipient. The zero value carries nothing.
type Payload struct {
	kind payloadKind
	text string
	ref  transport.MessageRef
}

func Text(s string) Payload { return Payload{kind: payloadText, text: s} }

func Forward(ref transport.MessageRef) Payload { return Payload{kind: payloadForward, ref: ref} }

func (p Payload) IsZero() bool {
	switch p.kind {
	case payloadText:
		return p.text == ""
	case payloadForward:
		return p.ref.IsZero()
	}
	return true
}

// Preview is the history-safe summary of the payload.
func (p Payload) Preview() string {
	if p.kind != payloadText {
		return mediaPreview
	}
	r := []rune(p.text)
	if len(r) <= PreviewLimit {
		return p.text
	}
	return string(r[:PreviewLimit])
}
