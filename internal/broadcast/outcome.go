package broadcast

import (
	"errors"
	"time"

	"voxbot/internal/transport"
)

// ErrNoContent marks a delivery attempted with an empty payload.
var ErrNoContent = errors.New("broadcast: payload has no content")

type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	Blocked
	RateLimited
	MalformedRequest
	TransportError
)

// String doubles as the key in Counts.Errors.
func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Blocked:
		return "blocked"
	case RateLimited:
		return "retry"
	case MalformedRequest:
		return "bad_request"
	default:
		return "transport"
	}
}

// Outcome is the result of one delivery to one recipient.
type Outcome struct {
	Kind       OutcomeKind
	Recipient  int64
	RetryAfter time.Duration
	Err        error
}

// errorKey is the Counts.Errors bucket of a failed outcome.
func (o Outcome) errorKey() string {
	if errors.Is(o.Err, ErrNoContent) {
		return "no_content"
	}
	return o.Kind.String()
}

// classify maps a transport result onto the outcome taxonomy.
func classify(recipient int64, r transport.SendResult) Outcome {
	o := Outcome{Recipient: recipient, Err: r.Err}
	switch r.Status {
	case transport.SendOK:
		o.Kind = Delivered
	case transport.SendBlocked:
		o.Kind = Blocked
	case transport.SendRateLimited:
		o.Kind = RateLimited
		o.RetryAfter = r.RetryAfter
	case transport.SendBadRequest:
		o.Kind = MalformedRequest
	default:
		o.Kind = TransportError
	}
	return o
}
