package broadcast

import (
	"context"
	"time"

	"voxbot/internal/storage"
	"voxbot/internal/transport"
	"voxbot/pkg/logx"
)

const defaultSendTimeout = 10 * time.Second

// Executor delivers one payload to one recipient. It never retries or sleeps.
type Executor struct {
	tr      transport.Deliverer
	users   UserStore
	timeout time.Duration
	log     logx.Logger
}

func NewExecutor(tr transport.Deliverer, users UserStore, timeout time.Duration, log logx.Logger) *Executor {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Executor{tr: tr, users: users, timeout: timeout, log: log}
}

// Deliver sends p to recipient and classifies the result. A Blocked outcome
// marks the user blocked in the store before returning.
func (e *Executor) Deliver(ctx context.Context, recipient int64, p Payload) Outcome {
	if p.IsZero() {
		return Outcome{Kind: TransportError, Recipient: recipient, Err: ErrNoContent}
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res transport.SendResult
	switch p.kind {
	case payloadForward:
		res = e.tr.DeliverCopy(sctx, recipient, p.ref)
	default:
		res = e.tr.DeliverText(sctx, recipient, p.text)
	}
	o := classify(recipient, res)

	switch o.Kind {
	case Blocked:
		// The run context may already be cancelled; the status write must still land.
		wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		if err := e.users.SetStatus(wctx, recipient, storage.StatusBlocked); err != nil {
			e.log.Warn("mark user blocked failed", logx.Int64("user_id", recipient), logx.Err(err))
		}
		wcancel()
	case TransportError:
		e.log.Debug("delivery failed", logx.Int64("user_id", recipient), logx.Err(o.Err))
	}
	return o
}
