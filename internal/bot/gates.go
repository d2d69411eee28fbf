package bot

import (
	"context"

	"voxbot/internal/storage"
	kit "voxbot/internal/transport"
	"voxbot/internal/transport/telegram/router"
	"voxbot/pkg/logx"
	"voxbot/pkg/tgui"
)

const (
	scopeSub       = "sub"
	scopeBroadcast = "bc"

	slowDownText = "🐢 You are sending too many messages. Please wait a bit and try again."
)

// registerUser upserts the sender, revives users that had blocked the bot
// and drops updates from banned users. Store errors let the update through.
func (b *Bot) registerUser(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		from := req.From
		if from.ID == 0 {
			return next(ctx, req)
		}
		err := b.Store.UpsertUser(ctx, storage.User{
			ID:           from.ID,
			Username:     from.Username,
			FirstName:    from.FirstName,
			LastName:     from.LastName,
			LanguageCode: from.LanguageCode,
		})
		if err != nil {
			req.Logger.Error("register user failed", logx.Err(err))
			return next(ctx, req)
		}
		u, err := b.Store.GetUser(ctx, from.ID)
		if err != nil {
			req.Logger.Error("load user failed", logx.Err(err))
			return next(ctx, req)
		}
		switch u.Status {
		case storage.StatusBanned:
			if req.Admin {
				break
			}
			req.Logger.Debug("update from banned user dropped")
			return nil
		case storage.StatusBlocked:
			if err := b.Store.SetStatus(ctx, from.ID, storage.StatusActive); err != nil {
				req.Logger.Warn("reactivate user failed", logx.Err(err))
			}
		}
		return next(ctx, req)
	}
}

// rateLimit drops updates over the per-user budget. The user hears about it
// once per streak.
func (b *Bot) rateLimit(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if b.Limiter == nil || req.Admin {
			return next(ctx, req)
		}
		d := b.Limiter.Allow(req.From.ID)
		if d.Allowed {
			return next(ctx, req)
		}
		if b.Metrics != nil {
			b.Metrics.RateLimited()
		}
		req.Logger.Debug("rate limited", logx.String("cmd", req.Command))
		if req.Callback != nil {
			return req.Answer(ctx, slowDownText)
		}
		if d.Notify {
			_, err := req.Reply(ctx, slowDownText)
			return err
		}
		return nil
	}
}

// forceSubscribe blocks non-admin users who are missing a force channel.
func (b *Bot) forceSubscribe(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if b.Subscriptions == nil || req.Public || req.Admin {
			return next(ctx, req)
		}
		ok, missing := b.Subscriptions.Check(ctx, req.From.ID)
		if ok {
			return next(ctx, req)
		}
		if req.Callback != nil {
			_ = req.Answer(ctx, "Please subscribe to the required channels first.")
		}
		msg := subscribePrompt(missing)
		_, err := msg.Send(ctx, req.Adapter, req.Chat)
		return err
	}
}

func subscribePrompt(missing []storage.ForceChannel) tgui.Message {
	kb := tgui.NewInline()
	ui := tgui.New().
		Title("📢", "Subscription required").
		Line("To use the bot, please join these channels:")
	for _, ch := range missing {
		name := ch.Title
		if name == "" {
			name = ch.Username
		}
		ui.Bullets(name)
		if url := ch.URL(); url != "" {
			kb.Row(tgui.URLBtn("➕ "+tgui.TruncRunes(name, 40), url))
		}
	}
	kb.Row(tgui.Btn("✅ I've subscribed", tgui.Data(scopeSub, "check", "")))
	return ui.Blank().Line("Then press the button below.").Inline(kb).Build()
}

func (b *Bot) cbSubscriptionCheck(ctx context.Context, req *router.Request) error {
	if b.Subscriptions != nil {
		if ok, _ := b.Subscriptions.Check(ctx, req.From.ID); !ok {
			return req.Answer(ctx, "❌ You are not subscribed to every channel yet.")
		}
	}
	_ = req.Answer(ctx, "✅ Thanks!")
	ref := kit.MessageRef{ChatID: req.Callback.ChatID, ThreadID: req.Callback.ThreadID, MessageID: req.Callback.MessageID}
	if ref.IsZero() {
		return nil
	}
	return req.Adapter.EditText(ctx, ref, "✅ Subscription confirmed. Send me an audio file to convert.", &kit.SendOptions{})
}
