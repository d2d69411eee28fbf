package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"voxbot/internal/storage"
	"voxbot/internal/subscription"
	kit "voxbot/internal/transport"
	"voxbot/internal/transport/telegram/router"
	"voxbot/internal/voice"
	"voxbot/pkg/logx"
	"voxbot/pkg/tgui"
)

func (b *Bot) formatsLabel() string {
	fs := b.Converter.Formats()
	up := make([]string, len(fs))
	for i, f := range fs {
		up[i] = strings.ToUpper(f)
	}
	return strings.Join(up, ", ")
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%dKB", n>>10)
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	name := req.From.FirstName
	if name == "" {
		name = "there"
	}
	msg := tgui.New().
		Title("🎵", "Audio to Voice Bot").
		Blank().
		Line(fmt.Sprintf("Hi %s! 👋", name)).
		Line("I turn audio files into Telegram voice messages.").
		Blank().
		Section("🔧 How it works").
		Line("📁 Send an audio file ("+b.formatsLabel()+")").
		Line("⚡ I convert it").
		Line("📤 You get a voice message back").
		Blank().
		Section("📏 Limits").
		KV("Max file size", humanBytes(b.Converter.MaxSize())).
		Blank().
		Line("/help for details, /about for more.").
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdHelp(r *router.Router) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		ui := tgui.New().
			Title("🆘", "Help").
			Blank().
			HTML(tgui.H(r.HelpHTML(req.Admin))).
			Blank().
			Section("🎵 Conversion").
			Bullets(
				"Formats: "+b.formatsLabel(),
				"Max file size: "+humanBytes(b.Converter.MaxSize()),
				"Output: OGG (Opus), mono 48kHz",
			)
		_, err := ui.Build().Send(ctx, req.Adapter, req.Chat)
		return err
	}
}

func (b *Bot) cmdAbout(ctx context.Context, req *router.Request) error {
	msg := tgui.New().
		Title("🤖", "About").
		KV("Name", "Audio to Voice Bot").
		KV("Version", b.Version).
		KV("Purpose", "convert audio files into voice messages").
		Blank().
		Section("💻 Built with").
		Bullets("Go", "FFmpeg for audio processing", "SQLite storage").
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdSettings(ctx context.Context, req *router.Request) error {
	u, err := b.Store.GetUser(ctx, req.From.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	lang := req.From.LanguageCode
	if lang == "" {
		lang = "-"
	}
	ui := tgui.New().
		Title("⚙️", "Settings").
		KV("User", u.DisplayName()).
		HTML(tgui.H("• "+tgui.B("ID").String()+": "+tgui.Code(fmt.Sprint(req.From.ID)).String())).
		KV("Language", lang)
	if !u.CreatedAt.IsZero() {
		ui.KV("Registered", u.CreatedAt.Local().Format("02.01.2006")).
			KV("Last activity", u.LastActivity.Local().Format("02.01.2006 15:04"))
	}
	ui.KV("Conversions", fmt.Sprint(u.TotalConversions)).
		Blank().
		Section("🔧 Limits").
		KV("Max file size", humanBytes(b.Converter.MaxSize())).
		KV("Formats", b.formatsLabel())
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdRequestChannel(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Errorf("Usage: /request_channel <@channel|id>")
	}
	cr, err := b.Channels.Request(ctx, req.From.ID, req.Args[0])
	switch {
	case errors.Is(err, subscription.ErrBadChatRef):
		return router.Errorf("Send a channel as @username, t.me link or numeric id.")
	case errors.Is(err, kit.ErrChatNotFound), errors.Is(err, kit.ErrForbidden):
		return router.Errorf("❌ I cannot see that channel. Make sure it exists and I am a member.")
	case errors.Is(err, subscription.ErrDuplicateRequest):
		return router.Errorf("⏳ You already have a pending request for this channel.")
	case errors.Is(err, subscription.ErrAlreadyForced):
		return router.Errorf("ℹ️ This channel is already on the list.")
	case err != nil:
		return err
	}

	_, err = tgui.New().
		Title("📝", "Request sent").
		KV("ID", cr.ID).
		KV("Channel", channelLabel(cr.Title, cr.Username, cr.ChatID)).
		Line("An admin will review it soon.").
		Build().Send(ctx, req.Adapter, req.Chat)

	b.notifyAdmins(ctx, tgui.New().
		Title("📝", "New channel request").
		KV("ID", cr.ID).
		KV("Channel", channelLabel(cr.Title, cr.Username, cr.ChatID)).
		HTML(tgui.H("• "+tgui.B("From").String()+": "+tgui.Mention(req.From.FirstName, req.From.ID).String())).
		HTML(tgui.H("/approve "+cr.ID+" · /reject "+cr.ID)).
		Build().Text)
	return err
}

func (b *Bot) cmdMyRequests(ctx context.Context, req *router.Request) error {
	list, err := b.Channels.UserRequests(ctx, req.From.ID, listLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		_, err := req.Reply(ctx, "You have no channel requests yet. Use /request_channel to suggest one.")
		return err
	}
	ui := tgui.New().Title("📋", "Your requests")
	for _, r := range list {
		line := fmt.Sprintf("%s %s · %s", statusIcon(r.Status), channelLabel(r.Title, r.Username, r.ChatID), r.CreatedAt.Local().Format("02.01.2006"))
		ui.Line(line)
		if r.AdminComment != "" {
			ui.Line("   💬 " + r.AdminComment)
		}
	}
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) onMedia(ctx context.Context, req *router.Request) error {
	m := req.Message.Media
	if m.Kind == kit.MediaVoice {
		_, err := req.Reply(ctx, "ℹ️ This is already a voice message. Send it as an audio file to convert it.")
		return err
	}
	src := voice.Source{FileID: m.FileID, FileName: m.FileName, MIME: m.MIME, Size: m.Size}
	if m.Kind == kit.MediaDocument && !strings.HasPrefix(m.MIME, "audio/") && !slices.Contains(b.Converter.Formats(), voice.Format(src)) {
		return nil
	}

	to := req.Chat
	progress, err := req.Adapter.SendText(ctx, to, "🔄 Converting your audio…", &kit.SendOptions{ReplyTo: req.Message.ID})
	if err != nil {
		return err
	}
	caption := "✅ Converted to a voice message!"
	_, err = b.Converter.Convert(ctx, req.From.ID, src, func(ctx context.Context, path string) error {
		_, err := b.Files.SendVoice(ctx, to, path, caption, &kit.SendOptions{ReplyTo: req.Message.ID})
		return err
	})

	var text string
	switch {
	case err == nil:
		text = "✅ Done."
	case errors.Is(err, voice.ErrTooLarge):
		text = "❌ File is too large. Max size: " + humanBytes(b.Converter.MaxSize())
	case errors.Is(err, voice.ErrUnsupportedFormat):
		text = "❌ Unsupported format. Supported: " + b.formatsLabel()
	case errors.Is(err, voice.ErrFFmpegMissing):
		text = "❌ Conversion is unavailable right now."
		req.Logger.Error("ffmpeg missing", logx.Err(err))
	default:
		text = "❌ Failed to convert the file. Please try another one."
		req.Logger.Warn("conversion failed", logx.Err(err))
	}
	if editErr := req.Adapter.EditText(ctx, progress, text, &kit.SendOptions{}); editErr != nil {
		req.Logger.Debug("progress edit failed", logx.Err(editErr))
	}
	return nil
}

func channelLabel(title, username string, chatID int64) string {
	switch {
	case title != "" && username != "":
		return title + " (@" + username + ")"
	case title != "":
		return title
	case username != "":
		return "@" + username
	}
	return fmt.Sprint(chatID)
}

func statusIcon(s storage.RequestStatus) string {
	switch s {
	case storage.RequestApproved:
		return "✅"
	case storage.RequestRejected:
		return "❌"
	default:
		return "⏳"
	}
}
