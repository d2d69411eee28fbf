package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"voxbot/internal/broadcast"
	"voxbot/internal/storage"
	kit "voxbot/internal/transport"
	"voxbot/internal/transport/telegram/router"
	"voxbot/pkg/logx"
	"voxbot/pkg/tgui"
)

const broadcastUsage = "Usage: /broadcast <all|active|blocked> <text>, or reply to a message with /broadcast <target>"

// broadcastJob builds the job from the command. A reply forwards the
// replied-to message; otherwise everything after the target is the text.
func broadcastJob(req *router.Request) (broadcast.Job, error) {
	if len(req.Args) == 0 {
		return broadcast.Job{}, router.Errorf(broadcastUsage)
	}
	target, ok := broadcast.ParseTarget(req.Args[0])
	if !ok {
		return broadcast.Job{}, router.Errorf(broadcastUsage)
	}
	job := broadcast.Job{Target: target, AdminID: req.From.ID}

	if rt := req.Message.ReplyTo; rt != nil && !rt.IsZero() {
		job.Payload = broadcast.Forward(*rt)
		return job, nil
	}
	text := ""
	if i := strings.IndexFunc(req.RawArgs, unicode.IsSpace); i >= 0 {
		text = strings.TrimSpace(req.RawArgs[i:])
	}
	if text == "" {
		return broadcast.Job{}, router.Errorf(broadcastUsage)
	}
	job.Payload = broadcast.Text(text)
	return job, nil
}

func (b *Bot) cmdBroadcast(ctx context.Context, req *router.Request) error {
	job, err := broadcastJob(req)
	if err != nil {
		return err
	}

	ref, err := req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("📣 Starting broadcast to %s…", job.Target), &kit.SendOptions{})
	if err != nil {
		return err
	}
	card := &progressCard{bot: b, ref: ref, target: job.Target, start: b.now(), ctx: context.WithoutCancel(ctx)}

	id, err := b.Broadcast.Start(ctx, job, card.progress, func(s broadcast.Summary) {
		card.done(s)
		b.audit(card.ctx, storage.AuditEntry{
			ActorID: job.AdminID,
			Action:  "broadcast",
			Target:  string(job.Target),
			OK:      s.Sent,
			Fail:    s.Failed,
			TookMS:  s.Duration.Milliseconds(),
			Meta:    fmt.Sprintf("id=%s canceled=%v preview=%q", s.ID, s.Canceled, job.Payload.Preview()),
		})
	})
	if errors.Is(err, broadcast.ErrBusy) {
		_ = req.Adapter.EditText(ctx, ref, "⏳ Another broadcast is running. Check /bstatus.", &kit.SendOptions{})
		return nil
	}
	if err != nil {
		return err
	}
	req.Logger.Info("broadcast started", logx.String("id", id), logx.String("target", string(job.Target)))
	card.started(id)
	return nil
}

// progressCard keeps one status message up to date while a run progresses.
type progressCard struct {
	bot    *Bot
	ref    kit.MessageRef
	target broadcast.Target
	start  time.Time
	ctx    context.Context

	mu       sync.Mutex
	id       string
	last     *broadcast.BatchProgress
	finished bool
}

// The card methods hold mu across the edit so a late progress edit can
// never overwrite the final summary.
func (c *progressCard) started(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
	if !c.finished {
		c.edit(c.render())
	}
}

func (c *progressCard) progress(p broadcast.BatchProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.last = &p
	c.edit(c.render())
}

func (c *progressCard) done(s broadcast.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = true
	c.edit(summaryCard(s))
}

// render must be called with mu held.
func (c *progressCard) render() tgui.Message {
	ui := tgui.New().Title("📣", "Broadcast running").KV("Target", string(c.target))
	if c.id != "" {
		ui.HTML(tgui.H("• " + tgui.B("ID").String() + ": " + tgui.Code(c.id).String()))
	}
	if p := c.last; p != nil {
		ui.KV("Batch", fmt.Sprintf("%d/%d", p.Batch, p.Batches)).
			KV("Progress", fmt.Sprintf("%d/%d", p.Done, p.Total)).
			KV("Sent", strconv.Itoa(p.Counts.Success)).
			KV("Failed", strconv.Itoa(p.Counts.Failed)).
			KV("Blocked", strconv.Itoa(p.Counts.Blocked))
	}
	ui.KV("Elapsed", time.Since(c.start).Round(time.Second).String())
	if c.id != "" {
		kb := tgui.NewInline()
		cancelRow(kb, "⛔ Cancel", c.id)
		ui.Inline(kb)
	}
	return ui.Build()
}

// cancelRow adds a cancel button for run id unless its callback data would
// exceed Telegram's limit.
func cancelRow(kb *tgui.Inline, label, id string) {
	data, err := tgui.CheckedData(scopeBroadcast, "cancel", id)
	if err != nil {
		return
	}
	kb.Row(tgui.Btn(label, data))
}

func (c *progressCard) edit(m tgui.Message) {
	ctx, cancel := context.WithTimeout(c.ctx, notifyTimeout)
	defer cancel()
	if err := m.Edit(ctx, c.bot.Adapter, c.ref); err != nil {
		c.bot.log.Debug("broadcast card edit failed", logx.Err(err))
	}
}

func summaryCard(s broadcast.Summary) tgui.Message {
	if s.Message == broadcast.NoRecipientsMessage {
		return tgui.New().Title("📭", "Broadcast finished").Line("No recipients found.").Build()
	}
	title, icon := "Broadcast finished", "✅"
	if s.Canceled {
		title, icon = "Broadcast canceled", "⛔"
	}
	ui := tgui.New().Title(icon, title).
		KV("ID", s.ID).
		KV("Target", string(s.Target)).
		KV("Recipients", strconv.Itoa(s.Total+s.Skipped)).
		KV("Sent", strconv.Itoa(s.Sent)).
		KV("Failed", strconv.Itoa(s.Failed)).
		KV("Blocked", strconv.Itoa(s.Blocked)).
		KV("Rate limited", strconv.Itoa(s.Retried))
	if s.Skipped > 0 {
		ui.KV("Skipped", strconv.Itoa(s.Skipped))
	}
	return ui.KV("Duration", s.Duration.Round(time.Millisecond).String()).Build()
}

func (b *Bot) cmdBroadcastStats(ctx context.Context, req *router.Request) error {
	st := b.Broadcast.Stats()
	ui := tgui.New().Title("📈", "Broadcast history").
		KV("Broadcasts", strconv.Itoa(st.TotalBroadcasts)).
		KV("Messages sent", strconv.Itoa(st.TotalMessagesSent)).
		KV("Success rate", fmt.Sprintf("%.2f%%", st.SuccessRate))
	if last := st.LastBroadcast; last != nil {
		ui.Blank().Section("Last broadcast").
			KV("ID", last.ID).
			KV("When", last.Timestamp).
			KV("Target", last.TargetType).
			KV("Preview", tgui.TruncRunes(last.MessagePreview, 60))
		if last.Results != nil {
			ui.KV("Sent", fmt.Sprintf("%d/%d", last.Results.Success, last.Results.Total))
		}
	}
	_, err := ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdBroadcastStatus(ctx context.Context, req *router.Request) error {
	running := b.Broadcast.Running()
	if len(running) == 0 {
		_, err := req.Reply(ctx, "No broadcast is running.")
		return err
	}
	ui := tgui.New().Title("📣", fmt.Sprintf("Running broadcasts (%d)", len(running)))
	kb := tgui.NewInline()
	for _, j := range running {
		ui.HTML(tgui.JoinH(" ",
			tgui.Code(j.ID),
			tgui.Esc(fmt.Sprintf("%s · %d/%d · since %s", j.Target, j.Done, j.Total, j.StartedAt.Local().Format("15:04:05"))),
		))
		cancelRow(kb, "⛔ Cancel "+j.ID, j.ID)
	}
	_, err := ui.Inline(kb).Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cancelBroadcast(ctx context.Context, req *router.Request, id string) (string, error) {
	err := b.Broadcast.Cancel(id)
	b.audit(ctx, auditEntry(req, "broadcast_cancel", id, err))
	switch {
	case errors.Is(err, broadcast.ErrUnknownJob):
		return "No running broadcast " + id + ".", nil
	case err != nil:
		return "", err
	}
	return "⛔ Broadcast " + id + " canceled.", nil
}

func (b *Bot) cmdBroadcastCancel(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Errorf("Usage: /bcancel <id>")
	}
	text, err := b.cancelBroadcast(ctx, req, req.Args[0])
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, text)
	return err
}

func (b *Bot) cbBroadcastCancel(ctx context.Context, req *router.Request) error {
	if req.Payload == "" {
		return req.Answer(ctx, "")
	}
	text, err := b.cancelBroadcast(ctx, req, req.Payload)
	if err != nil {
		return err
	}
	return req.Answer(ctx, text)
}
