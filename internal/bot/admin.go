package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"voxbot/internal/storage"
	"voxbot/internal/subscription"
	kit "voxbot/internal/transport"
	"voxbot/internal/transport/telegram/router"
	"voxbot/pkg/tgui"
)

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (b *Bot) cmdAdmin(ctx context.Context, req *router.Request) error {
	now := b.now()
	total, err := b.Store.CountUsers(ctx)
	if err != nil {
		return err
	}
	today, err := b.Store.CountActiveSince(ctx, startOfDay(now))
	if err != nil {
		return err
	}
	conv, err := b.Store.ConversionStatsSince(ctx, startOfDay(now))
	if err != nil {
		return err
	}
	bs := b.Broadcast.Stats()

	msg := tgui.New().
		Title("🔧", "Admin panel").
		KV("Users", strconv.Itoa(total)).
		KV("Active today", strconv.Itoa(today)).
		KV("Conversions today", strconv.Itoa(conv.Successful)).
		KV("Broadcast success", fmt.Sprintf("%.2f%%", bs.SuccessRate)).
		Blank().
		Line("/stats · /users · /channels · /requests · /broadcast · /bstats").
		Build()
	_, err = msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	now := b.now()
	byStatus, err := b.Store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	today, err := b.Store.ConversionStatsSince(ctx, startOfDay(now))
	if err != nil {
		return err
	}
	week, err := b.Store.ConversionStatsSince(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		return err
	}
	rs, err := b.Channels.Stats(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}
	ui := tgui.New().
		Title("📊", "Statistics").
		Section("👥 Users").
		KV("Total", strconv.Itoa(total)).
		KV("Active", strconv.Itoa(byStatus[storage.StatusActive])).
		KV("Blocked the bot", strconv.Itoa(byStatus[storage.StatusBlocked])).
		KV("Banned", strconv.Itoa(byStatus[storage.StatusBanned])).
		Blank().
		Section("🎵 Conversions").
		KV("Today", fmt.Sprintf("%d ok / %d failed", today.Successful, today.Failed)).
		KV("Last 7 days", fmt.Sprintf("%d ok / %d failed", week.Successful, week.Failed))
	if top := topFormats(week.Formats, 5); len(top) > 0 {
		ui.KV("Popular formats", strings.Join(top, ", "))
	}
	ui.Blank().
		Section("📝 Channel requests").
		KV("Pending", strconv.Itoa(rs.Pending)).
		KV("Approved", strconv.Itoa(rs.Approved)).
		KV("Rejected", strconv.Itoa(rs.Rejected))
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// topFormats renders the n most used formats as "mp3 (12)".
func topFormats(m map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	all := make([]kv, 0, len(m))
	for k, v := range m {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].v != all[j].v {
			return all[i].v > all[j].v
		}
		return all[i].k < all[j].k
	})
	out := make([]string, 0, n)
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, fmt.Sprintf("%s (%d)", all[i].k, all[i].v))
	}
	return out
}

// cmdUsers lists users: /users [active|blocked|banned] [page].
func (b *Bot) cmdUsers(ctx context.Context, req *router.Request) error {
	var status storage.UserStatus
	page := 1
	for _, a := range req.Args {
		if n, err := strconv.Atoi(a); err == nil && n > 0 {
			page = n
			continue
		}
		s := storage.UserStatus(strings.ToLower(a))
		if !s.Valid() {
			return router.Errorf("Usage: /users [active|blocked|banned] [page]")
		}
		status = s
	}

	users, err := b.Store.ListByStatus(ctx, status, usersPageSize+1, (page-1)*usersPageSize)
	if err != nil {
		return err
	}
	hasNext := len(users) > usersPageSize
	if hasNext {
		users = users[:usersPageSize]
	}

	label := "all"
	if status != "" {
		label = string(status)
	}
	ui := tgui.New().Title("👥", fmt.Sprintf("Users (%s) · page %d", label, page))
	if len(users) == 0 {
		ui.Line("Nobody here.")
	}
	for _, u := range users {
		ui.HTML(tgui.JoinH(" ",
			tgui.Code(strconv.FormatInt(u.ID, 10)),
			tgui.Esc(tgui.TruncRunes(u.DisplayName(), 32)),
			tgui.I(string(u.Status)),
			tgui.Esc(fmt.Sprintf("· %d conv · %s", u.TotalConversions, u.LastActivity.Local().Format("02.01 15:04"))),
		))
	}
	if hasNext {
		ui.Blank().Line(fmt.Sprintf("Next: /users %s %d", label, page+1))
	}
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func parseID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		return 0, router.Errorf(usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, router.Errorf(usage)
	}
	return id, nil
}

func (b *Bot) cmdSetStatus(status storage.UserStatus) router.HandlerFunc {
	action := "unban"
	if status == storage.StatusBanned {
		action = "ban"
	}
	return func(ctx context.Context, req *router.Request) error {
		id, err := parseID(req.Args, "Usage: /"+action+" <user_id>")
		if err != nil {
			return err
		}
		if status == storage.StatusBanned && b.isAdmin(id) {
			return router.Errorf("Admins cannot be banned.")
		}
		if _, err := b.Store.GetUser(ctx, id); errors.Is(err, storage.ErrNotFound) {
			return router.Errorf(fmt.Sprintf("User %d not found.", id))
		} else if err != nil {
			return err
		}
		err = b.Store.SetStatus(ctx, id, status)
		b.audit(ctx, auditEntry(req, action, strconv.FormatInt(id, 10), err))
		if err != nil {
			return err
		}
		_, err = req.Reply(ctx, fmt.Sprintf("✅ User %d is now %s.", id, status))
		return err
	}
}

func (b *Bot) cmdChannelAdd(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return router.Errorf("Usage: /channel_add <@channel|id>")
	}
	ch, err := b.Channels.Add(ctx, req.Args[0], req.From.ID)
	b.audit(ctx, auditEntry(req, "channel_add", req.Args[0], err))
	switch {
	case errors.Is(err, subscription.ErrBadChatRef):
		return router.Errorf("Send a channel as @username, t.me link or numeric id.")
	case errors.Is(err, kit.ErrChatNotFound), errors.Is(err, kit.ErrForbidden):
		return router.Errorf("❌ Channel not reachable. Add the bot to the channel as an admin first.")
	case err != nil:
		return err
	}
	_, err = req.Reply(ctx, fmt.Sprintf("✅ Force channel added: %s", channelLabel(ch.Title, ch.Username, ch.ChatID)))
	return err
}

func (b *Bot) cmdChannelRemove(ctx context.Context, req *router.Request) error {
	id, err := parseID(req.Args, "Usage: /channel_remove <chat_id>")
	if err != nil {
		return err
	}
	err = b.Channels.Remove(ctx, id)
	b.audit(ctx, auditEntry(req, "channel_remove", strconv.FormatInt(id, 10), err))
	if errors.Is(err, storage.ErrNotFound) {
		return router.Errorf(fmt.Sprintf("Channel %d is not a force channel.", id))
	}
	if err != nil {
		return err
	}
	_, err = req.Reply(ctx, fmt.Sprintf("✅ Channel %d removed.", id))
	return err
}

func (b *Bot) cmdChannels(ctx context.Context, req *router.Request) error {
	list, err := b.Channels.List(ctx)
	if err != nil {
		return err
	}
	ui := tgui.New().Title("📢", fmt.Sprintf("Force channels (%d)", len(list)))
	if len(list) == 0 {
		ui.Line("None. Add one with /channel_add.")
	}
	for _, ch := range list {
		ui.HTML(tgui.JoinH(" ",
			tgui.Code(strconv.FormatInt(ch.ChatID, 10)),
			tgui.Esc(channelLabel(ch.Title, ch.Username, ch.ChatID)),
		))
	}
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdRequests(ctx context.Context, req *router.Request) error {
	status := storage.RequestPending
	if len(req.Args) > 0 {
		status = storage.RequestStatus(strings.ToLower(req.Args[0]))
		switch status {
		case storage.RequestPending, storage.RequestApproved, storage.RequestRejected:
		default:
			return router.Errorf("Usage: /requests [pending|approved|rejected]")
		}
	}
	list, err := b.Channels.Requests(ctx, status, listLimit)
	if err != nil {
		return err
	}
	ui := tgui.New().Title("📝", fmt.Sprintf("Requests · %s (%d)", status, len(list)))
	if len(list) == 0 {
		ui.Line("Nothing here.")
	}
	for _, r := range list {
		ui.HTML(tgui.JoinH(" ",
			tgui.H(statusIcon(r.Status)),
			tgui.Code(r.ID),
			tgui.Esc(channelLabel(r.Title, r.Username, r.ChatID)),
			tgui.Esc("· from"),
			tgui.Mention(strconv.FormatInt(r.UserID, 10), r.UserID),
		))
	}
	if status == storage.RequestPending && len(list) > 0 {
		ui.Blank().Line("/approve <id> [comment] · /reject <id> [comment]")
	}
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func (b *Bot) cmdReview(approve bool) router.HandlerFunc {
	action := "reject"
	if approve {
		action = "approve"
	}
	return func(ctx context.Context, req *router.Request) error {
		if len(req.Args) == 0 {
			return router.Errorf("Usage: /" + action + " <id> [comment]")
		}
		id := req.Args[0]
		comment := strings.TrimSpace(strings.TrimPrefix(req.RawArgs, id))

		var (
			cr  storage.ChannelRequest
			err error
		)
		if approve {
			cr, err = b.Channels.Approve(ctx, id, req.From.ID, comment)
		} else {
			cr, err = b.Channels.Reject(ctx, id, req.From.ID, comment)
		}
		b.audit(ctx, auditEntry(req, action, id, err))
		if errors.Is(err, storage.ErrNotFound) {
			return router.Errorf(fmt.Sprintf("No pending request %s.", id))
		}
		if err != nil && cr.ID == "" {
			return err
		}

		label := channelLabel(cr.Title, cr.Username, cr.ChatID)
		note := tgui.New()
		if approve {
			note.Title("✅", "Channel request approved").KV("Channel", label)
		} else {
			note.Title("❌", "Channel request rejected").KV("Channel", label)
		}
		if comment != "" {
			note.KV("Comment", comment)
		}
		b.notify(ctx, cr.UserID, note.Build().Text)

		if err != nil {
			return err
		}
		_, err = req.Reply(ctx, fmt.Sprintf("Done: %s %s.", action, id))
		return err
	}
}

// cmdAudit pages through the most recent admin actions.
func (b *Bot) cmdAudit(ctx context.Context, req *router.Request) error {
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return router.Errorf("Usage: /audit [page]")
		}
		page = n
	}
	list, err := b.Store.RecentAudit(ctx, auditWindow)
	if err != nil {
		return err
	}
	ui := tgui.New().Title("🗂", "Recent admin actions")
	if len(list) == 0 {
		_, err = ui.Line("Nothing recorded yet.").Build().Send(ctx, req.Adapter, req.Chat)
		return err
	}

	p := tgui.Paginate(list, page-1, listLimit)
	lines := make([]string, 0, len(p.Items))
	for _, e := range p.Items {
		line := fmt.Sprintf("%s %d %s %s", e.At.Local().Format("02.01 15:04"), e.ActorID, e.Action, e.Target)
		if e.OK+e.Fail > 0 {
			line += fmt.Sprintf(" ok=%d fail=%d", e.OK, e.Fail)
		}
		if e.Error != "" {
			line += " ! " + tgui.TruncRunes(e.Error, 60)
		}
		lines = append(lines, line)
	}
	ui.Pre(strings.Join(lines, "\n"), 0).Line(p.Label())
	if p.HasNext {
		ui.Line(fmt.Sprintf("Next: /audit %d", p.Index+2))
	}
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

// cmdBackup writes a timestamped copy of the database into BackupDir.
func (b *Bot) cmdBackup(ctx context.Context, req *router.Request) error {
	name := "bot_backup_" + b.now().Format("20060102_150405") + ".db"
	path := filepath.Join(b.BackupDir, name)
	size, err := b.Store.Backup(ctx, path)
	b.audit(ctx, auditEntry(req, "backup", name, err))
	if errors.Is(err, os.ErrExist) {
		return router.Errorf(fmt.Sprintf("Backup %s already exists, try again in a moment.", name))
	}
	if err != nil {
		return err
	}
	ui := tgui.New().Title("💾", "Database backup created").
		KV("File", name).
		KV("Size", fmt.Sprintf("%.2f KB", float64(size)/1024)).
		KV("Path", path)
	_, err = ui.Build().Send(ctx, req.Adapter, req.Chat)
	return err
}

func auditEntry(req *router.Request, action, target string, err error) storage.AuditEntry {
	e := storage.AuditEntry{ActorID: req.From.ID, Action: action, Target: target, Meta: "rid=" + req.ReqID}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
