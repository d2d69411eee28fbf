package adapter

import (
	"context"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "voxbot/internal/transport"
)

// Download saves the file behind fileID to dst.
func (a *Adapter) Download(ctx context.Context, fileID, dst string) error {
	return call(ctx, func() error {
		return a.bot.Download(&tele.File{FileID: fileID}, dst)
	})
}

func (a *Adapter) SendVoice(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	v := &tele.Voice{File: tele.FromDisk(path), Caption: caption}
	var msg *tele.Message
	err := call(ctx, func() (err error) {
		msg, err = a.bot.Send(&tele.Chat{ID: to.ChatID}, v, sendOptions(opt, to.ThreadID, true))
		return err
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) ChatMember(ctx context.Context, chatID, userID int64) (kit.MemberStatus, error) {
	var m *tele.ChatMember
	err := call(ctx, func() (err error) {
		m, err = a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
		return err
	})
	if err != nil {
		return "", chatError(err)
	}
	return kit.MemberStatus(m.Role), nil
}

// ResolveChat accepts "@username" or a numeric chat id.
func (a *Adapter) ResolveChat(ctx context.Context, ref string) (kit.ChatInfo, error) {
	var chat *tele.Chat
	err := call(ctx, func() (err error) {
		if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
			chat, err = a.bot.ChatByID(id)
		} else {
			chat, err = a.bot.ChatByUsername("@" + strings.TrimPrefix(ref, "@"))
		}
		return err
	})
	if err != nil {
		return kit.ChatInfo{}, chatError(err)
	}
	title := chat.Title
	if title == "" {
		title = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
	return kit.ChatInfo{
		ID:         chat.ID,
		Title:      title,
		Username:   chat.Username,
		Type:       string(chat.Type),
		InviteLink: chat.InviteLink,
	}, nil
}

// SendLog implements logx.Sender for the Telegram log sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
