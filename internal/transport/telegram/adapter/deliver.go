package adapter

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "voxbot/internal/transport"
)

// DeliverText sends one broadcast text and classifies the result.
func (a *Adapter) DeliverText(ctx context.Context, chatID int64, text string) kit.SendResult {
	var msg *tele.Message
	err := call(ctx, func() (err error) {
		msg, err = a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
		return err
	})
	return result(chatID, msg, err)
}

// DeliverCopy re-sends ref to chatID without the forward header.
func (a *Adapter) DeliverCopy(ctx context.Context, chatID int64, ref kit.MessageRef) kit.SendResult {
	src := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
	var msg *tele.Message
	err := call(ctx, func() (err error) {
		msg, err = a.bot.Copy(&tele.Chat{ID: chatID}, src)
		return err
	})
	return result(chatID, msg, err)
}

func result(chatID int64, msg *tele.Message, err error) kit.SendResult {
	if err != nil {
		return classifySendError(err)
	}
	res := kit.SendResult{Status: kit.SendOK, Ref: kit.MessageRef{ChatID: chatID}}
	if msg != nil {
		res.Ref.MessageID = msg.ID
	}
	return res
}

var (
	codeRe  = regexp.MustCompile(`\((\d{3})\)\s*$`)
	retryRe = regexp.MustCompile(`retry after (\d+)`)
)

// classifySendError maps a telebot error onto the closed set of delivery
// statuses. Unknown API errors carry their HTTP code as "(NNN)" at the end.
func classifySendError(err error) kit.SendResult {
	res := kit.SendResult{Status: kit.SendFailed, Err: err}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		res.Status = kit.SendRateLimited
		res.RetryAfter = time.Duration(fe.RetryAfter) * time.Second
		return res
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		res.Status = kit.SendRateLimited
		res.RetryAfter = time.Duration(fep.RetryAfter) * time.Second
		return res
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotStartedByUser):
		res.Status = kit.SendBlocked
		return res
	case errors.Is(err, tele.ErrChatNotFound):
		res.Status = kit.SendBadRequest
		return res
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return res
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return res
	}

	code := 0
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		code = te.Code
	} else if m := codeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	desc := strings.ToLower(err.Error())
	switch {
	case code == 429 || strings.Contains(desc, "too many requests"):
		res.Status = kit.SendRateLimited
		res.RetryAfter = time.Second
		if m := retryRe.FindStringSubmatch(desc); m != nil {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				res.RetryAfter = time.Duration(n) * time.Second
			}
		}
	case code == 403 || strings.Contains(desc, "bot was blocked") || strings.Contains(desc, "user is deactivated"):
		res.Status = kit.SendBlocked
	case code == 400:
		res.Status = kit.SendBadRequest
	}
	return res
}

// chatError maps errors of chat lookups onto the transport sentinels.
func chatError(err error) error {
	if err == nil {
		return nil
	}
	desc := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, tele.ErrChatNotFound), strings.Contains(desc, "chat not found"):
		return errors.Join(kit.ErrChatNotFound, err)
	case strings.Contains(desc, "user not found"), strings.Contains(desc, "participant_id_invalid"):
		return errors.Join(kit.ErrUserNotFound, err)
	case strings.Contains(desc, "forbidden"), strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "member list is inaccessible"):
		return errors.Join(kit.ErrForbidden, err)
	}
	return err
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}
