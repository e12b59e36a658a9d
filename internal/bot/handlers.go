package bot

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"outagebot/internal/render"
	"outagebot/internal/schedule"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
	"outagebot/pkg/tgui"
)

func (b *Bot) mainMenu() *tele.ReplyMarkup {
	return tgui.Reply(
		[]string{render.BtnToday, render.BtnTomorrow},
		[]string{render.BtnQueue, render.BtnRefresh},
		[]string{render.BtnNotify, render.BtnAbout},
	)
}

func (b *Bot) queueMenu() *tele.ReplyMarkup {
	rows := tgui.Chunk(b.cfg.Queues, 3)
	rows = append(rows, []string{render.BtnCancel})
	return tgui.Reply(rows...)
}

// dayToggle is the inline button that flips a schedule reply to the other day.
func dayToggle(day render.Day) *tele.ReplyMarkup {
	btn := tgui.Btn(render.BtnShowTomorrow, "day|tomorrow")
	if day == render.Tomorrow {
		btn = tgui.Btn(render.BtnShowToday, "day|today")
	}
	return tgui.NewInline().Row(btn).Markup()
}

func (b *Bot) validQueue(q string) bool {
	for _, v := range b.cfg.Queues {
		if v == q {
			return true
		}
	}
	return false
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	sub, err := b.store.EnsureRecipient(ctx, req.ChatID, b.cfg.City)
	if err != nil {
		return err
	}
	b.reply(ctx, req, render.Welcome(b.cfg.City, sub.Queue), b.mainMenu())
	return nil
}

func (b *Bot) handleToday(ctx context.Context, req *Request) error {
	return b.showSchedule(ctx, req, render.Today)
}

func (b *Bot) handleTomorrow(ctx context.Context, req *Request) error {
	return b.showSchedule(ctx, req, render.Tomorrow)
}

// scheduleText renders the day's schedule for the chat's queue. queued=false
// means the chat has not chosen a queue yet.
func (b *Bot) scheduleText(ctx context.Context, chatID int64, day render.Day) (text string, queued bool, err error) {
	sub, ok, err := b.store.GetSubscription(ctx, chatID)
	if err != nil {
		return "", false, err
	}
	if !ok || sub.Queue == "" {
		return render.ChooseFirst, false, nil
	}

	now := b.cfg.Now().In(b.cfg.Location)
	if day == render.Tomorrow {
		now = now.AddDate(0, 0, 1)
	}
	date := schedule.DateKey(now, b.cfg.Location)
	ws, found, err := b.store.Get(ctx, date, sub.Queue)
	if err != nil {
		return "", true, err
	}
	return render.Schedule(day, date, sub.Queue, ws, found), true, nil
}

func (b *Bot) showSchedule(ctx context.Context, req *Request, day render.Day) error {
	text, queued, err := b.scheduleText(ctx, req.ChatID, day)
	if err != nil {
		return err
	}
	var markup any
	if queued {
		markup = dayToggle(day)
	}
	b.reply(ctx, req, text, markup)
	return nil
}

func (b *Bot) handleDayCallback(ctx context.Context, req *Request, payload string) error {
	day := render.Today
	if payload == "tomorrow" {
		day = render.Tomorrow
	}
	text, queued, err := b.scheduleText(ctx, req.ChatID, day)
	if err != nil {
		return err
	}
	opt := kit.HTML()
	if queued {
		opt.ReplyMarkup = dayToggle(day)
	}
	ref := kit.MessageRef{ChatID: req.ChatID, MessageID: req.Update.Callback.MessageID}
	return b.adapter.EditText(ctx, ref, text, opt)
}

func (b *Bot) handleChooseQueue(ctx context.Context, req *Request) error {
	b.setChoosing(req.ChatID, true)
	b.reply(ctx, req, render.ChooseQueue(b.host), b.queueMenu())
	return nil
}

func (b *Bot) handleQueueChoice(ctx context.Context, req *Request) error {
	if req.Text == render.BtnCancel {
		b.setChoosing(req.ChatID, false)
		b.reply(ctx, req, render.MainMenu, b.mainMenu())
		return nil
	}
	if !b.validQueue(req.Text) {
		b.reply(ctx, req, render.BadQueue, nil)
		return nil
	}
	if _, err := b.store.EnsureRecipient(ctx, req.ChatID, b.cfg.City); err != nil {
		return err
	}
	if err := b.store.SetQueue(ctx, req.ChatID, req.Text); err != nil {
		return fmt.Errorf("set queue: %w", err)
	}
	b.setChoosing(req.ChatID, false)
	req.Logger.Info("queue chosen")
	b.reply(ctx, req, render.QueueChosen(req.Text), b.mainMenu())
	return nil
}

func (b *Bot) handleNotify(ctx context.Context, req *Request) error {
	sub, err := b.store.EnsureRecipient(ctx, req.ChatID, b.cfg.City)
	if err != nil {
		return err
	}
	enabled := !sub.Notify
	if err := b.store.SetNotify(ctx, req.ChatID, enabled); err != nil {
		return fmt.Errorf("set notify: %w", err)
	}
	b.reply(ctx, req, render.NotifyState(enabled), nil)
	return nil
}

// handleRefresh runs the cycle off the chat worker; the shard keeps serving
// other chats while it runs.
func (b *Bot) handleRefresh(ctx context.Context, req *Request) error {
	b.reply(ctx, req, render.Refreshing, nil)
	b.bg.Add(1)
	go func() {
		defer b.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				req.Logger.Error("refresh panic", logx.Any("panic", r))
			}
		}()
		rep, ran := b.refresh.Trigger()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.Timeout)
		defer cancel()
		switch {
		case !ran:
			b.reply(rctx, req, render.Busy, nil)
		case rep.Empty():
			b.reply(rctx, req, render.FetchFailed, nil)
		default:
			b.reply(rctx, req, render.Refreshed(rep.Changed, rep.Failed), nil)
		}
	}()
	return nil
}

func (b *Bot) handleHistory(ctx context.Context, req *Request) error {
	recs, err := b.store.RecentHistory(ctx, b.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	b.reply(ctx, req, render.History(recs, b.cfg.Location), nil)
	return nil
}

func (b *Bot) handleAbout(ctx context.Context, req *Request) error {
	b.reply(ctx, req, render.About(b.cfg.City, b.host), nil)
	return nil
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	b.reply(ctx, req, render.Help(b.cfg.Queues, b.host), nil)
	return nil
}

func (b *Bot) handleFallback(ctx context.Context, req *Request) error {
	b.reply(ctx, req, render.UseMenu, nil)
	return nil
}
