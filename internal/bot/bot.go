package bot

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"outagebot/internal/ingest"
	"outagebot/internal/render"
	rtsup "outagebot/internal/runtime/supervisor"
	"outagebot/internal/storage"
	kit "outagebot/internal/transport"
	logx "outagebot/pkg/logx"
)

// Store is the slice of persistence the chat front end reads and writes.
type Store interface {
	storage.Schedules
	storage.Registry
}

// Refresher runs an ingestion cycle on demand. ok=false means one was
// already running.
type Refresher interface {
	Trigger() (ingest.Report, bool)
}

type Config struct {
	City      string
	Queues    []string
	Location  *time.Location
	SourceURL string

	// Workers is the number of dispatch shards. Updates of one chat always
	// land on the same shard, so a chat's messages are handled in order.
	Workers      int
	Timeout      time.Duration
	HistoryLimit int

	Now func() time.Time
}

type Request struct {
	Update  kit.Update
	ChatID  int64
	FromID  int64
	Text    string
	Command string // route key: "/start", a button label, "cb:day", ...
	Payload string // callback payload
	Logger  logx.Logger
}

type CallbackFunc func(ctx context.Context, req *Request, payload string) error

type Bot struct {
	cfg     Config
	adapter kit.Adapter
	store   Store
	refresh Refresher
	log     logx.Logger
	host    string

	mu       sync.Mutex
	choosing map[int64]bool

	// bg tracks refreshes running outside the shard workers.
	bg sync.WaitGroup

	commands  map[string]HandlerFunc
	buttons   map[string]HandlerFunc
	callbacks map[string]CallbackFunc
}

func New(cfg Config, adapter kit.Adapter, store Store, refresh Refresher, log logx.Logger) *Bot {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		refresh:  refresh,
		log:      log.With(logx.String("comp", "bot")),
		host:     sourceHost(cfg.SourceURL),
		choosing: map[int64]bool{},
	}
	b.commands = map[string]HandlerFunc{
		"start":    b.handleStart,
		"today":    b.handleToday,
		"tomorrow": b.handleTomorrow,
		"queue":    b.handleChooseQueue,
		"update":   b.handleRefresh,
		"notify":   b.handleNotify,
		"history":  b.handleHistory,
		"about":    b.handleAbout,
		"help":     b.handleHelp,
	}
	b.buttons = map[string]HandlerFunc{
		render.BtnToday:    b.handleToday,
		render.BtnTomorrow: b.handleTomorrow,
		render.BtnQueue:    b.handleChooseQueue,
		render.BtnRefresh:  b.handleRefresh,
		render.BtnNotify:   b.handleNotify,
		render.BtnAbout:    b.handleAbout,
	}
	b.callbacks = map[string]CallbackFunc{
		"day": b.handleDayCallback,
	}
	return b
}

// Commands is the /menu list published to Telegram.
func (b *Bot) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Головне меню"},
		{Command: "today", Description: "Графік на сьогодні"},
		{Command: "tomorrow", Description: "Графік на завтра"},
		{Command: "queue", Description: "Обрати чергу"},
		{Command: "update", Description: "Оновити графік"},
		{Command: "notify", Description: "Увімкнути або вимкнути сповіщення"},
		{Command: "history", Description: "Останні зміни"},
		{Command: "help", Description: "Допомога"},
	}
}

// Run consumes updates until ctx is done or updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log),
		rtsup.WithCancelOnError(false),
	)

	if up, ok := b.adapter.(kit.CommandMenuUpdater); ok {
		sup.Go("telegram.menu.update", func(c context.Context) error {
			cctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, b.Commands()); err != nil {
				b.log.Warn("menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	shards := make([]chan kit.Update, b.cfg.Workers)
	for i := range shards {
		ch := make(chan kit.Update, 64)
		shards[i] = ch
		sup.GoRestart("bot.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case up, ok := <-ch:
					if !ok {
						return nil
					}
					b.Handle(c, up)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}
	b.log.Info("dispatcher started", logx.Int("workers", len(shards)))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		b.waitBackground(wctx)
		cancel()
		sup.Cancel()
		b.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			ch := shards[uint64(chatOf(up))%uint64(len(shards))]
			select {
			case ch <- up:
			default:
				b.log.Warn("update dropped (worker busy)", logx.Int64("chat_id", chatOf(up)))
			}
		}
	}
}

func (b *Bot) waitBackground(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		b.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.log.Warn("background refresh still running at shutdown")
	}
}

func chatOf(up kit.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	}
	return 0
}

// Handle routes one update and runs its handler synchronously.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	var (
		req *Request
		h   HandlerFunc
	)
	switch up.Kind {
	case kit.UpdateMessage:
		req, h = b.routeMessage(up)
	case kit.UpdateCallback:
		req, h = b.routeCallback(up)
	}
	if h == nil {
		return
	}

	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(b.cfg.Timeout),
	)
	err := final(ctx, req)
	if up.Kind == kit.UpdateCallback {
		_ = b.adapter.AnswerCallback(ctx, up.Callback.ID, "")
	}
	if err != nil {
		b.reply(ctx, req, render.Failed, nil)
	}
}

func (b *Bot) newRequest(up kit.Update, chatID, fromID int64, command string) *Request {
	rid := uuid.NewString()[:8]
	return &Request{
		Update:  up,
		ChatID:  chatID,
		FromID:  fromID,
		Command: command,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chatID),
			logx.Int64("from_id", fromID),
		),
	}
}

func (b *Bot) routeMessage(up kit.Update) (*Request, HandlerFunc) {
	msg := up.Message
	if msg == nil {
		return nil, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}

	if strings.HasPrefix(text, "/") {
		word := strings.TrimPrefix(strings.Fields(text)[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		word = strings.ToLower(word)
		req := b.newRequest(up, msg.ChatID, msg.FromID, "/"+word)
		req.Text = text
		h, ok := b.commands[word]
		if !ok {
			return req, b.handleFallback
		}
		b.setChoosing(msg.ChatID, false)
		return req, h
	}

	req := b.newRequest(up, msg.ChatID, msg.FromID, text)
	req.Text = text
	if b.isChoosing(msg.ChatID) {
		return req, b.handleQueueChoice
	}
	if h, ok := b.buttons[text]; ok {
		return req, h
	}
	return req, b.handleFallback
}

func (b *Bot) routeCallback(up kit.Update) (*Request, HandlerFunc) {
	cb := up.Callback
	if cb == nil {
		return nil, nil
	}
	action, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), "|")
	route, ok := b.callbacks[action]
	if !ok {
		_ = b.adapter.AnswerCallback(context.Background(), cb.ID, "")
		return nil, nil
	}
	req := b.newRequest(up, cb.ChatID, cb.FromID, "cb:"+action)
	req.Payload = payload
	return req, func(ctx context.Context, r *Request) error { return route(ctx, r, payload) }
}

func (b *Bot) setChoosing(chatID int64, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.choosing[chatID] = true
	} else {
		delete(b.choosing, chatID)
	}
}

func (b *Bot) isChoosing(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.choosing[chatID]
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, markup any) {
	opt := kit.HTML()
	opt.ReplyMarkup = markup
	if _, err := b.adapter.SendText(ctx, req.ChatID, text, opt); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}

func sourceHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
