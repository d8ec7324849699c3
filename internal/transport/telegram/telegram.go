// Package telegram adapts the transport contract onto the Telegram Bot API
// via telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "terminbot/internal/runtime/supervisor"
	kit "terminbot/internal/transport"
	logx "terminbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outbound sends across all recipients. Telegram rejects
	// bots that exceed roughly 30 messages per second globally.
	RatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	out     atomic.Value // stores (chan<- kit.Message)
	runMu   sync.Mutex
	running bool

	// sup owns adapter internal goroutines (poll loop, drop logger, stop watcher).
	// It is created on Start() and cancelled on Stop().
	sup *rtsup.Supervisor

	// droppedMessages counts inbound messages dropped because the consumer was
	// slower than the Telegram poll loop. Logged periodically, not per message.
	droppedMessages uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		})
		return nil
	})
}

func (a *Adapter) forward(msg kit.Message) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Message)
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		atomic.AddUint64(&a.droppedMessages, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped messages (avoid noisy per-message logs).
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedMessages, 0); n > 0 {
					a.log.Warn("inbound messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedMessages, 0); n > 0 {
					a.log.Warn("inbound messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Ensure telebot stops when the adapter context is cancelled.
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// Telebot's Start() is a long-running loop. In some failure modes it can
	// exit unexpectedly; run it under a restart loop so the adapter self-heals.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start() // blocks until Stop()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		// Restart if Start() returns while the context is still active.
		rtsup.WithStopOnCleanExit(false),
	)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown for long on the long-poll.
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	// telebot Stop is expected to be fast; run it async just in case.
	if a.bot != nil {
		go a.bot.Stop()
	}
	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		if sup.Context().Err() != nil {
			a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to kit.Recipient, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}

	chunks := splitText(text, telegramTextLimit, opt.ParseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range chunks {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		}
		if _, err := a.bot.Send(chat, chunk, sendOpt); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMenuCommands publishes the command list to Telegram's /menu
// autocomplete (setMyCommands). Best-effort.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	// Telegram command names are restricted to [a-z0-9_]{1,32}.
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Command))
		if name == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = name
		}
		if len(d) > 256 {
			d = d[:256]
		}
		out = append(out, tele.Command{Text: name, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	return a.bot.SetCommands(out)
}

// splitText splits long messages into chunks that are safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside HTML
// tags when ParseMode is HTML.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		// Best-effort: don't split inside a tag for HTML parse mode.
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen := -1
			lastClose := -1
			for i := start; i < end; i++ {
				if rs[i] == '<' {
					lastOpen = i
				} else if rs[i] == '>' {
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
				if end <= start {
					end = start + limit
					if end > len(rs) {
						end = len(rs)
					}
				}
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
