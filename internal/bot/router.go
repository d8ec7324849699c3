// Package bot turns inbound chat messages into registry operations and
// German replies. It owns the command surface: /deadline, /termine, /stop,
// /start and /hilfe.
package bot

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"time"

	"terminbot/internal/registry"
	"terminbot/internal/runtime/supervisor"
	"terminbot/internal/source"
	"terminbot/internal/transport"
	logx "terminbot/pkg/logx"
)

const (
	defaultCommandTimeout = 20 * time.Second
	jobQueueSize          = 64
)

// Fetcher lets /termine read the source directly.
type Fetcher interface {
	Fetch(ctx context.Context) ([]source.Appointment, error)
}

// Sender is the outbound half of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.Recipient, text string, opt *transport.SendOptions) error
}

type Router struct {
	reg   *registry.Registry
	fetch Fetcher
	send  Sender
	log   logx.Logger

	cmdTimeout time.Duration
	now        func() time.Time

	jobs chan func()
}

type Option func(*Router)

func WithCommandTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.cmdTimeout = d
		}
	}
}

// WithClock overrides the router's notion of "today" (usage examples, the
// deadline shown in /hilfe).
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRouter(reg *registry.Registry, fetch Fetcher, send Sender, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		reg:        reg,
		fetch:      fetch,
		send:       send,
		log:        log,
		cmdTimeout: defaultCommandTimeout,
		now:        time.Now,
		jobs:       make(chan func(), jobQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Commands is the menu published to the platform (Telegram: setMyCommands).
func Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "deadline", Description: "Deadline setzen, z.B. /deadline 24.12.2026"},
		{Command: "termine", Description: "Die frühesten Termine anzeigen"},
		{Command: "stop", Description: "Benachrichtigungen deaktivieren"},
		{Command: "hilfe", Description: "Hilfe anzeigen"},
	}
}

// Run consumes the adapter's update channel until ctx is canceled or the
// channel closes. Commands execute on a bounded worker pool so one slow
// handler (a /termine fetch, say) never blocks the loop.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Message) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "bot.router"))),
	)
	for i := 0; i < workers; i++ {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart0(name, func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					job()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, msg)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, msg transport.Message) {
	cmd, arg, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	job := func() {
		cctx, cancel := context.WithTimeout(ctx, r.cmdTimeout)
		defer cancel()
		r.handle(cctx, msg, cmd, arg)
	}
	select {
	case r.jobs <- job:
	default:
		// A full queue means someone is flooding; dropping beats queueing
		// unboundedly.
		r.log.Warn("command queue full, dropping", logx.Int64("chat_id", msg.ChatID), logx.String("command", cmd))
	}
}

// parseCommand extracts the command word and its first argument. Matching is
// case-tolerant (/Start works) and a @botname suffix is ignored.
func parseCommand(text string) (cmd, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	if len(fields) > 1 {
		arg = fields[1]
	}
	return strings.ToLower(word), arg, true
}
