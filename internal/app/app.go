// Package app wires the bot together: config, logging, transport, registry,
// poll monitor, command router and the daily expiry sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"terminbot/internal/bot"
	"terminbot/internal/config"
	"terminbot/internal/eventbus"
	"terminbot/internal/format"
	"terminbot/internal/match"
	"terminbot/internal/monitor"
	"terminbot/internal/notify"
	"terminbot/internal/registry"
	"terminbot/internal/runtime/supervisor"
	"terminbot/internal/source"
	"terminbot/internal/transport"
	"terminbot/internal/transport/telegram"
	logx "terminbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter transport.Adapter
	reg     *registry.Registry
	src     *source.Client
	mon     *monitor.Monitor
	router  *bot.Router
	bus     eventbus.Bus
	cron    *cron.Cron

	sup     *supervisor.Supervisor
	updates chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Journal: cfg.Logging.Journal,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	pollTimeout, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.Duration("registry.busy_timeout", cfg.Registry.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Open(registry.Config{
		Driver:           cfg.Registry.Driver,
		Path:             cfg.Registry.Path,
		BusyTimeout:      busyTimeout,
		PruneAfterCycles: cfg.Registry.PruneAfterCycles,
	}, log.With(logx.String("comp", "registry")))
	if err != nil {
		return nil, err
	}

	srcTimeout, err := config.Duration("source.timeout", cfg.Source.Timeout, 45*time.Second)
	if err != nil {
		return nil, err
	}
	src := source.New(source.Config{
		BaseURL:   cfg.Source.BaseURL,
		Timeout:   srcTimeout,
		UserAgent: cfg.Source.UserAgent,
	}, log.With(logx.String("comp", "source")))

	bus := eventbus.New()

	render := func(obs []match.Obligation, chatID int64) string {
		return format.NewAppointments(match.ForChat(obs, chatID))
	}
	renderGone := func(obs []match.Obligation, chatID int64) string {
		return format.GoneAppointments(match.ForChat(obs, chatID))
	}
	disp := notify.New(adapter, reg, bus, render, log.With(logx.String("comp", "notify")),
		notify.WithGoneRender(renderGone))

	pollCfg, err := pollConfig(cfg)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(pollCfg, src, reg, disp, bus, log.With(logx.String("comp", "monitor")))

	router := bot.NewRouter(reg, src, adapter, log.With(logx.String("comp", "bot")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		adapter: adapter,
		reg:     reg,
		src:     src,
		mon:     mon,
		router:  router,
		bus:     bus,
		updates: make(chan transport.Message, 256),
	}, nil
}

// Run starts everything and blocks until ctx is canceled or a component
// fails fatally. Shutdown is bounded: in-flight work gets a grace window.
func (a *App) Run(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validate)

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go("monitor.loop", func(c context.Context) error {
		if err := a.mon.Run(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("events", a.eventLoop)

	if err := a.startExpirySweep(); err != nil {
		return err
	}

	if menu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		mctx, mcancel := context.WithTimeout(runCtx, 15*time.Second)
		if err := menu.UpdateMenuCommands(mctx, bot.Commands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		mcancel()
	}

	a.notifySystemd()

	a.log.Info("bot running", logx.Int("subscribers", a.reg.Active()))
	<-runCtx.Done()
	return a.shutdown()
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-time.After(10 * time.Second):
			a.log.Warn("expiry sweep did not finish in time")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.adapter.Stop(sctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}
	if err := a.sup.Wait(sctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("supervisor wait", logx.Err(err))
	}
	if err := a.reg.Close(); err != nil {
		a.log.Warn("registry close", logx.Err(err))
	}

	err := a.sup.Err()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("bye")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// reloadLoop applies config changes that are safe to take without a restart:
// logging sinks/level and poll cadence.
func (a *App) reloadLoop(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				Journal: cfg.Logging.Journal,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			pollCfg, err := pollConfig(cfg)
			if err != nil {
				// The validator should have rejected this before publish.
				a.log.Warn("reload: bad poll config", logx.Err(err))
				continue
			}
			a.mon.SetConfig(pollCfg)
			a.log.Info("config reloaded",
				logx.String("log_level", cfg.Logging.Level),
				logx.Duration("poll_interval", pollCfg.Interval))
		}
	}
}

// eventLoop logs bus events. Components publish them non-blocking; this is
// the only subscriber in the default setup.
func (a *App) eventLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", string(ev.Type)), logx.Any("data", ev.Data))
		}
	}
}

// startExpirySweep schedules the daily job that deactivates subscribers
// whose deadline has passed and tells them so.
func (a *App) startExpirySweep() error {
	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Expiry.Enabled {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Expiry.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("expiry.timezone: %w", err)
		}
		loc = l
	}
	spec, err := cronSpec(cfg.Expiry.At)
	if err != nil {
		return err
	}

	a.cron = cron.New(cron.WithLocation(loc))
	if _, err := a.cron.AddFunc(spec, func() { a.expirySweep(loc) }); err != nil {
		return fmt.Errorf("expiry schedule: %w", err)
	}
	a.cron.Start()
	a.log.Info("expiry sweep scheduled", logx.String("at", spec), logx.String("tz", loc.String()))
	return nil
}

func (a *App) expirySweep(loc *time.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	today := source.DateOf(time.Now().In(loc))
	expired := a.reg.ExpiredBefore(today)
	for _, sub := range expired {
		opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
		if err := a.adapter.SendText(ctx, transport.Recipient{ChatID: sub.ChatID}, format.DeadlineExpired, opt); err != nil {
			a.log.Warn("expiry notice failed", logx.Int64("chat_id", sub.ChatID), logx.Err(err))
		}
		// Deactivate even when the notice failed: the deadline is over either way.
		if _, err := a.reg.ClearDeadline(ctx, sub.ChatID); err != nil {
			a.log.Error("expiry deactivate failed", logx.Int64("chat_id", sub.ChatID), logx.Err(err))
		}
	}
	if len(expired) > 0 {
		a.log.Info("deactivated expired subscribers", logx.Int("count", len(expired)))
	}
}

// notifySystemd reports READY and, if the unit has a watchdog, keeps it fed.
func (a *App) notifySystemd() {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	cfg := a.cfgm.Get()
	if cfg == nil || !cfg.Watchdog.Enabled {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func pollConfig(cfg *config.Config) (monitor.Config, error) {
	interval, err := config.Duration("poll.interval", cfg.Poll.Interval, 5*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	backoffMin, err := config.Duration("poll.backoff_min", cfg.Poll.BackoffMin, 30*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	backoffMax, err := config.Duration("poll.backoff_max", cfg.Poll.BackoffMax, 30*time.Minute)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{Interval: interval, BackoffMin: backoffMin, BackoffMax: backoffMax}, nil
}

// validate is the config gate used both at startup and before a hot reload
// is committed.
func validate(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Source.BaseURL) == "" {
		return errors.New("source.base_url is required")
	}
	if cfg.Telegram.RatePerSec < 0 {
		return errors.New("telegram.rate_per_sec must be >= 0")
	}
	if cfg.Registry.PruneAfterCycles < 0 {
		return errors.New("registry.prune_after_cycles must be >= 0")
	}
	if err := cfg.CheckDurations(); err != nil {
		return err
	}
	if cfg.Expiry.Enabled {
		if _, err := cronSpec(cfg.Expiry.At); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Expiry.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("expiry.timezone: %w", err)
			}
		}
	}
	return nil
}

// cronSpec turns "HH:MM" into a daily cron expression. Empty means midnight.
func cronSpec(at string) (string, error) {
	at = strings.TrimSpace(at)
	if at == "" {
		at = "00:00"
	}
	var h, m int
	if _, err := fmt.Sscanf(at, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return "", fmt.Errorf("expiry.at must be HH:MM, got %q", at)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}
