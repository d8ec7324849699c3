// Package notify delivers matched appointments to their subscribers with
// at-most-once semantics: an appointment is marked notified only after the
// transport confirmed the send, and one chat's failure never blocks the
// others.
package notify

import (
	"context"
	"time"

	"terminbot/internal/eventbus"
	"terminbot/internal/match"
	"terminbot/internal/registry"
	"terminbot/internal/transport"
	logx "terminbot/pkg/logx"
)

const defaultSendTimeout = 15 * time.Second

// Sender is the outbound half of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.Recipient, text string, opt *transport.SendOptions) error
}

// Result reports delivery for one chat.
type Result struct {
	ChatID int64
	Sent   int // appointments confirmed delivered
	Err    error
}

type Dispatcher struct {
	send        Sender
	reg         *registry.Registry
	bus         eventbus.Bus
	log         logx.Logger
	render      func(obs []match.Obligation, chatID int64) string
	renderGone  func(obs []match.Obligation, chatID int64) string
	sendTimeout time.Duration
}

type Option func(*Dispatcher)

func WithSendTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.sendTimeout = d
		}
	}
}

// WithGoneRender sets the renderer for disappeared-appointment notices.
// Without it DispatchGone sends nothing.
func WithGoneRender(render func(obs []match.Obligation, chatID int64) string) Option {
	return func(dp *Dispatcher) {
		dp.renderGone = render
	}
}

// New builds a dispatcher. render turns one chat's obligations into message
// text; an empty render result skips the chat.
func New(send Sender, reg *registry.Registry, bus eventbus.Bus, render func(obs []match.Obligation, chatID int64) string, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		send:        send,
		reg:         reg,
		bus:         bus,
		log:         log,
		render:      render,
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers the batch. Obligations are grouped into one message per
// chat; every appointment in a confirmed message is marked notified, nothing
// in a failed one is. Failures are reported per chat and do not abort the
// rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, obs []match.Obligation) []Result {
	if len(obs) == 0 {
		return nil
	}

	// Compute output is ordered by chat id, so one linear pass groups it.
	var results []Result
	for start := 0; start < len(obs); {
		end := start
		for end < len(obs) && obs[end].ChatID == obs[start].ChatID {
			end++
		}
		results = append(results, d.dispatchChat(ctx, obs[start].ChatID, obs[start:end]))
		start = end

		if ctx.Err() != nil {
			break
		}
	}
	return results
}

// DispatchGone delivers disappeared-appointment notices, one message per
// chat. Nothing is marked or unmarked: the notified bookkeeping keeps its
// flap protection, a vanished slot that quickly returns stays silent.
func (d *Dispatcher) DispatchGone(ctx context.Context, obs []match.Obligation) []Result {
	if len(obs) == 0 || d.renderGone == nil {
		return nil
	}

	var results []Result
	for start := 0; start < len(obs); {
		end := start
		for end < len(obs) && obs[end].ChatID == obs[start].ChatID {
			end++
		}
		results = append(results, d.dispatchGoneChat(ctx, obs[start].ChatID, obs[start:end]))
		start = end

		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (d *Dispatcher) dispatchGoneChat(ctx context.Context, chatID int64, obs []match.Obligation) Result {
	res := Result{ChatID: chatID}

	text := d.renderGone(obs, chatID)
	if text == "" {
		return res
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if err := d.send.SendText(sctx, transport.Recipient{ChatID: chatID}, text, opt); err != nil {
		res.Err = err
		d.log.Warn("gone notice send failed", logx.Int64("chat_id", chatID), logx.Int("appointments", len(obs)), logx.Err(err))
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeGoneFailed, Time: time.Now(), Data: map[string]any{
				"chat_id": chatID, "appointments": len(obs), "err": err.Error(),
			}})
		}
		return res
	}

	res.Sent = len(obs)
	d.log.Info("gone notice sent", logx.Int64("chat_id", chatID), logx.Int("appointments", res.Sent))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeGoneSent, Time: time.Now(), Data: map[string]any{
			"chat_id": chatID, "appointments": res.Sent,
		}})
	}
	return res
}

func (d *Dispatcher) dispatchChat(ctx context.Context, chatID int64, obs []match.Obligation) Result {
	res := Result{ChatID: chatID}

	text := d.render(obs, chatID)
	if text == "" {
		return res
	}

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if err := d.send.SendText(sctx, transport.Recipient{ChatID: chatID}, text, opt); err != nil {
		res.Err = err
		d.log.Warn("notification send failed", logx.Int64("chat_id", chatID), logx.Int("appointments", len(obs)), logx.Err(err))
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifyFailed, Time: time.Now(), Data: map[string]any{
				"chat_id": chatID, "appointments": len(obs), "err": err.Error(),
			}})
		}
		return res
	}

	for _, o := range obs {
		if err := d.reg.MarkNotified(ctx, chatID, o.Appointment); err != nil {
			// The message is out; losing the mark risks a duplicate later,
			// which beats silently losing notifications. Log and carry on.
			d.log.Error("mark notified failed", logx.Int64("chat_id", chatID), logx.String("key", o.Appointment.Key()), logx.Err(err))
		}
		res.Sent++
	}
	d.log.Info("notification sent", logx.Int64("chat_id", chatID), logx.Int("appointments", res.Sent))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeNotifySent, Time: time.Now(), Data: map[string]any{
			"chat_id": chatID, "appointments": res.Sent,
		}})
	}
	return res
}
