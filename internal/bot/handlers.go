package bot

import (
	"context"

	"terminbot/internal/format"
	"terminbot/internal/source"
	"terminbot/internal/transport"
	logx "terminbot/pkg/logx"
)

func (r *Router) handle(ctx context.Context, msg transport.Message, cmd, arg string) {
	log := r.log.With(logx.Int64("chat_id", msg.ChatID), logx.String("command", cmd))

	switch cmd {
	case "start", "help", "hilfe":
		r.handleUsage(ctx, msg, log)
	case "deadline":
		r.handleDeadline(ctx, msg, arg, log)
	case "termine":
		r.handleTermine(ctx, msg, log)
	case "stop":
		r.handleStop(ctx, msg, log)
	default:
		log.Debug("unknown command")
		r.reply(ctx, msg.ChatID, format.UnknownCommand, log)
	}
}

// exampleDeadline is the date shown in usage texts: a week from today.
func (r *Router) exampleDeadline() source.Date {
	return source.DateOf(r.now()).AddDays(7)
}

func (r *Router) handleUsage(ctx context.Context, msg transport.Message, log logx.Logger) {
	log.Info("usage requested")
	r.reply(ctx, msg.ChatID, format.Usage(r.exampleDeadline()), log)
}

func (r *Router) handleDeadline(ctx context.Context, msg transport.Message, arg string, log logx.Logger) {
	if arg == "" {
		log.Warn("deadline without argument")
		r.reply(ctx, msg.ChatID, format.DeadlineUsage(r.exampleDeadline()), log)
		return
	}

	deadline, err := source.ParseDate(arg)
	if err != nil {
		log.Warn("unparseable deadline", logx.String("arg", arg))
		r.reply(ctx, msg.ChatID, format.DeadlineBadFormat(r.exampleDeadline()), log)
		return
	}

	_, existed := r.reg.Deadline(msg.ChatID)
	if err := r.reg.SetDeadline(ctx, msg.ChatID, msg.FromUsername, deadline); err != nil {
		log.Error("set deadline failed", logx.Err(err))
		r.reply(ctx, msg.ChatID, format.InternalError, log)
		return
	}

	if existed {
		log.Info("deadline updated", logx.String("deadline", deadline.ISO()))
		r.reply(ctx, msg.ChatID, format.DeadlineUpdated(deadline), log)
		return
	}
	log.Info("deadline created", logx.String("deadline", deadline.ISO()))
	r.reply(ctx, msg.ChatID, format.DeadlineCreated(deadline), log)
}

func (r *Router) handleTermine(ctx context.Context, msg transport.Message, log logx.Logger) {
	log.Info("earliest appointments requested")

	apps, err := r.fetch.Fetch(ctx)
	if err != nil {
		log.Warn("source unavailable for /termine", logx.Err(err))
		r.reply(ctx, msg.ChatID, format.SourceUnavailable, log)
		return
	}
	r.reply(ctx, msg.ChatID, format.Earliest(apps, format.EarliestLimit), log)
}

func (r *Router) handleStop(ctx context.Context, msg transport.Message, log logx.Logger) {
	had, err := r.reg.ClearDeadline(ctx, msg.ChatID)
	if err != nil {
		log.Error("clear deadline failed", logx.Err(err))
		r.reply(ctx, msg.ChatID, format.InternalError, log)
		return
	}
	if had {
		log.Info("notifications disabled")
		r.reply(ctx, msg.ChatID, format.StopActive, log)
		return
	}
	log.Info("stop without active deadline")
	r.reply(ctx, msg.ChatID, format.StopInactive, log)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, log logx.Logger) {
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if err := r.send.SendText(ctx, transport.Recipient{ChatID: chatID}, text, opt); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}
