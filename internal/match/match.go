// Package match decides who gets told about what. It is pure: no clocks,
// no I/O, no mutation of its inputs.
package match

import (
	"sort"

	"terminbot/internal/registry"
	"terminbot/internal/source"
)

// Obligation is one notification that ought to be delivered: this chat has
// not yet heard about this appointment and the appointment falls on or
// before the chat's deadline.
type Obligation struct {
	ChatID      int64
	Appointment source.Appointment
}

// Compute pairs the current listing with the subscriber snapshot. The
// deadline comparison is inclusive: an appointment on the deadline day
// itself still matches. Already-notified appointments are skipped.
//
// The result is ordered by chat id, then appointment date, then location,
// so identical inputs always produce identical output.
func Compute(apps []source.Appointment, subs []registry.Subscriber) []Obligation {
	if len(apps) == 0 || len(subs) == 0 {
		return nil
	}

	var out []Obligation
	for _, sub := range subs {
		if sub.Deadline.IsZero() {
			continue
		}
		for _, a := range apps {
			if a.Date.After(sub.Deadline) {
				continue
			}
			if _, done := sub.Notified[a.Key()]; done {
				continue
			}
			out = append(out, Obligation{ChatID: sub.ChatID, Appointment: a})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		if out[i].Appointment.Date != out[j].Appointment.Date {
			return out[i].Appointment.Date.Before(out[j].Appointment.Date)
		}
		return out[i].Appointment.Location < out[j].Appointment.Location
	})
	return out
}

// ComputeGone pairs disappeared appointments with the subscribers who were
// told about them. Only appointments a chat was actually notified of count;
// a vanished slot nobody heard about is not worth a message. Ordering
// matches Compute.
func ComputeGone(gone []source.Appointment, subs []registry.Subscriber) []Obligation {
	if len(gone) == 0 || len(subs) == 0 {
		return nil
	}

	var out []Obligation
	for _, sub := range subs {
		if sub.Deadline.IsZero() {
			continue
		}
		for _, a := range gone {
			if a.Date.After(sub.Deadline) {
				continue
			}
			if _, told := sub.Notified[a.Key()]; !told {
				continue
			}
			out = append(out, Obligation{ChatID: sub.ChatID, Appointment: a})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		if out[i].Appointment.Date != out[j].Appointment.Date {
			return out[i].Appointment.Date.Before(out[j].Appointment.Date)
		}
		return out[i].Appointment.Location < out[j].Appointment.Location
	})
	return out
}

// ForChat groups one chat's obligations out of a computed batch.
func ForChat(obs []Obligation, chatID int64) []source.Appointment {
	var out []source.Appointment
	for _, o := range obs {
		if o.ChatID == chatID {
			out = append(out, o.Appointment)
		}
	}
	return out
}
