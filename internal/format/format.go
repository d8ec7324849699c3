// Package format builds the German HTML messages the bot sends. Output uses
// Telegram HTML parse mode with <b>/<i>/<u> markup.
package format

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"terminbot/internal/source"
)

// shortenAfter is how many dates are listed per location before the rest is
// summarized as "N weitere Termine".
const shortenAfter = 5

// EarliestLimit is how many appointments /termine shows.
const EarliestLimit = 10

// NewAppointments renders the notification for appointments a chat has not
// heard about yet.
func NewAppointments(apps []source.Appointment) string {
	if len(apps) == 0 {
		return ""
	}
	return "<b><u>Neue Termine:</u></b>\n" + grouped(apps)
}

// GoneAppointments renders the notice for appointments a chat was told
// about that have since disappeared from the listing.
func GoneAppointments(apps []source.Appointment) string {
	if len(apps) == 0 {
		return ""
	}
	return "<b><u>Diese Termine sind weg:</u></b>\n" + grouped(apps)
}

// Earliest renders the /termine reply: the earliest appointments currently
// listed, capped at limit, grouped by location.
func Earliest(apps []source.Appointment, limit int) string {
	if len(apps) == 0 {
		return "Momentan gibt es leider keine Termine."
	}
	if limit <= 0 {
		limit = EarliestLimit
	}

	sorted := make([]source.Appointment, len(apps))
	copy(sorted, apps)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Date != sorted[j].Date {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].Location < sorted[j].Location
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	var b strings.Builder
	if len(sorted) == 1 {
		b.WriteString("<b><u>Der früheste Termin:</u></b>\n")
	} else {
		fmt.Fprintf(&b, "<b><u>Die %d frühesten Termine:</u></b>\n", len(sorted))
	}
	b.WriteString(grouped(sorted))
	return b.String()
}

// grouped renders appointments grouped by location, locations in
// alphabetical order, dates ascending within each.
func grouped(apps []source.Appointment) string {
	byLoc := map[string][]source.Date{}
	for _, a := range apps {
		byLoc[a.Location] = append(byLoc[a.Location], a.Date)
	}
	locs := make([]string, 0, len(byLoc))
	for loc := range byLoc {
		locs = append(locs, loc)
	}
	sort.Strings(locs)

	var b strings.Builder
	for _, loc := range locs {
		writeLocationBlock(&b, loc, byLoc[loc])
	}
	return b.String()
}

func writeLocationBlock(b *strings.Builder, loc string, dates []source.Date) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	// Identical dates can slip in when a caller did not deduplicate.
	dates = dedupeDates(dates)

	fmt.Fprintf(b, "🏢 <b>%s:</b>\n", html.EscapeString(loc))

	first := dates
	var rest []source.Date
	if len(dates) > shortenAfter {
		first, rest = dates[:shortenAfter], dates[shortenAfter:]
	}
	for _, d := range first {
		fmt.Fprintf(b, "• %s\n", d.String())
	}
	switch {
	case len(rest) == 1:
		b.WriteString("• <i>Ein weiterer Termin</i>\n")
	case len(rest) > 1:
		fmt.Fprintf(b, "• <i>%d weitere Termine</i>\n", len(rest))
	}
}

func dedupeDates(dates []source.Date) []source.Date {
	out := dates[:0]
	for i, d := range dates {
		if i > 0 && d == dates[i-1] {
			continue
		}
		out = append(out, d)
	}
	return out
}
