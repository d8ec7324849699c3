package format

import (
	"fmt"

	"terminbot/internal/source"
)

// Usage is the /start and /hilfe reply. The example deadline should be a
// date in the near future, typically a week from today.
func Usage(example source.Date) string {
	return fmt.Sprintf(`Du suchst dringend einen <b>Bürgeramt-Termin</b>?
Dieser Bot kann dir dabei helfen! Schick einfach eine Nachricht mit deiner Deadline:

/deadline %s (Das Datumsformat ist wichtig!)

Danach wird der Bot dich über alle spontanen Termine vor deiner Deadline informieren.
Wenn du deinen Termin bekommen hast und keine weiteren Benachrichtigungen bekommen willst, dann schicke /stop.`, example)
}

func DeadlineUsage(example source.Date) string {
	return fmt.Sprintf("Benutzung: /deadline %s", example)
}

func DeadlineBadFormat(example source.Date) string {
	return fmt.Sprintf("Das Datum hat nicht das richtige Format. Benutzung: /deadline %s", example)
}

func DeadlineCreated(deadline source.Date) string {
	return fmt.Sprintf("Du bekommst jetzt eine Benachrichtigung über alle Termine vor dem %s.\nBenutze /termine um die frühesten Termine anzuzeigen.", deadline)
}

func DeadlineUpdated(deadline source.Date) string {
	return fmt.Sprintf("Deine Deadline wurde aktualisiert: %s.", deadline)
}

const (
	StopActive   = "Du bekommst keine weiteren Benachrichtigungen. Benutze /deadline um die Benachrichtigungen wieder zu aktivieren."
	StopInactive = "Du bekommst noch keine Benachrichtigungen. Benutze /deadline um die Benachrichtigungen zu aktivieren."

	// DeadlineExpired is sent by the daily sweep when a deadline has passed.
	DeadlineExpired = "Die Benachrichtigungen wurden automatisch deaktiviert. Benutze /deadline um sie wieder zu aktivieren."

	SourceUnavailable = "Die Terminübersicht ist gerade nicht erreichbar. Versuche es später noch einmal."

	InternalError = "Etwas ist schiefgelaufen. Versuche es später noch einmal."

	UnknownCommand = "Unbekannter Befehl. Benutze /hilfe für eine Übersicht."
)
