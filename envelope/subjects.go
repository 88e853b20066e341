package envelope

import (
	"fmt"
	"regexp"
)

// Subject scheme for cell traffic. Inbox/outbox/control are addressed
// cell.<namespace>.<cellName>.<kind>; events invert the order so consumers
// can subscribe to cell.events.> without matching data traffic.
const (
	// StreamInbox is the JetStream stream capturing all inbox subjects.
	StreamInbox = "CELL_INBOX"
	// StreamEvents is the JetStream stream capturing all event subjects.
	StreamEvents = "CELL_EVENTS"

	// InboxWildcard matches every inbox subject.
	InboxWildcard = "cell.*.*.inbox"
	// EventsWildcard matches every events subject.
	EventsWildcard = "cell.events.>"
)

// namePattern is the DNS-1123 label rule applied to cell names and
// namespaces. No dots and no wildcards, so validated identifiers can never
// widen a NATS subject.
var namePattern = regexp.MustCompile(`^[a-z]([-a-z0-9]{0,61}[a-z0-9])?$`)

// ValidName reports whether s is a valid cell name or namespace.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// ValidateIdentifiers checks a namespace/name pair and returns a descriptive
// error naming the offending identifier.
func ValidateIdentifiers(namespace, name string) error {
	if !ValidName(namespace) {
		return fmt.Errorf("invalid namespace %q: must match %s", namespace, namePattern.String())
	}
	if !ValidName(name) {
		return fmt.Errorf("invalid cell name %q: must match %s", name, namePattern.String())
	}
	return nil
}

// InboxSubject returns the subject envelopes directed to a cell arrive on.
func InboxSubject(namespace, name string) string {
	return fmt.Sprintf("cell.%s.%s.inbox", namespace, name)
}

// OutboxSubject returns the subject a cell emits envelopes on.
func OutboxSubject(namespace, name string) string {
	return fmt.Sprintf("cell.%s.%s.outbox", namespace, name)
}

// ControlSubject returns the subject control envelopes arrive on.
func ControlSubject(namespace, name string) string {
	return fmt.Sprintf("cell.%s.%s.control", namespace, name)
}

// EventsSubject returns the subject a cell publishes structured events on.
func EventsSubject(namespace, name string) string {
	return fmt.Sprintf("cell.events.%s.%s", namespace, name)
}

// DurableName returns the durable consumer name for a cell's inbox. Dashes
// keep it a valid consumer name for both cell name and namespace labels.
func DurableName(namespace, name string) string {
	return fmt.Sprintf("cell-%s-%s", namespace, name)
}
