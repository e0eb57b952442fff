package eventbus

import (
	"fmt"
	"strings"
)

// streamNameFor maps "Withdrawal.Admitted" to "events:withdrawal:admitted".
func streamNameFor(eventType string) string {
	return nameFor("events", eventType)
}

// dlqStreamName returns the DLQ stream name for the given event type.
func dlqStreamName(eventType string) string {
	return nameFor("dlq", eventType)
}

// groupNameFor returns the Redis consumer group name for the event type.
func groupNameFor(eventType string) string {
	return nameFor("group", eventType)
}

func nameFor(prefix string, eventType string) string {
	parts := strings.Split(eventType, ".")
	if len(parts) == 2 {
		return fmt.Sprintf(
			"%s:%s:%s",
			prefix,
			strings.ToLower(parts[0]),
			strings.ToLower(parts[1]))
	}
	return fmt.Sprintf("%s:%s", prefix, strings.ToLower(eventType))
}
