package rediskey

import (
	"fmt"
	"time"
)

const ReminderRunPrefix = "license:reminders:run"

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildReminderRunKey returns "license:reminders:run:{yyyymmddhhmm}". It is
// used as the asynq task id so triggers landing in the same minute collapse
// into one run.
func BuildReminderRunKey(at time.Time) string {
	return NamespaceKey(ReminderRunPrefix, at.UTC().Format("200601021504"))
}
