package taskname

const (
	// License reminder tasks
	LicenseReminderSend    = "license:reminders:send"
	LicenseReminderCleanup = "license:reminders:cleanup"
)

// Descriptions are stored on the task registry rows.
var Descriptions = map[string]string{
	LicenseReminderSend:    "Send license expiry and grace period reminders",
	LicenseReminderCleanup: "Delete reminder records of superseded licenses past retention",
}
