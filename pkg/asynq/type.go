package asynq

import "time"

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// ReminderRunPayload is carried by reminder send and cleanup tasks.
type ReminderRunPayload struct {
	JobID       string    `json:"job_id,omitempty"`
	Trigger     string    `json:"trigger"` // schedule | cron | admin
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}
