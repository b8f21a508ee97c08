package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

var (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Task is a registry row for a periodic task.
type Task struct {
	Name        string    `gorm:"column:name;primaryKey;type:varchar(100)" json:"name"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	Schedule    string    `gorm:"column:schedule;type:varchar(50)" json:"schedule"` // cron format (optional)
	IsActive    bool      `gorm:"column:is_active" json:"isActive"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Task) TableName() string {
	return "tasks"
}

// Job is an execution record of a task run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	TaskName    string         `gorm:"column:task_name;index;not null" json:"taskName"`
	Trigger     string         `gorm:"column:trigger_source;type:varchar(20)" json:"trigger"` // schedule | cron | admin
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"errorMsg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updatedAt"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Job) TableName() string {
	return "jobs"
}
