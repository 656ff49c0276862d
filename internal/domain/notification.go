package domain

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification records one delivery attempt for a task. Attempt numbers are
// 1-based and strictly increasing per task; a finished attempt is never
// mutated again.
type Notification struct {
	ID             int32               `json:"id"`
	TaskID         int32               `json:"task_id"`
	Channel        NotificationChannel `json:"channel"`
	AttemptNumber  int32               `json:"attempt_number"`
	Status         NotificationStatus  `json:"status"`
	Message        string              `json:"message"`
	ResponseStatus int32               `json:"response_status"`
	ResponseBody   string              `json:"response_body"`
	ErrorMessage   string              `json:"error_message"`
	SentAt         *time.Time          `json:"sent_at"`
	CreatedAtStamp int64               `json:"created_at_stamp"`
	UpdatedAtStamp int64               `json:"updated_at_stamp"`
}
