package domain

type RouterRequestAddTask struct {
	UserID         int32             `json:"user_id" binding:"required"`
	Title          string            `json:"title" binding:"required"`
	Description    string            `json:"description"`
	Kind           string            `json:"kind" binding:"required,validate_task_kind"`
	CronExpression string            `json:"cron_expression" binding:"omitempty,validate_cron"`
	TriggerAtStamp *int64            `json:"trigger_at_stamp"`
	Channel        *string           `json:"channel" binding:"omitempty,validate_channel"`
	MaxRetries     *int32            `json:"max_retries" binding:"omitempty,gte=0"`
	Payload        map[string]string `json:"payload" binding:"required"`
}

type RouterRequestUpdateTask struct {
	Title          *string           `json:"title"`
	Description    *string           `json:"description"`
	CronExpression *string           `json:"cron_expression" binding:"omitempty,validate_cron"`
	TriggerAtStamp *int64            `json:"trigger_at_stamp"`
	Payload        map[string]string `json:"payload"`
}

type RouterRequestAddUser struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name"`
}
