package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/bytesfield/schedula/internal/domain"
	"github.com/bytesfield/schedula/internal/errval"
)

const uniqueViolationCode = "23505"

type storage struct {
	pool *pgxpool.Pool
}

func NewStorage(ctx context.Context, dsn string) (*storage, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))

	if err != nil {
		return nil, err
	}

	return &storage{pool: pool}, nil
}

func (s *storage) Ping(ctx context.Context) (err error) {
	return s.pool.Ping(ctx)
}

func (s *storage) InsertUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	var id int32
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, first_name, last_name) VALUES ($1, $2, $3) RETURNING id, created_at`,
		user.Email, user.FirstName, user.LastName,
	).Scan(&id, &createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, errval.ErrConflict
		}

		return nil, err
	}

	inserted := *user
	inserted.ID = id
	inserted.CreatedAtStamp = createdAt.Unix()
	inserted.UpdatedAtStamp = createdAt.Unix()
	return &inserted, nil
}

func (s *storage) GetUserByID(ctx context.Context, id int32) (*domain.User, error) {
	user := &domain.User{}
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errval.ErrNotFound
		}

		return nil, err
	}

	user.CreatedAtStamp = createdAt.Unix()
	user.UpdatedAtStamp = updatedAt.Unix()
	return user, nil
}

func (s *storage) InsertTask(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	payloadJSON, err := marshalPayload(task.Payload)
	if err != nil {
		return nil, err
	}

	var channel *string
	if task.Channel != "" {
		c := string(task.Channel)
		channel = &c
	}

	var id int32
	var createdAt time.Time
	err = s.pool.QueryRow(ctx,
		`INSERT INTO tasks
		    (user_id, title, description, kind, schedule_type, cron_expression, channel, payload, status, max_retries, next_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		task.UserID, task.Title, task.Description, string(task.Kind), string(task.ScheduleType),
		task.CronExpression, channel, payloadJSON, string(task.Status), task.MaxRetries, task.NextRunAt,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, err
	}

	inserted := *task
	inserted.ID = id
	inserted.CreatedAtStamp = createdAt.Unix()
	inserted.UpdatedAtStamp = createdAt.Unix()
	return &inserted, nil
}

const taskWithOwnerColumns = `
	t.id, t.user_id, t.title, t.description, t.kind, t.schedule_type, t.cron_expression,
	t.channel, t.payload, t.status, t.retry_count, t.max_retries, t.next_run_at, t.last_run_at,
	t.completed, t.created_at, t.updated_at,
	u.id, u.email, u.first_name, u.last_name`

func (s *storage) GetTaskByID(ctx context.Context, id int32) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskWithOwnerColumns+` FROM tasks t JOIN users u ON u.id = t.user_id WHERE t.id = $1`,
		id,
	)

	task, err := scanTaskWithOwner(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errval.ErrNotFound
		}

		return nil, err
	}

	return task, nil
}

func (s *storage) GetUserTasks(ctx context.Context, userID int32) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskWithOwnerColumns+` FROM tasks t JOIN users u ON u.id = t.user_id
		 WHERE t.user_id = $1 ORDER BY t.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (s *storage) FindDueTasks(ctx context.Context, now time.Time, limit int32) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskWithOwnerColumns+` FROM tasks t JOIN users u ON u.id = t.user_id
		 WHERE t.next_run_at <= $1 AND t.status IN ('pending', 'processing')
		 ORDER BY t.next_run_at ASC LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (s *storage) UpdateTask(ctx context.Context, task *domain.Task) error {
	payloadJSON, err := marshalPayload(task.Payload)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks
		 SET title = $2, description = $3, cron_expression = $4, payload = $5,
		     max_retries = $6, next_run_at = $7, updated_at = NOW()
		 WHERE id = $1`,
		task.ID, task.Title, task.Description, task.CronExpression, payloadJSON,
		task.MaxRetries, task.NextRunAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) DeleteTask(ctx context.Context, id int32) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errval.ErrNotFound
	}

	return nil
}

// SetTaskStatusIfIn is the conditional-update primitive of the pipeline: the
// status write happens only when the current status is one of expected, and
// the change is logged in the history table within the same transaction.
func (s *storage) SetTaskStatusIfIn(ctx context.Context, taskID int32, expected []domain.TaskStatus, newStatus domain.TaskStatus) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer rollback(ctx, tx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, errval.ErrNotFound
		}

		return false, err
	}

	allowed := false
	for _, status := range expected {
		if domain.TaskStatus(current) == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	if err = updateStatusAndLog(ctx, tx, taskID, domain.TaskStatus(current), newStatus); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (s *storage) UpdateTaskStatusAndLogChangeInTx(ctx context.Context, taskID int32, currentStatus, newStatus domain.TaskStatus) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	if err = updateStatusAndLog(ctx, tx, taskID, currentStatus, newStatus); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *storage) SaveTaskRun(ctx context.Context, task *domain.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx)

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, task.ID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errval.ErrNotFound
		}

		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE tasks
		 SET status = $2, retry_count = $3, last_run_at = $4, next_run_at = $5, completed = $6, updated_at = NOW()
		 WHERE id = $1`,
		task.ID, string(task.Status), task.RetryCount, task.LastRunAt, task.NextRunAt, task.Completed,
	)
	if err != nil {
		return err
	}

	if domain.TaskStatus(current) != task.Status {
		_, err = tx.Exec(ctx,
			`INSERT INTO tasks_status_change_history (task_id, old_status, new_status) VALUES ($1, $2, $3)`,
			task.ID, current, string(task.Status),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *storage) GetTaskStatusChangeHistory(ctx context.Context, taskID int32) ([]*domain.TaskStatusChangeHistory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, old_status, new_status, created_at
		 FROM tasks_status_change_history WHERE task_id = $1 ORDER BY id ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*domain.TaskStatusChangeHistory{}
	for rows.Next() {
		item := &domain.TaskStatusChangeHistory{}
		var createdAt time.Time
		if err := rows.Scan(&item.ID, &item.TaskID, &item.OldStatus, &item.NewStatus, &createdAt); err != nil {
			return nil, err
		}
		item.CreatedAtStamp = createdAt.Unix()
		history = append(history, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, errval.ErrNotFound
	}

	return history, nil
}

func (s *storage) InsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	var id int32
	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (task_id, channel, attempt_number, status, message)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		n.TaskID, string(n.Channel), n.AttemptNumber, string(n.Status), n.Message,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, err
	}

	inserted := *n
	inserted.ID = id
	inserted.CreatedAtStamp = createdAt.Unix()
	inserted.UpdatedAtStamp = createdAt.Unix()
	return &inserted, nil
}

func (s *storage) FinishNotification(ctx context.Context, n *domain.Notification) error {
	var responseStatus *int32
	if n.ResponseStatus != 0 {
		responseStatus = &n.ResponseStatus
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications
		 SET status = $2, response_status = $3, response_body = $4, error_message = $5, sent_at = $6, updated_at = NOW()
		 WHERE id = $1`,
		n.ID, string(n.Status), responseStatus, n.ResponseBody, n.ErrorMessage, n.SentAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errval.ErrNotFound
	}

	return nil
}

func (s *storage) MaxAttemptNumber(ctx context.Context, taskID int32) (int32, error) {
	var maxAttempt int32
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) FROM notifications WHERE task_id = $1`,
		taskID,
	).Scan(&maxAttempt)
	if err != nil {
		return 0, err
	}

	return maxAttempt, nil
}

func (s *storage) GetTaskNotifications(ctx context.Context, taskID int32) ([]*domain.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, channel, attempt_number, status, message, response_status, response_body, error_message, sent_at, created_at, updated_at
		 FROM notifications WHERE task_id = $1 ORDER BY attempt_number ASC`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []*domain.Notification{}
	for rows.Next() {
		n := &domain.Notification{}
		var responseStatus *int32
		var sentAt *time.Time
		var createdAt, updatedAt time.Time
		err := rows.Scan(&n.ID, &n.TaskID, &n.Channel, &n.AttemptNumber, &n.Status, &n.Message,
			&responseStatus, &n.ResponseBody, &n.ErrorMessage, &sentAt, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		if responseStatus != nil {
			n.ResponseStatus = *responseStatus
		}
		n.SentAt = sentAt
		n.CreatedAtStamp = createdAt.Unix()
		n.UpdatedAtStamp = updatedAt.Unix()
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

func updateStatusAndLog(ctx context.Context, tx pgx.Tx, taskID int32, currentStatus, newStatus domain.TaskStatus) error {
	_, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`,
		taskID, string(newStatus),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks_status_change_history (task_id, old_status, new_status) VALUES ($1, $2, $3)`,
		taskID, string(currentStatus), string(newStatus),
	)
	return err
}

func marshalPayload(payload map[string]string) (pgtype.JSON, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return pgtype.JSON{}, err
	}

	var payloadJSON pgtype.JSON
	if err := payloadJSON.Set(jsonBytes); err != nil {
		return pgtype.JSON{}, err
	}

	return payloadJSON, nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("Error occurred while rolling back transaction", "error", err.Error())
	}
}

func scanTaskWithOwner(row pgx.Row) (*domain.Task, error) {
	task := &domain.Task{Owner: &domain.User{}}
	var channel *string
	var payload []byte
	var nextRunAt, lastRunAt *time.Time
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Description, &task.Kind, &task.ScheduleType,
		&task.CronExpression, &channel, &payload, &task.Status, &task.RetryCount, &task.MaxRetries,
		&nextRunAt, &lastRunAt, &task.Completed, &createdAt, &updatedAt,
		&task.Owner.ID, &task.Owner.Email, &task.Owner.FirstName, &task.Owner.LastName,
	)
	if err != nil {
		return nil, err
	}

	if channel != nil {
		task.Channel = domain.NotificationChannel(*channel)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, err
		}
	}
	task.NextRunAt = nextRunAt
	task.LastRunAt = lastRunAt
	task.CreatedAtStamp = createdAt.Unix()
	task.UpdatedAtStamp = updatedAt.Unix()
	return task, nil
}

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTaskWithOwner(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}
