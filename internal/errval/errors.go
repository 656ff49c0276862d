package errval

import (
	"errors"
)

var (
	ErrInternal                = errors.New("internal server error")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrSchedulingRejected      = errors.New("trigger scheduler rejected the task")
	ErrInvalidNotificationType = errors.New("invalid notification type")
	ErrDispatchFailed          = errors.New("notification dispatch failed")
)
