package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the terminal outcome of one processed message.
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusRejected means the message was poison: acknowledged, logged
	// and dropped.
	JobStatusRejected JobStatus = "rejected"
	// JobStatusRetrying means a transient failure was reported to the
	// transport, which is expected to redeliver.
	JobStatusRetrying JobStatus = "retrying"
)

// IngestionJob records the outcome of one pipeline run for audit. One row
// is written per delivery, so a message that fails transiently twice before
// succeeding appears three times.
type IngestionJob struct {
	ID           uuid.UUID     `json:"id"`
	MessageID    string        `json:"message_id"`
	Source       string        `json:"source"`
	Status       JobStatus     `json:"status"`
	FailureClass FailureClass  `json:"failure_class,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Records      int           `json:"records"`
	RowsAppended int64         `json:"rows_appended"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}
