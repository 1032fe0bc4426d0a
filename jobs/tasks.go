package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendNotification delivers expiry/overdue notifications.
	TaskTypeSendNotification = "notify:send"
	// TaskTypeBatchProcess runs one batch issuance end to end.
	TaskTypeBatchProcess = "batch:process"
	// TaskTypeOverdueScan flags issued records past their due date.
	TaskTypeOverdueScan = "overdue:scan"
	// TaskTypeExpiryScan refreshes expiry tracking statuses and emits
	// expiring-soon notifications.
	TaskTypeExpiryScan = "expiry:scan"
)

// SendNotificationPayload describes one outbound notification. Delivery is
// fire and forget; failures are retried by asynq, never surfaced to the
// operation that emitted the event.
type SendNotificationPayload struct {
	RecipientID int64  `json:"recipient_id"`
	Kind        string `json:"kind"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// NewSendNotificationTask constructs an Asynq task.
func NewSendNotificationTask(payload SendNotificationPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendNotification, data), nil
}

// HandleSendNotificationTask processes TaskTypeSendNotification tasks.
func HandleSendNotificationTask(ctx context.Context, t *asynq.Task) error {
	var payload SendNotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with the notification gateway.
	fmt.Printf("[jobs] notify user=%d kind=%s subject=%s\n", payload.RecipientID, payload.Kind, payload.Subject)
	return nil
}

// BatchProcessPayload identifies the batch to run and its parallelism bound.
type BatchProcessPayload struct {
	BatchID            int64 `json:"batch_id"`
	MaxConcurrentItems int   `json:"max_concurrent_items"`
}

// NewBatchProcessTask constructs an Asynq task.
func NewBatchProcessTask(payload BatchProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBatchProcess, data), nil
}

// OverdueScanPayload carries the scan cutoff; zero means "now".
type OverdueScanPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewOverdueScanTask constructs an Asynq task.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOverdueScan, data), nil
}

// ExpiryScanPayload carries the warning window; zero uses the configured
// default.
type ExpiryScanPayload struct {
	WindowDays int `json:"window_days,omitempty"`
}

// NewExpiryScanTask constructs an Asynq task.
func NewExpiryScanTask(payload ExpiryScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExpiryScan, data), nil
}
