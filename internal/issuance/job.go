package issuance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/gearledger/gearledger/jobs"
)

// OverdueScanJob flags past-due records on the worker and notifies each
// recipient.
type OverdueScanJob struct {
	service *Service
	client  *jobs.Client
	logger  *slog.Logger
}

// NewOverdueScanJob constructs a job handler.
func NewOverdueScanJob(service *Service, client *jobs.Client, logger *slog.Logger) *OverdueScanJob {
	return &OverdueScanJob{service: service, client: client, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *OverdueScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.OverdueScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.service.now()
	}

	events, err := j.service.MarkOverdue(ctx, asOf)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("overdue scan", slog.Any("error", err))
		}
		return err
	}
	for _, event := range events {
		overdue, ok := event.(OverdueEvent)
		if !ok {
			continue
		}
		notification := jobs.SendNotificationPayload{
			RecipientID: overdue.RecipientID,
			Kind:        overdue.EventType(),
			Subject:     "issued equipment overdue",
			Body: fmt.Sprintf("record %d: %d units were due back on %s",
				overdue.RecordID, overdue.Remaining, overdue.DueDate.Format("2006-01-02")),
		}
		if _, err := j.client.EnqueueSendNotification(ctx, notification); err != nil && j.logger != nil {
			j.logger.Error("overdue notify enqueue", slog.Any("error", err))
		}
	}
	if j.logger != nil {
		j.logger.Info("overdue scan done", slog.Int("flagged", len(events)))
	}
	return nil
}
