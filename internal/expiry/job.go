package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gearledger/gearledger/jobs"
)

// ScanJob runs the periodic expiry status refresh on the worker and fans
// resulting events out as notification tasks.
type ScanJob struct {
	service *Service
	client  *jobs.Client
	logger  *slog.Logger
}

// NewScanJob constructs a job handler.
func NewScanJob(service *Service, client *jobs.Client, logger *slog.Logger) *ScanJob {
	return &ScanJob{service: service, client: client, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ScanJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ExpiryScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window := time.Duration(payload.WindowDays) * 24 * time.Hour

	events, err := j.service.CheckNotifications(ctx, window)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("expiry scan", slog.Any("error", err))
		}
		return err
	}
	for _, event := range events {
		notification, ok := notificationFor(event)
		if !ok {
			continue
		}
		if _, err := j.client.EnqueueSendNotification(ctx, notification); err != nil && j.logger != nil {
			j.logger.Error("expiry notify enqueue", slog.Any("error", err))
		}
	}
	if j.logger != nil {
		j.logger.Info("expiry scan done", slog.Int("events", len(events)))
	}
	return nil
}

func notificationFor(event Event) (jobs.SendNotificationPayload, bool) {
	switch e := event.(type) {
	case ExpiringSoonEvent:
		return jobs.SendNotificationPayload{
			Kind:    e.EventType(),
			Subject: fmt.Sprintf("PPE unit expiring on %s", e.ExpiryDate.Format("2006-01-02")),
			Body:    fmt.Sprintf("tracking record %d (item %d, serial %q) enters the expiry warning window", e.RecordID, e.ItemID, e.Serial),
		}, true
	case ExpiredEvent:
		return jobs.SendNotificationPayload{
			Kind:    e.EventType(),
			Subject: "PPE unit expired",
			Body:    fmt.Sprintf("tracking record %d (item %d, serial %q) expired on %s", e.RecordID, e.ItemID, e.Serial, e.ExpiryDate.Format("2006-01-02")),
		}, true
	default:
		return jobs.SendNotificationPayload{}, false
	}
}
