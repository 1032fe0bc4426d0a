package batch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/gearledger/gearledger/internal/jobs"
	"github.com/gearledger/gearledger/jobs"
)

// ProcessJob runs batch issuance tasks on the worker.
type ProcessJob struct {
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewProcessJob constructs a job handler.
func NewProcessJob(service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *ProcessJob {
	return &ProcessJob{service: service, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ProcessJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.BatchProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchID == 0 {
		return asynq.SkipRetry
	}
	if err := j.service.Process(ctx, payload.BatchID, payload.MaxConcurrentItems); err != nil {
		if j.logger != nil {
			j.logger.Error("batch process", slog.Int64("batch_id", payload.BatchID), slog.Any("error", err))
		}
		return err
	}
	if _, progress, err := j.service.Status(ctx, payload.BatchID); err == nil {
		j.metrics.AddBatchLines(progress.Successful, progress.Failed)
	}
	return nil
}
