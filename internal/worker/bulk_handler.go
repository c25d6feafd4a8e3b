package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"printgrid/internal/errcode"
	"printgrid/internal/jobs"
	"printgrid/internal/metrics"
	"printgrid/internal/tasks"
)

type bulkStepper interface {
	Step(ctx context.Context, jobID string) (jobs.BulkJob, error)
}

type enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// BulkStepHandler 每次推进批量任务一步，未结束时再入队下一步。
type BulkStepHandler struct {
	stepper  bulkStepper
	queue    enqueuer
	redis    publisher
	logger   *slog.Logger
	maxRetry int
}

// NewBulkStepHandler 创建任务处理器。
func NewBulkStepHandler(stepper bulkStepper, queue enqueuer, redis publisher, logger *slog.Logger) *BulkStepHandler {
	return &BulkStepHandler{stepper: stepper, queue: queue, redis: redis, logger: logger, maxRetry: 3}
}

// ProcessTask 实现 asynq.Handler。
func (h *BulkStepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.BulkStepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("job_id", payload.JobID),
	)

	job, err := h.stepper.Step(ctx, payload.JobID)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindJobState {
			log.Warn("bulk job expired, dropping step")
			h.notify(ctx, log, NotifyMessage{
				Status:       "error",
				JobKey:       payload.JobID,
				ErrorCode:    errcode.CodeOf(err),
				ErrorMessage: err.Error(),
			}, payload.CorrelationID)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		log.Error("bulk step failed", slog.Any("error", err))
		return err
	}

	if !job.Finished() {
		next, err := tasks.NewBulkStepTask(job.ID, payload.CorrelationID)
		if err != nil {
			return err
		}
		if _, err := h.queue.Enqueue(next, asynq.MaxRetry(h.maxRetry)); err != nil {
			log.Error("enqueue next bulk step failed", slog.Any("error", err))
			return err
		}
		log.Debug("bulk step done", slog.Int("cursor", job.Cursor), slog.Int("total", job.Total()))
		return nil
	}

	msg := NotifyMessage{JobKey: job.ID, Location: job.Location}
	files := 0
	for _, r := range job.Results {
		if r.OK {
			files += len(r.Files)
		}
	}
	report := job.Report()
	if job.Status == jobs.StatusDone {
		msg.Status = "completed"
		msg.ErrorCode = errcode.OK
		if failed := report.MissingKeys(); len(failed) > 0 {
			msg.ErrorCode = errcode.ResourceMissing
			msg.ErrorMessage = "some orders could not be generated"
			msg.MissingKeys = failed
		}
		metrics.ObserveRender("bulk", files, report, nil)
	} else {
		msg.Status = "error"
		msg.ErrorCode = errcode.SystemError
		msg.ErrorMessage = strings.TrimSpace(job.Message)
		metrics.ObserveRender("bulk", 0, report, errcode.Resource("bulk", errors.New(job.Message)))
	}
	h.notify(ctx, log, msg, payload.CorrelationID)
	log.Info("bulk job finished", slog.String("status", string(job.Status)), slog.Int("files", files))
	return nil
}

func (h *BulkStepHandler) notify(ctx context.Context, log *slog.Logger, msg NotifyMessage, correlationID string) {
	msg.Mode = "bulk"
	msg.CorrelationID = correlationID
	if err := publishNotify(ctx, h.redis, msg); err != nil {
		log.Error("publish bulk notification failed", slog.Any("error", err))
	}
}
