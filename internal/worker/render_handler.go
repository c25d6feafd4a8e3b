package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"printgrid/internal/errcode"
	"printgrid/internal/jobs"
	"printgrid/internal/metrics"
	"printgrid/internal/tasks"
)

type singleRunner interface {
	RunSingle(ctx context.Context, orderID string) (jobs.Result, error)
}

// RenderHandler 负责消费单订单生成任务。
type RenderHandler struct {
	runner singleRunner
	redis  publisher
	logger *slog.Logger
}

// NewRenderHandler 创建任务处理器。
func NewRenderHandler(runner singleRunner, redis publisher, logger *slog.Logger) *RenderHandler {
	return &RenderHandler{runner: runner, redis: redis, logger: logger}
}

// ProcessTask 实现 asynq.Handler。输入错误不会重试；其余错误在最后一次重试失败后才发布错误通知。
func (h *RenderHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.RenderOrderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("order_id", payload.OrderID),
	)
	log.Info("render task started")

	notify := NotifyMessage{
		Mode:          "single",
		JobKey:        payload.OrderID,
		CorrelationID: payload.CorrelationID,
	}

	defer func() {
		if retErr == nil {
			return
		}
		if errcode.KindOf(retErr) != errcode.KindInput && !isFinalAsynqAttempt(ctx) {
			return
		}
		notify.Status = "error"
		notify.ErrorCode = errcode.CodeOf(retErr)
		notify.ErrorMessage = strings.TrimSpace(retErr.Error())
		if err := publishNotify(ctx, h.redis, notify); err != nil {
			log.Error("publish render error notification failed", slog.Any("error", err))
		}
	}()

	res, err := h.runner.RunSingle(ctx, payload.OrderID)
	metrics.ObserveRender("single", len(res.Pages), res.Report, err)
	if err != nil {
		if errcode.KindOf(err) == errcode.KindInput {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	notify.Status = "completed"
	notify.ErrorCode = errcode.OK
	notify.Location = res.Location
	if missing := res.Report.MissingKeys(); len(missing) > 0 {
		notify.ErrorCode = errcode.ResourceMissing
		notify.ErrorMessage = "some assets could not be used and were skipped"
		notify.MissingKeys = missing
		log.Warn("order rendered with missing assets", slog.Int("missing_count", len(missing)), slog.Any("missing_keys", missing))
	}
	if err := publishNotify(ctx, h.redis, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
	}

	log.Info("render task completed", slog.Int("pages", len(res.Pages)))
	return nil
}
