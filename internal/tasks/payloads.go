// Package tasks 定义 API 与 worker 之间共享的 asynq 任务类型和载荷。
package tasks

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeRenderOrder = "render:order"
	TypeBulkStep    = "render:bulk-step"
)

// RenderOrderPayload 描述单订单生成所需的最小信息。
type RenderOrderPayload struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
}

// BulkStepPayload 指向一个批量任务；每个任务只推进一步。
type BulkStepPayload struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewRenderOrderTask 构造一个单订单生成任务。
func NewRenderOrderTask(orderID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RenderOrderPayload{
		OrderID:       strings.TrimSpace(orderID),
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRenderOrder, payload), nil
}

// NewBulkStepTask 构造批量任务的下一步。
func NewBulkStepTask(jobID, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BulkStepPayload{
		JobID:         jobID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBulkStep, payload), nil
}
