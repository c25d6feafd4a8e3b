// Package worker 消费 asynq 生成任务，并通过 Redis Pub/Sub 发布完成通知。
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// NotifyMessage 是发布到 render_notify:{job_key} 的完成通知。
type NotifyMessage struct {
	Status        string   `json:"status"`
	Mode          string   `json:"mode"`
	JobKey        string   `json:"job_key"`
	CorrelationID string   `json:"correlation_id"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	Location      string   `json:"location,omitempty"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}

// publisher 是通知用到的 redis 命令，*redis.Client 满足该接口。
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NotifyChannel 返回任务的通知频道。
func NotifyChannel(jobKey string) string {
	return "render_notify:" + jobKey
}

func publishNotify(ctx context.Context, rdb publisher, msg NotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(msg.JobKey)
	if err := rdb.Publish(context.WithoutCancel(ctx), channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
