package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status 是任务状态。
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusZipping Status = "zipping"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// 进度刻度：所有照片合成占 0-98，打包为 99，完成为 100。
const (
	percentPhotos  = 98
	percentZipping = 99
	percentDone    = 100
)

// Progress 是轮询方看到的进度。
type Progress struct {
	Percent  int    `json:"percent"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Location string `json:"location,omitempty"`
}

// PhotoPercent 把已合成照片数换算为 0-98 的百分比。
func PhotoPercent(done, total int) int {
	if total <= 0 {
		return 0
	}
	done = min(max(done, 0), total)
	return done * percentPhotos / total
}

// Tracker 读写进度记录。
type Tracker struct {
	store Store
	ttl   time.Duration
}

// NewTracker 创建 Tracker。
func NewTracker(store Store, ttl time.Duration) *Tracker {
	return &Tracker{store: store, ttl: ttl}
}

func progressKey(jobKey string) string { return "progress:" + jobKey }

// Set 写入进度。
func (t *Tracker) Set(ctx context.Context, jobKey string, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return t.store.Set(ctx, progressKey(jobKey), data, t.ttl)
}

// Get 读取进度；没有记录时返回 idle。
func (t *Tracker) Get(ctx context.Context, jobKey string) (Progress, error) {
	data, err := t.store.Get(ctx, progressKey(jobKey))
	if errors.Is(err, ErrNotFound) {
		return Progress{Status: StatusIdle}, nil
	}
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, nil
}
