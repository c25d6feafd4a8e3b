package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"printgrid/internal/errcode"
	"printgrid/internal/naming"
	"printgrid/internal/outcome"
)

// ErrJobExpired 表示批量任务不存在或已过期，调用方需要重新发起。
var ErrJobExpired = errors.New("job expired, restart the batch")

// bulkArchiveMaxAge 之前生成的批量压缩包在 worker 写出新压缩包前被清理。
const bulkArchiveMaxAge = time.Hour

// BulkFile 是批量压缩包中的一个扁平化页面文件。
type BulkFile struct {
	Entry string `json:"entry"`
	Path  string `json:"path"`
}

// BulkEntry 是批量任务中一个订单的结果。
type BulkEntry struct {
	OrderID string     `json:"order_id"`
	OK      bool       `json:"ok"`
	Message string     `json:"message,omitempty"`
	Files   []BulkFile `json:"files,omitempty"`
}

// BulkJob 是可续跑的批量任务状态：每次 Step 处理一个订单并推进 Cursor。
type BulkJob struct {
	ID       string      `json:"id"`
	OrderIDs []string    `json:"order_ids"`
	Cursor   int         `json:"cursor"`
	Results  []BulkEntry `json:"results"`
	Status   Status      `json:"status"`
	Message  string      `json:"message,omitempty"`
	Archive  string      `json:"archive,omitempty"`
	Location string      `json:"location,omitempty"`
}

// Outcome 把订单结果转换为 order 范围的 outcome.Item。
func (e BulkEntry) Outcome() outcome.Item {
	if e.OK {
		return outcome.Done(outcome.ScopeOrder, e.OrderID)
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "order failed"
	}
	return outcome.Fail(outcome.ScopeOrder, e.OrderID, errors.New(msg))
}

// Report 汇总已处理订单的结果，失败订单的 Ref 即订单号。
func (b BulkJob) Report() outcome.Report {
	var r outcome.Report
	for _, e := range b.Results {
		r.Add(e.Outcome())
	}
	return r
}

// Total 返回订单数。
func (b BulkJob) Total() int { return len(b.OrderIDs) }

// Finished 报告任务是否已经结束。
func (b BulkJob) Finished() bool { return b.Status == StatusDone || b.Status == StatusError }

// Percent 返回 floor(cursor/total*100)，在压缩包写完之前最多为 99。
func (b BulkJob) Percent() int {
	switch {
	case b.Status == StatusDone:
		return percentDone
	case b.Status == StatusError || b.Total() == 0:
		return 0
	}
	return min(b.Cursor*100/b.Total(), percentZipping)
}

func bulkKey(id string) string { return "bulk:" + id }

// StartBulk 创建批量任务。订单数上限由调用方负责。
func (o *Orchestrator) StartBulk(ctx context.Context, orderIDs []string) (BulkJob, error) {
	seen := make(map[string]struct{}, len(orderIDs))
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return BulkJob{}, errcode.Input("start bulk", errors.New("no orders selected"))
	}

	job := BulkJob{ID: uuid.NewString(), OrderIDs: ids, Status: StatusRunning}
	if err := o.saveBulk(ctx, job); err != nil {
		return BulkJob{}, errcode.Resource("start bulk", err)
	}
	o.logger.Info("bulk job started", slog.String("job_id", job.ID), slog.Int("orders", len(ids)))
	return job, nil
}

// Bulk 读取批量任务状态。任务不存在或过期时返回 JobState 错误。
func (o *Orchestrator) Bulk(ctx context.Context, jobID string) (BulkJob, error) {
	data, err := o.store.Get(ctx, bulkKey(jobID))
	if errors.Is(err, ErrNotFound) {
		return BulkJob{}, errcode.JobState("bulk", ErrJobExpired)
	}
	if err != nil {
		return BulkJob{}, errcode.Resource("bulk", err)
	}
	var job BulkJob
	if err := json.Unmarshal(data, &job); err != nil {
		return BulkJob{}, errcode.Resource("bulk", fmt.Errorf("unmarshal bulk job: %w", err))
	}
	return job, nil
}

// Step 推进批量任务一步：cursor 未到末尾时处理恰好一个订单；到达末尾时写出压缩包并结束。
// 已结束的任务再次调用不做任何事。
func (o *Orchestrator) Step(ctx context.Context, jobID string) (BulkJob, error) {
	job, err := o.Bulk(ctx, jobID)
	if err != nil {
		return BulkJob{}, err
	}
	if job.Finished() {
		return job, nil
	}
	log := o.logger.With(slog.String("job_id", job.ID))

	if job.Cursor < job.Total() {
		id := job.OrderIDs[job.Cursor]
		// 结果与 cursor 一起保存，已记录的位置不会被重复处理。
		if len(job.Results) <= job.Cursor {
			entry, item := o.renderBulkOrder(ctx, job.ID, id)
			job.Results = append(job.Results, entry)
			if item.Status == outcome.OK {
				log.Info("bulk order rendered", slog.String("order_id", id), slog.Int("files", len(entry.Files)))
			} else {
				log.Warn("bulk order failed",
					slog.String("order_id", id),
					slog.String("kind", errcode.KindOf(item.Err).String()),
					slog.Any("error", item.Err),
				)
			}
		}
		job.Cursor++
		job.Status = StatusRunning
		if err := o.saveBulk(ctx, job); err != nil {
			return BulkJob{}, errcode.Resource("bulk step", err)
		}
		return job, nil
	}

	return o.finishBulk(ctx, job, log)
}

// renderBulkOrder 生成单个订单。失败只记录为 order 范围的 Fail，不中断整个批次。
func (o *Orchestrator) renderBulkOrder(ctx context.Context, jobID, id string) (BulkEntry, outcome.Item) {
	entry := BulkEntry{OrderID: id}
	fail := func(err error) (BulkEntry, outcome.Item) {
		entry.Message = shortError(err)
		return entry, outcome.Fail(outcome.ScopeOrder, id, err)
	}

	ord, photos, err := o.source.Load(ctx, id)
	if err != nil {
		return fail(err)
	}

	dir := filepath.Join(o.bulkWorkDir(jobID), naming.Slug(id))
	pages, _, err := o.renderer.Assemble(ctx, ord, photos, dir, nil)
	if err != nil {
		return fail(err)
	}
	if len(pages) == 0 {
		return fail(errors.New("no pages generated"))
	}

	base := naming.File(ord.OrderID) + "-" + naming.File(id)
	for _, p := range pages {
		name := base + ".png"
		if len(pages) > 1 {
			name = fmt.Sprintf("%s-%d.png", base, p.Page)
		}
		entry.Files = append(entry.Files, BulkFile{Entry: name, Path: p.Path})
	}

	if err := o.source.MarkCompleted(ctx, id, ""); err != nil {
		o.logger.Warn("mark bulk order completed failed", slog.String("order_id", id), slog.Any("error", err))
	}
	entry.OK = true
	return entry, outcome.Done(outcome.ScopeOrder, id)
}

func (o *Orchestrator) finishBulk(ctx context.Context, job BulkJob, log *slog.Logger) (BulkJob, error) {
	job.Status = StatusZipping
	if err := o.saveBulk(ctx, job); err != nil {
		return BulkJob{}, errcode.Resource("bulk finish", err)
	}

	var entries []archiveEntry
	for i, r := range job.Results {
		if !r.OK {
			continue
		}
		for _, f := range r.Files {
			if _, err := os.Stat(f.Path); err != nil {
				job.Results[i].OK = false
				job.Results[i].Message = "generated file not found"
				break
			}
		}
		if !job.Results[i].OK {
			continue
		}
		for _, f := range r.Files {
			entries = append(entries, archiveEntry{Name: f.Entry, Path: f.Path})
		}
	}

	report := job.Report()
	manifest := bulkManifest(job.Results, report)
	success := report.Count(outcome.ScopeOrder, outcome.OK)
	if failed := report.Count(outcome.ScopeOrder, outcome.Failed); failed > 0 {
		log.Warn("bulk job has failed orders", slog.Int("failed", failed), slog.Any("orders", report.MissingKeys()))
	}

	defer os.RemoveAll(o.bulkWorkDir(job.ID))

	if success == 0 {
		job.Status = StatusError
		job.Message = "no order in the batch could be generated"
		if err := o.saveBulk(ctx, job); err != nil {
			return BulkJob{}, errcode.Resource("bulk finish", err)
		}
		log.Error("bulk job failed", slog.String("error", job.Message))
		return job, nil
	}

	if n := o.PruneBulkArchives(); n > 0 {
		log.Info("pruned old bulk archives", slog.Int("count", n))
	}

	name := fmt.Sprintf("pedidos-selecionados-%s-%s.zip", o.now().Format("2006-01-02-15-04-05"), naming.File(job.ID))
	path := filepath.Join(o.bulkDir(), name)
	if err := writeArchive(path, entries, manifest); err != nil {
		job.Status = StatusError
		job.Message = err.Error()
		_ = o.saveBulk(ctx, job)
		return job, errcode.Resource("bulk archive", err)
	}

	job.Archive = path
	job.Location = path
	if o.publisher != nil {
		loc, err := o.publisher.Publish(ctx, path, "bulk/"+name)
		if err != nil {
			job.Status = StatusError
			job.Message = err.Error()
			_ = o.saveBulk(ctx, job)
			return job, errcode.Resource("bulk publish", err)
		}
		job.Location = loc
	}

	job.Status = StatusDone
	if err := o.saveBulk(ctx, job); err != nil {
		return BulkJob{}, errcode.Resource("bulk finish", err)
	}
	log.Info("bulk job completed", slog.Int("orders", success), slog.String("archive", path))
	return job, nil
}

// bulkManifest 为每个订单写一行：OK 行列出压缩包内文件名，ERROR 行给出失败原因。
func bulkManifest(results []BulkEntry, report outcome.Report) []string {
	lines := make([]string, 0, len(report.Items))
	for i, it := range report.Items {
		if it.Status != outcome.OK {
			lines = append(lines, fmt.Sprintf("%s\tERROR\t%v", it.Ref, it.Err))
			continue
		}
		names := make([]string, 0, len(results[i].Files))
		for _, f := range results[i].Files {
			names = append(names, f.Entry)
		}
		lines = append(lines, fmt.Sprintf("%s\tOK\t%s", it.Ref, strings.Join(names, ",")))
	}
	return lines
}

// PruneBulkArchives 删除早于 bulkArchiveMaxAge 的批量压缩包，返回删除数量。
// 只在生成压缩包的 worker 上调用。
func (o *Orchestrator) PruneBulkArchives() int {
	return pruneArchives(o.bulkDir(), bulkArchiveMaxAge, o.now())
}

func (o *Orchestrator) saveBulk(ctx context.Context, job BulkJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal bulk job: %w", err)
	}
	return o.store.Set(ctx, bulkKey(job.ID), data, o.cfg.TTL)
}

func (o *Orchestrator) bulkDir() string { return filepath.Join(o.cfg.OutputDir, "bulk") }

func (o *Orchestrator) bulkWorkDir(jobID string) string {
	return filepath.Join(o.cfg.OutputDir, "work", "bulk-"+jobID)
}
