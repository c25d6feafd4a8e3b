package jobs

import (
	"context"
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
	"printgrid/internal/order"
	"printgrid/internal/outcome"
	"printgrid/internal/sheet"
)

// Renderer 合成订单页面，*sheet.Assembler 满足该接口。
type Renderer interface {
	Assemble(ctx context.Context, o order.Order, photos []order.Photo, dir string, progress sheet.ProgressFunc) ([]sheet.Artifact, outcome.Report, error)
}

// OrderSource 是外部订单系统：读取订单快照，并在生成成功后把订单标记为完成。
type OrderSource interface {
	Load(ctx context.Context, id string) (order.Order, []order.Photo, error)
	MarkCompleted(ctx context.Context, id, archiveKey string) error
}

// Publisher 把本地压缩包发布到外部位置（例如对象存储），返回可下载地址。
type Publisher interface {
	Publish(ctx context.Context, localPath, objectName string) (string, error)
}

// Config 控制输出目录与状态过期时间。
type Config struct {
	OutputDir string
	TTL       time.Duration
}

// Orchestrator 驱动单订单生成与可续跑的批量生成。
type Orchestrator struct {
	cfg       Config
	renderer  Renderer
	source    OrderSource
	store     Store
	tracker   *Tracker
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator 创建 Orchestrator。publisher 为 nil 时压缩包只保存在本地。
func NewOrchestrator(cfg Config, renderer Renderer, source OrderSource, store Store, publisher Publisher, logger *slog.Logger) *Orchestrator {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &Orchestrator{
		cfg:       cfg,
		renderer:  renderer,
		source:    source,
		store:     store,
		tracker:   NewTracker(store, cfg.TTL),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Tracker 返回进度读写器。
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Result 是一次单订单生成的结果。
type Result struct {
	OrderID     string
	ArchivePath string
	ArchiveName string
	// Location 是发布后的地址；未配置发布时为本地路径。
	Location string
	Pages    []sheet.Artifact
	Report   outcome.Report
}

// RunSingle 同步生成一个订单的压缩包。任何阶段失败都会把进度置为 error 并返回分类错误，
// 不会把半成品当作成功返回。
func (o *Orchestrator) RunSingle(ctx context.Context, orderID string) (res Result, retErr error) {
	log := o.logger.With(slog.String("order_id", orderID))
	res.OrderID = orderID

	defer func() {
		if retErr == nil {
			return
		}
		log.Error("render failed", slog.String("kind", errcode.KindOf(retErr).String()), slog.Any("error", retErr))
		o.setProgress(ctx, orderID, Progress{Percent: 0, Status: StatusError, Message: retErr.Error()})
	}()

	o.setProgress(ctx, orderID, Progress{Percent: 0, Status: StatusRunning})

	ord, photos, err := o.source.Load(ctx, orderID)
	if err != nil {
		return res, err
	}

	workDir := filepath.Join(o.cfg.OutputDir, "work", naming.Slug(orderID)+"-"+uuid.NewString()[:8])
	defer os.RemoveAll(workDir)

	last := -1
	pages, report, err := o.renderer.Assemble(ctx, ord, photos, workDir, func(done, total int) {
		pct := PhotoPercent(done, total)
		if pct <= last {
			return
		}
		last = pct
		o.setProgress(ctx, orderID, Progress{Percent: pct, Status: StatusRunning})
	})
	res.Report = report
	if err != nil {
		return res, err
	}
	if len(pages) == 0 {
		return res, errcode.Resource("render", errors.New("no pages generated"))
	}

	o.setProgress(ctx, orderID, Progress{Percent: percentZipping, Status: StatusZipping})

	res.ArchiveName = naming.File(fmt.Sprintf("%s - %s", ord.CustomerLabel(), ord.OrderID)) + ".zip"
	res.ArchivePath = filepath.Join(o.cfg.OutputDir, naming.Slug(orderID), res.ArchiveName)

	entries := make([]archiveEntry, 0, len(pages))
	manifest := make([]string, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, archiveEntry{Name: p.Name, Path: p.Path})
		manifest = append(manifest, fmt.Sprintf("%s\t%dx%d\t%d bytes", p.Name, p.Width, p.Height, p.Bytes))
	}
	if err := writeArchive(res.ArchivePath, entries, manifest); err != nil {
		return res, errcode.Resource("archive", err)
	}

	res.Location = res.ArchivePath
	if o.publisher != nil {
		objectName := fmt.Sprintf("sheets/%s/%s", naming.Slug(orderID), res.ArchiveName)
		loc, err := o.publisher.Publish(ctx, res.ArchivePath, objectName)
		if err != nil {
			return res, errcode.Resource("publish", err)
		}
		res.Location = loc
	}
	if err := o.source.MarkCompleted(ctx, orderID, res.Location); err != nil {
		return res, errcode.Resource("mark completed", err)
	}

	res.Pages = pages
	o.setProgress(ctx, orderID, Progress{Percent: percentDone, Status: StatusDone, Location: res.Location})

	attrs := []any{slog.Int("pages", len(pages)), slog.String("archive", res.ArchivePath)}
	if missing := report.MissingKeys(); len(missing) > 0 {
		attrs = append(attrs, slog.Any("degraded", missing))
	}
	log.Info("render completed", attrs...)
	return res, nil
}

// setProgress 写入进度；写入失败只记录日志，不影响生成本身。
func (o *Orchestrator) setProgress(ctx context.Context, key string, p Progress) {
	if err := o.tracker.Set(context.WithoutCancel(ctx), key, p); err != nil {
		o.logger.Warn("write progress failed", slog.String("job_key", key), slog.Any("error", err))
	}
}

func shortError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "falha"
	}
	return msg
}
