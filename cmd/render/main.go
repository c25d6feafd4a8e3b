package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"printgrid/internal/config"
	"printgrid/internal/jobs"
	"printgrid/internal/logging"
	"printgrid/internal/order"
	"printgrid/internal/sheet"
)

// fileSource 把单个订单文件作为订单来源。
type fileSource struct {
	order  order.Order
	photos []order.Photo
}

func (s *fileSource) Load(_ context.Context, id string) (order.Order, []order.Photo, error) {
	if id != s.order.ID {
		return order.Order{}, nil, fmt.Errorf("order %s not in file", id)
	}
	return s.order, s.photos, nil
}

func (s *fileSource) MarkCompleted(context.Context, string, string) error { return nil }

func main() {
	var (
		orderPath = flag.String("order", "", "订单 JSON 文件（订单字段与 photos 数组）")
		outDir    = flag.String("out", "", "输出目录，默认使用 RENDER_OUTPUT_DIR")
		scale     = flag.Int("scale", 0, "导出倍率，默认使用 RENDER_EXPORT_SCALE")
	)
	flag.Parse()

	if strings.TrimSpace(*orderPath) == "" {
		log.Fatal("missing required flag: --order")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *outDir != "" {
		cfg.Render.OutputDir = *outDir
	}
	if *scale > 0 {
		cfg.Render.ExportScale = *scale
	}

	logger, closer := logging.New(cfg.Log)
	defer closer.Close()

	o, photos, err := order.ReadFile(*orderPath)
	if err != nil {
		log.Fatalf("read order: %v", err)
	}

	orchestrator := jobs.NewOrchestrator(
		jobs.Config{OutputDir: cfg.Render.OutputDir, TTL: cfg.Jobs.TTL},
		sheet.NewFromConfig(cfg.Render, logger),
		&fileSource{order: o, photos: photos},
		jobs.NewMemoryStore(),
		nil,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := orchestrator.RunSingle(ctx, o.ID)
	if err != nil {
		log.Fatalf("render: %v", err)
	}

	fmt.Println(res.ArchivePath)
	for _, p := range res.Pages {
		fmt.Printf("  %s\t%dx%d\t%d bytes\n", p.Name, p.Width, p.Height, p.Bytes)
	}
	for _, it := range res.Report.Degraded() {
		fmt.Printf("  degraded: %s\n", it)
	}
}
