package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"printgrid/internal/config"
	"printgrid/internal/database"
	"printgrid/internal/order"
)

func main() {
	var (
		migrateOnly = flag.Bool("migrate", false, "只执行表结构迁移")
		importPath  = flag.String("import", "", "导入一个订单 JSON 文件（订单字段与 photos 数组）")
	)
	flag.Parse()

	path := strings.TrimSpace(*importPath)
	if !*migrateOnly && path == "" {
		log.Fatal("nothing to do: pass --migrate or --import <file>")
	}

	cfg := config.MustLoad()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	fmt.Println("数据库迁移完成")

	if path == "" {
		return
	}

	o, photos, err := order.ReadFile(path)
	if err != nil {
		log.Fatalf("read order: %v", err)
	}
	id, err := database.NewOrderRepository(db).Import(context.Background(), o, photos)
	if err != nil {
		log.Fatalf("import order: %v", err)
	}
	fmt.Printf("已导入订单 %s（%d 张照片），ID: %d\n", o.OrderID, len(photos), id)
}
