// Package sheet 把订单照片分页、逐槽位合成整页，并输出 PNG 页面文件。
package sheet

import (
	"context"
	"errors"
	"fmt"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"printgrid/internal/errcode"
	"printgrid/internal/fonts"
	"printgrid/internal/grid"
	"printgrid/internal/layers"
	"printgrid/internal/order"
	"printgrid/internal/outcome"
	"printgrid/internal/overlay"
	"printgrid/internal/photo"
	"printgrid/internal/units"
)

const (
	strokeColor = "#bdbdbd"
	guideColor  = "#c8c8c8"
	blackColor  = "#000000"
)

// storeColors 是门店强调色，键为规范化后的门店标识。
var storeColors = map[string]string{
	"aisheel_mix": "#047bc4",
}

// StoreColor 返回门店页脚颜色，未知门店为黑色。
func StoreColor(store string) string {
	if c, ok := storeColors[order.NormalizeStore(store)]; ok {
		return c
	}
	return blackColor
}

// FooterText 生成页脚文字；只有多页时才追加页码。
func FooterText(o order.Order, page, total int) string {
	parts := []string{
		"Cliente: " + o.CustomerLabel(),
		"Pedido: " + o.OrderID,
		fmt.Sprintf("Fotos: %02d", max(0, o.PhotoQuantity)),
		"Característica: " + o.CharacteristicLabel(),
	}
	if total > 1 {
		parts = append(parts, fmt.Sprintf("Página: %d/%d", page, total))
	}
	return strings.Join(parts, " | ")
}

// Page 是分页后的一页照片。
type Page struct {
	Number int
	Total  int
	Photos []order.Photo
}

// Paginate 按每页容量顺序切分照片，最后一页可以不满。
func Paginate(photos []order.Photo, perPage int) []Page {
	if perPage <= 0 || len(photos) == 0 {
		return nil
	}
	total := (len(photos) + perPage - 1) / perPage
	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*perPage, len(photos))
		pages = append(pages, Page{Number: i + 1, Total: total, Photos: photos[i*perPage : end]})
	}
	return pages
}

// PageName 返回页面文件名：单页为 grid.png，多页为 grid-{n}.png。
func PageName(page, total int) string {
	if total <= 1 {
		return "grid.png"
	}
	return fmt.Sprintf("grid-%d.png", page)
}

// Artifact 是一张已写入磁盘的页面。
type Artifact struct {
	Page   int
	Name   string
	Path   string
	Width  int
	Height int
	Bytes  int64
}

// ProgressFunc 在每张照片合成后被调用。
type ProgressFunc func(done, total int)

// Options 控制整页合成。
type Options struct {
	Scale      units.Scale
	DrawGuides bool
}

// Assembler 合成整页。
type Assembler struct {
	calc    grid.Calculator
	guides  bool
	placer  *photo.Placer
	overlay *overlay.Compositor
	fonts   *fonts.Resolver
	logger  *slog.Logger
}

// NewAssembler 创建 Assembler。
func NewAssembler(opts Options, placer *photo.Placer, comp *overlay.Compositor, fr *fonts.Resolver, logger *slog.Logger) *Assembler {
	return &Assembler{
		calc:    grid.NewCalculator(opts.Scale),
		guides:  opts.DrawGuides,
		placer:  placer,
		overlay: comp,
		fonts:   fr,
		logger:  logger,
	}
}

// Calculator 返回使用中的几何计算器。
func (a *Assembler) Calculator() grid.Calculator { return a.calc }

// Assemble 合成订单的全部页面并写入 dir。
// 输入错误（没有照片、图层数据损坏）在绘制之前返回；单张照片或字形的缺失只记录在 Report 中。
func (a *Assembler) Assemble(ctx context.Context, o order.Order, photos []order.Photo, dir string, progress ProgressFunc) ([]Artifact, outcome.Report, error) {
	var report outcome.Report
	if len(photos) == 0 {
		return nil, report, errcode.Input("assemble", errors.New("order has no photos"))
	}

	photos = append([]order.Photo(nil), photos...)
	order.SortPhotos(photos)

	sets := make([]layers.Set, len(photos))
	for i, p := range photos {
		set, err := layers.Normalize(p.TextLayers, p.EmojiLayers, p.FontFamily)
		if err != nil {
			return nil, report, errcode.Input("assemble", fmt.Errorf("photo %s: %w", p.Ref(), err))
		}
		sets[i] = set
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, report, errcode.Resource("assemble", fmt.Errorf("create output dir: %w", err))
	}

	v := grid.VariantFor(o.GridType, o.HasBorder)
	logger := a.logger.With(
		slog.String("order", o.OrderID),
		slog.String("variant", v.String()),
	)

	pages := Paginate(photos, v.PerPage())
	artifacts := make([]Artifact, 0, len(pages))
	done := 0
	for _, pg := range pages {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		offset := (pg.Number - 1) * v.PerPage()
		art, r, err := a.renderPage(ctx, o, v, pg, sets[offset:offset+len(pg.Photos)], dir, func() {
			done++
			if progress != nil {
				progress(done, len(photos))
			}
		})
		report.Merge(r)
		if err != nil {
			return nil, report, err
		}
		logger.Info("page rendered",
			slog.Int("page", pg.Number),
			slog.Int("total", pg.Total),
			slog.Int64("bytes", art.Bytes),
		)
		artifacts = append(artifacts, art)
	}
	return artifacts, report, nil
}

func (a *Assembler) renderPage(ctx context.Context, o order.Order, v grid.Variant, pg Page, sets []layers.Set, dir string, tick func()) (Artifact, outcome.Report, error) {
	var report outcome.Report
	w, h := a.calc.Canvas()

	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	if a.guides {
		a.drawGuides(dc, v)
	}
	a.drawCornerDots(dc)

	canvas, ok := dc.Image().(draw.Image)
	if !ok {
		return Artifact{}, report, errcode.Resource("render page", errors.New("canvas is not drawable"))
	}

	for i, p := range pg.Photos {
		slot, ok := a.calc.Slot(v, i)
		if !ok {
			break
		}
		report.Add(a.placer.Place(canvas, p, slot.Photo, slot.PhotoRotation))
		if slot.PhotoStroke > 0 {
			r := slot.Photo
			dc.SetHexColor(strokeColor)
			dc.SetLineWidth(float64(slot.PhotoStroke))
			dc.DrawRectangle(float64(r.X), float64(r.Y), float64(r.W), float64(r.H))
			dc.Stroke()
		}
		report.Merge(a.overlay.Composite(ctx, dc, sets[i], slot, p.Ref()))
		tick()
	}

	report.Merge(a.drawFooter(ctx, dc, o, v, pg))

	name := PageName(pg.Number, pg.Total)
	path := filepath.Join(dir, name)
	if err := imaging.Save(dc.Image(), path); err != nil {
		return Artifact{}, report, errcode.Resource("save page", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, report, errcode.Resource("save page", err)
	}
	return Artifact{Page: pg.Number, Name: name, Path: path, Width: w, Height: h, Bytes: info.Size()}, report, nil
}

func (a *Assembler) drawCornerDots(dc *gg.Context) {
	dc.SetHexColor(blackColor)
	for _, d := range a.calc.CornerDots() {
		dc.DrawCircle(d.X, d.Y, d.R)
		dc.Fill()
	}
}

func (a *Assembler) drawGuides(dc *gg.Context, v grid.Variant) {
	lines := a.calc.Guides(v)
	if len(lines) == 0 {
		return
	}
	dash := float64(a.calc.S(12))
	dc.Push()
	dc.SetHexColor(guideColor)
	dc.SetLineWidth(float64(a.calc.S(2)))
	dc.SetDash(dash, dash)
	for _, l := range lines {
		dc.DrawLine(l.X1, l.Y1, l.X2, l.Y2)
		dc.Stroke()
	}
	dc.Pop()
}

func (a *Assembler) drawFooter(ctx context.Context, dc *gg.Context, o order.Order, v grid.Variant, pg Page) outcome.Report {
	var report outcome.Report
	f := a.calc.Footer(v)
	face, item := a.fonts.Face(ctx, f.Family, fonts.Style{}, f.Size)
	report.Add(item)

	dc.SetFontFace(face)
	dc.SetHexColor(StoreColor(o.Store))
	dc.DrawStringAnchored(FooterText(o, pg.Number, pg.Total), f.X, f.Baseline, 0.5, 0)
	return report
}
