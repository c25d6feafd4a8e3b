// Package overlay 把一张照片的文字层与贴纸层绘制到透明缓冲上，再放入槽位的文字区域。
// 字体与 emoji 的缺失只会降级（回退字体、跳过字形），不会让绘制失败。
package overlay

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"printgrid/internal/emoji"
	"printgrid/internal/fonts"
	"printgrid/internal/grid"
	"printgrid/internal/layers"
	"printgrid/internal/outcome"
)

// Compositor 绘制叠加层。它只持有共享的解析器与位图缓存，可被多个任务并发使用。
type Compositor struct {
	fonts   *fonts.Resolver
	emoji   *emoji.Resolver
	scanner *emoji.Scanner
	logger  *slog.Logger

	mu      sync.Mutex
	bitmaps map[string]image.Image
}

// NewCompositor 创建 Compositor。
func NewCompositor(fr *fonts.Resolver, er *emoji.Resolver, scanner *emoji.Scanner, logger *slog.Logger) *Compositor {
	if scanner == nil {
		scanner = emoji.NewScanner()
	}
	return &Compositor{
		fonts:   fr,
		emoji:   er,
		scanner: scanner,
		logger:  logger,
		bitmaps: make(map[string]image.Image),
	}
}

// Composite 在槽位的 OverlayW×OverlayH 缓冲上绘制全部图层；
// 需要时整体顺时针旋转，再缩放到文字区域并绘制到 dc。
func (c *Compositor) Composite(ctx context.Context, dc *gg.Context, set layers.Set, slot grid.Slot, ref string) outcome.Report {
	var report outcome.Report
	if !slot.HasCaption || set.Empty() {
		return report
	}

	img, r := c.Render(ctx, set, slot.OverlayW, slot.OverlayH, ref)
	report.Merge(r)

	var out image.Image = img
	switch slot.CaptionRotation {
	case 90:
		out = imaging.Rotate270(out)
	case 180:
		out = imaging.Rotate180(out)
	case 270:
		out = imaging.Rotate90(out)
	}
	if b := out.Bounds(); b.Dx() != slot.Caption.W || b.Dy() != slot.Caption.H {
		out = imaging.Resize(out, slot.Caption.W, slot.Caption.H, imaging.Lanczos)
	}
	dc.DrawImage(out, slot.Caption.X, slot.Caption.Y)
	return report
}

// Render 在 w×h 的透明缓冲上依次绘制文字层与贴纸层。
func (c *Compositor) Render(ctx context.Context, set layers.Set, w, h int, ref string) (image.Image, outcome.Report) {
	var report outcome.Report
	dc := gg.NewContext(w, h)

	for i, l := range set.Layers() {
		layerRef := fmt.Sprintf("%s#%d", ref, i)
		switch l := l.(type) {
		case layers.TextLayer:
			report.Merge(c.drawText(ctx, dc, l.Place(float64(w), float64(h)), layerRef))
		case layers.EmojiLayer:
			report.Add(c.drawSticker(ctx, dc, l.Place(float64(w), float64(h)), layerRef))
		}
	}
	return dc.Image(), report
}

func (c *Compositor) drawText(ctx context.Context, dc *gg.Context, p layers.PlacedText, ref string) outcome.Report {
	var report outcome.Report

	face, item := c.fonts.Face(ctx, p.FontFamily, fonts.Style{Bold: p.Bold, Italic: p.Italic}, p.FontSize)
	report.Add(item)
	dc.SetFontFace(face)

	runs := layoutRuns(p.Text, c.scanner.Scan(p.Text), p.BaselineX, p.BaselineY, p.Rotation, p.FontSize,
		func(s string) float64 {
			w, _ := dc.MeasureString(s)
			return w
		})
	rad := gg.Radians(p.Rotation)

	for _, r := range runs {
		if r.Emoji == "" {
			dc.Push()
			dc.SetHexColor(p.Color)
			dc.RotateAbout(rad, r.X, r.Y)
			dc.DrawString(r.Text, r.X, r.Y)
			dc.Pop()
			continue
		}

		glyph, err := c.glyph(ctx, r.Emoji, p.FontSize)
		if err != nil {
			c.logger.Warn("inline emoji skipped",
				slog.String("layer", ref),
				slog.String("key", emoji.Key(r.Emoji)),
				slog.Any("error", err),
			)
			report.Add(outcome.Skip(outcome.ScopeEmoji, emoji.Key(r.Emoji), err))
			continue
		}
		dc.Push()
		dc.RotateAbout(rad, r.X, r.Y)
		dc.DrawImage(glyph, int(math.Round(r.X)), int(math.Round(r.Y-p.FontSize*layers.BaselineRatio)))
		dc.Pop()
		report.Add(outcome.Done(outcome.ScopeEmoji, emoji.Key(r.Emoji)))
	}

	report.Add(outcome.Done(outcome.ScopeText, ref))
	return report
}

// drawSticker 绘制贴纸层：图片资源等比缩放进 size×size，绕中心旋转后放在 (Left, Top)。
// 旧数据只有字面 emoji 时，先尝试 emoji 位图，再退回为黑色文字。
func (c *Compositor) drawSticker(ctx context.Context, dc *gg.Context, p layers.PlacedEmoji, ref string) outcome.Item {
	var (
		img image.Image
		err error
	)
	switch {
	case p.ImageSrc != "":
		img, err = c.asset(ctx, p.ImageSrc, p.PixelSize)
	case p.Text != "":
		img, err = c.glyph(ctx, p.Text, p.PixelSize)
		if err != nil {
			c.drawLiteral(dc, p)
			return outcome.Skip(outcome.ScopeEmoji, ref, err)
		}
	default:
		return outcome.Skip(outcome.ScopeEmoji, ref, errors.New("empty sticker"))
	}
	if err != nil {
		c.logger.Warn("sticker skipped",
			slog.String("layer", ref),
			slog.String("source", p.ImageSrc),
			slog.Any("error", err),
		)
		return outcome.Skip(outcome.ScopeEmoji, ref, err)
	}

	b := img.Bounds()
	dc.Push()
	dc.RotateAbout(gg.Radians(p.Rotation), p.Left+float64(b.Dx())/2, p.Top+float64(b.Dy())/2)
	dc.DrawImage(img, int(math.Round(p.Left)), int(math.Round(p.Top)))
	dc.Pop()
	return outcome.Done(outcome.ScopeEmoji, ref)
}

func (c *Compositor) drawLiteral(dc *gg.Context, p layers.PlacedEmoji) {
	face, err := fonts.NewFace(fonts.Fallback(fonts.Style{}), p.PixelSize)
	if err != nil {
		return
	}
	x, y := p.Left, p.Top+p.PixelSize*layers.BaselineRatio
	dc.Push()
	dc.SetFontFace(face)
	dc.SetRGB(0, 0, 0)
	dc.RotateAbout(gg.Radians(p.Rotation), x, y)
	dc.DrawString(p.Text, x, y)
	dc.Pop()
}

// glyph 返回缩放到 size×size 的 emoji 位图。
func (c *Compositor) glyph(ctx context.Context, grapheme string, size float64) (image.Image, error) {
	if c.emoji == nil {
		return nil, emoji.ErrNotFound
	}
	path, err := c.emoji.Resolve(ctx, grapheme)
	if err != nil {
		return nil, err
	}
	return c.scaled(path, size)
}

func (c *Compositor) asset(ctx context.Context, src string, size float64) (image.Image, error) {
	if c.emoji == nil {
		return nil, emoji.ErrNotFound
	}
	path, err := c.emoji.ResolveAsset(ctx, src)
	if err != nil {
		return nil, err
	}
	return c.scaled(path, size)
}

// scaled 解码（并缓存）位图，等比缩放进 size×size 的方框。
func (c *Compositor) scaled(path string, size float64) (image.Image, error) {
	c.mu.Lock()
	img, ok := c.bitmaps[path]
	c.mu.Unlock()
	if !ok {
		var err error
		img, err = imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		c.mu.Lock()
		c.bitmaps[path] = img
		c.mu.Unlock()
	}

	box := int(math.Round(size))
	if box < 1 {
		box = 1
	}
	b := img.Bounds()
	ratio := math.Min(float64(box)/float64(b.Dx()), float64(box)/float64(b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*ratio)))
	h := max(1, int(math.Round(float64(b.Dy())*ratio)))
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
