// Package fonts 把逻辑字体族解析为可用的字体文件：先查磁盘缓存，缺失时通过
// Google Fonts CSS 接口下载，任何失败都回落到 Go 字体族，字体问题从不导致任务失败。
package fonts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	sfntconv "github.com/tdewolff/font"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/sync/singleflight"

	"printgrid/internal/naming"
	"printgrid/internal/outcome"
	"printgrid/internal/remote"
)

// DefaultCSSURL 是 Google Fonts 旧版 CSS 接口。
const DefaultCSSURL = "https://fonts.googleapis.com/css"

// legacyUserAgent 让 CSS 接口返回 TrueType 而不是 WOFF2。
const legacyUserAgent = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/534.57.2 (KHTML, like Gecko) Version/5.1.7 Safari/534.57.2"

// failureTTL 内不再重复请求刚失败过的字体。
const failureTTL = 5 * time.Minute

var (
	fontURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

	// ErrHTMLPayload 表示下载到的是 HTML 错误页而不是字体。
	ErrHTMLPayload = errors.New("font payload is an html page")
	// ErrNoFontURL 表示 CSS 中没有字体地址。
	ErrNoFontURL = errors.New("no font url in stylesheet")
)

// Style 选择字体的字重与字形。
type Style struct {
	Bold   bool
	Italic bool
}

// Variant 返回缓存文件名中使用的变体名。
func (s Style) Variant() string {
	switch {
	case s.Bold && s.Italic:
		return "bolditalic"
	case s.Bold:
		return "bold"
	case s.Italic:
		return "italic"
	default:
		return "regular"
	}
}

// cssSuffix 返回 family 参数中的变体后缀。
func (s Style) cssSuffix() string {
	switch {
	case s.Bold && s.Italic:
		return ":700italic"
	case s.Bold:
		return ":700"
	case s.Italic:
		return ":italic"
	default:
		return ""
	}
}

// Config 描述字体缓存目录与 CSS 接口地址。
type Config struct {
	CacheDir string
	CSSURL   string
}

// Resolver 解析字体族。解析结果按文件路径缓存，可在多个任务间共享。
type Resolver struct {
	cfg     Config
	fetcher *remote.Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu     sync.Mutex
	parsed map[string]*opentype.Font
	failed map[string]time.Time
	now    func() time.Time
}

// NewResolver 创建 Resolver。fetcher 为 nil 时只使用磁盘缓存。
func NewResolver(cfg Config, fetcher *remote.Fetcher, logger *slog.Logger) *Resolver {
	if strings.TrimSpace(cfg.CSSURL) == "" {
		cfg.CSSURL = DefaultCSSURL
	}
	return &Resolver{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		parsed:  make(map[string]*opentype.Font),
		failed:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// CachePath 返回字体族与变体对应的缓存文件路径。
func (r *Resolver) CachePath(family string, style Style) string {
	return filepath.Join(r.cfg.CacheDir, fmt.Sprintf("%s-%s.ttf", naming.Slug(family), style.Variant()))
}

// Resolve 返回字体文件路径，必要时下载。失败时返回错误，调用方应使用回退字体。
func (r *Resolver) Resolve(ctx context.Context, family string, style Style) (string, error) {
	family = strings.TrimSpace(family)
	if naming.Slug(family) == "" {
		return "", errors.New("empty font family")
	}

	cachePath := r.CachePath(family, style)
	if remote.Exists(cachePath) {
		return cachePath, nil
	}
	if r.recentlyFailed(cachePath) {
		return "", fmt.Errorf("font %q (%s) failed recently", family, style.Variant())
	}

	v, err, _ := r.group.Do(cachePath, func() (any, error) {
		if remote.Exists(cachePath) {
			return cachePath, nil
		}
		if err := r.download(ctx, family, style, cachePath); err != nil {
			r.markFailed(cachePath)
			return nil, err
		}
		return cachePath, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) download(ctx context.Context, family string, style Style, dest string) error {
	if r.fetcher == nil {
		return errors.New("remote font fetch disabled")
	}

	cssURL := r.cfg.CSSURL + "?family=" + url.QueryEscape(family+style.cssSuffix())
	css, err := r.fetcher.Get(ctx, cssURL, map[string]string{"User-Agent": legacyUserAgent})
	if err != nil {
		return fmt.Errorf("fetch font css: %w", err)
	}

	m := fontURLRe.FindSubmatch(css)
	if m == nil {
		return ErrNoFontURL
	}
	fontURL := string(m[1])

	data, err := r.fetcher.Get(ctx, fontURL, nil)
	if err != nil {
		return fmt.Errorf("fetch font file: %w", err)
	}

	data, err = toSFNT(data)
	if err != nil {
		return err
	}
	if _, err := opentype.Parse(data); err != nil {
		return fmt.Errorf("parse font %q: %w", family, err)
	}
	if err := remote.WriteFile(dest, data); err != nil {
		return fmt.Errorf("cache font: %w", err)
	}

	r.logger.Info("font cached",
		slog.String("family", family),
		slog.String("variant", style.Variant()),
		slog.String("path", dest),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// toSFNT 拒绝 HTML 错误页，并把 WOFF/WOFF2 转为 TrueType。
func toSFNT(data []byte) ([]byte, error) {
	head := bytes.TrimSpace(data)
	if len(head) > 16 {
		head = head[:16]
	}
	lowerHead := strings.ToLower(string(head))
	if strings.HasPrefix(lowerHead, "<!doctype") || strings.HasPrefix(lowerHead, "<html") {
		return nil, ErrHTMLPayload
	}
	if len(data) == 0 {
		return nil, errors.New("empty font payload")
	}
	if bytes.HasPrefix(data, []byte("wOFF")) || bytes.HasPrefix(data, []byte("wOF2")) {
		sfnt, err := sfntconv.ToSFNT(data)
		if err != nil {
			return nil, fmt.Errorf("convert woff to sfnt: %w", err)
		}
		return sfnt, nil
	}
	return data, nil
}

func (r *Resolver) recentlyFailed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.failed[key]
	return ok && r.now().Sub(at) < failureTTL
}

func (r *Resolver) markFailed(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[key] = r.now()
}

// Font 返回字体族的解析结果，不会失败：请求的变体 -> 同族常规体 -> Go 字体。
// 返回的 Item 记录是否发生了回退。
func (r *Resolver) Font(ctx context.Context, family string, style Style) (*opentype.Font, outcome.Item) {
	ref := fmt.Sprintf("%s:%s", family, style.Variant())

	path, err := r.Resolve(ctx, family, style)
	if err == nil {
		var f *opentype.Font
		if f, err = r.load(path); err == nil {
			return f, outcome.Done(outcome.ScopeFont, ref)
		}
	}

	if style != (Style{}) {
		if path, rerr := r.Resolve(ctx, family, Style{}); rerr == nil {
			if f, perr := r.load(path); perr == nil {
				r.logger.Warn("font variant unavailable, using regular cut",
					slog.String("family", family),
					slog.String("variant", style.Variant()),
					slog.Any("error", err),
				)
				return f, outcome.Skip(outcome.ScopeFont, ref, err)
			}
		}
	}

	r.logger.Warn("font unavailable, using fallback family",
		slog.String("family", family),
		slog.String("variant", style.Variant()),
		slog.Any("error", err),
	)
	return Fallback(style), outcome.Skip(outcome.ScopeFont, ref, err)
}

// Face 返回指定像素大小的字形外观。
func (r *Resolver) Face(ctx context.Context, family string, style Style, size float64) (font.Face, outcome.Item) {
	f, item := r.Font(ctx, family, style)
	face, err := NewFace(f, size)
	if err != nil {
		face, _ = NewFace(Fallback(style), size)
		return face, outcome.Skip(outcome.ScopeFont, item.Ref, err)
	}
	return face, item
}

func (r *Resolver) load(path string) (*opentype.Font, error) {
	r.mu.Lock()
	f, ok := r.parsed[path]
	r.mu.Unlock()
	if ok {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err = opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}

	r.mu.Lock()
	r.parsed[path] = f
	r.mu.Unlock()
	return f, nil
}

// NewFace 以 72 DPI 创建字形外观，使 size 直接对应像素。
func NewFace(f *opentype.Font, size float64) (font.Face, error) {
	if size <= 0 {
		size = 1
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

var (
	fallbackOnce sync.Once
	fallbacks    map[Style]*opentype.Font
)

// Fallback 返回与 style 匹配的 Go 字体。
func Fallback(style Style) *opentype.Font {
	fallbackOnce.Do(func() {
		fallbacks = map[Style]*opentype.Font{
			{}:                         mustParse(goregular.TTF),
			{Bold: true}:               mustParse(gobold.TTF),
			{Italic: true}:             mustParse(goitalic.TTF),
			{Bold: true, Italic: true}: mustParse(gobolditalic.TTF),
		}
	})
	return fallbacks[style]
}

func mustParse(data []byte) *opentype.Font {
	f, err := opentype.Parse(data)
	if err != nil {
		panic(fmt.Sprintf("parse embedded go font: %v", err))
	}
	return f
}
