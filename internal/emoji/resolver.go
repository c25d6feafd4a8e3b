package emoji

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"printgrid/internal/remote"
)

// DefaultCDN 是 Twemoji 72x72 PNG 资源的地址前缀。
const DefaultCDN = "https://cdn.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/72x72/"

// ErrNotFound 表示引用无法解析为本地文件。
var ErrNotFound = errors.New("emoji asset not found")

// Config 描述 Resolver 的缓存目录与资源来源。
type Config struct {
	CacheDir string
	CDNURL   string
	// AssetBaseURL 以该前缀开头的贴纸地址映射到 AssetDir 下的本地文件。
	AssetBaseURL string
	AssetDir     string
	// AllowedHosts 是 AssetBaseURL 之外允许下载贴纸的主机。
	AllowedHosts []string
}

// Resolver 把 emoji 字素与贴纸引用解析为本地位图路径。
// 缓存按码位键或 URL 哈希寻址，多个任务可以共享同一个 Resolver。
type Resolver struct {
	cfg     Config
	fetcher *remote.Fetcher
	logger  *slog.Logger
	group   singleflight.Group
}

// NewResolver 创建 Resolver。
func NewResolver(cfg Config, fetcher *remote.Fetcher, logger *slog.Logger) *Resolver {
	if strings.TrimSpace(cfg.CDNURL) == "" {
		cfg.CDNURL = DefaultCDN
	}
	if !strings.HasSuffix(cfg.CDNURL, "/") {
		cfg.CDNURL += "/"
	}
	return &Resolver{cfg: cfg, fetcher: fetcher, logger: logger}
}

// Resolve 返回字素对应的 PNG 缓存路径，必要时从 CDN 下载。
// 失败时返回错误，调用方跳过该字形继续绘制。
func (r *Resolver) Resolve(ctx context.Context, grapheme string) (string, error) {
	key := Key(grapheme)
	if key == "" {
		return "", fmt.Errorf("%w: empty grapheme", ErrNotFound)
	}

	cachePath := filepath.Join(r.cfg.CacheDir, key+".png")
	if remote.Exists(cachePath) {
		return cachePath, nil
	}

	return r.download(ctx, r.cfg.CDNURL+key+".png", cachePath)
}

// ResolveAsset 解析贴纸层的 imageSrc：站点资源前缀映射到本地资源目录，
// 资源目录内的路径直接使用，其余 http(s) 地址只在主机属于站点或白名单时下载，按 URL 哈希缓存。
func (r *Resolver) ResolveAsset(ctx context.Context, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("%w: empty source", ErrNotFound)
	}
	if p, ok := r.localAsset(src); ok {
		return p, nil
	}
	if base := strings.TrimSpace(r.cfg.AssetBaseURL); base != "" && strings.HasPrefix(src, base) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if !r.hostAllowed(u) {
		r.logger.Warn("sticker host not allowed", slog.String("host", u.Host))
		return "", fmt.Errorf("%w: host %s not allowed", ErrNotFound, u.Host)
	}

	sum := sha256.Sum256([]byte(src))
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 5 {
		ext = ".png"
	}
	cachePath := filepath.Join(r.cfg.CacheDir, "assets", hex.EncodeToString(sum[:8])+ext)
	if remote.Exists(cachePath) {
		return cachePath, nil
	}
	return r.download(ctx, src, cachePath)
}

// hostAllowed 只放行 AssetBaseURL 的主机与 AllowedHosts 中的条目，条目可写 host 或 host:port。
func (r *Resolver) hostAllowed(u *url.URL) bool {
	host := strings.ToLower(u.Host)
	name := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	allowed := r.cfg.AllowedHosts
	if base, err := url.Parse(strings.TrimSpace(r.cfg.AssetBaseURL)); err == nil && base.Host != "" {
		allowed = append([]string{base.Host}, allowed...)
	}
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" && (h == host || h == name) {
			return true
		}
	}
	return false
}

func (r *Resolver) localAsset(src string) (string, bool) {
	if r.cfg.AssetDir == "" {
		return "", false
	}
	base := strings.TrimSpace(r.cfg.AssetBaseURL)
	if base != "" && strings.HasPrefix(src, base) {
		rel := strings.TrimPrefix(strings.TrimPrefix(src, base), "/")
		if i := strings.IndexAny(rel, "?#"); i >= 0 {
			rel = rel[:i]
		}
		return r.within(rel)
	}
	if strings.Contains(src, "://") {
		return "", false
	}
	return r.within(src)
}

// within 把 p（绝对路径，或相对 AssetDir 的路径）解析到真实位置，
// 解析符号链接后仍须位于 AssetDir 内。
func (r *Resolver) within(p string) (string, bool) {
	root, err := filepath.EvalSymlinks(filepath.Clean(r.cfg.AssetDir))
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Clean(r.cfg.AssetDir), filepath.FromSlash(p))
	}
	p = filepath.Clean(p)
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", false
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(os.PathSeparator)) {
		return "", false
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p, true
}

func (r *Resolver) download(ctx context.Context, src, cachePath string) (string, error) {
	v, err, _ := r.group.Do(cachePath, func() (any, error) {
		if remote.Exists(cachePath) {
			return cachePath, nil
		}
		if r.fetcher == nil {
			return nil, fmt.Errorf("%w: remote fetch disabled", ErrNotFound)
		}
		data, err := r.fetcher.Get(ctx, src, nil)
		if err != nil {
			return nil, err
		}
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("decode %s: %w", src, err)
		}
		if err := remote.WriteFile(cachePath, data); err != nil {
			return nil, err
		}
		r.logger.Debug("emoji asset cached",
			slog.String("source", src),
			slog.String("path", cachePath),
		)
		return cachePath, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
