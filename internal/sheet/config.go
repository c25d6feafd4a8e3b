package sheet

import (
	"log/slog"

	"printgrid/internal/config"
	"printgrid/internal/emoji"
	"printgrid/internal/fonts"
	"printgrid/internal/overlay"
	"printgrid/internal/photo"
	"printgrid/internal/remote"
	"printgrid/internal/units"
)

// NewFromConfig 按部署配置组装字体、emoji、照片与叠加层合成器。
func NewFromConfig(cfg config.RenderConfig, logger *slog.Logger) *Assembler {
	fetcher := remote.NewFetcher(remote.Options{Timeout: cfg.FetchTimeout})
	fr := fonts.NewResolver(fonts.Config{
		CacheDir: cfg.FontCacheDir,
		CSSURL:   cfg.FontCSSURL,
	}, fetcher, logger.With(slog.String("component", "fonts")))
	er := emoji.NewResolver(emoji.Config{
		CacheDir:     cfg.EmojiCacheDir,
		CDNURL:       cfg.EmojiCDNURL,
		AssetBaseURL: cfg.AssetBaseURL,
		AssetDir:     cfg.AssetDir,
		AllowedHosts: cfg.AssetHosts,
	}, fetcher, logger.With(slog.String("component", "emoji")))

	comp := overlay.NewCompositor(fr, er, emoji.NewScanner(), logger)
	return NewAssembler(Options{
		Scale:      units.Scale(cfg.ExportScale).Normalize(),
		DrawGuides: cfg.DrawGuides,
	}, photo.NewPlacer(logger), comp, fr, logger)
}
