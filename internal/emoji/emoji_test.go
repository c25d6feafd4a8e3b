package emoji

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/unicode/rangetable"

	"printgrid/internal/logging"
	"printgrid/internal/remote"
)

func TestScan_OffsetsAndSequences(t *testing.T) {
	s := NewScanner()
	text := "Hi \U0001F600 e \u2764\uFE0F fim \U0001F468\u200D\U0001F469\u200D\U0001F467 \U0001F1E7\U0001F1F7"

	got := s.Scan(text)
	if len(got) != 4 {
		t.Fatalf("matches = %d, want 4: %+v", len(got), got)
	}

	first := got[0]
	if first.Grapheme != "\U0001F600" || first.ByteOffset != 3 || first.CharOffset != 3 || first.Length != 1 {
		t.Fatalf("first match = %+v", first)
	}
	if got[1].Grapheme != "\u2764\uFE0F" || got[1].Length != 2 {
		t.Fatalf("heart should absorb the variation selector: %+v", got[1])
	}
	if got[2].Grapheme != "\U0001F468\u200D\U0001F469\u200D\U0001F467" || got[2].Length != 5 {
		t.Fatalf("zwj family should be one grapheme: %+v", got[2])
	}
	if got[3].Grapheme != "\U0001F1E7\U0001F1F7" || got[3].Length != 2 {
		t.Fatalf("flag should pair regional indicators: %+v", got[3])
	}
	for _, m := range got {
		if text[m.ByteOffset:m.ByteOffset+len(m.Grapheme)] != m.Grapheme {
			t.Fatalf("byte offset mismatch for %q", m.Grapheme)
		}
	}
}

func TestScan_PlainTextAndExtension(t *testing.T) {
	if got := NewScanner().Scan("Feliz aniversário!"); len(got) != 0 {
		t.Fatalf("plain text produced matches: %+v", got)
	}

	// U+00A9 is outside the default table.
	if got := NewScanner().Scan("©"); len(got) != 0 {
		t.Fatalf("copyright sign should not match by default")
	}
	if got := NewScanner(rangetable.New(0x00A9)).Scan("©"); len(got) != 1 {
		t.Fatalf("extended table should match copyright sign")
	}
}

func TestScan_Keycaps(t *testing.T) {
	text := "Mesa \u0031\uFE0F\u20E3 e #\u20E3 ou 12"
	got := NewScanner().Scan(text)
	if len(got) != 2 {
		t.Fatalf("matches = %+v, want 2 keycaps", got)
	}
	if got[0].Grapheme != "1\uFE0F\u20E3" || got[0].CharOffset != 5 || got[0].Length != 3 {
		t.Fatalf("first keycap = %+v", got[0])
	}
	if got[1].Grapheme != "#\u20E3" || got[1].Length != 2 || got[1].CharOffset != 11 {
		t.Fatalf("second keycap = %+v", got[1])
	}
	if Key(got[0].Grapheme) != "31-20e3" || Key(got[1].Grapheme) != "23-20e3" {
		t.Fatalf("keys = %q %q", Key(got[0].Grapheme), Key(got[1].Grapheme))
	}
}

func TestKey(t *testing.T) {
	cases := map[string]string{
		"\U0001F600":                                 "1f600",
		"\u2764\uFE0F":                               "2764",
		"\U0001F468\u200D\U0001F469\u200D\U0001F467": "1f468-1f469-1f467",
		"\U0001F1E7\U0001F1F7":                       "1f1e7-1f1f7",
	}
	for in, want := range cases {
		if got := Key(in); got != want {
			t.Fatalf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newCDN(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var hits atomic.Int32
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastPath.Store(r.URL.Path)
		if strings.Contains(r.URL.Path, "missing") || strings.HasSuffix(r.URL.Path, "/1f9ff.png") {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &lastPath
}

func newResolver(t *testing.T, cdn string, cfg Config) *Resolver {
	t.Helper()
	cfg.CDNURL = cdn
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	fetcher := remote.NewFetcher(remote.Options{Timeout: time.Second, RetryMax: -1})
	return NewResolver(cfg, fetcher, logging.Discard())
}

func TestResolve_CachesAndFetchesOnce(t *testing.T) {
	srv, hits, lastPath := newCDN(t, pngBytes(t))
	r := newResolver(t, srv.URL+"/72x72", Config{})

	first, err := r.Resolve(context.Background(), "\U0001F600")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "\U0001F600\uFE0F")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	if hits.Load() != 1 {
		t.Fatalf("cdn hits = %d, want 1", hits.Load())
	}
	if got := lastPath.Load().(string); got != "/72x72/1f600.png" {
		t.Fatalf("cdn path = %s", got)
	}
}

func TestResolve_FailureIsReported(t *testing.T) {
	srv, _, _ := newCDN(t, pngBytes(t))
	r := newResolver(t, srv.URL+"/", Config{})

	if _, err := r.Resolve(context.Background(), "\U0001F9FF"); err == nil {
		t.Fatal("expected error for 404")
	}

	srvBad, _, _ := newCDN(t, []byte("<!DOCTYPE html><html>oops</html>"))
	r = newResolver(t, srvBad.URL+"/", Config{})
	if _, err := r.Resolve(context.Background(), "\U0001F600"); err == nil {
		t.Fatal("expected error for non-image payload")
	}
}

func TestResolveAsset_LocalMappingAndDownload(t *testing.T) {
	assets := t.TempDir()
	local := filepath.Join(assets, "stickers", "heart.png")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, pngBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}

	srv, hits, _ := newCDN(t, pngBytes(t))
	srvURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	r := newResolver(t, srv.URL+"/", Config{
		AssetBaseURL: "https://loja.example/wp-content/uploads/",
		AssetDir:     assets,
		AllowedHosts: []string{srvURL.Host},
	})
	ctx := context.Background()

	got, err := r.ResolveAsset(ctx, "https://loja.example/wp-content/uploads/stickers/heart.png?v=2")
	if err != nil || got != local {
		t.Fatalf("mapped asset = %q, %v; want %q", got, err, local)
	}
	if _, err := r.ResolveAsset(ctx, "https://loja.example/wp-content/uploads/../../etc/passwd"); err == nil {
		t.Fatal("expected traversal outside asset dir to be rejected")
	}

	remoteURL := srv.URL + "/stickers/star.png"
	a, err := r.ResolveAsset(ctx, remoteURL)
	if err != nil {
		t.Fatalf("download asset: %v", err)
	}
	b, err := r.ResolveAsset(ctx, remoteURL)
	if err != nil || a != b {
		t.Fatalf("second resolve = %q, %v", b, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("remote hits = %d, want 1", hits.Load())
	}

	if _, err := r.ResolveAsset(ctx, "sticker-that-does-not-exist.png"); err == nil {
		t.Fatal("expected error for unknown relative asset")
	}
}

func TestResolveAsset_RejectsForeignHostsAndOutsidePaths(t *testing.T) {
	assets := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.png")
	if err := os.WriteFile(outside, pngBytes(t), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(assets, "link.png")); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	srv, hits, _ := newCDN(t, pngBytes(t))
	r := newResolver(t, srv.URL+"/", Config{
		AssetBaseURL: "https://loja.example/wp-content/uploads/",
		AssetDir:     assets,
	})
	ctx := context.Background()

	for _, src := range []string{
		srv.URL + "/stickers/star.png",
		"http://169.254.169.254/latest/meta-data/x.png",
		"/etc/passwd",
		outside,
		"link.png",
		filepath.Join(assets, "link.png"),
		"https://loja.example/wp-content/uploads/link.png",
	} {
		if _, err := r.ResolveAsset(ctx, src); !errors.Is(err, ErrNotFound) {
			t.Errorf("ResolveAsset(%q) err = %v, want ErrNotFound", src, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("remote hits = %d, want 0", hits.Load())
	}
}
