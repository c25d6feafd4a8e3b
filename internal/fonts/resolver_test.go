package fonts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"printgrid/internal/logging"
	"printgrid/internal/outcome"
	"printgrid/internal/remote"
)

type fontServer struct {
	srv      *httptest.Server
	cssHits  atomic.Int32
	fontHits atomic.Int32
	families sync.Map
}

// newFontServer 模拟 CSS 接口：family 参数决定返回哪个字体文件。
func newFontServer(t *testing.T, fontBody func(family string) []byte) *fontServer {
	t.Helper()
	fs := &fontServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/css", func(w http.ResponseWriter, r *http.Request) {
		fs.cssHits.Add(1)
		if !strings.Contains(r.UserAgent(), "Version/5.1.7 Safari") {
			http.Error(w, "modern agent", http.StatusBadRequest)
			return
		}
		family := r.URL.Query().Get("family")
		fs.families.Store(family, true)
		fmt.Fprintf(w, "@font-face { src: url('%s/files/%s.ttf') format('truetype'); }", fs.srv.URL, strings.NewReplacer(":", "_", " ", "_").Replace(family))
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		fs.fontHits.Add(1)
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/files/"), ".ttf")
		body := fontBody(name)
		if body == nil {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func newTestResolver(t *testing.T, fs *fontServer) *Resolver {
	t.Helper()
	fetcher := remote.NewFetcher(remote.Options{Timeout: time.Second, RetryMax: -1})
	return NewResolver(Config{CacheDir: t.TempDir(), CSSURL: fs.srv.URL + "/css"}, fetcher, logging.Discard())
}

func TestResolve_FetchesOnceAndCaches(t *testing.T) {
	fs := newFontServer(t, func(string) []byte { return goregular.TTF })
	r := newTestResolver(t, fs)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "Dancing Script", Style{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(ctx, "Dancing Script", Style{})
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	if !strings.HasSuffix(first, "dancing-script-regular.ttf") {
		t.Fatalf("cache path = %s", first)
	}
	if fs.cssHits.Load() != 1 || fs.fontHits.Load() != 1 {
		t.Fatalf("hits css=%d font=%d, want 1/1", fs.cssHits.Load(), fs.fontHits.Load())
	}
}

func TestResolve_RequestsVariant(t *testing.T) {
	fs := newFontServer(t, func(string) []byte { return gobold.TTF })
	r := newTestResolver(t, fs)

	if _, err := r.Resolve(context.Background(), "Caveat", Style{Bold: true}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := fs.families.Load("Caveat:700"); !ok {
		t.Fatal("expected bold variant to be requested as Caveat:700")
	}
}

func TestResolve_RejectsHTMLPayload(t *testing.T) {
	fs := newFontServer(t, func(string) []byte {
		return []byte("<!DOCTYPE html><html><body>quota</body></html>")
	})
	r := newTestResolver(t, fs)

	_, err := r.Resolve(context.Background(), "Pacifico", Style{})
	if !errors.Is(err, ErrHTMLPayload) {
		t.Fatalf("err = %v, want ErrHTMLPayload", err)
	}
	if remote.Exists(r.CachePath("Pacifico", Style{})) {
		t.Fatal("html payload must not be cached")
	}

	// 失败结果在短时间内被记住，不会重复请求。
	if _, err := r.Resolve(context.Background(), "Pacifico", Style{}); err == nil {
		t.Fatal("expected cached failure")
	}
	if fs.cssHits.Load() != 1 {
		t.Fatalf("css hits = %d, want 1", fs.cssHits.Load())
	}
}

func TestFont_FallsBack(t *testing.T) {
	fs := newFontServer(t, func(name string) []byte {
		if strings.Contains(name, "700") {
			return nil
		}
		return goregular.TTF
	})
	r := newTestResolver(t, fs)
	ctx := context.Background()

	f, item := r.Font(ctx, "Lato", Style{Bold: true})
	if f == nil || item.Status != outcome.Skipped {
		t.Fatalf("bold should fall back to regular cut: %+v", item)
	}

	offline := NewResolver(Config{CacheDir: t.TempDir()}, nil, logging.Discard())
	f, item = offline.Font(ctx, "Montserrat", Style{Italic: true})
	if f != Fallback(Style{Italic: true}) {
		t.Fatal("expected go italic fallback")
	}
	if item.Status != outcome.Skipped || item.Err == nil {
		t.Fatalf("fallback must be reported: %+v", item)
	}

	face, _ := offline.Face(ctx, "Montserrat", Style{}, 46)
	if face == nil {
		t.Fatal("face must never be nil")
	}
	if face.Metrics().Height <= 0 {
		t.Fatal("face has no metrics")
	}
}
