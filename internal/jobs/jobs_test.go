package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/redis/go-redis/v9"

	"printgrid/internal/errcode"
	"printgrid/internal/logging"
	"printgrid/internal/order"
	"printgrid/internal/outcome"
	"printgrid/internal/sheet"
)

type fakeSource struct {
	mu        sync.Mutex
	orders    map[string]order.Order
	photos    map[string][]order.Photo
	completed map[string]string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		orders:    make(map[string]order.Order),
		photos:    make(map[string][]order.Photo),
		completed: make(map[string]string),
	}
}

func (f *fakeSource) add(id, orderID string, n int) {
	f.orders[id] = order.Order{ID: id, OrderID: orderID, CustomerName: "Ana", GridType: order.Grid3x3, HasBorder: true, PhotoQuantity: n}
	ps := make([]order.Photo, n)
	for i := range ps {
		ps[i] = order.Photo{ID: fmt.Sprintf("%s-%d", id, i), PositionOrder: i}
	}
	f.photos[id] = ps
}

func (f *fakeSource) Load(_ context.Context, id string) (order.Order, []order.Photo, error) {
	o, ok := f.orders[id]
	if !ok {
		return order.Order{}, nil, errcode.Input("load order", fmt.Errorf("order %s not found", id))
	}
	return o, f.photos[id], nil
}

func (f *fakeSource) MarkCompleted(_ context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = key
	return nil
}

// fakeRenderer 每 9 张照片写一个假页面文件。
type fakeRenderer struct {
	calls  int
	failAt int
	err    error
}

func (r *fakeRenderer) Assemble(_ context.Context, o order.Order, photos []order.Photo, dir string, progress sheet.ProgressFunc) ([]sheet.Artifact, outcome.Report, error) {
	r.calls++
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, outcome.Report{}, err
	}
	pages := sheet.Paginate(photos, 9)
	var arts []sheet.Artifact
	done := 0
	for _, pg := range pages {
		for range pg.Photos {
			done++
			if r.err != nil && done == r.failAt {
				return nil, outcome.Report{}, r.err
			}
			if progress != nil {
				progress(done, len(photos))
			}
		}
		name := sheet.PageName(pg.Number, pg.Total)
		path := filepath.Join(dir, name)
		body := []byte("png:" + o.OrderID + ":" + name)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return nil, outcome.Report{}, err
		}
		arts = append(arts, sheet.Artifact{Page: pg.Number, Name: name, Path: path, Width: 2244, Height: 3248, Bytes: int64(len(body))})
	}
	return arts, outcome.Report{}, nil
}

// recordingStore 记录每一次写入的进度。
type recordingStore struct {
	*MemoryStore
	mu      sync.Mutex
	history []Progress
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if strings.HasPrefix(key, "progress:") {
		var p Progress
		_ = json.Unmarshal(value, &p)
		s.mu.Lock()
		s.history = append(s.history, p)
		s.mu.Unlock()
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func newOrchestrator(t *testing.T, r Renderer, src OrderSource, store Store) *Orchestrator {
	t.Helper()
	return NewOrchestrator(Config{OutputDir: t.TempDir(), TTL: time.Hour}, r, src, store, nil, logging.Discard())
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestRunSingle_ProgressIsMonotonic(t *testing.T) {
	src := newFakeSource()
	src.add("42", "A-100", 13)
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	o := newOrchestrator(t, &fakeRenderer{}, src, store)

	res, err := o.RunSingle(context.Background(), "42")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	last := -1
	for i, p := range store.history {
		if p.Percent < last {
			t.Fatalf("progress went backwards at %d: %+v", i, store.history)
		}
		if p.Percent == 100 && i != len(store.history)-1 {
			t.Fatal("100% reported before the archive was written")
		}
		last = p.Percent
	}
	final := store.history[len(store.history)-1]
	if final.Status != StatusDone || final.Percent != 100 {
		t.Fatalf("final progress = %+v", final)
	}
	zipping := store.history[len(store.history)-2]
	if zipping.Status != StatusZipping || zipping.Percent != 99 {
		t.Fatalf("progress before done = %+v", zipping)
	}

	if res.ArchiveName != "Ana - A-100.zip" {
		t.Fatalf("archive name = %q", res.ArchiveName)
	}
	files := readZip(t, res.ArchivePath)
	if _, ok := files["grid-1.png"]; !ok {
		t.Fatalf("entries = %v", files)
	}
	if _, ok := files["grid-2.png"]; !ok {
		t.Fatalf("entries = %v", files)
	}
	wantLine := fmt.Sprintf("grid-1.png\t2244x3248\t%d bytes", len("png:A-100:grid-1.png"))
	if !strings.Contains(files["info.txt"], wantLine) {
		t.Fatalf("manifest = %q, want line %q", files["info.txt"], wantLine)
	}
	if src.completed["42"] != res.ArchivePath {
		t.Fatalf("order not marked completed: %v", src.completed)
	}

	got, _ := o.Tracker().Get(context.Background(), "42")
	if got.Status != StatusDone || got.Location != res.ArchivePath {
		t.Fatalf("polled progress = %+v", got)
	}
}

func TestRunSingle_FailureResetsProgress(t *testing.T) {
	src := newFakeSource()
	src.add("7", "B-7", 9)
	store := &recordingStore{MemoryStore: NewMemoryStore()}
	boom := errcode.Resource("save page", errors.New("disk full"))
	o := newOrchestrator(t, &fakeRenderer{failAt: 5, err: boom}, src, store)

	_, err := o.RunSingle(context.Background(), "7")
	if errcode.KindOf(err) != errcode.KindResource {
		t.Fatalf("err = %v", err)
	}
	final := store.history[len(store.history)-1]
	if final.Status != StatusError || final.Percent != 0 {
		t.Fatalf("final progress = %+v, want error at 0", final)
	}
	if len(src.completed) != 0 {
		t.Fatal("failed order must not be marked completed")
	}

	_, err = o.RunSingle(context.Background(), "missing")
	if errcode.KindOf(err) != errcode.KindInput {
		t.Fatalf("missing order kind = %v", errcode.KindOf(err))
	}
}

func TestPhotoPercent(t *testing.T) {
	cases := []struct{ done, total, want int }{
		{0, 9, 0}, {1, 9, 10}, {9, 9, 98}, {12, 9, 98}, {1, 0, 0},
	}
	for _, c := range cases {
		if got := PhotoPercent(c.done, c.total); got != c.want {
			t.Fatalf("PhotoPercent(%d,%d) = %d, want %d", c.done, c.total, got, c.want)
		}
	}
}

func TestBulk_StepsAreResumable(t *testing.T) {
	src := newFakeSource()
	src.add("1", "P-1", 3)
	src.add("2", "P-2", 12)
	r := &fakeRenderer{}
	o := newOrchestrator(t, r, src, NewMemoryStore())
	ctx := context.Background()

	job, err := o.StartBulk(ctx, []string{"1", " 2 ", "404", "1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Total() != 3 || job.Cursor != 0 || job.Percent() != 0 {
		t.Fatalf("new job = %+v", job)
	}

	for want := 1; want <= 3; want++ {
		job, err = o.Step(ctx, job.ID)
		if err != nil {
			t.Fatalf("step %d: %v", want, err)
		}
		if job.Cursor != want || len(job.Results) != want {
			t.Fatalf("step %d: cursor=%d results=%d", want, job.Cursor, len(job.Results))
		}
		if job.Status != StatusRunning || job.Percent() > 99 {
			t.Fatalf("step %d: status=%s percent=%d", want, job.Status, job.Percent())
		}
	}
	if r.calls != 2 {
		t.Fatalf("renderer calls = %d, want 2", r.calls)
	}

	job, err = o.Step(ctx, job.ID)
	if err != nil {
		t.Fatalf("final step: %v", err)
	}
	if job.Status != StatusDone || job.Percent() != 100 || job.Location == "" {
		t.Fatalf("final job = %+v", job)
	}

	files := readZip(t, job.Archive)
	var names []string
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	want := []string{"P-1-1.png", "P-2-2-1.png", "P-2-2-2.png", "info.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	manifest := files["info.txt"]
	if !strings.Contains(manifest, "1\tOK\tP-1-1.png") || !strings.Contains(manifest, "404\tERROR\t") {
		t.Fatalf("manifest = %q", manifest)
	}
	if _, ok := src.completed["2"]; !ok {
		t.Fatal("bulk orders are marked completed")
	}

	again, err := o.Step(ctx, job.ID)
	if err != nil || again.Status != StatusDone || r.calls != 2 {
		t.Fatalf("step after done must be a no-op: %+v, %v, calls=%d", again, err, r.calls)
	}
}

func TestBulk_AllFailedEndsInError(t *testing.T) {
	o := newOrchestrator(t, &fakeRenderer{}, newFakeSource(), NewMemoryStore())
	ctx := context.Background()

	job, err := o.StartBulk(ctx, []string{"x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if job, err = o.Step(ctx, job.ID); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if job.Status != StatusError || job.Percent() != 0 || job.Archive != "" {
		t.Fatalf("job = %+v", job)
	}
}

// routedRenderer 按订单 ID 选择渲染器。
type routedRenderer struct {
	byID     map[string]Renderer
	fallback Renderer
}

func (r routedRenderer) Assemble(ctx context.Context, o order.Order, photos []order.Photo, dir string, progress sheet.ProgressFunc) ([]sheet.Artifact, outcome.Report, error) {
	if inner, ok := r.byID[o.ID]; ok {
		return inner.Assemble(ctx, o, photos, dir, progress)
	}
	return r.fallback.Assemble(ctx, o, photos, dir, progress)
}

func TestBulk_MalformedLayersRecordOrderFailure(t *testing.T) {
	src := newFakeSource()
	src.add("1", "P-1", 2)
	src.add("bad", "P-9", 1)
	src.photos["bad"][0].TextLayers = []byte(`[{"text": `)

	// 图层损坏在绘制前就会返回，真实的 Assembler 不需要字体与叠加层。
	assembler := sheet.NewAssembler(sheet.Options{Scale: 1}, nil, nil, nil, logging.Discard())
	r := routedRenderer{byID: map[string]Renderer{"bad": assembler}, fallback: &fakeRenderer{}}
	o := newOrchestrator(t, r, src, NewMemoryStore())
	ctx := context.Background()

	job, err := o.StartBulk(ctx, []string{"1", "bad"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if job, err = o.Step(ctx, job.ID); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if job.Status != StatusDone {
		t.Fatalf("job = %+v", job)
	}

	report := job.Report()
	if report.Count(outcome.ScopeOrder, outcome.Failed) != 1 || report.Count(outcome.ScopeOrder, outcome.OK) != 1 {
		t.Fatalf("report = %+v", report.Items)
	}
	if keys := report.MissingKeys(); len(keys) != 1 || keys[0] != "bad" {
		t.Fatalf("missing keys = %v", keys)
	}
	if _, ok := src.completed["bad"]; ok {
		t.Fatal("failed order must not be marked completed")
	}

	manifest := readZip(t, job.Archive)["info.txt"]
	if !strings.Contains(manifest, "bad\tERROR\t") || !strings.Contains(manifest, "malformed layer data") {
		t.Fatalf("manifest = %q", manifest)
	}
	if !strings.Contains(manifest, "1\tOK\tP-1-1.png") {
		t.Fatalf("manifest = %q", manifest)
	}
}

func TestBulk_OldArchivesPrunedOnlyWhenFinishing(t *testing.T) {
	src := newFakeSource()
	src.add("1", "P-1", 1)
	o := newOrchestrator(t, &fakeRenderer{}, src, NewMemoryStore())
	ctx := context.Background()

	if err := os.MkdirAll(o.bulkDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(o.bulkDir(), "pedidos-selecionados-old.zip")
	if err := os.WriteFile(old, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-2 * bulkArchiveMaxAge)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	job, err := o.StartBulk(ctx, []string{"1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatalf("starting a batch must not prune archives: %v", err)
	}

	for i := 0; i < 2; i++ {
		if job, err = o.Step(ctx, job.ID); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if job.Status != StatusDone {
		t.Fatalf("job = %+v", job)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("old archive still present: %v", err)
	}
	if _, err := os.Stat(job.Archive); err != nil {
		t.Fatalf("new archive removed: %v", err)
	}
}

func TestBulk_ExpiredJob(t *testing.T) {
	o := newOrchestrator(t, &fakeRenderer{}, newFakeSource(), NewMemoryStore())

	_, err := o.Step(context.Background(), "does-not-exist")
	if errcode.KindOf(err) != errcode.KindJobState || !errors.Is(err, ErrJobExpired) {
		t.Fatalf("err = %v", err)
	}
	if _, err := o.StartBulk(context.Background(), []string{" ", ""}); errcode.KindOf(err) != errcode.KindInput {
		t.Fatalf("empty batch err = %v", err)
	}
}

func TestMemoryStore_Expires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, err := s.Get(ctx, "k"); err != nil || string(v) != "v" {
		t.Fatalf("get = %q, %v", v, err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired get err = %v", err)
	}
}

type fakeRedis struct {
	data map[string][]byte
	ttl  map[string]time.Duration
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.data[key] = value.([]byte)
	f.ttl[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	rc := &fakeRedis{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
	s := NewRedisStore(rc, "printgrid:")
	ctx := context.Background()

	if _, err := s.Get(ctx, "bulk:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v", err)
	}
	if err := s.Set(ctx, "bulk:1", []byte(`{"id":"1"}`), time.Hour); err != nil {
		t.Fatal(err)
	}
	if rc.ttl["printgrid:bulk:1"] != time.Hour {
		t.Fatalf("ttl = %v", rc.ttl)
	}
	v, err := s.Get(ctx, "bulk:1")
	if err != nil || string(v) != `{"id":"1"}` {
		t.Fatalf("get = %q, %v", v, err)
	}
	if err := s.Delete(ctx, "bulk:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "bulk:1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted key must be gone")
	}
}
