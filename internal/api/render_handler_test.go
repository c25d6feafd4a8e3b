package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"printgrid/internal/errcode"
	"printgrid/internal/jobs"
	"printgrid/internal/logging"
	"printgrid/internal/tasks"
)

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

type fakeBulk struct {
	started  []string
	jobs     map[string]jobs.BulkJob
	startErr error
}

func (f *fakeBulk) StartBulk(_ context.Context, ids []string) (jobs.BulkJob, error) {
	if f.startErr != nil {
		return jobs.BulkJob{}, f.startErr
	}
	f.started = ids
	job := jobs.BulkJob{ID: "job-1", OrderIDs: ids, Status: jobs.StatusRunning}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeBulk) Bulk(_ context.Context, id string) (jobs.BulkJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return jobs.BulkJob{}, errcode.JobState("bulk", jobs.ErrJobExpired)
	}
	return job, nil
}

type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(context.Context, string, time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

type testServer struct {
	router  *gin.Engine
	queue   *fakeQueue
	bulk    *fakeBulk
	tracker *jobs.Tracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &testServer{
		queue:   &fakeQueue{},
		bulk:    &fakeBulk{jobs: map[string]jobs.BulkJob{}},
		tracker: jobs.NewTracker(jobs.NewMemoryStore(), time.Hour),
	}
	s.router = NewRouter(logging.Discard())
	h := NewRenderHandler(s.queue, s.tracker, s.bulk, &fakeCounter{counts: map[string]int64{}}, 5)
	RegisterRoutes(s.router, h)
	return s
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRenderOrder_Enqueues(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/orders/42/render", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if len(s.queue.tasks) != 1 || s.queue.tasks[0].Type() != tasks.TypeRenderOrder {
		t.Fatalf("queued = %v", s.queue.tasks)
	}
	var p tasks.RenderOrderPayload
	_ = json.Unmarshal(s.queue.tasks[0].Payload(), &p)
	if p.OrderID != "42" || p.CorrelationID == "" {
		t.Fatalf("payload = %+v", p)
	}

	if w := s.do(http.MethodPost, "/v1/orders/42/render", nil); w.Code != http.StatusConflict {
		t.Fatalf("duplicate request status = %d", w.Code)
	}
}

func TestRenderOrder_EnqueueFailure(t *testing.T) {
	s := newTestServer(t)
	s.queue.err = errors.New("redis down")
	if w := s.do(http.MethodPost, "/v1/orders/1/render", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetProgress(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/v1/orders/7/progress", nil)
	var p jobs.Progress
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if w.Code != http.StatusOK || p.Status != jobs.StatusIdle {
		t.Fatalf("unknown progress = %d %+v", w.Code, p)
	}

	_ = s.tracker.Set(context.Background(), "7", jobs.Progress{Percent: 54, Status: jobs.StatusRunning})
	w = s.do(http.MethodGet, "/v1/orders/7/progress", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.Percent != 54 || p.Status != jobs.StatusRunning {
		t.Fatalf("progress = %+v", p)
	}
}

func TestStartBulk_Limits(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body any
		want int
	}{
		{"missing", map[string]any{}, http.StatusBadRequest},
		{"empty", map[string]any{"order_ids": []string{}}, http.StatusBadRequest},
		{"too many", map[string]any{"order_ids": []string{"1", "2", "3", "4", "5", "6"}}, http.StatusBadRequest},
		{"ok", map[string]any{"order_ids": []string{"1", "2"}}, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := s.do(http.MethodPost, "/v1/bulk", tc.body); w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
	if len(s.queue.tasks) != 1 || s.queue.tasks[0].Type() != tasks.TypeBulkStep {
		t.Fatalf("queued = %v", s.queue.tasks)
	}
	if len(s.bulk.started) != 2 {
		t.Fatalf("started = %v", s.bulk.started)
	}
}

func TestGetBulk(t *testing.T) {
	s := newTestServer(t)
	s.bulk.jobs["done"] = jobs.BulkJob{
		ID: "done", OrderIDs: []string{"1", "2"}, Cursor: 2, Status: jobs.StatusDone, Location: "https://example.invalid/b.zip",
		Results: []jobs.BulkEntry{
			{OrderID: "1", OK: true, Files: []jobs.BulkFile{{Entry: "A-1.png", Path: "/tmp/secret/grid.png"}}},
			{OrderID: "2", Message: "order 2 not found"},
		},
	}

	w := s.do(http.MethodGet, "/v1/bulk/done", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("/tmp/secret")) {
		t.Fatal("local paths must not be exposed")
	}
	var resp bulkResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Percent != 100 || resp.URL == "" || resp.Total != 2 || len(resp.Results) != 2 || resp.Results[0].Entries[0] != "A-1.png" {
		t.Fatalf("resp = %+v", resp)
	}

	w = s.do(http.MethodGet, "/v1/bulk/missing", nil)
	if w.Code != http.StatusGone || !bytes.Contains(w.Body.Bytes(), []byte("job expired")) {
		t.Fatalf("expired status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestStartBulk_ErrorsCarryCodes(t *testing.T) {
	s := newTestServer(t)

	s.bulk.startErr = errcode.Input("start bulk", errors.New("no orders selected"))
	w := s.do(http.MethodPost, "/v1/bulk", map[string]any{"order_ids": []string{" "}})
	var body errorBody
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusBadRequest || body.Code != errcode.InvalidInput || body.Error == "" {
		t.Fatalf("input error = %d %+v", w.Code, body)
	}

	s.bulk.startErr = errcode.Resource("start bulk", errors.New("dial tcp 10.0.0.5:6379: refused"))
	w = s.do(http.MethodPost, "/v1/bulk", map[string]any{"order_ids": []string{"1"}})
	body = errorBody{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusInternalServerError || body.Code != errcode.SystemError {
		t.Fatalf("resource error = %d %+v", w.Code, body)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("10.0.0.5")) {
		t.Fatalf("internal details leaked: %s", w.Body.String())
	}
	if len(s.queue.tasks) != 0 {
		t.Fatal("failed start must not enqueue")
	}
}

func TestFromError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, tc := range []struct {
		err    error
		status int
		code   int
	}{
		{errcode.Input("op", errors.New("bad")), http.StatusBadRequest, errcode.InvalidInput},
		{errcode.JobState("op", jobs.ErrJobExpired), http.StatusGone, errcode.JobExpired},
		{errors.New("plain"), http.StatusInternalServerError, errcode.SystemError},
	} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		FromError(c, tc.err, "fallback")
		var body errorBody
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if w.Code != tc.status || body.Code != tc.code {
			t.Fatalf("FromError(%v) = %d %+v", tc.err, w.Code, body)
		}
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
