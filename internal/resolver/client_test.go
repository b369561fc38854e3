package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type fakeService struct {
	polls    atomic.Int32
	readyAt  int32
	status   int
	result   string
	errMsg   string
	healthy  atomic.Bool
	lastAuth atomic.Value
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["locator"] == "" {
			json.NewEncoder(w).Encode(map[string]any{"code": 400, "error": "missing locator"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]string{"task_id": "t-1"}})
	})
	mux.HandleFunc("/query_result", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		status := statusRunning
		if n >= f.readyAt {
			status = f.status
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": []map[string]any{{"task_id": "t-1", "status": status, "result": f.result, "error": f.errMsg}},
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeService, outputDir string) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "secret", outputDir)
	c.PollInterval = 5 * time.Millisecond
	c.Timeout = 2 * time.Second
	return c
}

func TestResolvePollsUntilDone(t *testing.T) {
	f := &fakeService{readyAt: 3, status: statusSuccess, result: `[{"file":"https://cdn.example/a.mp3","status":1}]`}
	c := newTestClient(t, f, "")

	got, err := c.Resolve(context.Background(), "catalog:abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://cdn.example/a.mp3" {
		t.Errorf("Resolve = %q", got)
	}
	if n := f.polls.Load(); n != 3 {
		t.Errorf("polls = %d, want 3", n)
	}
	if auth := f.lastAuth.Load(); auth != "Bearer secret" {
		t.Errorf("Authorization = %v", auth)
	}
}

func TestResolveRelativeReference(t *testing.T) {
	f := &fakeService{readyAt: 1, status: statusSuccess, result: `[{"file":"/v1/audio?path=streams/a.mp3","status":1}]`}
	c := newTestClient(t, f, "")

	got, err := c.Resolve(context.Background(), "catalog:abc")
	if err != nil {
		t.Fatal(err)
	}
	if want := c.apiURL + "/v1/audio?path=streams/a.mp3"; got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestResolvePrefersSharedVolume(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "streams", "a.mp3")
	os.MkdirAll(filepath.Dir(local), 0o755)
	os.WriteFile(local, []byte("ID3"), 0o644)

	f := &fakeService{readyAt: 1, status: statusSuccess, result: `[{"file":"/v1/audio?path=streams/a.mp3","status":1}]`}
	c := newTestClient(t, f, dir)

	got, err := c.Resolve(context.Background(), "catalog:abc")
	if err != nil {
		t.Fatal(err)
	}
	if got != local {
		t.Errorf("Resolve = %q, want %q", got, local)
	}
}

func TestResolveFailure(t *testing.T) {
	f := &fakeService{readyAt: 1, status: statusFailed, errMsg: "geo-blocked"}
	c := newTestClient(t, f, "")
	_, err := c.Resolve(context.Background(), "catalog:abc")
	if !errors.Is(err, ErrResolveFailed) {
		t.Errorf("err = %v, want ErrResolveFailed", err)
	}

	f = &fakeService{readyAt: 1, status: statusSuccess, result: `[]`}
	c = newTestClient(t, f, "")
	if _, err := c.Resolve(context.Background(), "catalog:abc"); !errors.Is(err, ErrNoStream) {
		t.Errorf("empty result err = %v, want ErrNoStream", err)
	}

	c = newTestClient(t, &fakeService{}, "")
	if _, err := c.Resolve(context.Background(), ""); !errors.Is(err, ErrResolveFailed) {
		t.Errorf("empty locator err = %v", err)
	}
}

func TestResolveTimesOut(t *testing.T) {
	f := &fakeService{readyAt: 1 << 30, status: statusSuccess}
	c := newTestClient(t, f, "")
	c.Timeout = 50 * time.Millisecond
	_, err := c.Resolve(context.Background(), "catalog:slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestWaitForHealthy(t *testing.T) {
	f := &fakeService{}
	c := newTestClient(t, f, "")
	go func() {
		time.Sleep(30 * time.Millisecond)
		f.healthy.Store(true)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForHealthy(ctx, 10*time.Millisecond); err != nil {
		t.Errorf("WaitForHealthy: %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	f.healthy.Store(false)
	if err := c.WaitForHealthy(ctx, 10*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}
