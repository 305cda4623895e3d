package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/dunamismax/pixelframe/internal/cover"
	"github.com/dunamismax/pixelframe/internal/domain"
	"github.com/dunamismax/pixelframe/internal/queue"
	"github.com/dunamismax/pixelframe/internal/ratelimit"
	"github.com/dunamismax/pixelframe/internal/store"
	"github.com/dunamismax/pixelframe/internal/studio"
	"github.com/hibiken/asynq"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 200, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.ExportPayload
	err      error
}

func (q *fakeQueue) EnqueueExport(_ context.Context, payload queue.ExportPayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct{}

func (fakeStorage) PresignedGetURL(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key, nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	queue  *fakeQueue
	jobs   *store.MemoryJobStore
}

func newTestEnv(t *testing.T, opts studio.Options) *testEnv {
	t.Helper()
	q := &fakeQueue{}
	jobs := store.NewMemoryJobStore()
	srv := NewServer(log.New(io.Discard, "", 0), studio.NewManager(opts), q, jobs, fakeStorage{}, time.Minute)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts, queue: q, jobs: jobs}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/v1/sessions", nil, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var view studio.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if view.ID == "" {
		t.Fatal("expected session id")
	}
	return view.ID
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestSessionUploadGestureAndExport(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodPut, "/v1/sessions/"+sid+"/slots/cover/photo", testPNG(t, 200, 100), "image/png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected upload 200, got %d", resp.StatusCode)
	}

	gestures := `{"viewport":{"rect":{"left":0,"top":0,"width":540,"height":540},"buffer":{"width":1080,"height":1080}},
		"events":[{"kind":"pointerdown","client_x":270,"client_y":270},{"kind":"pointermove","client_x":280,"client_y":270}]}`
	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/slots/cover/gestures", []byte(gestures), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected gestures 200, got %d", resp.StatusCode)
	}
	var gres struct {
		Result struct {
			Changed        bool `json:"changed"`
			PreventDefault bool `json:"prevent_default"`
		} `json:"result"`
		Photo studio.PhotoView `json:"photo"`
	}
	decodeBody(t, resp, &gres)
	if !gres.Result.Changed || !gres.Result.PreventDefault {
		t.Fatalf("expected changed drag, got %+v", gres.Result)
	}
	if !strings.HasPrefix(gres.Photo.Transform.Transform, "translate(20.000px, 270.000px)") {
		t.Fatalf("unexpected transform %q", gres.Photo.Transform.Transform)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/export/cover", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected export 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="ME-profile-image.png"` {
		t.Fatalf("unexpected content disposition %q", got)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if img.Bounds().Size() != image.Pt(1080, 1080) {
		t.Fatalf("expected 1080x1080, got %v", img.Bounds().Size())
	}
}

func TestGestureUsesSlotFrameAsBuffer(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodPut, "/v1/sessions/"+sid+"/slots/before/photo", testPNG(t, 465, 580), "image/png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected upload 200, got %d", resp.StatusCode)
	}

	cases := map[string]string{
		"poster size": `"buffer":{"width":1080,"height":1350}`,
		"missing":     `"buffer":{"width":0,"height":0}`,
	}
	want := []string{"translate(10.000px, 0.000px)", "translate(20.000px, 0.000px)"}
	step := 0
	for name, buffer := range cases {
		body := `{"viewport":{"rect":{"left":0,"top":0,"width":465,"height":580},` + buffer + `},
			"events":[{"kind":"pointerdown","client_x":100,"client_y":100},{"kind":"pointermove","client_x":110,"client_y":100},{"kind":"pointerup"}]}`
		resp = env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/slots/before/gestures", []byte(body), "application/json")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected gestures 200, got %d", name, resp.StatusCode)
		}
		var gres struct {
			Result struct {
				Changed bool `json:"changed"`
			} `json:"result"`
			Photo studio.PhotoView `json:"photo"`
		}
		decodeBody(t, resp, &gres)
		if !gres.Result.Changed {
			t.Fatalf("%s: expected the drag to apply", name)
		}
		if !strings.HasPrefix(gres.Photo.Transform.Transform, want[step]) {
			t.Fatalf("%s: expected %s, got %q", name, want[step], gres.Photo.Transform.Transform)
		}
		step++
	}
}

func TestPosterExportIsExactSize(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodPatch, "/v1/sessions/"+sid+"/poster", []byte(`{"name":"Alex","note":"Week 6","display_width":700,"raster_scale":3}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected poster update 200, got %d", resp.StatusCode)
	}
	var view studio.View
	decodeBody(t, resp, &view)
	if !view.Poster.NoteVisible || view.Poster.Name != "Alex" {
		t.Fatalf("unexpected poster view %+v", view.Poster.View)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/export/poster", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected export 200, got %d", resp.StatusCode)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if img.Bounds().Size() != image.Pt(1080, 1350) {
		t.Fatalf("expected 1080x1350, got %v", img.Bounds().Size())
	}
}

func TestUploadErrors(t *testing.T) {
	env := newTestEnv(t, studio.Options{MaxUploadBytes: 1 << 16})
	sid := env.createSession(t)

	tests := []struct {
		name string
		path string
		body []byte
		want int
	}{
		{name: "undecodable", path: "/v1/sessions/" + sid + "/slots/before/photo", body: []byte("nope"), want: http.StatusUnprocessableEntity},
		{name: "unknown slot", path: "/v1/sessions/" + sid + "/slots/side/photo", body: testPNG(t, 4, 4), want: http.StatusNotFound},
		{name: "unknown session", path: "/v1/sessions/missing/slots/before/photo", body: testPNG(t, 4, 4), want: http.StatusNotFound},
		{name: "too large", path: "/v1/sessions/" + sid + "/slots/after/photo", body: make([]byte, 1<<17), want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, tt.path, tt.body, "image/png")
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestTemplatesEndpoint(t *testing.T) {
	src := cover.DirSource{FS: fstest.MapFS{
		"cover.json":            {Data: []byte(`["zebra.png","awareness.png"]`)},
		"profile/zebra.png":     {Data: testPNG(t, 20, 20)},
		"profile/awareness.png": {Data: testPNG(t, 20, 20)},
	}, Root: "mem"}
	env := newTestEnv(t, studio.Options{Templates: src})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/templates", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Templates []string `json:"templates"`
		Error     string   `json:"error"`
	}
	decodeBody(t, resp, &body)
	if len(body.Templates) != 2 || body.Templates[0] != "awareness.png" {
		t.Fatalf("expected sorted templates, got %v", body.Templates)
	}

	resp = env.do(t, http.MethodPut, "/v1/sessions/"+sid+"/template", []byte(`{"name":"zebra.png"}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected select 200, got %d", resp.StatusCode)
	}
	var view studio.View
	decodeBody(t, resp, &view)
	if view.Cover.ExportName != "ME-zebra.png" {
		t.Fatalf("expected ME-zebra.png, got %s", view.Cover.ExportName)
	}

	resp = env.do(t, http.MethodPut, "/v1/sessions/"+sid+"/template", []byte(`{"name":"other.png"}`), "application/json")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown template, got %d", resp.StatusCode)
	}
}

func TestTemplatesEndpointDegradesOnBrokenManifest(t *testing.T) {
	src := cover.DirSource{FS: fstest.MapFS{"cover.json": {Data: []byte(`{"not":"a list"}`)}}}
	env := newTestEnv(t, studio.Options{Templates: src})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/templates", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Templates []string `json:"templates"`
		Error     string   `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Templates == nil || len(body.Templates) != 0 || body.Error == "" {
		t.Fatalf("expected empty list with error, got %+v", body)
	}
}

func TestThemeEndpoint(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodPatch, "/v1/sessions/"+sid+"/theme", []byte(`{"mode":"custom","colors":{"text":"#abcdef"}}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view studio.View
	decodeBody(t, resp, &view)
	if view.Poster.Colors.Text != "#abcdef" {
		t.Fatalf("expected custom text color, got %s", view.Poster.Colors.Text)
	}

	resp = env.do(t, http.MethodPatch, "/v1/sessions/"+sid+"/theme", []byte(`{"colors":{"text":"blue"}}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid color, got %d", resp.StatusCode)
	}
}

func TestCreateExportJobEnqueuesSnapshot(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)
	env.do(t, http.MethodPut, "/v1/sessions/"+sid+"/slots/before/photo", testPNG(t, 50, 50), "image/png")

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/exports", []byte(`{"kind":"poster","webhook_url":"https://hooks.test/done"}`), "application/json")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	if body.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", body.Status)
	}

	if len(env.queue.payloads) != 1 {
		t.Fatalf("expected one enqueued payload, got %d", len(env.queue.payloads))
	}
	payload := env.queue.payloads[0]
	if payload.SessionID != sid || payload.Scene.Poster == nil || payload.Scene.Poster.Before == nil {
		t.Fatalf("expected poster snapshot with before photo, got %+v", payload)
	}

	job, ok, err := env.jobs.Get(context.Background(), body.JobID)
	if err != nil || !ok || job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued job in store, got %+v ok=%v err=%v", job, ok, err)
	}

	if _, err := env.jobs.Finish(context.Background(), body.JobID, domain.JobOutcome{
		Status:     domain.JobStatusSucceeded,
		OutputKey:  "outputs/" + body.JobID + "/ME-poster.png",
		OutputName: "ME-poster.png",
	}); err != nil {
		t.Fatalf("finish job: %v", err)
	}
	resp = env.do(t, http.MethodGet, "/v1/jobs/"+body.JobID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected job 200, got %d", resp.StatusCode)
	}
	var jobBody struct {
		DownloadURL string `json:"download_url"`
	}
	decodeBody(t, resp, &jobBody)
	if !strings.HasSuffix(jobBody.DownloadURL, "/ME-poster.png") {
		t.Fatalf("expected download url, got %q", jobBody.DownloadURL)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/exports?limit=5", nil, "")
	var list struct {
		Jobs []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"jobs"`
	}
	decodeBody(t, resp, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != body.JobID || list.Jobs[0].Status != domain.JobStatusSucceeded {
		t.Fatalf("expected the finished job in the session list, got %+v", list.Jobs)
	}

	resp = env.do(t, http.MethodGet, "/v1/sessions/"+sid+"/exports?limit=zero", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad limit, got %d", resp.StatusCode)
	}
}

func TestCreateExportJobValidation(t *testing.T) {
	env := newTestEnv(t, studio.Options{})
	sid := env.createSession(t)

	resp := env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/exports", []byte(`{"kind":"banner"}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	env.queue.err = errors.New("redis down")
	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/exports", []byte(`{"kind":"cover"}`), "application/json")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on enqueue failure, got %d", resp.StatusCode)
	}

	env.queue.err = fmt.Errorf("%w: job-1", queue.ErrDuplicateJob)
	resp = env.do(t, http.MethodPost, "/v1/sessions/"+sid+"/exports", []byte(`{"kind":"cover"}`), "application/json")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate job, got %d", resp.StatusCode)
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int64) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

func TestRateLimitRejectsMutations(t *testing.T) {
	srv := NewServer(log.New(io.Discard, "", 0), studio.NewManager(studio.Options{}), nil, nil, nil, 0).
		WithRateLimiter(denyLimiter{}, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", resp.Header.Get("Retry-After"))
	}

	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz to bypass rate limit, got %d", health.StatusCode)
	}
}

func TestExportsSpendMoreTokens(t *testing.T) {
	limiter, err := ratelimit.NewMemoryTokenBucket(12, time.Hour)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv := NewServer(log.New(io.Discard, "", 0), studio.NewManager(studio.Options{}), nil, nil, nil, 0).
		WithRateLimiter(limiter, "")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("X-Session-ID", "client-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		return resp
	}

	first := get("/v1/sessions/missing/export/poster")
	if first.StatusCode != http.StatusNotFound || first.Header.Get("X-RateLimit-Remaining") != "2" {
		t.Fatalf("expected export to pass the limiter with 2 tokens left, got %d remaining=%q", first.StatusCode, first.Header.Get("X-RateLimit-Remaining"))
	}
	if first.Header.Get("X-RateLimit-Limit") != "12" {
		t.Fatalf("expected limit header 12, got %q", first.Header.Get("X-RateLimit-Limit"))
	}
	if first.Header.Get("X-RateLimit-Reset") != "3000" {
		t.Fatalf("expected full refill in 3000s, got %q", first.Header.Get("X-RateLimit-Reset"))
	}
	if second := get("/v1/sessions/missing/export/poster"); second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected second export to be limited, got %d", second.StatusCode)
	}
}

func TestRequestCost(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   int64
	}{
		{http.MethodGet, "/v1/sessions/a/export/cover", costExport},
		{http.MethodPost, "/v1/sessions/a/exports", costAsyncExport},
		{http.MethodPut, "/v1/sessions/a/slots/cover/photo", costUpload},
		{http.MethodPost, "/v1/sessions/a/slots/cover/gestures", costDefault},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		if got := requestCost(r); got != tt.want {
			t.Fatalf("%s %s: expected cost %d, got %d", tt.method, tt.path, tt.want, got)
		}
	}
}

func TestRateLimitSubject(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/sessions/abc/theme", nil)
	if got := rateLimitSubject(r, "X-Session-ID"); got != "session:abc" {
		t.Fatalf("expected session subject, got %q", got)
	}
	r.Header.Set("X-Session-ID", "device-7")
	if got := rateLimitSubject(r, "X-Session-ID"); got != "device-7" {
		t.Fatalf("expected header subject, got %q", got)
	}
	r = httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	if got := rateLimitSubject(r, "X-Session-ID"); got != "addr:10.1.2.3" {
		t.Fatalf("expected address subject, got %q", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/sessions":                        "/v1/sessions",
		"/v1/sessions/abc":                    "/v1/sessions/{id}",
		"/v1/sessions/abc/slots/before/photo": "/v1/sessions/{id}/slots/{slot}/photo",
		"/v1/sessions/abc/export/poster":      "/v1/sessions/{id}/export/{kind}",
		"/v1/jobs/123":                        "/v1/jobs/{id}",
		"/healthz":                            "/healthz",
	}
	for in, want := range tests {
		if got := routeLabel(in); got != want {
			t.Fatalf("routeLabel(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestPathAttributes(t *testing.T) {
	attrs := pathAttributes("/v1/sessions/s1/slots/after/gestures")
	if len(attrs) != 2 || attrs[0].Value.AsString() != "s1" || attrs[1].Value.AsString() != "after" {
		t.Fatalf("unexpected session attributes %v", attrs)
	}
	attrs = pathAttributes("/v1/jobs/j1")
	if len(attrs) != 1 || string(attrs[0].Key) != "pixelframe.job_id" {
		t.Fatalf("unexpected job attributes %v", attrs)
	}
	if attrs := pathAttributes("/healthz"); attrs != nil {
		t.Fatalf("expected no attributes, got %v", attrs)
	}
}
