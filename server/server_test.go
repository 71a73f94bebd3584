package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"gocv.io/x/gocv"

	"trackcast/detect"
	"trackcast/events"
)

// stubEngine returns one fixed detection per frame
type stubEngine struct{}

func (stubEngine) Detect(img gocv.Mat) ([]detect.Detection, error) {
	return []detect.Detection{{
		Class:      "person",
		Confidence: 0.9,
		Box:        detect.Box{X1: 5, Y1: 5, X2: 35, Y2: 35},
	}}, nil
}

func (stubEngine) Close() error {
	return nil
}

func newTestServer(t *testing.T) *Server {

	t.Helper()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ProgressInterval = 10

	s, err := New(cfg, detect.NewPoolOf(stubEngine{}))

	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(s.Close)

	return s
}

// uploadRequest builds a multipart video upload request
func uploadRequest(t *testing.T, field, filename, sessionID string,
	content []byte) *http.Request {

	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)

		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}

		fw.Write(content)
	}

	if sessionID != "" {
		mw.WriteField("session_id", sessionID)
	}

	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/detect/video", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func doJSON(t *testing.T, s *Server, req *http.Request) (int, gjson.Result) {

	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Body)

	return rec.Code, gjson.ParseBytes(body)
}

func TestVideoUploadMissingFile(t *testing.T) {

	s := newTestServer(t)

	code, body := doJSON(t, s, uploadRequest(t, "video", "", "sess-1", nil))

	if code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", code)
	}

	if got := body.Get("error").String(); got != "No video file provided" {
		t.Errorf("error = %q; want No video file provided", got)
	}
}

func TestVideoUploadBadExtension(t *testing.T) {

	s := newTestServer(t)

	code, body := doJSON(t, s,
		uploadRequest(t, "video", "notes.txt", "sess-1", []byte("text")))

	if code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", code)
	}

	want := "File type not allowed. Please upload a video file (mp4, avi, mov, mkv)"

	if got := body.Get("error").String(); got != want {
		t.Errorf("error = %q; want %q", got, want)
	}

	// a rejected upload never becomes a job
	if got := len(s.jobs); got != 0 {
		t.Errorf("jobs = %d; want 0", got)
	}
}

func TestVideoUploadMissingSession(t *testing.T) {

	s := newTestServer(t)

	code, body := doJSON(t, s,
		uploadRequest(t, "video", "clip.mp4", "", []byte("data")))

	if code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400", code)
	}

	want := "No session_id provided for WebSocket communication"

	if got := body.Get("error").String(); got != want {
		t.Errorf("error = %q; want %q", got, want)
	}
}

func TestVideoUploadMethodNotAllowed(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/detect/video", nil)
	code, _ := doJSON(t, s, req)

	if code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d; want 405", code)
	}
}

// writeTestVideo synthesises a small uploadable source video
func writeTestVideo(t *testing.T, frames int) []byte {

	t.Helper()

	path := filepath.Join(t.TempDir(), "source.avi")

	w, err := gocv.VideoWriterFile(path, "MJPG", 30, 64, 48, true)

	if err != nil {
		t.Fatalf("creating test video failed: %v", err)
	}

	img := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer img.Close()

	for i := 0; i < frames; i++ {
		if err := w.Write(img); err != nil {
			t.Fatalf("writing test frame failed: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("closing test video failed: %v", err)
	}

	data, err := os.ReadFile(path)

	if err != nil {
		t.Fatalf("reading test video failed: %v", err)
	}

	return data
}

func TestVideoUploadEndToEnd(t *testing.T) {

	s := newTestServer(t)

	// subscribe to the session's room before uploading so no event is
	// missed
	ch, err := s.Hub().Register("watcher")

	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := s.Hub().Join("watcher", "sess-1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	code, body := doJSON(t, s,
		uploadRequest(t, "video", "clip.avi", "sess-1", writeTestVideo(t, 30)))

	if code != http.StatusOK {
		t.Fatalf("status = %d; want 200: %s", code, body.Raw)
	}

	if !body.Get("success").Bool() {
		t.Errorf("success = false: %s", body.Raw)
	}

	resultFilename := body.Get("result_filename").String()

	if filepath.Ext(resultFilename) != ".webm" {
		t.Errorf("result_filename = %q; want .webm extension", resultFilename)
	}

	// drain room events until the terminal arrives
	var seen []string
	timeout := time.After(30 * time.Second)

	for {
		var msg []byte

		select {
		case msg = <-ch:
		case <-timeout:
			t.Fatalf("no terminal event, saw %v", seen)
		}

		event := gjson.GetBytes(msg, "event").String()
		seen = append(seen, event)

		if event == events.JobFailed {
			t.Fatalf("job failed: %s", gjson.GetBytes(msg, "data.error").String())
		}

		if event != events.JobCompleted {
			continue
		}

		if got := gjson.GetBytes(msg, "data.unique_tracks").Int(); got != 1 {
			t.Errorf("unique_tracks = %d; want 1", got)
		}

		break
	}

	if seen[0] != events.JobStarted {
		t.Errorf("first event = %q; want %q", seen[0], events.JobStarted)
	}

	// the completed result is now served
	req := httptest.NewRequest(http.MethodGet,
		"/api/detect/results/video/"+resultFilename, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("result fetch status = %d; want 200", rec.Code)
	}

	if got := rec.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("Content-Type = %q; want video/webm", got)
	}
}

func TestResultNotFound(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/api/detect/results/video/nope.webm", nil)
	code, body := doJSON(t, s, req)

	if code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", code)
	}

	if got := body.Get("error").String(); got != "Error serving video: not found" {
		t.Errorf("error = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet,
		"/api/detect/results/image/nope.jpg", nil)
	code, body = doJSON(t, s, req)

	if code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", code)
	}

	if got := body.Get("error").String(); got != "Error serving image: not found" {
		t.Errorf("error = %q", got)
	}
}

func TestResultImageContentTypes(t *testing.T) {

	s := newTestServer(t)

	dir := filepath.Join(s.cfg.DataDir, "results", "images")

	cases := []struct {
		name string
		want string
	}{
		{"result_a.jpg", "image/jpeg"},
		{"result_b.png", "image/png"},
		{"result_c.gif", "image/gif"},
	}

	for _, tc := range cases {
		path := filepath.Join(dir, tc.name)

		if err := os.WriteFile(path, []byte("img"), 0644); err != nil {
			t.Fatalf("writing result failed: %v", err)
		}

		req := httptest.NewRequest(http.MethodGet,
			"/api/detect/results/image/"+tc.name, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d; want 200", tc.name, rec.Code)
			continue
		}

		if got := rec.Header().Get("Content-Type"); got != tc.want {
			t.Errorf("%s: Content-Type = %q; want %q", tc.name, got, tc.want)
		}
	}
}

func TestJobsListEmpty(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/detect/jobs", nil)
	code, body := doJSON(t, s, req)

	if code != http.StatusOK {
		t.Errorf("status = %d; want 200", code)
	}

	if !body.Get("jobs").IsArray() {
		t.Errorf("jobs = %s; want array", body.Get("jobs").Raw)
	}
}

func TestCancelUnknownJob(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/detect/jobs/nope", nil)
	code, body := doJSON(t, s, req)

	if code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", code)
	}

	if got := body.Get("error").String(); got != "no such job" {
		t.Errorf("error = %q; want no such job", got)
	}
}

func TestIndex(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	code, body := doJSON(t, s, req)

	if code != http.StatusOK {
		t.Errorf("status = %d; want 200", code)
	}

	if !body.Get("endpoints").Exists() {
		t.Error("index response has no endpoint listing")
	}

	// unknown paths fall through to 404
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	code, _ = doJSON(t, s, req)

	if code != http.StatusNotFound {
		t.Errorf("status = %d; want 404", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)

	if !bytes.Contains(body, []byte("trackcast_jobs_started_total")) {
		t.Error("metrics output missing job counters")
	}
}
