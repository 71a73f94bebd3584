// Package server accepts detection requests over HTTP, launches one
// frame pipeline per submitted video and serves the stored result
// artifacts.  Processing outcomes are observable only through the
// event channel.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"trackcast/detect"
	"trackcast/events"
	"trackcast/metrics"
	"trackcast/pipeline"
	"trackcast/store"
)

// Server wires the media store, engine pool, event hub and pipeline
// runner behind the HTTP surface
type Server struct {
	cfg     Config
	store   *store.Store
	hub     *events.Hub
	pool    *detect.Pool
	runner  *pipeline.Runner
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// jobs tracks one handle per live pipeline so abandoned jobs can
	// be canceled instead of running to completion unobserved
	mu   sync.Mutex
	jobs map[string]*jobHandle
}

// jobHandle is the controller's view of one launched pipeline
type jobHandle struct {
	job    *pipeline.Job
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a server around an already loaded engine pool
func New(cfg Config, pool *detect.Pool) (*Server, error) {

	st, err := store.New(cfg.DataDir)

	if err != nil {
		return nil, err
	}

	hub := events.NewHub()

	m := metrics.New(hub.Subscribers)

	hub.OnPublish = func(event string) {
		m.EventsPublished.WithLabelValues(event).Inc()
	}

	runner := pipeline.NewRunner(pool, hub, m)
	runner.SkipInterval = cfg.SkipInterval
	runner.ProgressInterval = cfg.ProgressInterval

	s := &Server{
		cfg:     cfg,
		store:   st,
		hub:     hub,
		pool:    pool,
		runner:  runner,
		metrics: m,
		mux:     http.NewServeMux(),
		jobs:    make(map[string]*jobHandle),
	}

	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.Handle("/ws", events.NewWSHandler(s.hub))
	s.mux.HandleFunc("/api/detect/image", s.handleDetectImage)
	s.mux.HandleFunc("/api/detect/video", s.handleDetectVideo)
	s.mux.HandleFunc("/api/detect/results/image/", s.handleImageResult)
	s.mux.HandleFunc("/api/detect/results/video/", s.handleVideoResult)
	s.mux.HandleFunc("/api/detect/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/detect/jobs/", s.handleJob)
	s.mux.Handle("/metrics", s.metrics.Handler())
}

// Handler returns the HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Hub returns the event hub
func (s *Server) Hub() *events.Hub {
	return s.hub
}

// ListenAndServe starts serving on the configured address
func (s *Server) ListenAndServe() error {
	logrus.WithField("addr", s.cfg.Addr).Info("server listening")
	return http.ListenAndServe(s.cfg.Addr, s.mux)
}

// Close cancels all live jobs and shuts the hub down
func (s *Server) Close() {

	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.jobs))

	for _, h := range s.jobs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
		<-h.done
	}

	s.hub.Close()
}

// handleIndex serves a JSON listing of the API surface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "trackcast detection API",
		"endpoints": map[string]string{
			"POST /api/detect/image":                   "Detect objects in an image",
			"POST /api/detect/video":                   "Detect and track objects in a video",
			"GET /api/detect/results/image/<filename>": "Fetch a processed image",
			"GET /api/detect/results/video/<filename>": "Fetch a processed video",
			"GET /api/detect/jobs":                     "List active jobs",
			"DELETE /api/detect/jobs/<id>":             "Cancel an active job",
			"GET /ws":                                  "Real-time event channel",
			"GET /metrics":                             "Prometheus metrics",
		},
	})
}

// writeJSON writes v as the JSON response body
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("error writing response")
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
