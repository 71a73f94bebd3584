package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"trackcast/detect"
	"trackcast/events"
	"trackcast/pipeline"
	"trackcast/render"
	"trackcast/store"
)

var (
	allowedVideoExt = map[string]bool{
		".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	}
	allowedImageExt = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	}
)

// handleDetectVideo accepts a video upload, allocates storage, emits the
// started event and launches the frame pipeline decoupled from this
// request.  The response returns before processing completes, all
// further output reaches the session's room through the event channel
func (s *Server) handleDetectVideo(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)

	file, header, err := r.FormFile("video")

	if err != nil {
		writeError(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No video selected")
		return
	}

	if !allowedVideoExt[strings.ToLower(filepath.Ext(header.Filename))] {
		writeError(w, http.StatusBadRequest,
			"File type not allowed. Please upload a video file (mp4, avi, mov, mkv)")
		return
	}

	// delivery is room addressed, without a session id the caller could
	// never observe the job's outcome
	sessionID := r.FormValue("session_id")

	if sessionID == "" {
		writeError(w, http.StatusBadRequest,
			"No session_id provided for WebSocket communication")
		return
	}

	unique, path, err := s.store.SaveUpload(store.KindVideo, header.Filename, file)

	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("Error uploading video: %v", err))
		return
	}

	base := store.BaseName("result_" + unique)
	resultFilename := base + ".webm"

	resultDir, err := s.store.MakeResultVideoDir(base)

	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("Error uploading video: %v", err))
		return
	}

	s.hub.Publish(sessionID, events.JobStarted, events.StartedPayload{
		Filename:       unique,
		ResultFilename: resultFilename,
		SessionID:      sessionID,
		Message:        "Video processing has started.",
	})

	job := pipeline.NewJob(sessionID, unique, resultFilename, path, resultDir)
	job.ResultPath = "/api/detect/results/video/" + resultFilename

	s.metrics.JobsStarted.Inc()
	s.launch(job)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"job_id":          job.ID,
		"filename":        unique,
		"result_filename": resultFilename,
		"message":         "Video uploaded successfully. Processing started.",
	})
}

// launch starts the pipeline for a job under its own cancelable context
// and tracks the handle until the run terminates
func (s *Server) launch(job *pipeline.Job) {

	ctx, cancel := context.WithCancel(context.Background())

	h := &jobHandle{
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[job.ID] = h
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.jobs, job.ID)
			s.mu.Unlock()

			cancel()
			close(h.done)
		}()

		s.runner.Run(ctx, job)
	}()
}

// handleDetectImage runs one-shot detection on an uploaded image.  No
// session is involved, the response carries the detections and a
// reference to the annotated result
func (s *Server) handleDetectImage(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadMB<<20)

	file, header, err := r.FormFile("image")

	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No image selected")
		return
	}

	if !allowedImageExt[strings.ToLower(filepath.Ext(header.Filename))] {
		writeError(w, http.StatusBadRequest,
			"File type not allowed. Please upload an image file (png, jpg, jpeg, gif)")
		return
	}

	unique, path, err := s.store.SaveUpload(store.KindImage, header.Filename, file)

	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("Error processing image: %v", err))
		return
	}

	img := gocv.IMRead(path, gocv.IMReadColor)

	if img.Empty() {
		writeError(w, http.StatusInternalServerError,
			"Error processing image: could not decode image")
		return
	}
	defer img.Close()

	eng := s.pool.Get()
	dets, err := eng.Detect(img)
	s.pool.Return(eng)

	if err != nil {
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("Error processing image: %v", err))
		return
	}

	if dets == nil {
		dets = []detect.Detection{}
	}

	annotated := img.Clone()
	defer annotated.Close()

	render.DetectionBoxes(&annotated, dets, s.runner.Font, 2)

	resultFilename := "result_" + unique
	resultPath := s.store.ResultImagePath(resultFilename)

	if ok := gocv.IMWrite(resultPath, annotated); !ok {
		writeError(w, http.StatusInternalServerError,
			"Error processing image: could not write result")
		return
	}

	logrus.WithFields(logrus.Fields{
		"filename":   unique,
		"detections": len(dets),
	}).Info("image processed")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"filename":        unique,
		"result_filename": resultFilename,
		"result_path":     "/api/detect/results/image/" + resultFilename,
		"detections":      dets,
		"message":         fmt.Sprintf("Detected %d objects", len(dets)),
	})
}

// handleJobs lists the currently active jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type jobInfo struct {
		JobID     string `json:"job_id"`
		SessionID string `json:"session_id"`
		Filename  string `json:"filename"`
	}

	s.mu.Lock()
	list := make([]jobInfo, 0, len(s.jobs))

	for _, h := range s.jobs {
		list = append(list, jobInfo{
			JobID:     h.job.ID,
			SessionID: h.job.SessionID,
			Filename:  h.job.Filename,
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

// handleJob cancels one active job
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/detect/jobs/")

	s.mu.Lock()
	h, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}

	h.cancel()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"job_id":  id,
		"message": "Job cancellation requested.",
	})
}
