package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"trackcast/store"
)

// handleImageResult serves a processed image result
func (s *Server) handleImageResult(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/detect/results/image/")

	path, err := s.store.ResolveResultImage(filename)

	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Error serving image: not found")
		return
	}

	w.Header().Set("Content-Type", imageContentType(path))
	http.ServeFile(w, r, path)
}

// handleVideoResult serves a processed video result, preferring the web
// playable webm encoding under the job's result subdirectory
func (s *Server) handleVideoResult(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/detect/results/video/")

	path, err := s.store.ResolveResultVideo(filename)

	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Error serving video: not found")
		return
	}

	w.Header().Set("Content-Type", videoContentType(path))
	http.ServeFile(w, r, path)
}

// imageContentType maps a stored image extension to its mime type
func imageContentType(path string) string {

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// videoContentType maps a stored video extension to its mime type
func videoContentType(path string) string {

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}
