package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bleedingxiko/ghoststream/internal/jobs"
)

// playlistWait bounds how long a fetch waits for the encoder to create a
// playlist that a PROCESSING job has not written yet.
const playlistWait = 5 * time.Second

// StreamHandler serves HLS artifacts and batch downloads straight off
// the work directory.
type StreamHandler struct {
	manager         *jobs.Manager
	workDir         string
	seekableRewrite bool // inject the end-list marker into live playlists
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(manager *jobs.Manager, workDir string, seekableRewrite bool) *StreamHandler {
	return &StreamHandler{
		manager:         manager,
		workDir:         workDir,
		seekableRewrite: seekableRewrite,
	}
}

// Register registers the raw artifact routes.
func (h *StreamHandler) Register(router *chi.Mux) {
	router.Get("/stream/{jobID}/*", h.ServeStream)
	router.Get("/download/{jobID}", h.ServeDownload)
}

// ServeStream serves the master playlist, variant playlists, and
// segments of one job. Playlist fetches for live jobs are rewritten so
// naive players treat the partial output as complete and seekable;
// playlists of READY jobs pass through untouched.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	filename := chi.URLParam(r, "*")

	// Keep the job alive while a player is streaming from it.
	h.manager.Touch(jobID)

	filePath, ok := h.safeJoin(jobID, filename)
	if !ok {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	state, stateErr := h.manager.State(jobID)

	if strings.HasSuffix(filename, ".m3u8") {
		// The encoder may not have written the playlist yet right after
		// dispatch; give it a moment before a 404.
		if !fileExists(filePath) && stateErr == nil && state == jobs.StateProcessing {
			waitForFile(r, filePath, playlistWait)
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			http.Error(w, "stream file not found", http.StatusNotFound)
			return
		}

		content := string(data)
		if h.seekableRewrite && state == jobs.StateProcessing {
			content = InjectEndList(content)
		}

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write([]byte(content))
		return
	}

	if !fileExists(filePath) {
		http.Error(w, "stream file not found", http.StatusNotFound)
		return
	}

	switch {
	case strings.HasSuffix(filename, ".ts"):
		w.Header().Set("Content-Type", "video/mp2t")
	case strings.HasSuffix(filename, ".mp4"):
		w.Header().Set("Content-Type", "video/mp4")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	// ServeFile handles range requests (206/416) for seeking.
	http.ServeFile(w, r, filePath)
}

// ServeDownload returns the completed batch file.
func (h *StreamHandler) ServeDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	outputPath, state, err := h.manager.OutputFile(jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if state != jobs.StateReady {
		http.Error(w, "job is not ready for download", http.StatusBadRequest)
		return
	}
	if outputPath == "" || !fileExists(outputPath) {
		http.Error(w, "output file not found", http.StatusNotFound)
		return
	}

	h.manager.Touch(jobID)
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(outputPath))
	http.ServeFile(w, r, outputPath)
}

// InjectEndList rewrites a live playlist so players treat it as VOD:
// a VOD playlist-type header is ensured and the end-list marker is
// appended. The rewrite is idempotent at the text level.
func InjectEndList(content string) string {
	if strings.Contains(content, "#EXT-X-ENDLIST") {
		return content
	}
	if !strings.Contains(content, "#EXT-X-PLAYLIST-TYPE:VOD") {
		content = strings.Replace(content, "#EXTM3U\n", "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n", 1)
	}
	return strings.TrimRight(content, "\n") + "\n#EXT-X-ENDLIST\n"
}

// safeJoin resolves a requested artifact path inside the job directory,
// rejecting traversal.
func (h *StreamHandler) safeJoin(jobID, filename string) (string, bool) {
	if jobID == "" || filename == "" {
		return "", false
	}
	cleaned := path.Clean("/" + filename)
	if strings.Contains(cleaned, "..") {
		return "", false
	}
	return filepath.Join(h.workDir, jobID, filepath.FromSlash(cleaned)), true
}

// waitForFile polls for a file until it exists, the client goes away, or
// the wait elapses.
func waitForFile(r *http.Request, filePath string, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if fileExists(filePath) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
