package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/datapulse/datapulse/internal/config"
	"github.com/datapulse/datapulse/internal/sandbox"
)

func handleUploadTabular(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	parts, ok := readMultipartFiles(cfg, w, r, "files")
	if !ok {
		return
	}
	if len(parts) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "NO_FILES", "at least one file is required", false, nil)
		return
	}

	message, err := deps.Sandbox.UploadTabular(r.Context(), id, parts)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": message})
}

func handleUploadDatabase(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	parts, ok := readMultipartFiles(cfg, w, r, "file")
	if !ok {
		return
	}
	if len(parts) != 1 {
		writeError(r.Context(), w, http.StatusBadRequest, "SINGLE_FILE_REQUIRED", "exactly one database file is required", false, nil)
		return
	}

	message, err := deps.Sandbox.UploadDatabaseFile(r.Context(), id, parts[0].Name, parts[0].Content)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UPLOAD_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "message": message})
}

// readMultipartFiles parses the multipart body under the configured upload
// cap. The sandbox re-checks the decoded sizes.
func readMultipartFiles(cfg config.Config, w http.ResponseWriter, r *http.Request, field string) ([]sandbox.File, bool) {
	maxBytes := cfg.Session.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024*1024)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", fmt.Sprintf("parse upload: %v", err), false, nil)
		return nil, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[field]
	files := make([]sandbox.File, 0, len(headers))
	for _, header := range headers {
		content, err := readPart(header)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", err.Error(), false, nil)
			return nil, false
		}
		files = append(files, sandbox.File{Name: header.Filename, Content: content})
	}
	return files, true
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	part, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %q: %w", header.Filename, err)
	}
	defer func() { _ = part.Close() }()
	content, err := io.ReadAll(part)
	if err != nil {
		return nil, fmt.Errorf("read part %q: %w", header.Filename, err)
	}
	return content, nil
}
