package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// maxUploadBytes caps a single uploaded image.
const maxUploadBytes = 10 << 20

// HandleUpload accepts one multipart file under the "file" field, stores it
// in the blob store, and returns the opaque reference as JSON. The reference
// is what clients later attach to a message as an image.
func (m Main) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		m.logger.Error("Failed to read upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "File is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		m.logger.Error("Failed to read upload body", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := m.blobs.Store(data, "image")
	if err != nil {
		m.logger.Error("Failed to store upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"url": ref}); err != nil {
		m.logger.Error("Failed to encode upload response", slog.String(errLoggerKey, err.Error()))
	}
}
