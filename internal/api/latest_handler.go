package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-fms/internal/livecache"
)

// LatestReader is the read side of the latest-tick cache.
type LatestReader interface {
	GetLatest(ctx context.Context, cameraID string) ([]byte, error)
}

type LatestHandler struct {
	Cache LatestReader
}

func NewLatestHandler(cache LatestReader) *LatestHandler {
	return &LatestHandler{Cache: cache}
}

// Get serves the most recent tick of a camera as stored, already JSON.
func (h *LatestHandler) Get(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")
	if cameraID == "" {
		http.Error(w, "missing camera id", http.StatusBadRequest)
		return
	}

	raw, err := h.Cache.GetLatest(r.Context(), cameraID)
	if err != nil {
		if errors.Is(err, livecache.ErrNoTick) {
			http.Error(w, "no recent tick", http.StatusNotFound)
			return
		}
		http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}
