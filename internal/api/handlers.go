package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/harishkarthiktk/dupFinder/internal/dupes"
	"github.com/harishkarthiktk/dupFinder/internal/report"
	"github.com/harishkarthiktk/dupFinder/internal/scan"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

// handler carries the dependencies shared by every endpoint.
type handler struct {
	store   *store.Store
	manager *scan.Manager
	version string
}

// ListResponse is the standard paginated list envelope.
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// ErrorBody is the standard error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError holds a machine-readable code and a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serialises v as JSON with status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode", "error", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{
		Error: APIError{Code: code, Message: message},
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return
}

// Health handles GET /healthz.
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

type activeScanInfo struct {
	StartedAt   time.Time             `json:"started_at"`
	TriggeredBy string                `json:"triggered_by"`
	Progress    scan.ProgressSnapshot `json:"progress"`
}

type statusResponse struct {
	Version    string           `json:"version"`
	Records    int64            `json:"records"`
	Algorithm  string           `json:"algorithm"`
	LastScanAt *time.Time       `json:"last_scan_at,omitempty"`
	ActiveScan *activeScanInfo  `json:"active_scan,omitempty"`
	LastResult *scan.LastResult `json:"last_result,omitempty"`
}

// Status handles GET /api/status.
func (h *handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.store.Count(ctx)
	if err != nil {
		slog.Error("status: count records", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}
	algorithm, err := h.store.Algorithm(ctx)
	if err != nil {
		slog.Error("status: read algorithm", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}
	watermark, err := h.store.Watermark(ctx)
	if err != nil {
		slog.Error("status: read watermark", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}

	resp := statusResponse{
		Version:    h.version,
		Records:    count,
		Algorithm:  algorithm,
		LastResult: h.manager.Last(),
	}
	if !watermark.IsZero() {
		t := watermark.UTC()
		resp.LastScanAt = &t
	}
	if active := h.manager.ActiveScan(); active != nil {
		resp.ActiveScan = &activeScanInfo{
			StartedAt:   active.StartedAt.UTC(),
			TriggeredBy: active.TriggeredBy,
			Progress:    active.Progress.Snapshot(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordItem struct {
	ID           int64  `json:"id"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
	TierOneHash  string `json:"tier1_hash,omitempty"`
	FullHash     string `json:"full_hash,omitempty"`
	ScanDate     string `json:"scan_date"`
}

// Records handles GET /api/records with limit/offset pagination.
func (h *handler) Records(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePagination(r)

	records, err := h.store.Page(ctx, limit, offset)
	if err != nil {
		slog.Error("records: page", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}
	total, err := h.store.Count(ctx)
	if err != nil {
		slog.Error("records: count", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}

	items := make([]recordItem, 0, len(records))
	for _, rec := range records {
		items = append(items, recordItem{
			ID:           rec.ID,
			Path:         rec.AbsolutePath,
			Size:         rec.FileSize,
			ModifiedTime: rec.ModifiedTime.UTC().Format(time.RFC3339Nano),
			TierOneHash:  rec.TierOneHash,
			FullHash:     rec.FullHash,
			ScanDate:     rec.ScanDate.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, ListResponse[recordItem]{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

type groupItem struct {
	dupes.Group
	Count int `json:"count"`
}

type groupsResponse struct {
	Groups []groupItem `json:"groups"`
	Stats  dupes.Stats `json:"stats"`
}

// Groups handles GET /api/groups. Groups are recomputed from the store
// on every call so the view always reflects the latest scan.
func (h *handler) Groups(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.All(r.Context())
	if err != nil {
		slog.Error("groups: load records", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read the store")
		return
	}

	groups := dupes.Groups(records)
	items := make([]groupItem, 0, len(groups))
	for _, g := range groups {
		items = append(items, groupItem{Group: g, Count: len(g.Paths)})
	}
	writeJSON(w, http.StatusOK, groupsResponse{
		Groups: items,
		Stats:  dupes.Summarize(records),
	})
}

// ScanCreate handles POST /api/scans. The scan itself runs on a
// background context so it outlives the request.
func (h *handler) ScanCreate(w http.ResponseWriter, r *http.Request) {
	active, err := h.manager.Start(context.Background(), "api")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "SCAN_ALREADY_RUNNING", "A scan is already in progress")
			return
		}
		slog.Error("scans: start", "error", err)
		writeError(w, http.StatusInternalServerError, "SCAN_START_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "running",
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// ScanCancel handles DELETE /api/scans/current.
func (h *handler) ScanCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveScan) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_SCAN", "No scan is currently running")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "cancelling",
		"started_at":   snap.StartedAt.UTC().Format(time.RFC3339),
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReportPage handles GET / with a rendered HTML duplicate report.
func (h *handler) ReportPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.store.All(ctx)
	if err != nil {
		slog.Error("report: load records", "error", err)
		http.Error(w, "failed to read the store", http.StatusInternalServerError)
		return
	}
	algorithm, err := h.store.Algorithm(ctx)
	if err != nil {
		slog.Error("report: read algorithm", "error", err)
		http.Error(w, "failed to read the store", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Write(w, report.Build(records, algorithm, time.Now())); err != nil {
		slog.Error("report: render", "error", err)
	}
}
