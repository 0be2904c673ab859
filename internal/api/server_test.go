package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	internaldb "github.com/harishkarthiktk/dupFinder/internal/db"
	"github.com/harishkarthiktk/dupFinder/internal/scan"
	"github.com/harishkarthiktk/dupFinder/internal/store"
)

func newTestServer(tb testing.TB, cfg scan.Config) (*Server, *store.Store, *scan.Manager) {
	tb.Helper()
	db, err := internaldb.Open(filepath.Join(tb.TempDir(), "api-test.db"))
	if err != nil {
		tb.Fatalf("open database: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	if err := internaldb.RunMigrations(db); err != nil {
		tb.Fatalf("run migrations: %v", err)
	}
	st := store.New(db, 0)
	mgr := scan.NewManager(st, cfg)
	return New(":0", st, mgr, "testing"), st, mgr
}

func doRequest(tb testing.TB, srv *Server, method, target string) *httptest.ResponseRecorder {
	tb.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(tb testing.TB, rec *httptest.ResponseRecorder, v any) {
	tb.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		tb.Fatalf("decode response: %v", err)
	}
}

// seedDuplicates inserts n records of the given size sharing one full
// hash, plus one unique record, straight through the store.
func seedDuplicates(tb testing.TB, st *store.Store, n int) {
	tb.Helper()
	ctx := context.Background()
	now := time.Now()

	obs := make([]store.Observation, 0, n+1)
	for i := 0; i < n; i++ {
		obs = append(obs, store.Observation{
			AbsolutePath: fmt.Sprintf("/library/copy-%d.bin", i),
			Filename:     fmt.Sprintf("copy-%d.bin", i),
			FileSize:     512,
			ModifiedTime: now,
			ScanDate:     now,
		})
	}
	obs = append(obs, store.Observation{
		AbsolutePath: "/library/unique.bin",
		Filename:     "unique.bin",
		FileSize:     768,
		ModifiedTime: now,
		ScanDate:     now,
	})
	if err := st.ObserveBatch(ctx, obs); err != nil {
		tb.Fatalf("observe: %v", err)
	}

	pending, err := st.Pending(ctx)
	if err != nil {
		tb.Fatalf("pending: %v", err)
	}
	updates := make([]store.HashUpdate, 0, len(pending))
	for _, p := range pending {
		u := store.HashUpdate{ID: p.ID, TierOne: "t1-unique", Full: "full-unique"}
		if strings.Contains(p.AbsolutePath, "copy-") {
			u.TierOne = "t1-shared"
			u.Full = "full-shared"
		}
		updates = append(updates, u)
	}
	if err := st.SetHashBatch(ctx, updates); err != nil {
		tb.Fatalf("set hashes: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "testing" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusEmptyStore(t *testing.T) {
	srv, _, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})

	rec := doRequest(t, srv, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statusResponse
	decodeBody(t, rec, &body)
	if body.Records != 0 {
		t.Errorf("records = %d, want 0", body.Records)
	}
	if body.LastScanAt != nil {
		t.Errorf("last_scan_at = %v, want nil before any scan", body.LastScanAt)
	}
	if body.ActiveScan != nil {
		t.Errorf("active_scan should be nil when idle")
	}
}

func TestRecordsPagination(t *testing.T) {
	srv, st, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})
	seedDuplicates(t, st, 2)

	rec := doRequest(t, srv, http.MethodGet, "/api/records?limit=2&offset=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body ListResponse[recordItem]
	decodeBody(t, rec, &body)
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Items) != 2 {
		t.Errorf("items = %d, want 2", len(body.Items))
	}
	if body.Limit != 2 || body.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want 2/0", body.Limit, body.Offset)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/records?limit=2&offset=2")
	decodeBody(t, rec, &body)
	if len(body.Items) != 1 {
		t.Errorf("second page items = %d, want 1", len(body.Items))
	}
}

func TestRecordsPaginationClampsBadValues(t *testing.T) {
	srv, _, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})

	rec := doRequest(t, srv, http.MethodGet, "/api/records?limit=9999&offset=-3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body ListResponse[recordItem]
	decodeBody(t, rec, &body)
	if body.Limit != 50 || body.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want defaults 50/0", body.Limit, body.Offset)
	}
}

func TestGroupsEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})
	seedDuplicates(t, st, 3)

	rec := doRequest(t, srv, http.MethodGet, "/api/groups")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body groupsResponse
	decodeBody(t, rec, &body)
	if len(body.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(body.Groups))
	}
	g := body.Groups[0]
	if g.Hash != "full-shared" || g.Count != 3 || len(g.Paths) != 3 {
		t.Errorf("unexpected group: %+v", g)
	}
	if g.Wasted != 1024 {
		t.Errorf("wasted = %d, want 1024", g.Wasted)
	}
	if body.Stats.Files != 4 || body.Stats.Duplicates != 3 {
		t.Errorf("unexpected stats: %+v", body.Stats)
	}
}

func TestScanLifecycleOverHTTP(t *testing.T) {
	root := t.TempDir()
	for name, content := range map[string]string{
		"a.txt": "same content!",
		"b.txt": "same content!",
	} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	srv, _, mgr := newTestServer(t, scan.Config{
		Roots:     []string{root},
		Algorithm: "sha256",
		Workers:   2,
	})

	rec := doRequest(t, srv, http.MethodPost, "/api/scans")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(10 * time.Second)
	for mgr.ActiveScan() != nil {
		if time.Now().After(deadline) {
			t.Fatal("scan did not finish in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	status := doRequest(t, srv, http.MethodGet, "/api/status")
	var sb statusResponse
	decodeBody(t, status, &sb)
	if sb.Records != 2 {
		t.Errorf("records = %d, want 2", sb.Records)
	}
	if sb.LastScanAt == nil {
		t.Error("last_scan_at should be set after a completed scan")
	}
	if sb.LastResult == nil || sb.LastResult.Err != "" {
		t.Errorf("unexpected last result: %+v", sb.LastResult)
	}

	groups := doRequest(t, srv, http.MethodGet, "/api/groups")
	var gb groupsResponse
	decodeBody(t, groups, &gb)
	if len(gb.Groups) != 1 || len(gb.Groups[0].Paths) != 2 {
		t.Fatalf("unexpected groups after scan: %+v", gb.Groups)
	}
}

func TestScanConflictReturns409(t *testing.T) {
	root := t.TempDir()
	// Two large duplicates keep the first scan busy hashing long enough
	// for the second create to land while it is still running.
	payload := bytes.Repeat([]byte("conflict"), 1<<20)
	for _, name := range []string{"a.bin", "b.bin"} {
		if err := os.WriteFile(filepath.Join(root, name), payload, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	srv, _, mgr := newTestServer(t, scan.Config{
		Roots:     []string{root},
		Algorithm: "sha256",
		Workers:   1,
	})

	first := doRequest(t, srv, http.MethodPost, "/api/scans")
	if first.Code != http.StatusAccepted {
		t.Fatalf("first scan status = %d, want 202", first.Code)
	}
	second := doRequest(t, srv, http.MethodPost, "/api/scans")
	if second.Code != http.StatusConflict {
		t.Fatalf("second scan status = %d, want 409", second.Code)
	}
	var body ErrorBody
	decodeBody(t, second, &body)
	if body.Error.Code != "SCAN_ALREADY_RUNNING" {
		t.Errorf("code = %q, want SCAN_ALREADY_RUNNING", body.Error.Code)
	}

	cancel := doRequest(t, srv, http.MethodDelete, "/api/scans/current")
	if cancel.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", cancel.Code)
	}
	deadline := time.Now().Add(10 * time.Second)
	for mgr.ActiveScan() != nil {
		if time.Now().After(deadline) {
			t.Fatal("scan did not stop after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCancelWithoutScanReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})

	rec := doRequest(t, srv, http.MethodDelete, "/api/scans/current")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body ErrorBody
	decodeBody(t, rec, &body)
	if body.Error.Code != "NO_ACTIVE_SCAN" {
		t.Errorf("code = %q, want NO_ACTIVE_SCAN", body.Error.Code)
	}
}

func TestScanCreateRejectsBadAlgorithm(t *testing.T) {
	srv, _, _ := newTestServer(t, scan.Config{Algorithm: "crc32"})

	rec := doRequest(t, srv, http.MethodPost, "/api/scans")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body ErrorBody
	decodeBody(t, rec, &body)
	if body.Error.Code != "SCAN_START_FAILED" {
		t.Errorf("code = %q, want SCAN_START_FAILED", body.Error.Code)
	}
}

func TestReportPage(t *testing.T) {
	srv, st, _ := newTestServer(t, scan.Config{Algorithm: "sha256"})
	seedDuplicates(t, st, 2)

	rec := doRequest(t, srv, http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content-type = %q, want text/html", ct)
	}
	html := rec.Body.String()
	for _, want := range []string{"/library/copy-0.bin", "/library/copy-1.bin"} {
		if !strings.Contains(html, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("</html>")) {
		t.Error("report is not a complete HTML document")
	}
}
