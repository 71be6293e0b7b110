package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/counterdata-network/story-processor/internal/db"
)

type fakeStats struct {
	totals    db.Totals
	projects  map[int64]db.ProjectStats
	buckets   []db.DayCount
	totalsErr error
}

func (f *fakeStats) Totals(context.Context) (db.Totals, error) {
	return f.totals, f.totalsErr
}

func (f *fakeStats) ProjectStats(_ context.Context, projectID int64) (db.ProjectStats, error) {
	return f.projects[projectID], nil
}

func (f *fakeStats) ProcessedByDay(_ context.Context, _ int64, _ int) ([]db.DayCount, error) {
	return f.buckets, nil
}

func testRequest(t *testing.T, stats StatsSource, path string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()

	server := NewServer(stats, zerolog.Nop(), Options{})
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.router().ServeHTTP(rec, req)

	var body jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response for %s: %v (body %q)", path, err, rec.Body.String())
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec, body := testRequest(t, &fakeStats{}, "/healthz")
	if rec.Code != http.StatusOK || body.Status != "success" {
		t.Fatalf("healthz = %d %q", rec.Code, body.Status)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	queuedAt := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	stats := &fakeStats{totals: db.Totals{
		Projects:       3,
		Stories:        120,
		Processed:      100,
		AboveThreshold: 40,
		Posted:         38,
		LastQueuedAt:   &queuedAt,
	}}

	rec, body := testRequest(t, stats, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	data, ok := body.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", body.Data)
	}
	if data["stories"] != float64(120) || data["posted"] != float64(38) {
		t.Fatalf("unexpected totals payload: %v", data)
	}
}

func TestStatsFailureIsJSONError(t *testing.T) {
	t.Parallel()

	rec, body := testRequest(t, &fakeStats{totalsErr: errors.New("db down")}, "/api/stats")
	if rec.Code != http.StatusInternalServerError || body.Status != "error" {
		t.Fatalf("got %d %q, want a jsend error", rec.Code, body.Status)
	}
}

func TestProjectStatsValidatesID(t *testing.T) {
	t.Parallel()

	rec, body := testRequest(t, &fakeStats{}, "/api/projects/nope/stats")
	if rec.Code != http.StatusBadRequest || body.Status != "fail" {
		t.Fatalf("got %d %q, want a validation failure", rec.Code, body.Status)
	}
}

func TestProcessedByDayBoundsDays(t *testing.T) {
	t.Parallel()

	rec, _ := testRequest(t, &fakeStats{}, "/api/projects/1/processed-by-day?days=900")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("days=900 accepted with status %d", rec.Code)
	}

	rec, body := testRequest(t, &fakeStats{buckets: []db.DayCount{{Day: "2026-02-10", Stories: 5}}}, "/api/projects/1/processed-by-day")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := body.Data.(map[string]any)
	if data["days"] != float64(30) {
		t.Fatalf("default days = %v, want 30", data["days"])
	}
}
