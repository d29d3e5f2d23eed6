package store

import (
	"bytes"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/wandiforecast/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testRequest(key string, g models.Granularity) ArchiveRequest {
	return ArchiveRequest{
		Key:         key,
		Location:    models.Location{Latitude: 50.45, Longitude: 30.52},
		Start:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC),
		Granularity: g,
	}
}

func TestArchivePayload_PutAndGet(t *testing.T) {
	store := setupTestStore(t)

	payload := []byte(`{"daily":{"time":["2024-01-01"],"weather_code":[3]}}`)
	req := testRequest("50.4500,30.5200|2024-01-01|2024-01-07|daily", models.Daily)
	if err := store.PutArchivePayload(req, payload); err != nil {
		t.Fatalf("PutArchivePayload: %v", err)
	}

	got, err := store.GetArchivePayload(req.Key)
	if err != nil {
		t.Fatalf("GetArchivePayload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %s, want %s", got, payload)
	}

	meta, err := store.GetArchivePayloadMeta(req.Key)
	if err != nil {
		t.Fatalf("GetArchivePayloadMeta: %v", err)
	}
	if meta == nil {
		t.Fatal("GetArchivePayloadMeta returned nil")
	}
	if meta.StartDate != "2024-01-01" || meta.EndDate != "2024-01-07" {
		t.Errorf("range = %s..%s, want 2024-01-01..2024-01-07", meta.StartDate, meta.EndDate)
	}
	if meta.Granularity != "Daily" {
		t.Errorf("Granularity = %q, want Daily", meta.Granularity)
	}
	if len(meta.PayloadHash) != 64 {
		t.Errorf("PayloadHash = %q, want sha256 hex", meta.PayloadHash)
	}
	if time.Since(meta.FetchedAt) > time.Minute {
		t.Errorf("FetchedAt = %v, want about now", meta.FetchedAt)
	}
}

func TestArchivePayload_Missing(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.GetArchivePayload("nope")
	if err != nil {
		t.Fatalf("GetArchivePayload: %v", err)
	}
	if got != nil {
		t.Errorf("GetArchivePayload = %q, want nil", got)
	}

	meta, err := store.GetArchivePayloadMeta("nope")
	if err != nil || meta != nil {
		t.Errorf("GetArchivePayloadMeta = %v, %v; want nil, nil", meta, err)
	}
}

func TestArchivePayload_Replace(t *testing.T) {
	store := setupTestStore(t)
	req := testRequest("key", models.Hourly)

	if err := store.PutArchivePayload(req, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := store.PutArchivePayload(req, []byte("second")); err != nil {
		t.Fatalf("PutArchivePayload replace: %v", err)
	}

	got, err := store.GetArchivePayload("key")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("payload = %q, want second", got)
	}

	stats, err := store.GetPayloadStats()
	if err != nil {
		t.Fatalf("GetPayloadStats: %v", err)
	}
	if stats.TotalCount != 1 {
		t.Errorf("TotalCount = %d, want 1", stats.TotalCount)
	}
	if stats.CountByGranularity["Hourly"] != 1 {
		t.Errorf("CountByGranularity = %v", stats.CountByGranularity)
	}
	if stats.NewestFetchedAt.IsZero() {
		t.Error("NewestFetchedAt should be set")
	}
}

func TestCleanupOldArchivePayloads(t *testing.T) {
	store := setupTestStore(t)
	if err := store.PutArchivePayload(testRequest("fresh", models.Daily), []byte("x")); err != nil {
		t.Fatal(err)
	}

	n, err := store.CleanupOldArchivePayloads(30)
	if err != nil {
		t.Fatalf("CleanupOldArchivePayloads: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d fresh payloads, want 0", n)
	}
}

func TestFetchRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.StartFetchRun("key", "Daily")
	if err != nil {
		t.Fatalf("StartFetchRun: %v", err)
	}
	if run.ID == 0 {
		t.Error("run.ID should be set")
	}

	run.HTTPStatus = sql.NullInt64{Int64: 200, Valid: true}
	run.ResponseSizeBytes = sql.NullInt64{Int64: 2048, Valid: true}
	run.RecordsParsed = sql.NullInt64{Int64: 7, Valid: true}
	run.Attempts = sql.NullInt64{Int64: 1, Valid: true}
	run.Success = true
	if err := store.CompleteFetchRun(run); err != nil {
		t.Fatalf("CompleteFetchRun: %v", err)
	}

	health, err := store.GetFetchHealth(1)
	if err != nil {
		t.Fatalf("GetFetchHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	if health[0].SuccessRuns != 1 || health[0].TotalRecords != 7 {
		t.Errorf("health = %+v", health[0])
	}
}

func TestFetchHealth_Aggregation(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartFetchRun("a", "Daily")
	if err != nil {
		t.Fatal(err)
	}
	ok.Success = true
	ok.Attempts = sql.NullInt64{Int64: 1, Valid: true}
	if err := store.CompleteFetchRun(ok); err != nil {
		t.Fatal(err)
	}

	failed, err := store.StartFetchRun("b", "Daily")
	if err != nil {
		t.Fatal(err)
	}
	failed.HTTPStatus = sql.NullInt64{Int64: 503, Valid: true}
	failed.Attempts = sql.NullInt64{Int64: 6, Valid: true}
	failed.ErrorMessage = sql.NullString{String: "service unavailable", Valid: true}
	if err := store.CompleteFetchRun(failed); err != nil {
		t.Fatal(err)
	}

	health, err := store.GetFetchHealth(1)
	if err != nil {
		t.Fatalf("GetFetchHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	h := health[0]
	if h.TotalRuns != 2 || h.SuccessRuns != 1 || h.FailedRuns != 1 {
		t.Errorf("runs = %d/%d/%d, want 2/1/1", h.TotalRuns, h.SuccessRuns, h.FailedRuns)
	}
	if h.TotalAttempts != 7 {
		t.Errorf("TotalAttempts = %d, want 7", h.TotalAttempts)
	}

	errs, err := store.GetRecentFetchErrors(10)
	if err != nil {
		t.Fatalf("GetRecentFetchErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errs))
	}
	if errs[0].ErrorMessage.String != "service unavailable" {
		t.Errorf("ErrorMessage = %q", errs[0].ErrorMessage.String)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Errorf("second Migrate: %v", err)
	}
}
