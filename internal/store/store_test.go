package store

import (
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/etdemand/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, nil)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	ok, err := store.StartRun("etdemand_well", "build", "/ws/etdemand_well")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if len(ok.ID) != 36 {
		t.Errorf("run id %q is not a uuid", ok.ID)
	}
	if err := store.CompleteRun(ok, nil, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	failed, err := store.StartRun("etdemand_well", "run", "/ws/etdemand_well")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := store.CompleteRun(failed, errors.New("engine exited with status 2"), "simulation"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	runs, err := store.RecentRuns("etdemand_well", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	byStage := map[string]Run{}
	for _, r := range runs {
		byStage[r.Stage] = r
	}
	if !byStage["build"].Success || !byStage["build"].FinishedAt.Valid {
		t.Errorf("build run = %+v, want finished successfully", byStage["build"])
	}
	run := byStage["run"]
	if run.Success {
		t.Error("run stage marked successful")
	}
	if run.ErrorKind.String != "simulation" || run.ErrorMessage.String != "engine exited with status 2" {
		t.Errorf("error = %q/%q", run.ErrorKind.String, run.ErrorMessage.String)
	}

	other, err := store.RecentRuns("other", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("len(other) = %d, want 0", len(other))
	}
	if err := store.CompleteRun(nil, nil, ""); err != nil {
		t.Errorf("CompleteRun(nil) = %v", err)
	}
}

func TestSaveComparison(t *testing.T) {
	store := setupTestStore(t)

	res := &models.ComparisonResult{
		Model:           "etdemand_well",
		RSquared:        0.93,
		Discrepancy:     -12.5,
		TotalReference:  1500,
		TotalCoupled:    1487.5,
		VolumeReference: 1500 * 0.000810714,
		VolumeCoupled:   1487.5 * 0.000810714,
		Entities: []models.EntitySeries{
			{ProviderID: 1, ReferenceNode: 55, Reference: make([]float64, 365), VolumeReference: 0.4, VolumeCoupled: 0.39},
			{ProviderID: 0, ReferenceNode: 13, Reference: make([]float64, 365), VolumeReference: 0.8, VolumeCoupled: 0.81},
		},
	}
	id, err := store.SaveComparison("run-1", res)
	if err != nil {
		t.Fatalf("SaveComparison: %v", err)
	}
	if id == 0 {
		t.Fatal("SaveComparison returned id 0")
	}

	nan := *res
	nan.RSquared = math.NaN()
	nan.Entities = nil
	if _, err := store.SaveComparison("", &nan); err != nil {
		t.Fatalf("SaveComparison(NaN): %v", err)
	}

	got, err := store.RecentComparisons("etdemand_well", 5)
	if err != nil {
		t.Fatalf("RecentComparisons: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].RSquared.Valid {
		t.Errorf("newest r_squared = %v, want null", got[0].RSquared)
	}
	old := got[1]
	if !old.RSquared.Valid || old.RSquared.Float64 != 0.93 {
		t.Errorf("r_squared = %v, want 0.93", old.RSquared)
	}
	if old.RunID.String != "run-1" || old.Discrepancy != -12.5 {
		t.Errorf("comparison = %+v", old)
	}
	if len(old.Entities) != 2 {
		t.Fatalf("len(entities) = %d, want 2", len(old.Entities))
	}
	if old.Entities[0].ProviderID != 0 || old.Entities[0].ReferenceNode != 13 || old.Entities[0].Steps != 365 {
		t.Errorf("entity[0] = %+v", old.Entities[0])
	}
}

func TestRawPayloadDedup(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("ppt_avg_m,eto_avg_m\n0.0998,0.0328\n")

	id, err := store.StoreRawPayload("run-1", "https://example.com/davis.csv", "https", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("first store returned id 0")
	}

	dup, err := store.StoreRawPayload("run-2", "https://example.com/davis.csv", "https", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload dup: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	p, err := store.GetRawPayloadByHash(PayloadHash(payload))
	if err != nil || p == nil {
		t.Fatalf("GetRawPayloadByHash = %v, %v", p, err)
	}
	if p.Scheme != "https" || p.RunID.String != "run-1" {
		t.Errorf("payload meta = %+v", p)
	}

	latest, err := store.LatestRawPayload("https://example.com/davis.csv")
	if err != nil {
		t.Fatalf("LatestRawPayload: %v", err)
	}
	if string(latest) != string(payload) {
		t.Errorf("latest = %q", latest)
	}
	none, err := store.LatestRawPayload("ftp://nowhere/x.csv")
	if err != nil || none != nil {
		t.Errorf("LatestRawPayload(missing) = %q, %v", none, err)
	}
}

func TestOpenFile(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "etdemand.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if _, err := store.StartRun("m", "build", ""); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
}

func TestCleanupOldRawPayloads(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.StoreRawPayload("run-1", "davis.csv", "file", []byte("old")); err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if _, err := store.StoreRawPayload("run-2", "davis.csv", "file", []byte("new")); err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if _, err := store.db.Exec(`UPDATE raw_payloads SET fetched_at = DATETIME('now', '-120 days') WHERE run_id = 'run-1'`); err != nil {
		t.Fatalf("age payload: %v", err)
	}

	n, err := store.CleanupOldRawPayloads(90)
	if err != nil {
		t.Fatalf("CleanupOldRawPayloads: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	latest, err := store.LatestRawPayload("davis.csv")
	if err != nil || string(latest) != "new" {
		t.Errorf("latest = %q, %v", latest, err)
	}
}
