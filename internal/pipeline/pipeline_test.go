package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/etdemand/internal/budget"
	"github.com/lox/etdemand/internal/config"
	"github.com/lox/etdemand/internal/deck"
	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
	"github.com/lox/etdemand/internal/store"
)

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(ctx context.Context, res *models.ComparisonResult) (string, error) {
	f.calls++
	return fmt.Sprintf("r2 %.2f", res.RSquared), nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

// The engine stand-in pumps 3 steps for each of the two wells.
const engineScript = `#!/bin/sh
cat > "${ETDEMAND_MODEL}_ag.out" <<'LOG'
pkg pid kstp q_from_provider q_to_receiver
wel_0 0 1 -60 60
wel_0 0 1 -40 40
wel_0 1 1 -49 49
wel_0 0 2 -80 80
wel_0 1 2 -51 51
wel_0 0 3 -99 99
wel_0 1 3 -50 50
LOG
: > "$ETDEMAND_MODEL.cbc"
: > "$ETDEMAND_MODEL.hds"
`

func writeReference(t *testing.T, dir, name string) {
	t.Helper()
	var buf bytes.Buffer
	w := func(v any) { require.NoError(t, binary.Write(&buf, binary.LittleEndian, v)) }
	steps := [][2]float32{{-100, -50}, {-80, -50}, {-100, -50}}
	for i, q := range steps {
		w([]int32{int32(i + 1), 1})
		buf.WriteString(fmt.Sprintf("%16s", "AG WE"))
		w([]int32{10, 10, -1, budget.MethodList})
		w([]float32{1, float32(i + 1), float32(i + 1)})
		w(int32(2))
		w(int32(13))
		w(q[0])
		w(int32(55))
		w(q[1])
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, deck.BudgetFile(name)), buf.Bytes(), 0644))
}

func testConfig(t *testing.T, engine string) *config.Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	root := t.TempDir()
	cfg := config.Default()
	cfg.Workspace = filepath.Join(root, "mf6")
	cfg.Reconcile.ReferenceDir = filepath.Join(root, "nwt")
	require.NoError(t, os.MkdirAll(cfg.Reconcile.ReferenceDir, 0755))
	writeReference(t, cfg.Reconcile.ReferenceDir, cfg.Name)

	var csv strings.Builder
	csv.WriteString("month,ppt_avg_m,eto_avg_m\n")
	for m := 1; m <= 12; m++ {
		fmt.Fprintf(&csv, "%d,0.0998,0.0328\n", m)
	}
	cfg.Climate.Source = filepath.Join(root, "davis.csv")
	require.NoError(t, os.WriteFile(cfg.Climate.Source, []byte(csv.String()), 0644))

	cfg.Engine.Binary = filepath.Join(root, "engine.sh")
	require.NoError(t, os.WriteFile(cfg.Engine.Binary, []byte(engine), 0755))
	return cfg
}

func TestExecuteEndToEnd(t *testing.T) {
	cfg := testConfig(t, engineScript)
	st := testStore(t)
	sum := &fakeSummarizer{}
	p := New(cfg, nil, WithStore(st), WithSummarizer(sum))

	out, err := p.Execute(context.Background(), Options{Run: true, Compare: true})
	require.NoError(t, err)

	require.NotNil(t, out.Comparison)
	res := out.Comparison
	assert.Equal(t, 430.0, res.TotalReference)
	assert.Equal(t, 429.0, res.TotalCoupled)
	assert.Equal(t, -1.0, res.Discrepancy)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, []float64{-100, -80, -99}, res.Entities[0].Coupled)
	assert.Equal(t, 1, sum.calls)
	assert.Equal(t, fmt.Sprintf("r2 %.2f", res.RSquared), out.Summary)

	runs, err := st.RecentRuns(cfg.Name, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.True(t, r.Success, "stage %s", r.Stage)
	}

	cmps, err := st.RecentComparisons(cfg.Name, 10)
	require.NoError(t, err)
	require.Len(t, cmps, 1)
	assert.Equal(t, -1.0, cmps[0].Discrepancy)
	assert.Len(t, cmps[0].Entities, 2)

	archived, err := st.LatestRawPayload(cfg.Climate.Source)
	require.NoError(t, err)
	assert.Contains(t, string(archived), "ppt_avg_m")
}

func TestExecuteLoadExistingWithoutRun(t *testing.T) {
	cfg := testConfig(t, engineScript)
	p := New(cfg, nil)

	_, err := p.Execute(context.Background(), Options{Run: true})
	require.NoError(t, err)

	out, err := p.Execute(context.Background(), Options{LoadExisting: true, Compare: true})
	require.NoError(t, err)
	assert.Nil(t, out.Model.Deck)
	assert.Equal(t, 430.0, out.Comparison.TotalReference)
}

func TestExecuteLoadExistingMissing(t *testing.T) {
	cfg := testConfig(t, engineScript)
	_, err := New(cfg, nil).Execute(context.Background(), Options{LoadExisting: true})
	assert.True(t, errors.Is(err, failure.ErrMissingArtifact), "got %v", err)
}

func TestExecuteEngineFailure(t *testing.T) {
	cfg := testConfig(t, "#!/bin/sh\necho diverged\nexit 1\n")
	st := testStore(t)

	out, err := New(cfg, nil, WithStore(st)).Execute(context.Background(), Options{Run: true, Compare: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSimulation))
	assert.Nil(t, out.Comparison)

	runs, err := st.RecentRuns(cfg.Name, 10)
	require.NoError(t, err)
	var failed []store.Run
	for _, r := range runs {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "run", failed[0].Stage)
	assert.Equal(t, "simulation", failed[0].ErrorKind.String)
}

func TestCompareRejectsInvalidWorkspace(t *testing.T) {
	cfg := testConfig(t, engineScript)
	p := New(cfg, nil)
	_, err := p.Execute(context.Background(), Options{Run: true})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), deck.InvalidMarker), []byte("aborted\n"), 0644))
	_, err = p.Compare(context.Background())
	assert.True(t, errors.Is(err, failure.ErrSimulation), "got %v", err)
}

func TestCompareFollowsWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Workspace = filepath.Join(root, "elsewhere")
	cfg.Reconcile.ReferenceDir = filepath.Join(root, "nwt")
	require.NoError(t, os.MkdirAll(cfg.Reconcile.ReferenceDir, 0755))
	writeReference(t, cfg.Reconcile.ReferenceDir, cfg.Name)

	p := New(cfg, nil)
	require.NoError(t, os.MkdirAll(p.Dir(), 0755))
	log := "pkg pid kstp q_from_provider q_to_receiver\n" +
		"wel_0 0 1 -100 100\nwel_0 1 1 -50 50\n" +
		"wel_0 0 2 -80 80\nwel_0 1 2 -50 50\n" +
		"wel_0 0 3 -100 100\nwel_0 1 3 -50 50\n"
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), deck.CouplingLog(cfg.Name)), []byte(log), 0644))

	res, err := p.Compare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 430.0, res.TotalCoupled)
	assert.Equal(t, 0.0, res.Discrepancy)

	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), deck.InvalidMarker), nil, 0644))
	_, err = p.Compare(context.Background())
	assert.True(t, errors.Is(err, failure.ErrSimulation), "got %v", err)
}

func TestLoadClimateFallsBackToArchive(t *testing.T) {
	cfg := testConfig(t, engineScript)
	st := testStore(t)

	cfg.Climate.Source = "http://127.0.0.1:1/davis.csv"
	cfg.Climate.MaxFetchElapsed = "1ms"
	var csv strings.Builder
	csv.WriteString("ppt_avg_m,eto_avg_m\n")
	for m := 0; m < 12; m++ {
		csv.WriteString("0.1,0.05\n")
	}
	_, err := st.StoreRawPayload("", cfg.Climate.Source, "http", []byte(csv.String()))
	require.NoError(t, err)

	rec, err := New(cfg, nil, WithStore(st)).LoadClimate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 12, rec.Len())

	_, err = New(cfg, nil).LoadClimate(context.Background(), "")
	assert.Error(t, err)
}
