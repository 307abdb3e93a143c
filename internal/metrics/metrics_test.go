package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/etdemand/internal/models"
)

func TestObserveStage(t *testing.T) {
	before := testutil.ToFloat64(StageFailures.WithLabelValues("run", "simulation"))
	ObserveStage("run", time.Now(), errors.New("exit 1"), "simulation")
	ObserveStage("run", time.Now(), nil, "")
	assert.Equal(t, before+1, testutil.ToFloat64(StageFailures.WithLabelValues("run", "simulation")))
}

func TestRecordComparisonAndWrite(t *testing.T) {
	RecordComparison(&models.ComparisonResult{
		Model: "toy", RSquared: 0.97, Discrepancy: -1, VolumeReference: 2, VolumeCoupled: 1.5,
	})
	assert.Equal(t, 0.97, testutil.ToFloat64(ComparisonRSquared.WithLabelValues("toy")))
	assert.Equal(t, 1.5, testutil.ToFloat64(AppliedVolume.WithLabelValues("toy", "coupled")))

	path := filepath.Join(t.TempDir(), "etdemand.prom")
	require.NoError(t, WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), `etdemand_comparison_r_squared{model="toy"} 0.97`))
}
