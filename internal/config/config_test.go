package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/etdemand/internal/failure"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.Schedule.Periods)
	assert.Len(t, cfg.Schedule.Lengths, 12)
	assert.Equal(t, 100, cfg.Grid.Grid().Cells())
	assert.Empty(t, cfg.Reconcile.CoupledDir, "coupled outputs follow the workspace")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	data := `
name: trigger
grid:
  rows: 4
  cols: 5
wells:
  - {layer: 0, row: 1, col: 1, rate: -20}
mover:
  routes:
    - {well: 0, target_start: 0, target_count: 2, rule: UPTO, rate_cap: 10}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trigger", cfg.Name)
	assert.Equal(t, 4, cfg.Grid.Rows)
	assert.Equal(t, 5, cfg.Grid.Cols)
	assert.Equal(t, 1, cfg.Grid.Layers, "unset fields keep defaults")
	assert.Equal(t, 63.6, cfg.Grid.DelR)
	require.Len(t, cfg.Wells, 1, "lists replace defaults")
	assert.Equal(t, -20.0, cfg.Wells[0].Rate)
	require.Len(t, cfg.Mover.Routes, 1)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"zero rows", func(c *Config) { c.Grid.Rows = 0 }},
		{"no periods", func(c *Config) { c.Schedule.Periods = 0 }},
		{"bad step policy", func(c *Config) { c.Schedule.StepPolicy = "weekly" }},
		{"fixed without steps", func(c *Config) { c.Schedule.StepPolicy = "fixed"; c.Schedule.StepsPerPeriod = 0 }},
		{"thts below thtr", func(c *Config) { c.UZF.ThetaS = 0.01 }},
		{"thti outside range", func(c *Config) { c.UZF.ThetaI = 0.9 }},
		{"zero sig figs", func(c *Config) { c.UZF.SigFigs = 0 }},
		{"well outside grid", func(c *Config) { c.Wells[0].Row = 10 }},
		{"bad timeout", func(c *Config) { c.Engine.Timeout = "soon" }},
		{"zero unit conversion", func(c *Config) { c.Reconcile.UnitConversion = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, failure.ErrConfiguration), "got %v", err)
		})
	}
}

func TestTolerances(t *testing.T) {
	tests := []struct {
		name        string
		model       string
		dvclose     float64
		outerMax    int
		wantDV      float64
		wantOuter   int
		wantPresent bool
	}{
		{"calibrated etdemand", "etdemand", 0, 0, 0.0570641530019691, 213, true},
		{"calibrated trigger", "trigger", 0, 0, 0.0570641530019691, 213, true},
		{"uncalibrated name", "etdemand_well", 0, 0, 0, 0, false},
		{"explicit wins", "etdemand", 0.01, 50, 0.01, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Name = tt.model
			cfg.Solver.HeadTolerance = tt.dvclose
			cfg.Solver.OuterMaximum = tt.outerMax
			dv, outer, ok := cfg.Tolerances()
			assert.Equal(t, tt.wantDV, dv)
			assert.Equal(t, tt.wantOuter, outer)
			assert.Equal(t, tt.wantPresent, ok)
		})
	}
}

func TestModelWells(t *testing.T) {
	wells := Default().ModelWells()
	require.Len(t, wells, 2)
	assert.Equal(t, "well_0", wells[0].Name)
	assert.Equal(t, 5, wells[0].Row)
	assert.Equal(t, -50.0, wells[1].Rate)
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "etdemand_trigger.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "etdemand_trigger", cfg.Name)
	assert.Equal(t, 12, cfg.Schedule.Periods)
	require.Len(t, cfg.Mover.Routes, 2)
	require.Contains(t, cfg.Mover.Overrides, 6)
	assert.Equal(t, "FACTOR", cfg.Mover.Overrides[6][0].Rule)
	assert.Equal(t, 0.000810714, cfg.Reconcile.UnitConversion)

	_, _, ok := cfg.Tolerances()
	assert.False(t, ok, "calibrated tolerances are keyed by exact model name")
}
