// Package mover builds the water-mover routing table that sends well
// extraction to receiving UZF cells.
package mover

import (
	"fmt"
	"math"
	"sort"

	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
)

const stage = "mover"

// Route feeds the UZF cells TargetStart..TargetStart+TargetCount-1 from one
// well, each transfer capped at RateCap.
type Route struct {
	Well        int
	TargetStart int
	TargetCount int
	Rule        models.MoverRule
	RateCap     float64
}

// Policy is the demand-priority routing. Routes apply to every period unless
// Overrides has an entry for that period.
type Policy struct {
	WellPackage string
	UZFPackage  string
	Routes      []Route
	Overrides   map[int][]Route
}

// Limits are the structural limits declared to the solver.
type Limits struct {
	MaxMovers   int
	MaxPackages int
}

// Build returns the routing table for the given periods.
func Build(periods []models.StressPeriod, policy Policy) *models.MoverTable {
	table := &models.MoverTable{
		Packages: []string{policy.WellPackage, policy.UZFPackage},
		Periods:  make(map[int][]models.MoverEntry, len(periods)),
	}
	for _, p := range periods {
		routes := policy.Routes
		if o, ok := policy.Overrides[p.Index]; ok {
			routes = o
		}
		var entries []models.MoverEntry
		for _, r := range routes {
			rule := r.Rule
			if rule == "" {
				rule = models.RuleUpTo
			}
			for id := r.TargetStart; id < r.TargetStart+r.TargetCount; id++ {
				entries = append(entries, models.MoverEntry{
					SourcePackage: policy.WellPackage,
					SourceID:      r.Well,
					TargetPackage: policy.UZFPackage,
					TargetID:      id,
					Rule:          rule,
					RateCap:       r.RateCap,
				})
			}
		}
		table.Periods[p.Index] = entries
	}
	return table
}

// Validate checks the table against the solver's structural limits and the
// declared packages before the deck is assembled. Provider ids must name a
// well and receiver ids a UZF cell; no cap may exceed the well's capacity.
func Validate(table *models.MoverTable, limits Limits, wells []models.Well, nuzf int) error {
	if len(table.Packages) > limits.MaxPackages {
		return failure.New(failure.ErrCapacityExceeded, stage, "%d packages declared, maximum is %d", len(table.Packages), limits.MaxPackages)
	}
	declared := make(map[string]bool, len(table.Packages))
	for _, p := range table.Packages {
		declared[p] = true
	}

	for _, k := range Periods(table) {
		entries := table.Periods[k]
		if len(entries) > limits.MaxMovers {
			return failure.New(failure.ErrCapacityExceeded, stage, "period %d has %d mover entries, maximum is %d", k, len(entries), limits.MaxMovers)
		}
		used := make(map[string]bool)
		for _, e := range entries {
			if !declared[e.SourcePackage] {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: source package %q is not declared", k, e.SourcePackage)
			}
			if !declared[e.TargetPackage] {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: target package %q is not declared", k, e.TargetPackage)
			}
			used[e.SourcePackage] = true
			used[e.TargetPackage] = true

			if e.RateCap < 0 || math.IsNaN(e.RateCap) {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: negative rate cap %g", k, e.RateCap)
			}
			if e.SourceID < 0 || e.SourceID >= len(wells) {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: provider %d is not a declared well", k, e.SourceID)
			}
			if e.TargetID < 0 || e.TargetID >= nuzf {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: receiver %d is not a UZF cell", k, e.TargetID)
			}
			if capacity := math.Abs(wells[e.SourceID].Rate); e.RateCap > capacity {
				return failure.New(failure.ErrCapacityExceeded, stage, "period %d: rate cap %g exceeds well %d capacity %g", k, e.RateCap, e.SourceID, capacity)
			}
		}
		if len(used) > limits.MaxPackages {
			return failure.New(failure.ErrCapacityExceeded, stage, "period %d references %d packages, maximum is %d", k, len(used), limits.MaxPackages)
		}
	}
	return nil
}

// Periods returns the table's period indices in increasing order.
func Periods(table *models.MoverTable) []int {
	keys := make([]int, 0, len(table.Periods))
	for k := range table.Periods {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MaxEntries is the largest per-period entry count, the value the solver
// needs as MAXMVR.
func MaxEntries(table *models.MoverTable) int {
	n := 0
	for _, entries := range table.Periods {
		n = max(n, len(entries))
	}
	return n
}

func (r Route) String() string {
	return fmt.Sprintf("well %d -> uzf %d..%d %s %g", r.Well, r.TargetStart, r.TargetStart+r.TargetCount-1, r.Rule, r.RateCap)
}
