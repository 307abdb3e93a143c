// Package schedule turns nominal period lengths into stress periods.
package schedule

import (
	"fmt"
	"math"
	"time"

	"github.com/lox/etdemand/internal/failure"
	"github.com/lox/etdemand/internal/models"
)

const stage = "schedule"

type Calendar string

const (
	Monthly  Calendar = "monthly"
	Explicit Calendar = "explicit"
)

type StepPolicy string

const (
	// Fixed gives every period the same number of steps.
	Fixed StepPolicy = "fixed"
	// Daily gives every period one step per day of its length.
	Daily StepPolicy = "daily"
)

type Options struct {
	Periods        int
	Calendar       Calendar
	Year           int
	TotalDays      float64
	Policy         StepPolicy
	StepsPerPeriod int
	Multiplier     float64
}

// MonthlyLengths returns the number of days in each month of year.
func MonthlyLengths(year int) []float64 {
	lengths := make([]float64, 12)
	for m := time.January; m <= time.December; m++ {
		// Day zero of the next month is the last day of this one.
		lengths[m-1] = float64(time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day())
	}
	return lengths
}

// Build returns one stress period per length, in input order.
func Build(lengths []float64, opts Options) ([]models.StressPeriod, error) {
	if len(lengths) == 0 {
		if opts.Calendar != Monthly {
			return nil, failure.Configf(stage, "no period lengths given for %s calendar", opts.Calendar)
		}
		lengths = MonthlyLengths(opts.Year)
	}
	if len(lengths) != opts.Periods {
		return nil, failure.Configf(stage, "%d period lengths for %d declared periods", len(lengths), opts.Periods)
	}

	var total float64
	for i, l := range lengths {
		if l <= 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return nil, failure.Configf(stage, "period %d has non-positive length %g", i, l)
		}
		total += l
	}
	if err := checkCalendar(total, len(lengths), opts); err != nil {
		return nil, err
	}

	mult := opts.Multiplier
	if mult == 0 {
		mult = 1.0
	}

	periods := make([]models.StressPeriod, len(lengths))
	for i, l := range lengths {
		steps, err := stepsFor(l, opts)
		if err != nil {
			return nil, failure.Configf(stage, "period %d: %v", i, err)
		}
		periods[i] = models.StressPeriod{
			Index:      i,
			Length:     l,
			Steps:      steps,
			Multiplier: mult,
		}
	}
	return periods, nil
}

func checkCalendar(total float64, n int, opts Options) error {
	switch opts.Calendar {
	case Monthly:
		if n != 12 {
			return failure.Configf(stage, "monthly calendar needs 12 periods, got %d", n)
		}
		if total != 365 && total != 366 {
			return failure.Configf(stage, "monthly lengths sum to %g days, want 365 or 366", total)
		}
	case Explicit:
		if opts.TotalDays > 0 && math.Abs(total-opts.TotalDays) > 1e-9 {
			return failure.Configf(stage, "period lengths sum to %g days, want %g", total, opts.TotalDays)
		}
	default:
		return failure.Configf(stage, "unknown calendar %q", opts.Calendar)
	}
	return nil
}

func stepsFor(length float64, opts Options) (int, error) {
	switch opts.Policy {
	case Daily:
		if length != math.Trunc(length) {
			return 0, fmt.Errorf("daily steps need a whole number of days, got %g", length)
		}
		return int(length), nil
	case Fixed, "":
		if opts.StepsPerPeriod <= 0 {
			return 1, nil
		}
		return opts.StepsPerPeriod, nil
	}
	return 0, fmt.Errorf("unknown step policy %q", opts.Policy)
}

// TotalDuration sums the period lengths.
func TotalDuration(periods []models.StressPeriod) float64 {
	var total float64
	for _, p := range periods {
		total += p.Length
	}
	return total
}
