package reconcile

import (
	"fmt"
	"io"

	"github.com/lox/etdemand/internal/models"
)

// Report writes the per-well applied volumes followed by the aggregate
// statistics.
func Report(w io.Writer, res *models.ComparisonResult) error {
	if res.Model != "" {
		if _, err := fmt.Fprintf(w, "model %s\n", res.Model); err != nil {
			return err
		}
	}
	for i, e := range res.Entities {
		if _, err := fmt.Fprintf(w, "well %d (provider %d, node %d): coupled %.4f reference %.4f acre-ft over %d steps\n",
			i+1, e.ProviderID, e.ReferenceNode, e.VolumeCoupled, e.VolumeReference, len(e.Reference)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "r2 = %.2f\ndif. = %.2f m3\n", res.RSquared, res.Discrepancy)
	return err
}
